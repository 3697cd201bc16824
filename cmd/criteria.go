package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/research-agent/internal/registry"
)

var criteriaCmd = &cobra.Command{
	Use:   "criteria",
	Short: "List and validate research criteria",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		criteria, err := loadCriteria(ctx, initNotion())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ORDER\tID\tKIND\tDISQUALIFYING\tDEPENDS ON\tQUESTION")
		_, _ = fmt.Fprintln(w, "-----\t--\t----\t-------------\t----------\t--------")
		for _, c := range criteria {
			dq := ""
			if c.Disqualifying {
				dq = "yes"
			}
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				c.Order, c.ID, c.Kind(), dq, c.DependsOn, truncate(strings.TrimSpace(c.Question), 60))
		}
		_ = w.Flush()
		return nil
	},
}

var criteriaValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a criteria file without loading entities",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		criteria, err := registry.LoadCriteriaFromFile(args[0])
		if err != nil {
			return err
		}
		if err := registry.Validate(criteria); err != nil {
			return eris.Wrap(err, args[0])
		}
		fmt.Fprintf(os.Stdout, "%d criteria OK\n", len(criteria))
		return nil
	},
}

func init() {
	criteriaCmd.AddCommand(criteriaValidateCmd)
	rootCmd.AddCommand(criteriaCmd)
}
