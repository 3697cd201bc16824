package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/research-agent/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status [investigation-id]",
	Short: "List investigations or show one in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if len(args) == 1 {
			state, err := st.GetState(ctx, args[0])
			if err != nil {
				return eris.Wrap(err, "status")
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(state)
			}
			formatState(os.Stdout, state)
			return nil
		}

		status, _ := cmd.Flags().GetString("status")
		states, err := st.ListStates(ctx, model.RunStatus(status))
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if len(states) == 0 {
			fmt.Fprintln(os.Stderr, "No investigations found.")
			return nil
		}
		formatStates(os.Stdout, states)
		return nil
	},
}

func init() {
	statusCmd.Flags().String("status", "", "filter by status (pending, running, paused, complete, cancelled, failed)")
	statusCmd.Flags().Bool("json", false, "print the full state as JSON")
	rootCmd.AddCommand(statusCmd)
}
