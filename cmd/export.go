package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/research-agent/internal/export"
	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/internal/store"
)

var exportOut string
var exportInvestigation string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write stored results to an Excel workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initData(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		entities, criteria := env.Entities, env.Criteria
		if exportInvestigation != "" {
			st, err := env.Store.GetState(ctx, exportInvestigation)
			if err != nil {
				return eris.Wrap(err, "export")
			}
			entities = selectEntities(entities, st.EntityIDs)
			criteria = selectCriteria(criteria, st.CriterionIDs)
		}

		if err := store.ApplyResults(ctx, env.Store, entities); err != nil {
			return eris.Wrap(err, "export: load results")
		}
		if err := export.Write(exportOut, entities, criteria); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Wrote %d entities × %d criteria to %s\n", len(entities), len(criteria), exportOut)
		return nil
	},
}

func selectEntities(all []model.Entity, ids []string) []model.Entity {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []model.Entity
	for _, e := range all {
		if want[e.ID] {
			out = append(out, e)
		}
	}
	return out
}

func selectCriteria(all []model.Criterion, ids []string) []model.Criterion {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []model.Criterion
	for _, c := range all {
		if want[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "research.xlsx", "output workbook path")
	exportCmd.Flags().StringVar(&exportInvestigation, "investigation", "", "limit to the pairs of one investigation")
	rootCmd.AddCommand(exportCmd)
}
