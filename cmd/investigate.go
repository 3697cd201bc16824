package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/research-agent/internal/investigate"
	"github.com/sells-group/research-agent/internal/model"
)

var (
	investigateMode      string
	investigateEntities  []string
	investigateCriteria  []string
	investigateFlags     agentFlags
	investigateNoExecute bool
)

var investigateCmd = &cobra.Command{
	Use:   "investigate",
	Short: "Research entities against criteria",
	Long: `Runs a batch of entity × criterion pairs through the research loop.

With one --entity and one --criterion the batch is a single pair; with one
--criterion it is a column over every selected entity; otherwise it sweeps
all selected criteria in order over all selected entities. Interrupting
(Ctrl-C) pauses the batch; continue it with "resume <id>".`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runInvestigation(cmd, investigateMode, investigateEntities, investigateCriteria)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Research every entity against every criterion in order",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runInvestigation(cmd, string(model.ModeSweep), nil, nil)
	},
}

func runInvestigation(cmd *cobra.Command, mode string, entityIDs, criterionIDs []string) error {
	investigateFlags.apply()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var approver investigate.Approver
	if cfg.Agent.PauseBetweenSearches {
		approver = newTerminalApprover(os.Stdin, os.Stderr)
	}

	env, err := initAgent(ctx, "investigate", approver, logProgress)
	if err != nil {
		return err
	}
	defer env.Close()

	plan, err := buildPlan(env, mode, entityIDs, criterionIDs)
	if err != nil {
		return err
	}

	st, err := env.Runner.Create(ctx, plan)
	if err != nil {
		return eris.Wrap(err, "investigate")
	}
	if investigateNoExecute {
		fmt.Fprintf(os.Stdout, "Created investigation %s (%d pairs). Run it with: resume %s\n", st.ID, st.Total(), st.ID)
		return nil
	}

	zap.L().Info("starting investigation",
		zap.String("investigation_id", st.ID),
		zap.String("mode", string(st.Mode)),
		zap.Int("pairs", st.Total()),
	)
	return finishRun(ctx, env, st.ID)
}

var resumeCmd = &cobra.Command{
	Use:   "resume <investigation-id>",
	Short: "Continue a paused investigation from its cursor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		investigateFlags.apply()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var approver investigate.Approver
		if cfg.Agent.PauseBetweenSearches {
			approver = newTerminalApprover(os.Stdin, os.Stderr)
		}

		env, err := initAgent(ctx, "investigate", approver, logProgress)
		if err != nil {
			return err
		}
		defer env.Close()

		return finishRun(ctx, env, args[0])
	},
}

// finishRun resumes the batch and prints its outcome. Interruption is
// reported as a pause, not a failure.
func finishRun(ctx context.Context, env *agentEnv, id string) error {
	st, err := env.Runner.Resume(ctx, id)
	readCtx := context.WithoutCancel(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		if st != nil {
			printSummary(readCtx, os.Stdout, env, st)
		}
		return eris.Wrapf(err, "investigation %s", id)
	}
	if st == nil {
		return eris.Errorf("investigation %s returned no state", id)
	}

	printSummary(readCtx, os.Stdout, env, st)
	if st.Status == model.RunPaused || ctx.Err() != nil {
		fmt.Fprintf(os.Stdout, "\nPaused. Continue with: resume %s\n", st.ID)
	}
	return nil
}

// buildPlan resolves flag selections into a plan. Empty selections mean
// everything loaded.
func buildPlan(env *agentEnv, mode string, entityIDs, criterionIDs []string) (investigate.Plan, error) {
	if len(entityIDs) == 0 {
		for _, e := range env.Entities {
			entityIDs = append(entityIDs, e.ID)
		}
	}
	if len(criterionIDs) == 0 {
		for _, c := range env.Criteria {
			criterionIDs = append(criterionIDs, c.ID)
		}
	}

	m := model.Mode(mode)
	switch m {
	case "":
		switch {
		case len(entityIDs) == 1 && len(criterionIDs) == 1:
			m = model.ModeSingle
		case len(criterionIDs) == 1:
			m = model.ModeColumn
		default:
			m = model.ModeSweep
		}
	case model.ModeSingle, model.ModeColumn, model.ModeSweep:
	default:
		return investigate.Plan{}, eris.Errorf("unknown mode %q (single, column, sweep)", mode)
	}

	return investigate.Plan{Mode: m, EntityIDs: entityIDs, CriterionIDs: criterionIDs}, nil
}

func addAgentFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&investigateFlags.maxIterations, "max-iterations", 0, "tool calls allowed per pair (default from config)")
	cmd.Flags().BoolVar(&investigateFlags.pauseBetweenSearches, "pause-between-searches", false, "ask for approval before every tool call")
	cmd.Flags().BoolVar(&investigateFlags.verify, "verify", false, "run the verification pass on every result")
}

func init() {
	investigateCmd.Flags().StringVar(&investigateMode, "mode", "", "batch mode: single, column or sweep (default inferred)")
	investigateCmd.Flags().StringSliceVar(&investigateEntities, "entity", nil, "entity IDs to research (default all)")
	investigateCmd.Flags().StringSliceVar(&investigateCriteria, "criterion", nil, "criterion IDs to research (default all)")
	investigateCmd.Flags().BoolVar(&investigateNoExecute, "create-only", false, "persist the batch without running it")
	addAgentFlags(investigateCmd)
	addAgentFlags(sweepCmd)
	addAgentFlags(resumeCmd)

	rootCmd.AddCommand(investigateCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(resumeCmd)
}
