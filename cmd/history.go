// -- cmd/history.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/reporting"
	"github.com/xkilldash9x/webpilot/internal/store"
)

func newHistoryCmd() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspects step history kept in PostgreSQL",
	}
	historyCmd.PersistentFlags().String("database", "", "PostgreSQL URL (overrides config/env)")
	historyCmd.AddCommand(newHistoryShowCmd(), newHistoryImportCmd())
	return historyCmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Prints the recorded steps of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s *store.Store) error {
				steps, err := s.StepsByRunID(ctx, args[0])
				if err != nil {
					return err
				}
				if len(steps) == 0 {
					return fmt.Errorf("no steps recorded for run %s", args[0])
				}
				return printSteps(cmd.OutOrStdout(), steps)
			})
		},
	}
}

func newHistoryImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Loads a steps.jsonl file written by the file sink",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open history file: %w", err)
			}
			defer f.Close()

			steps, err := reporting.ReadSteps(f)
			if err != nil {
				return err
			}
			runs := groupByRun(steps)

			return withStore(cmd, func(ctx context.Context, s *store.Store) error {
				if err := s.EnsureSchema(ctx); err != nil {
					return err
				}
				for _, run := range runs {
					n, err := s.Import(ctx, run)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Imported %d steps for run %s\n", n, run[0].RunID)
				}
				return nil
			})
		},
	}
}

// groupByRun splits records into per-run slices, keeping first-seen run order.
func groupByRun(steps []agent.StepRecord) [][]agent.StepRecord {
	index := make(map[string]int)
	var runs [][]agent.StepRecord
	for _, s := range steps {
		i, ok := index[s.RunID]
		if !ok {
			i = len(runs)
			index[s.RunID] = i
			runs = append(runs, nil)
		}
		runs[i] = append(runs[i], s)
	}
	return runs
}

func printSteps(out io.Writer, steps []agent.StepRecord) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tACTION\tSTATUS\tDETAILS")
	for _, s := range steps {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Step, s.Action, s.Status, s.Details)
	}
	return w.Flush()
}

func withStore(cmd *cobra.Command, fn func(ctx context.Context, s *store.Store) error) error {
	ctx := cmd.Context()
	cfg, err := getConfigFromContext(ctx)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("database URL is not configured (WEBPILOT_DATABASE_URL)")
	}
	logger := observability.GetLogger()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	s, err := store.New(ctx, pool, logger)
	if err != nil {
		logger.Error("Database unavailable", zap.Error(err))
		return err
	}
	return fn(ctx, s)
}
