package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"zcc-reporting/api/internal/ingest"
	"zcc-reporting/shared/workflow"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Pull data from the upstream account into the local store",
}

var refreshTimecardsCmd = &cobra.Command{
	Use:   "timecards",
	Short: "Replace stored timecards for a window with a fresh upstream copy",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to, err := refreshWindow(cmd)
		if err != nil {
			return err
		}
		rt, _, cleanup, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := ingest.WithRun(cmd.Context(), ingest.RunMeta{Trigger: workflow.TriggerManual})
		res, err := rt.Reports.RefreshWindow(ctx, from, to)
		if err != nil {
			return fmt.Errorf("refresh timecards: %w", err)
		}
		printResult(cmd, res)
		return nil
	},
}

var refreshAgentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Upsert the agent directory from upstream",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, _, cleanup, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := ingest.WithRun(cmd.Context(), ingest.RunMeta{Trigger: workflow.TriggerManual})
		res, err := rt.Engine.RefreshAgents(ctx)
		if err != nil {
			return fmt.Errorf("refresh agents: %w", err)
		}
		printResult(cmd, res)
		return nil
	},
}

// refreshWindow defaults to the last --hours hours when --from and --to are absent.
func refreshWindow(cmd *cobra.Command) (time.Time, time.Time, error) {
	rawFrom, _ := cmd.Flags().GetString("from")
	rawTo, _ := cmd.Flags().GetString("to")
	hours, _ := cmd.Flags().GetInt("hours")

	to := time.Now().UTC()
	if strings.TrimSpace(rawTo) != "" {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(rawTo))
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--to: %w", err)
		}
		to = t.UTC()
	}
	from := to.Add(-time.Duration(hours) * time.Hour)
	if strings.TrimSpace(rawFrom) != "" {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(rawFrom))
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--from: %w", err)
		}
		from = t.UTC()
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from %s is after --to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return from, to, nil
}

func printResult(cmd *cobra.Command, res ingest.Result) {
	fmt.Fprintf(cmd.OutOrStdout(), "run %s (%s): pages=%d fetched=%d inserted=%d skipped=%d deleted=%d failed_pages=%d stop=%s\n",
		res.RunID, res.Kind, res.Pages, res.Fetched, res.Inserted, res.Skipped, res.Deleted, res.FailedPages, res.StopReason)
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	refreshCmd.AddCommand(refreshTimecardsCmd)
	refreshCmd.AddCommand(refreshAgentsCmd)

	refreshTimecardsCmd.Flags().String("from", "", "window start (RFC 3339)")
	refreshTimecardsCmd.Flags().String("to", "", "window end (RFC 3339), defaults to now")
	refreshTimecardsCmd.Flags().Int("hours", 24, "window length when --from is not set")
}
