package cli

import (
	"fmt"

	"github.com/arachnid-agents/mission-control/internal/retention"
	"github.com/spf13/cobra"
)

func newRetentionCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Run retention sweeps",
	}

	var (
		days      int
		dryRun    bool
		noArchive bool
	)
	run := &cobra.Command{
		Use:   "run",
		Short: "Run one retention sweep now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := app.config().Retention
			if cmd.Flags().Changed("days") {
				cfg.Days = days
			}
			if cmd.Flags().Changed("dry-run") {
				cfg.DryRun = dryRun
			}

			s, err := app.openStore(ctx)
			if err != nil {
				return err
			}
			var archiver retention.Archiver
			if cfg.ArchiveDir != "" && !noArchive {
				archiver = retention.NewLocalFileArchiver(cfg.ArchiveDir, cfg.ArchiveCompress)
			}
			j, err := retention.NewJanitor(s, cfg, archiver)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !j.Enabled() {
				fmt.Fprintln(out, warnColor("Retention disabled (days <= 0); nothing to do."))
				return nil
			}
			stats, err := j.RunCycle(ctx)
			if err != nil {
				return err
			}
			if app.JSON {
				errs := make([]string, 0, len(stats.Errors))
				for _, e := range stats.Errors {
					errs = append(errs, e.Error())
				}
				return writeJSON(out, map[string]any{
					"cycleId":     stats.CycleID,
					"cutoff":      stats.Cutoff,
					"scanned":     stats.Scanned,
					"expired":     stats.Expired,
					"archived":    stats.Archived,
					"purged":      stats.Purged,
				"refreshed":   stats.Refreshed,
					"archivePath": stats.ArchivePath,
					"dryRun":      stats.DryRun,
					"errors":      errs,
				})
			}

			mode := ""
			if stats.DryRun {
				mode = warnColor(" (dry run)")
			}
			fmt.Fprintf(out, "Retention sweep %s%s\n", dim(stats.CycleID), mode)
			fmt.Fprintf(out, "  Cutoff:   %s\n", formatTime(stats.Cutoff))
			fmt.Fprintf(out, "  Scanned:  %d\n", stats.Scanned)
			fmt.Fprintf(out, "  Expired:  %d\n", stats.Expired)
			fmt.Fprintf(out, "  Purged:   %d\n", stats.Purged)
			if stats.Refreshed > 0 {
				fmt.Fprintf(out, "  Kept:     %d (seen during sweep)\n", stats.Refreshed)
			}
			if stats.ArchivePath != "" {
				fmt.Fprintf(out, "  Archive:  %s\n", accent(stats.ArchivePath))
			}
			for _, e := range stats.Errors {
				fmt.Fprintf(out, "  %s %v\n", failColor("✗"), e)
			}
			return nil
		},
	}
	run.Flags().IntVar(&days, "days", 0, "Override MISSION_RETENTION_DAYS")
	run.Flags().BoolVar(&dryRun, "dry-run", false, "Count expired agents without deleting them")
	run.Flags().BoolVar(&noArchive, "no-archive", false, "Purge without writing an archive")
	cmd.AddCommand(run)
	return cmd
}
