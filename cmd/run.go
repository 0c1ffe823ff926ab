package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/list-harvester/internal/app"
	"github.com/JakeFAU/list-harvester/internal/orchestrator"
)

func newRunCmd() *cobra.Command {
	var start, end int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a harvest over the configured page range",
		Long: `Opens the browser on the persistent profile, waits for you to log in,
then walks list pages from --start to --end (descending when start > end).
Ctrl-C saves progress and exits cleanly; the next run resumes from it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			span := app.Span{Start: a.Config().Run.StartPage, End: a.Config().Run.EndPage}
			if cmd.Flags().Changed("start") {
				span.Start = start
			}
			if cmd.Flags().Changed("end") {
				span.End = end
			}
			if span.Start < 1 || span.End < 1 {
				return fmt.Errorf("page range %d..%d: pages start at 1", span.Start, span.End)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sum, err := a.Harvest(ctx, span)
			printSummary(cmd, sum)
			if err != nil {
				a.Logger().Error("harvest failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&start, "start", 0, "first page to visit (overrides run.start_page)")
	cmd.Flags().IntVar(&end, "end", 0, "last page to visit (overrides run.end_page)")
	return cmd
}

func printSummary(cmd *cobra.Command, sum orchestrator.Summary) {
	if sum.Outcome == "" {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "outcome:   %s\n", sum.Outcome)
	if sum.Reason != "" {
		fmt.Fprintf(out, "reason:    %s\n", sum.Reason)
	}
	fmt.Fprintf(out, "pages:     from %d, last %d\n", sum.StartPage, sum.LastPage)
	fmt.Fprintf(out, "records:   %d\n", sum.Records)
	fmt.Fprintf(out, "restarts:  %d (blocked %d, profile resets %d)\n", sum.Restarts, sum.Blocks, sum.ProfileResets)
	fmt.Fprintf(out, "duration:  %s\n", sum.Duration.Round(time.Second))
}
