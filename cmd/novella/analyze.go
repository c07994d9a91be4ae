package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/novella/internal/analysis"
	"github.com/jackzampolin/novella/internal/document"
	"github.com/jackzampolin/novella/internal/jobs"
	"github.com/jackzampolin/novella/internal/server"
)

// analyzeOptions are the flags of the analyze command.
type analyzeOptions struct {
	Mode     analysis.Mode
	Encoding string
	Fresh    bool
	APIKey   string // tried once when the job is rate limited
	Interval time.Duration
}

var analyzeOpts = analyzeOptions{Interval: time.Second}
var analyzeMode string

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Analyze a manuscript in this process",
	Long: `Analyze a manuscript without a server and print progress as it runs.

Progress is saved after every completed chunk. Interrupting with Ctrl+C
pauses the job; running the same command again resumes after the last
completed chunk. Use --fresh to start over.

The finished report is printed to stdout and written under the home
directory's reports folder.

Examples:
  novella analyze book.txt                      # Opening assessment
  novella analyze book.txt --mode full          # Whole manuscript
  novella analyze book.txt --encoding latin1    # Legacy encodings`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		analyzeOpts.Mode = analysis.Mode(analyzeMode)
		if !analyzeOpts.Mode.Valid() {
			return fmt.Errorf("mode must be %q or %q", analysis.ModeOpening, analysis.ModeFull)
		}

		env, err := loadEnvironment()
		if err != nil {
			return err
		}
		defer env.Close()

		// jobs must outlive the signal context so an interrupt can pause them
		rt, err := server.OpenRuntime(context.WithoutCancel(cmd.Context()), server.RuntimeConfig{
			Home:          env.home,
			ConfigManager: env.config,
			Logger:        env.logger,
		})
		if err != nil {
			return err
		}
		defer rt.Close()

		view, err := analyzeFile(cmd.Context(), rt.JobManager(), args[0], analyzeOpts, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		printReports(cmd.OutOrStdout(), view)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeMode, "mode", string(analysis.ModeOpening), "Analysis mode: opening or full")
	analyzeCmd.Flags().StringVar(&analyzeOpts.Encoding, "encoding", "", "Declared text encoding (default utf-8)")
	analyzeCmd.Flags().BoolVar(&analyzeOpts.Fresh, "fresh", false, "Ignore saved progress for this file")
	analyzeCmd.Flags().StringVar(&analyzeOpts.APIKey, "fallback-api-key", "", "API key to switch to if the provider rate limits the job")

	rootCmd.AddCommand(analyzeCmd)
}

// analyzeFile runs one job to completion, writing a progress line to out
// whenever it changes. When ctx ends the job is paused so its progress is
// kept for the next run.
func analyzeFile(ctx context.Context, jm *jobs.Manager, path string, opts analyzeOptions, out io.Writer) (jobs.View, error) {
	doc, err := document.Open(path, opts.Encoding)
	if err != nil {
		return jobs.View{}, err
	}
	job, err := jm.Start(ctx, jobs.StartRequest{Document: doc, Path: path, Mode: opts.Mode, Fresh: opts.Fresh})
	if err != nil {
		return jobs.View{}, err
	}

	if v := job.View(); v.Status.Paused() {
		if v.LastCompleted >= 0 {
			fmt.Fprintf(out, "resuming %s after chunk %d\n", v.DocumentName, v.LastCompleted+1)
		} else {
			fmt.Fprintf(out, "resuming %s (%d of %d chunks done)\n", v.DocumentName, v.Analyzed+v.Errored, v.TotalToProcess)
		}
		if err := job.Resume(ctx); err != nil {
			return v, err
		}
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	overrideTried := opts.APIKey == ""
	for {
		v := job.View()
		if line := progressLine(v); line != last {
			fmt.Fprintln(out, line)
			last = line
		}

		switch v.Status {
		case jobs.StatusCompleted:
			return v, nil
		case jobs.StatusCancelled:
			return v, errors.New("job cancelled")
		case jobs.StatusError:
			return v, fmt.Errorf("analysis failed: %s", v.Error)
		case jobs.StatusPausedRateLimited:
			if !overrideTried {
				overrideTried = true
				if err := job.OverrideCredential(ctx, opts.APIKey); err != nil {
					fmt.Fprintf(out, "fallback key not used: %v\n", err)
				} else {
					fmt.Fprintln(out, "switched to the fallback API key")
				}
			} else if v.CooldownUntil.IsZero() {
				return v, fmt.Errorf("rate limited with automatic retry disabled; progress saved, rerun to resume: %s", v.Error)
			}
		}

		select {
		case <-ctx.Done():
			if job.View().Status == jobs.StatusAnalyzing {
				if err := job.Pause(context.Background()); err != nil {
					return job.View(), err
				}
			}
			fmt.Fprintln(out, "interrupted; progress saved, run again to resume")
			return job.View(), ctx.Err()
		case <-ticker.C:
		}
	}
}

// progressLine summarizes a job for the terminal.
func progressLine(v jobs.View) string {
	switch v.Status {
	case jobs.StatusAnalyzing:
		line := fmt.Sprintf("[%5.1f%%] %d/%d chunks analyzed", v.Percent, v.Analyzed, v.TotalToProcess)
		if v.Errored > 0 {
			line += fmt.Sprintf(", %d errored", v.Errored)
		}
		if !v.ChunkingDone {
			line += fmt.Sprintf(" (reading %.0f%%)", v.ChunkingPercent)
		}
		if v.ETA > 0 {
			line += fmt.Sprintf(", about %s left", v.ETA.Round(time.Second))
		}
		return line
	case jobs.StatusPausedRateLimited:
		if !v.CooldownUntil.IsZero() {
			return fmt.Sprintf("rate limited; retrying at %s", v.CooldownUntil.Format(time.Kitchen))
		}
		return "rate limited"
	case jobs.StatusGenerating:
		return "writing the final report"
	default:
		return string(v.Status)
	}
}

// printReports writes every report of a finished job.
func printReports(out io.Writer, v jobs.View) {
	types := make([]analysis.ReportType, 0, len(v.Reports))
	for t := range v.Reports {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		fmt.Fprintf(out, "# %s\n\n%s\n\n", t, v.Reports[t])
		if p := v.ReportPaths[t]; p != "" {
			fmt.Fprintf(out, "(saved to %s)\n", p)
		}
	}
}
