package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/JakeFAU/results-harvester/internal/batch"
	"github.com/JakeFAU/results-harvester/internal/results"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API, the worker pool and the portal watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run server: %w", err)
			}
			appInstance.Logger().Info("server stopped")
			return nil
		},
	}
}

// batchFlags binds the flags shared by scrape and plan.
type batchFlags struct {
	examCode string
	profile  string
	offset   int64
	limit    int64
	start    string
	end      string
	width    int
	workers  int
	delay    time.Duration
}

func (f *batchFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.examCode, "exam-code", "", "exam code (default from config)")
	fs.StringVar(&f.profile, "profile", "", "identifier profile to enumerate")
	fs.Int64Var(&f.offset, "offset", 0, "first profile index to harvest")
	fs.Int64Var(&f.limit, "limit", 0, "number of profile identifiers to harvest (0 = all)")
	fs.StringVar(&f.start, "start", "", "first identifier of a numeric range")
	fs.StringVar(&f.end, "end", "", "last identifier of a numeric range")
	fs.IntVar(&f.width, "width", 0, "zero-padded width of range identifiers (default len(end))")
	fs.IntVar(&f.workers, "workers", 0, "number of chunks (default from config)")
	fs.DurationVar(&f.delay, "delay", 0, "pause between identifiers within a chunk (default from config)")
}

func (f *batchFlags) request() batch.Request {
	return batch.Request{
		ExamCode:   f.examCode,
		Profile:    f.profile,
		Offset:     f.offset,
		Limit:      f.limit,
		RangeStart: f.start,
		RangeEnd:   f.end,
		Width:      f.width,
		Workers:    f.workers,
		Delay:      f.delay,
	}
}

func newScrapeCmd() *cobra.Command {
	var (
		flags    batchFlags
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Harvests a profile or numeric range to completion",
		Long: `Submits one batch and runs the worker pool in-process until every chunk
has finished, printing the final batch as JSON. Interrupting the command stops
the pool; progress recorded so far is kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			b, err := appInstance.Harvest(cmd.Context(), flags.request(), interval)
			if err != nil {
				return fmt.Errorf("harvest: %w", err)
			}
			appInstance.Logger().Info("harvest finished",
				zap.String("batch_id", b.ID),
				zap.String("status", string(b.Status)),
				zap.Int("success", b.Stats.Success),
				zap.Int("failed", b.Stats.FailedCount()),
			)
			return printJSON(cmd.OutOrStdout(), b)
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().DurationVar(&interval, "progress-interval", 5*time.Second, "how often progress is logged")
	return cmd
}

func newPlanCmd() *cobra.Command {
	var flags batchFlags
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Prints how a batch would be partitioned without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			plan, err := appInstance.Plan(flags.request())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), plan)
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <hall_ticket>",
		Short: "Resolves one hall ticket through the cache, the store and the portal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Find(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if res.Source == results.SourceNotFound {
				return fmt.Errorf("%s: %w", args[0], results.ErrNotFound)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Creates or upgrades the Postgres schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Migrate(cmd.Context()); err != nil {
				return err
			}
			appInstance.Logger().Info("schema up to date")
			return nil
		},
	}
}

type profileLine struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "Lists the identifier profiles and their sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			var out []profileLine
			for _, p := range appInstance.Registry().Profiles() {
				out = append(out, profileLine{Name: p.Name, Count: p.Count()})
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
