package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/results-harvester/internal/batch"
	"github.com/JakeFAU/results-harvester/internal/config"
	"github.com/JakeFAU/results-harvester/internal/hallticket"
	"github.com/JakeFAU/results-harvester/internal/lookup"
	"github.com/JakeFAU/results-harvester/internal/results"
	"github.com/JakeFAU/results-harvester/internal/server"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the slice of the application the commands use. Tests inject a fake.
type App interface {
	Run(ctx context.Context) error
	Harvest(ctx context.Context, req batch.Request, interval time.Duration) (results.Batch, error)
	Plan(req batch.Request) (batch.Plan, error)
	Find(ctx context.Context, id string) (lookup.Result, error)
	Migrate(ctx context.Context) error
	Registry() *hallticket.Registry
	Logger() *zap.Logger
	Close(ctx context.Context)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests exam results from the university results portal.",
		Long: `harvester enumerates hall ticket numbers, scrapes each student's result
from the results portal, and persists the parsed records. It runs as an HTTP
service or as one-shot CLI commands against the same configuration.`,
		SilenceUsage: true,

		// Commands that never touch the portal or the store still get the full
		// App so every command sees one validated configuration.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close(cmd.Context())
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); HARVESTER_* env vars override it")

	cmd.AddCommand(
		newServeCmd(),
		newScrapeCmd(),
		newPlanCmd(),
		newLookupCmd(),
		newMigrateCmd(),
		newProfilesCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command's
// context so long runs drain instead of dying mid-chunk.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
