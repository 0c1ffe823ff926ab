// Package cmd defines the harvester CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/list-harvester/internal/app"
	"github.com/JakeFAU/list-harvester/internal/config"
	"github.com/JakeFAU/list-harvester/internal/logging"
	"github.com/JakeFAU/list-harvester/internal/orchestrator"
	"github.com/JakeFAU/list-harvester/internal/resume"
)

type appKeyType string

const appKey appKeyType = "app"

// App is the surface commands use. Tests swap in a fake through newApp.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	State() *resume.Store
	Harvest(ctx context.Context, span app.Span) (orchestrator.Summary, error)
	ExportJournal(ctx context.Context) (int, error)
	ResetState() error
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logging.ReplaceGlobals(logger)
	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvest a paginated list behind an authenticated browser session.",
		Long: `harvester walks a paginated, login-protected list in a real browser,
visits every item's detail page, and exports what it finds. Progress is saved
after every record so an interrupted or blocked run resumes where it stopped.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			h, ok := cmd.Context().Value(appKey).(*appHolder)
			if !ok {
				h = &appHolder{}
				cmd.SetContext(context.WithValue(cmd.Context(), appKey, h))
			}
			a, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("initialize harvester: %w", err)
			}
			h.app = a
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./harvester.yaml or $HOME/.harvester/harvester.yaml)")

	cmd.AddCommand(newRunCmd(), newStateCmd(), newExportCmd())
	return cmd
}

// appHolder carries the app from PersistentPreRunE to the command and back
// out to executeRoot, which closes it.
type appHolder struct{ app App }

func (h *appHolder) close() {
	if h.app != nil {
		h.app.Close()
		h.app = nil
	}
}

func resolveApp(ctx context.Context) (App, error) {
	h, ok := ctx.Value(appKey).(*appHolder)
	if !ok || h.app == nil {
		return nil, errors.New("harvester services not initialized")
	}
	return h.app, nil
}

// executeRoot runs root and closes the app whether or not the command
// failed. Cobra skips post-run hooks after a RunE error.
func executeRoot(ctx context.Context, root *cobra.Command) error {
	h := &appHolder{}
	defer h.close()
	return root.ExecuteContext(context.WithValue(ctx, appKey, h))
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := executeRoot(context.Background(), newRootCmd()); err != nil {
		os.Exit(1)
	}
}
