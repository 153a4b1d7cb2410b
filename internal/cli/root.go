// Package cli implements missionctl, the operator tool for mission control.
// Most commands work directly against the configured progress store; submit
// goes through the HTTP API like any other agent.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/arachnid-agents/mission-control/internal/config"
	"github.com/arachnid-agents/mission-control/internal/progress"
	"github.com/arachnid-agents/mission-control/internal/store"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	okColor    = color.New(color.FgGreen).SprintFunc()
	warnColor  = color.New(color.FgYellow).SprintFunc()
	failColor  = color.New(color.FgRed).SprintFunc()
	accent     = color.New(color.FgCyan).SprintFunc()
	dim        = color.New(color.Faint).SprintFunc()
	boldString = color.New(color.Bold).SprintFunc()
)

// App carries what every command needs. Config is loaded from the
// environment when nil.
type App struct {
	Config *config.Config
	JSON   bool

	store store.Store
}

// NewRootCommand builds the missionctl command tree.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "missionctl",
		Short: "Operate the Arachnid mission control plane",
		Long: `missionctl inspects and repairs agent progress, renders badges and
runs retention sweeps against the configured progress store.

Examples:
  missionctl agents list                       # Every agent, most recent first
  missionctl agents show <token> --json        # One record as JSON
  missionctl intro reset <token>               # Show the intro again
  missionctl badge render --token t --mission 1 --out badge.png
  missionctl submit --server http://localhost:8080 --token t --mission m1 --data '{"feel":"..."}'
  missionctl retention run --dry-run`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.close()
		},
	}
	root.PersistentFlags().BoolVar(&app.JSON, "json", false, "Output in JSON format")

	root.AddCommand(newAgentsCommand(app))
	root.AddCommand(newIntroCommand(app))
	root.AddCommand(newBadgeCommand(app))
	root.AddCommand(newSubmitCommand(app))
	root.AddCommand(newRetentionCommand(app))
	root.AddCommand(newVersionCommand(app))
	return root
}

// Execute runs missionctl with os.Args and returns the process exit code.
func Execute() int {
	app := &App{}
	root := NewRootCommand(app)
	if err := root.Execute(); err != nil {
		app.close()
		fmt.Fprintln(os.Stderr, failColor("Error: "+err.Error()))
		return 1
	}
	return 0
}

func (a *App) config() *config.Config {
	if a.Config == nil {
		a.Config = config.Load()
	}
	return a.Config
}

func (a *App) openStore(ctx context.Context) (store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := store.Open(ctx, a.config().Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.config().Store.Driver, err)
	}
	a.store = s
	return s, nil
}

func (a *App) progress(ctx context.Context) (*progress.Service, error) {
	s, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	return progress.NewService(s, nil, nil), nil
}

func (a *App) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the configured mission control version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "missionctl %s\n", app.config().Version)
			return nil
		},
	}
}
