// Command venuxctl is the terminal counterpart of the tenant panel: it shows
// the same stats and instance list and edits instances through the same
// controller the web panel uses.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/venux/panel/backend/internal/bootstrap"
	"github.com/venux/panel/backend/internal/config"
	"github.com/venux/panel/backend/internal/identity"
	"github.com/venux/panel/backend/internal/logging"
	"github.com/venux/panel/backend/internal/metrics"
	"github.com/venux/panel/backend/internal/model/tenant"
	"github.com/venux/panel/backend/internal/service/view"
)

var version = "0.1.0"

// errNotLoggedIn maps to the unauthenticated state of the web panel.
var errNotLoggedIn = errors.New("not logged in: run 'venuxctl login <tid>' or pass --tid")

// opener builds a view factory for one command run.
type opener func(ctx context.Context) (view.Factory, func() error, error)

type cli struct {
	persister identity.Persister
	open      opener

	tid     string
	noColor bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	persister, err := defaultPersister()
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
	c := &cli{
		persister: persister,
		open:      openFromEnv,
	}
	if err := newRootCmd(c).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

// defaultPersister keeps the login in ~/.venux/identity.yaml.
func defaultPersister() (*identity.FileStore, error) {
	path, err := identity.DefaultPath()
	if err != nil {
		return nil, fmt.Errorf("locate identity file: %w", err)
	}
	return identity.NewFileStore(path), nil
}

func openFromEnv(ctx context.Context) (view.Factory, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return view.Factory{}, nil, err
	}
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.Log.Level = "warn"
	}
	if os.Getenv("LOG_FORMAT") == "" {
		cfg.Log.Format = "console"
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return view.Factory{}, nil, err
	}
	zap.ReplaceGlobals(logger)

	backend, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return view.Factory{}, nil, err
	}
	svc := bootstrap.NewServices(backend.Store, cfg.View, logger, metrics.New())
	return svc.Views, backend.Close, nil
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "venuxctl",
		Short:         "Venux tenant panel from the terminal",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if c.noColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().StringVar(&c.tid, "tid", "", "Tenant identity; overrides and replaces the saved one")
	root.PersistentFlags().BoolVar(&c.noColor, "no-color", false, "Disable colored output")

	root.AddGroup(
		&cobra.Group{ID: "session", Title: "Session:"},
		&cobra.Group{ID: "panel", Title: "Panel:"},
		&cobra.Group{ID: "edit", Title: "Instances:"},
	)

	for _, cmd := range []*cobra.Command{loginCmd(c), logoutCmd(c), whoamiCmd(c)} {
		cmd.GroupID = "session"
		root.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{statsCmd(c), instancesCmd(c), leadsCmd(c), watchCmd(c)} {
		cmd.GroupID = "panel"
		root.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{setPromptCmd(c), toggleAICmd(c), setStatusCmd(c)} {
		cmd.GroupID = "edit"
		root.AddCommand(cmd)
	}
	return root
}

func (c *cli) resolver() *identity.Resolver {
	return identity.NewResolver(identity.KeyTenant, c.persister)
}

// identity resolves --tid first, then the saved login.
func (c *cli) identity() (tenant.Identity, error) {
	id, ok, err := c.resolver().Resolve(c.tid)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errNotLoggedIn
	}
	return id, nil
}

// withController opens the store, builds a controller for the resolved
// tenant and closes both once fn returns.
func (c *cli) withController(ctx context.Context, fn func(*view.Controller) error) error {
	id, err := c.identity()
	if err != nil {
		return err
	}
	views, closeStore, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	controller := views.New(id)
	defer controller.Close()
	return fn(controller)
}
