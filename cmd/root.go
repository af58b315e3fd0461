// Package cmd defines the CLI commands for the booru-crawler executable.
package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/booru-tag-crawler/internal/app"
	"github.com/JakeFAU/booru-tag-crawler/internal/config"
	"github.com/JakeFAU/booru-tag-crawler/internal/logging"
)

// envKeyType is the key for storing the command environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// annotationNoApp marks commands that only need config and a logger.
const annotationNoApp = "no-app"

// Crawler runs the crawl modes.
type Crawler interface {
	Latest(ctx context.Context) error
	Pages(ctx context.Context, start, end int) error
	Until(ctx context.Context, target int64) error
	All(ctx context.Context) error
	Loop(ctx context.Context) error
}

// App defines the services commands use. Tests inject a fake through newApp.
type App interface {
	Crawler() Crawler
	Close() error
}

type appServices struct {
	*app.App
}

func (a appServices) Crawler() Crawler {
	return a.Controller()
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return appServices{App: a}, nil
}

// env is what PersistentPreRunE hands to subcommands.
type env struct {
	cfg    config.Config
	logger *zap.Logger
	app    App
	once   sync.Once
}

// close shuts the app down once, whether the command succeeded or not.
func (e *env) close() {
	e.once.Do(func() {
		if e.app != nil {
			if err := e.app.Close(); err != nil {
				e.logger.Warn("close application", zap.Error(err))
			}
		}
		_ = e.logger.Sync()
	})
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "booru-crawler",
		Short:         "Crawl a booru catalog into a tag archive.",
		Long:          "booru-crawler walks a booru's post listing, classifies every tag it sees, and writes\nnamespaced hash -> tag mappings into a tag archive.",
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return errors.Wrap(err, "load config")
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			e := &env{cfg: cfg, logger: logger}
			if cmd.Annotations[annotationNoApp] == "" {
				e.app, err = newApp(cmd.Context(), cfg, logger)
				if err != nil {
					return errors.Wrap(err, "initialize application services")
				}
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, e))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, err := resolveEnv(cmd.Context()); err == nil {
				e.close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")

	cmd.AddCommand(
		newLatestCmd(),
		newPagesCmd(),
		newUntilCmd(),
		newAllCmd(),
		newLoopCmd(),
		newCacheCmd(),
	)
	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running crawl.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		stop()
		logger, lerr := logging.New(true)
		if lerr != nil {
			logger = zap.NewExample()
		}
		logger.Fatal("command execution failed", zap.Error(err))
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(out)

	executed, err := root.ExecuteContextC(ctx)
	// PersistentPostRun is skipped when RunE fails.
	if executed != nil && executed.Context() != nil {
		if e, envErr := resolveEnv(executed.Context()); envErr == nil {
			e.close()
		}
	}
	return err
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}

func resolveApp(ctx context.Context) (App, *zap.Logger, error) {
	e, err := resolveEnv(ctx)
	if err != nil {
		return nil, nil, err
	}
	if e.app == nil {
		return nil, nil, errors.New("application services not initialized")
	}
	return e.app, e.logger, nil
}

// ignoreCanceled treats an interrupted crawl as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
