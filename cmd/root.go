package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/carwatch/internal/app"
	"github.com/JakeFAU/carwatch/internal/check"
	"github.com/JakeFAU/carwatch/internal/config"
	"github.com/JakeFAU/carwatch/internal/logging"
	"github.com/JakeFAU/carwatch/internal/source"
	"github.com/JakeFAU/carwatch/internal/vehicle"
)

type appKeyType string

const appKey appKeyType = "app"

// App is what the commands need from the service container. Tests inject a
// mock through newApp.
type App interface {
	Close()
	Logger() *zap.Logger
	Query() vehicle.Query
	Checkers() []source.Checker
	Runner(checkers []source.Checker) (*check.Runner, error)
	FlushMetrics(ctx context.Context)
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

var loadConfig = config.Load

// ExitError carries a process exit code out of a command. Err may be nil
// when the code itself is the result, as for an alert.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func configError(err error) error {
	return &ExitError{Code: check.ExitConfigError, Err: err}
}

// session tracks what the root command built so it can be released even
// when a subcommand exits non-zero and cobra skips the post-run hooks.
type session struct {
	cfg    config.Config
	app    App
	logger *zap.Logger
}

func (s *session) close() {
	if s.app != nil {
		s.app.Close()
		s.app = nil
	}
	if s.logger != nil {
		logging.Sync(s.logger)
		s.logger = nil
	}
}

func newRootCmd(s *session) *cobra.Command {
	var (
		cfgFile string
		logDev  bool
	)
	cmd := &cobra.Command{
		Use:   "carwatch",
		Short: "Watch Russian state auction registries for a vehicle",
		Long: `carwatch checks the confiscated-property registry and the federal
property agency's marketplace for a vehicle identified by VIN or licence
plate, and sends one Telegram alert when either lists it.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return configError(err)
			}
			if err := applyOverrides(cmd, &cfg); err != nil {
				return configError(err)
			}
			if logDev {
				cfg.Logging.Development = true
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return configError(fmt.Errorf("init logger: %w", err))
			}
			s.cfg, s.logger = cfg, logger

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return configError(fmt.Errorf("failed to initialize application services: %w", err))
			}
			s.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			s.close()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML or .env); ./.env is always read when present")
	cmd.PersistentFlags().BoolVar(&logDev, "log-dev", false, "human-readable development logging")

	cmd.AddCommand(newCheckCmd(s))
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application not initialized")
	}
	return appInstance, nil
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	s := &session{}
	defer s.close()

	root := newRootCmd(s)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return check.ExitClean
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(stderr, "carwatch:", exitErr.Err)
		}
		return exitErr.Code
	}
	// Flag parsing and unknown commands land here.
	fmt.Fprintln(stderr, "carwatch:", err)
	return check.ExitConfigError
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
