// Package app builds the long-lived services of a check run from
// configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/carwatch/internal/alert"
	"github.com/JakeFAU/carwatch/internal/artifact"
	gcsstore "github.com/JakeFAU/carwatch/internal/artifact/gcs"
	localstore "github.com/JakeFAU/carwatch/internal/artifact/local"
	"github.com/JakeFAU/carwatch/internal/browser"
	"github.com/JakeFAU/carwatch/internal/check"
	"github.com/JakeFAU/carwatch/internal/clock/system"
	"github.com/JakeFAU/carwatch/internal/config"
	"github.com/JakeFAU/carwatch/internal/id/uuid"
	"github.com/JakeFAU/carwatch/internal/metrics"
	"github.com/JakeFAU/carwatch/internal/retry"
	"github.com/JakeFAU/carwatch/internal/source"
	"github.com/JakeFAU/carwatch/internal/source/konfiskat"
	"github.com/JakeFAU/carwatch/internal/source/rosim"
	"github.com/JakeFAU/carwatch/internal/vehicle"
)

// App holds the services shared by one run.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	runID      string
	clock      system.Clock
	metrics    *metrics.Recorder
	snapshots  source.SnapshotStore
	dispatcher alert.Dispatcher
	closers    []func() error
}

// New wires services from cfg. Nothing here touches the monitored sites.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:     cfg,
		logger:  logger.With(zap.String("run_id", runID)),
		runID:   runID,
		clock:   system.New(),
		metrics: metrics.New(),
	}

	if err := a.initSnapshots(ctx); err != nil {
		// Snapshots are optional diagnostics.
		a.logger.Warn("snapshots disabled",
			zap.String("backend", cfg.Snapshots.Backend),
			zap.Error(err),
		)
		a.snapshots = nil
	}
	if err := a.initDispatcher(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("init alerts: %w", err)
	}
	return a, nil
}

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// RunID identifies this run in logs, snapshots and the report.
func (a *App) RunID() string { return a.runID }

// Query returns the watched vehicle.
func (a *App) Query() vehicle.Query {
	return vehicle.NewQuery(a.cfg.Vehicle.VIN, a.cfg.Vehicle.Plate)
}

// Metrics returns the run's metric recorder.
func (a *App) Metrics() *metrics.Recorder { return a.metrics }

func (a *App) initSnapshots(ctx context.Context) error {
	var store artifact.BlobStore
	switch a.cfg.Snapshots.Backend {
	case "local":
		s, err := localstore.New(localstore.Config{BaseDir: a.cfg.Snapshots.Dir})
		if err != nil {
			return err
		}
		store = s
		a.logger.Debug("saving snapshots locally", zap.String("dir", a.cfg.Snapshots.Dir))
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		s, err := gcsstore.New(client, gcsstore.Config{Bucket: a.cfg.Snapshots.GCSBucket})
		if err != nil {
			return err
		}
		store = s
		a.logger.Debug("saving snapshots to GCS", zap.String("bucket", a.cfg.Snapshots.GCSBucket))
	default:
		return nil
	}
	snaps, err := artifact.NewSnapshots(store, a.cfg.Snapshots.Prefix, a.runID, a.clock)
	if err != nil {
		return err
	}
	a.snapshots = snaps
	return nil
}

func (a *App) initDispatcher(ctx context.Context) error {
	var dispatchers alert.Multi

	tg := a.cfg.Telegram
	switch {
	case tg.Enabled():
		t, err := alert.NewTelegram(alert.TelegramConfig{Token: tg.BotToken, ChatID: tg.ChatID, APIBase: tg.APIBase})
		if err != nil {
			return err
		}
		dispatchers = append(dispatchers, t)
	case tg.Partial():
		a.logger.Warn("telegram needs both TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID; alerts will only be logged")
	}

	if ps := a.cfg.PubSub; ps.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, ps.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		publisher := client.Publisher(ps.TopicName)
		a.closers = append(a.closers, func() error {
			publisher.Stop()
			return client.Close()
		})
		d, err := alert.NewPubSub(publisher)
		if err != nil {
			return err
		}
		dispatchers = append(dispatchers, d)
	}

	switch len(dispatchers) {
	case 0:
		a.dispatcher = alert.LogOnly{Logger: a.logger}
	case 1:
		a.dispatcher = dispatchers[0]
	default:
		a.dispatcher = dispatchers
	}
	return nil
}

// Checkers returns the configured sources in report order.
func (a *App) Checkers() []source.Checker {
	k := a.cfg.Konfiskat
	var kc source.Checker
	if k.Transport == "http" {
		kc = konfiskat.NewHTTP(konfiskat.HTTPConfig{
			URL:             k.URL,
			Timeout:         seconds(k.HTTPTimeoutSeconds),
			RequestInterval: millis(k.RequestIntervalMs),
		}, a.snapshots, a.logger)
	} else {
		kc = konfiskat.New(konfiskat.Config{
			URL:           k.URL,
			SettleDelay:   millis(k.SettleDelayMs),
			FormTimeout:   seconds(k.FormTimeoutSeconds),
			ResultTimeout: seconds(k.ResultTimeoutSeconds),
		}, a.snapshots, a.logger)
	}

	r := a.cfg.Rosim
	rc := rosim.New(rosim.Config{
		URL:           r.URL,
		SettleDelay:   millis(r.SettleDelayMs),
		FieldTimeout:  seconds(r.FieldTimeoutSeconds),
		ResultTimeout: seconds(r.ResultTimeoutSeconds),
	}, a.snapshots, a.logger)

	return []source.Checker{kc, rc}
}

// BrowserOptions maps the browser settings onto session options.
func (a *App) BrowserOptions() browser.Options {
	b := a.cfg.Browser
	opts := browser.DefaultOptions()
	opts.Headless = b.Headless
	opts.ExecPath = b.ExecPath
	if b.UserAgent != "" {
		opts.UserAgent = b.UserAgent
	}
	if b.Locale != "" {
		opts.Locale = b.Locale
	}
	if b.Timezone != "" {
		opts.Timezone = b.Timezone
	}
	opts.WindowWidth = b.WindowWidth
	opts.WindowHeight = b.WindowHeight
	opts.NavigationTimeout = b.NavigationTimeout()
	return opts
}

// Runner builds the check runner over checkers.
func (a *App) Runner(checkers []source.Checker) (*check.Runner, error) {
	mode, err := check.ParseMode(a.cfg.Check.Mode)
	if err != nil {
		return nil, err
	}
	base, maxDelay := a.cfg.Check.Backoff()
	return check.NewRunner(checkers, check.Config{
		Mode:  mode,
		Retry: retry.Policy{MaxAttempts: a.cfg.Check.MaxAttempts, BaseDelay: base, MaxDelay: maxDelay},
	}, check.Deps{
		Browser:    check.ChromeLauncher(a.BrowserOptions(), a.logger),
		Dispatcher: a.dispatcher,
		Observer:   a.metrics,
		Clock:      a.clock,
		IDs:        runIDs(a.runID),
		Logger:     a.logger,
	})
}

// FlushMetrics pushes and writes metrics where configured. Failures are
// logged; they never change the run's outcome.
func (a *App) FlushMetrics(ctx context.Context) {
	m := a.cfg.Metrics
	if m.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := a.metrics.Push(pushCtx, m.PushgatewayURL, m.Job, m.Instance); err != nil {
			a.logger.Warn("metrics push failed", zap.Error(err))
		}
	}
	if m.Textfile != "" {
		if err := a.metrics.WriteTextfile(m.Textfile); err != nil {
			a.logger.Warn("metrics textfile failed", zap.Error(err))
		}
	}
}

// Close releases clients in reverse order of creation.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing services", zap.Error(err))
	}
}

type runIDs string

func (r runIDs) NewID() (string, error) { return string(r), nil }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func millis(n int) time.Duration  { return time.Duration(n) * time.Millisecond }
