// Package cmd includes tests for the command line and its exit codes.
package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/carwatch/internal/alert"
	"github.com/JakeFAU/carwatch/internal/check"
	"github.com/JakeFAU/carwatch/internal/config"
	"github.com/JakeFAU/carwatch/internal/source"
	"github.com/JakeFAU/carwatch/internal/source/konfiskat"
	"github.com/JakeFAU/carwatch/internal/source/rosim"
	"github.com/JakeFAU/carwatch/internal/vehicle"
)

type mockApp struct {
	mock.Mock
	runner *check.Runner
	query  vehicle.Query
}

func (m *mockApp) Close()                     { m.Called() }
func (m *mockApp) Logger() *zap.Logger        { return zap.NewNop() }
func (m *mockApp) Query() vehicle.Query       { return m.query }
func (m *mockApp) Checkers() []source.Checker { return nil }
func (m *mockApp) FlushMetrics(ctx context.Context) {
	m.Called(ctx)
}

func (m *mockApp) Runner(_ []source.Checker) (*check.Runner, error) {
	return m.runner, nil
}

type stubChecker struct{ out source.Outcome }

func (s stubChecker) Name() string       { return s.out.Source }
func (s stubChecker) NeedsBrowser() bool { return false }
func (s stubChecker) Check(context.Context, source.Navigator, vehicle.Query) source.Outcome {
	return s.out
}

type countingDispatcher struct{ sent int }

func (d *countingDispatcher) Send(context.Context, alert.Message) error {
	d.sent++
	return nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func validConfig() config.Config {
	return config.Config{
		Vehicle: config.VehicleConfig{VIN: "XTA21099012345678"},
		Check:   config.CheckConfig{Mode: "sequential", MaxAttempts: 1},
		Browser: config.BrowserConfig{
			Headless: true, WindowWidth: 1280, WindowHeight: 800, NavTimeoutSeconds: 45,
		},
		Konfiskat: config.KonfiskatConfig{
			URL: konfiskat.DefaultURL, Transport: "browser",
			FormTimeoutSeconds: 15, ResultTimeoutSeconds: 30, HTTPTimeoutSeconds: 30,
		},
		Rosim: config.RosimConfig{
			URL: rosim.DefaultURL, FieldTimeoutSeconds: 15, ResultTimeoutSeconds: 30,
		},
		Telegram:  config.TelegramConfig{APIBase: alert.DefaultTelegramAPI},
		Snapshots: config.SnapshotConfig{Backend: "none"},
	}
}

type harness struct {
	app        *mockApp
	dispatcher *countingDispatcher
	gotConfig  *config.Config
	stdout     bytes.Buffer
	stderr     bytes.Buffer
}

// newHarness swaps the config loader and app factory for the duration of t.
func newHarness(t *testing.T, cfg config.Config, loadErr error, outcomes ...source.Outcome) *harness {
	t.Helper()
	h := &harness{dispatcher: &countingDispatcher{}}

	checkers := make([]source.Checker, 0, len(outcomes))
	for _, o := range outcomes {
		checkers = append(checkers, stubChecker{out: o})
	}
	runner, err := check.NewRunner(checkers, check.Config{}, check.Deps{
		Dispatcher: h.dispatcher,
		Clock:      fixedClock{},
	})
	require.NoError(t, err)
	h.app = &mockApp{runner: runner, query: vehicle.NewQuery(cfg.Vehicle.VIN, cfg.Vehicle.Plate)}

	origLoad, origNew := loadConfig, newApp
	t.Cleanup(func() { loadConfig, newApp = origLoad, origNew })

	loadConfig = func(string) (config.Config, error) {
		if loadErr != nil {
			return config.Config{}, loadErr
		}
		return cfg, nil
	}
	newApp = func(_ context.Context, c config.Config, _ *zap.Logger) (App, error) {
		h.gotConfig = &c
		return h.app, nil
	}
	return h
}

func (h *harness) run(args ...string) int {
	return run(context.Background(), args, &h.stdout, &h.stderr)
}

// TestCheckCleanExitsZero verifies that a run without matches exits 0 and sends nothing.
func TestCheckCleanExitsZero(t *testing.T) {
	h := newHarness(t, validConfig(), nil,
		source.NoMatch("konfiskat", konfiskat.DefaultURL, "registry reported no results"),
		source.Blocked("rosim", rosim.DefaultURL, "results never rendered"),
	)
	h.app.On("FlushMetrics", mock.Anything).Once()
	h.app.On("Close").Once()

	code := h.run("check")

	assert.Equal(t, check.ExitClean, code)
	assert.Contains(t, h.stdout.String(), "decision: clean")
	assert.Contains(t, h.stdout.String(), "results never rendered")
	assert.Zero(t, h.dispatcher.sent)
	h.app.AssertExpectations(t)
}

// TestCheckAlertExitsOneAndWritesReport verifies that a match exits 1, alerts once and writes the report.
func TestCheckAlertExitsOneAndWritesReport(t *testing.T) {
	h := newHarness(t, validConfig(), nil,
		source.Matched("konfiskat", konfiskat.DefaultURL, "XTA21099012345678"),
		source.NoMatch("rosim", rosim.DefaultURL, "объекты не найдены"),
	)
	h.app.On("FlushMetrics", mock.Anything).Once()
	h.app.On("Close").Once()
	reportPath := filepath.Join(t.TempDir(), "report.json")

	code := h.run("check", "--report", reportPath)

	assert.Equal(t, check.ExitAlert, code)
	assert.Equal(t, 1, h.dispatcher.sent)
	assert.Empty(t, h.stderr.String())
	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"decision": "alert"`)
	assert.Equal(t, reportPath, h.gotConfig.Check.ReportPath)
	h.app.AssertExpectations(t)
}

// TestCheckEmptyQueryExitsTwo verifies that a run with no VIN or plate exits 2.
func TestCheckEmptyQueryExitsTwo(t *testing.T) {
	cfg := validConfig()
	cfg.Vehicle = config.VehicleConfig{}
	h := newHarness(t, cfg, nil, source.NoMatch("konfiskat", "", ""))
	h.app.On("FlushMetrics", mock.Anything).Once()
	h.app.On("Close").Once()

	code := h.run("check")

	assert.Equal(t, check.ExitConfigError, code)
	assert.Contains(t, h.stderr.String(), vehicle.ErrEmptyQuery.Error())
	assert.Empty(t, h.stdout.String())
	h.app.AssertExpectations(t)
}

// TestConfigLoadErrorExitsTwo verifies that a config load failure exits 2 before any service is built.
func TestConfigLoadErrorExitsTwo(t *testing.T) {
	h := newHarness(t, validConfig(), errors.New("read config: no such file"))

	code := h.run("check", "--config", "missing.yaml")

	assert.Equal(t, check.ExitConfigError, code)
	assert.Contains(t, h.stderr.String(), "no such file")
	assert.Nil(t, h.gotConfig)
}

// TestCheckFlagOverrides ensures check flags override the loaded config.
func TestCheckFlagOverrides(t *testing.T) {
	h := newHarness(t, validConfig(), nil, source.NoMatch("rosim", "", ""))
	h.app.On("FlushMetrics", mock.Anything).Once()
	h.app.On("Close").Once()

	code := h.run("check", "--visible", "--mode", "concurrent", "--konfiskat-transport", "http")

	require.Equal(t, check.ExitClean, code, h.stderr.String())
	require.NotNil(t, h.gotConfig)
	assert.False(t, h.gotConfig.Browser.Headless)
	assert.Equal(t, "concurrent", h.gotConfig.Check.Mode)
	assert.Equal(t, "http", h.gotConfig.Konfiskat.Transport)
}

// TestCheckRejectsBadFlags ensures invalid flag values exit 2 without building the app.
func TestCheckRejectsBadFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "bad mode", args: []string{"check", "--mode", "parallel"}},
		{name: "bad transport", args: []string{"check", "--konfiskat-transport", "curl"}},
		{name: "headless and visible", args: []string{"check", "--headless", "--visible"}},
		{name: "unknown flag", args: []string{"check", "--nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, validConfig(), nil, source.NoMatch("rosim", "", ""))

			code := h.run(tt.args...)

			assert.Equal(t, check.ExitConfigError, code)
			assert.NotEmpty(t, h.stderr.String())
			assert.Nil(t, h.gotConfig)
		})
	}
}

// TestExitError checks ExitError messages and unwrapping.
func TestExitError(t *testing.T) {
	inner := errors.New("boom")
	err := &ExitError{Code: 2, Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "boom", err.Error())
	assert.Equal(t, "exit status 1", (&ExitError{Code: 1}).Error())
}
