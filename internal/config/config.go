// Package config loads and validates carwatch configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/JakeFAU/carwatch/internal/alert"
	"github.com/JakeFAU/carwatch/internal/source/konfiskat"
	"github.com/JakeFAU/carwatch/internal/source/rosim"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config captures all knobs for a check run.
type Config struct {
	Vehicle   VehicleConfig   `mapstructure:"vehicle"`
	Check     CheckConfig     `mapstructure:"check"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Konfiskat KonfiskatConfig `mapstructure:"konfiskat"`
	Rosim     RosimConfig     `mapstructure:"rosim"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Snapshots SnapshotConfig  `mapstructure:"snapshots"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// VehicleConfig holds the search keys. They are not validated here: an
// empty query is reported by the runner so it maps to the config-error exit.
type VehicleConfig struct {
	VIN   string `mapstructure:"vin"`
	Plate string `mapstructure:"plate"`
}

// CheckConfig governs how sources are run.
type CheckConfig struct {
	Mode          string `mapstructure:"mode" validate:"oneof=sequential concurrent"`
	MaxAttempts   int    `mapstructure:"max_attempts" validate:"min=1,max=10"`
	BackoffBaseMs int    `mapstructure:"backoff_base_ms" validate:"min=0"`
	BackoffMaxMs  int    `mapstructure:"backoff_max_ms" validate:"min=0"`
	ReportPath    string `mapstructure:"report_path"`
}

// BrowserConfig configures the Chrome session.
type BrowserConfig struct {
	// Headless is parsed from HEADLESS by hand; see ParseFlag.
	Headless          bool   `mapstructure:"-"`
	ExecPath          string `mapstructure:"exec_path"`
	UserAgent         string `mapstructure:"user_agent"`
	Locale            string `mapstructure:"locale"`
	Timezone          string `mapstructure:"timezone"`
	WindowWidth       int    `mapstructure:"window_width" validate:"min=320"`
	WindowHeight      int    `mapstructure:"window_height" validate:"min=240"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds" validate:"min=1"`
}

// KonfiskatConfig configures the confiscated-property registry check.
type KonfiskatConfig struct {
	URL                  string `mapstructure:"url" validate:"required,url"`
	Transport            string `mapstructure:"transport" validate:"oneof=browser http"`
	SettleDelayMs        int    `mapstructure:"settle_delay_ms" validate:"min=0"`
	FormTimeoutSeconds   int    `mapstructure:"form_timeout_seconds" validate:"min=1"`
	ResultTimeoutSeconds int    `mapstructure:"result_timeout_seconds" validate:"min=1"`
	HTTPTimeoutSeconds   int    `mapstructure:"http_timeout_seconds" validate:"min=1"`
	RequestIntervalMs    int    `mapstructure:"request_interval_ms" validate:"min=0"`
}

// RosimConfig configures the marketplace check.
type RosimConfig struct {
	URL                  string `mapstructure:"url" validate:"required,url"`
	SettleDelayMs        int    `mapstructure:"settle_delay_ms" validate:"min=0"`
	FieldTimeoutSeconds  int    `mapstructure:"field_timeout_seconds" validate:"min=1"`
	ResultTimeoutSeconds int    `mapstructure:"result_timeout_seconds" validate:"min=1"`
}

// TelegramConfig holds bot credentials. Both or neither should be set.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base" validate:"required,url"`
}

// Enabled reports whether both credentials are present.
func (t TelegramConfig) Enabled() bool {
	return strings.TrimSpace(t.BotToken) != "" && strings.TrimSpace(t.ChatID) != ""
}

// Partial reports whether exactly one credential is present.
func (t TelegramConfig) Partial() bool {
	return !t.Enabled() && (strings.TrimSpace(t.BotToken) != "" || strings.TrimSpace(t.ChatID) != "")
}

// PubSubConfig enables publishing alerts to a topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name" validate:"required_with=ProjectID"`
}

// SnapshotConfig selects where HTML of blocked pages is kept.
type SnapshotConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=none local gcs"`
	Dir       string `mapstructure:"dir" validate:"required_if=Backend local"`
	GCSBucket string `mapstructure:"gcs_bucket" validate:"required_if=Backend gcs"`
	Prefix    string `mapstructure:"prefix"`
}

// MetricsConfig controls where run metrics go. Both targets are optional.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" validate:"omitempty,url"`
	Job            string `mapstructure:"job"`
	Instance       string `mapstructure:"instance"`
	Textfile       string `mapstructure:"textfile"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from defaults, an optional file and the environment.
// A .env file in the working directory is read when present; variables
// already set in the process environment win over it.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env", false); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("CARWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}
	setDefaults(v)

	if path != "" {
		if isDotEnv(path) {
			if err := loadDotEnv(path, true); err != nil {
				return Config{}, err
			}
		} else {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Browser.Headless = ParseFlag(v.GetString("browser.headless"), true)
	cfg.Vehicle = resolveVehicle(v)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// bindEnv maps the bare variable names the tool has always accepted.
func bindEnv(v *viper.Viper) error {
	bindings := [][]string{
		{"env.car_vin", "CAR_VIN"},
		{"env.car_plate", "CAR_PLATE"},
		{"env.vin", "VIN"},
		{"env.plate", "PLATE_NUMBER"},
		{"telegram.bot_token", "TELEGRAM_BOT_TOKEN", "CARWATCH_TELEGRAM_BOT_TOKEN"},
		{"telegram.chat_id", "TELEGRAM_CHAT_ID", "CARWATCH_TELEGRAM_CHAT_ID"},
		{"browser.headless", "HEADLESS", "CARWATCH_BROWSER_HEADLESS"},
	}
	for _, b := range bindings {
		if err := v.BindEnv(b...); err != nil {
			return fmt.Errorf("bind %s: %w", b[0], err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("check.mode", "sequential")
	v.SetDefault("check.max_attempts", 2)
	v.SetDefault("check.backoff_base_ms", 3000)
	v.SetDefault("check.backoff_max_ms", 20000)
	v.SetDefault("browser.headless", "1")
	v.SetDefault("browser.locale", "ru-RU")
	v.SetDefault("browser.timezone", "Europe/Moscow")
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 800)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("konfiskat.url", konfiskat.DefaultURL)
	v.SetDefault("konfiskat.transport", "browser")
	v.SetDefault("konfiskat.settle_delay_ms", 3000)
	v.SetDefault("konfiskat.form_timeout_seconds", 15)
	v.SetDefault("konfiskat.result_timeout_seconds", 30)
	v.SetDefault("konfiskat.http_timeout_seconds", 30)
	v.SetDefault("konfiskat.request_interval_ms", 1500)
	v.SetDefault("rosim.url", rosim.DefaultURL)
	v.SetDefault("rosim.settle_delay_ms", 2000)
	v.SetDefault("rosim.field_timeout_seconds", 15)
	v.SetDefault("rosim.result_timeout_seconds", 30)
	v.SetDefault("telegram.api_base", alert.DefaultTelegramAPI)
	v.SetDefault("snapshots.backend", "local")
	v.SetDefault("snapshots.dir", "debug")
	v.SetDefault("metrics.job", "carwatch")
	v.SetDefault("logging.development", false)

	// Optional keys default to empty so AutomaticEnv can see their
	// CARWATCH_ variables during Unmarshal.
	for _, key := range []string{
		"vehicle.vin",
		"vehicle.plate",
		"check.report_path",
		"browser.exec_path",
		"browser.user_agent",
		"pubsub.project_id",
		"pubsub.topic_name",
		"snapshots.gcs_bucket",
		"snapshots.prefix",
		"metrics.pushgateway_url",
		"metrics.instance",
		"metrics.textfile",
	} {
		v.SetDefault(key, "")
	}
}

// resolveVehicle picks the search keys. CAR_VIN/CAR_PLATE are taken as a
// pair when either is set; otherwise VIN/PLATE_NUMBER; otherwise the config
// file.
func resolveVehicle(v *viper.Viper) VehicleConfig {
	pairs := [][2]string{
		{"env.car_vin", "env.car_plate"},
		{"env.vin", "env.plate"},
		{"vehicle.vin", "vehicle.plate"},
	}
	for _, p := range pairs {
		vin := strings.TrimSpace(v.GetString(p[0]))
		plate := strings.TrimSpace(v.GetString(p[1]))
		if vin != "" || plate != "" {
			return VehicleConfig{VIN: vin, Plate: plate}
		}
	}
	return VehicleConfig{}
}

// ParseFlag reads a boolean switch the way the HEADLESS variable always has:
// 0, false, no and off are false, anything else is true, empty is def.
func ParseFlag(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def
	case "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

func isDotEnv(path string) bool {
	base := filepath.Base(path)
	return base == ".env" || strings.HasSuffix(base, ".env")
}

// loadDotEnv copies KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set.
func loadDotEnv(path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read env file: %w", err)
	}
	dv := viper.New()
	dv.SetConfigFile(path)
	dv.SetConfigType("env")
	if err := dv.ReadInConfig(); err != nil {
		return fmt.Errorf("read env file: %w", err)
	}
	for _, key := range dv.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, dv.GetString(key)); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}

var validate = validator.New()

// Validate checks every setting except the vehicle keys.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// NavigationTimeout returns the browser navigation budget.
func (c BrowserConfig) NavigationTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}

// Backoff returns the retry base and cap delays.
func (c CheckConfig) Backoff() (base, maxDelay time.Duration) {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond, time.Duration(c.BackoffMaxMs) * time.Millisecond
}
