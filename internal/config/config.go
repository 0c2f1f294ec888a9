package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"squarecrop/internal/imageproc"
	"squarecrop/internal/netfetch"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Port            string
	LogFormat       string
	LogLevel        string
	OpenAPISpecPath string

	Encoding imageproc.Encoding
	Load     imageproc.LoadOptions
	Fetch    netfetch.Options

	SessionTTL time.Duration

	CropDBDSN          string
	GCPProjectID       string
	PubSubTopic        string
	PubSubMode         string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	MigrationsPath     string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_level", "info")
	v.SetDefault("openapi_spec_path", "openapi.yaml")
	v.SetDefault("output_format", string(imageproc.DefaultEncoding.Format))
	v.SetDefault("output_quality", imageproc.DefaultEncoding.Quality)
	v.SetDefault("max_upload_bytes", 25<<20)
	v.SetDefault("max_pixels", 64_000_000)
	v.SetDefault("auto_orient", true)
	v.SetDefault("fetch_max_bytes", 25<<20)
	v.SetDefault("fetch_max_redirects", 3)
	v.SetDefault("fetch_timeout", 15*time.Second)
	v.SetDefault("session_ttl", 30*time.Minute)
	v.SetDefault("pubsub_mode", "cloud")
	v.SetDefault("outbox_poll_interval", 2*time.Second)
	v.SetDefault("outbox_batch_size", 10)
	v.SetDefault("migrations_path", "migrations")
}

// Load reads configuration from defaults, an optional CONFIG_FILE, the
// environment (upper-cased keys, e.g. OUTPUT_QUALITY=0.8) and flags, in
// increasing precedence. flags may be nil.
func Load(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, err
		}
	}
	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	format, err := imageproc.ParseFormat(v.GetString("output_format"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:            v.GetString("port"),
		LogFormat:       v.GetString("log_format"),
		LogLevel:        v.GetString("log_level"),
		OpenAPISpecPath: v.GetString("openapi_spec_path"),
		Encoding: imageproc.Encoding{
			Format:  format,
			Quality: v.GetFloat64("output_quality"),
		},
		Load: imageproc.LoadOptions{
			MaxBytes:   v.GetInt64("max_upload_bytes"),
			MaxPixels:  v.GetInt("max_pixels"),
			AutoOrient: v.GetBool("auto_orient"),
		},
		Fetch: netfetch.Options{
			MaxBytes:     v.GetInt64("fetch_max_bytes"),
			MaxRedirects: v.GetInt("fetch_max_redirects"),
			Timeout:      v.GetDuration("fetch_timeout"),
		},
		SessionTTL:         v.GetDuration("session_ttl"),
		CropDBDSN:          v.GetString("crop_db_dsn"),
		GCPProjectID:       v.GetString("gcp_project_id"),
		PubSubTopic:        v.GetString("pubsub_topic"),
		PubSubMode:         v.GetString("pubsub_mode"),
		OutboxPollInterval: v.GetDuration("outbox_poll_interval"),
		OutboxBatchSize:    v.GetInt("outbox_batch_size"),
		MigrationsPath:     v.GetString("migrations_path"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NormalizeFlagName lets flags be spelled with dashes while binding to the
// underscored configuration keys.
func NormalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "-", "_"))
}

func (c Config) Validate() error {
	var errs []error
	if err := c.Encoding.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json", "tint":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	switch c.PubSubMode {
	case "cloud", "emulator":
	default:
		errs = append(errs, fmt.Errorf("unknown pubsub mode %q", c.PubSubMode))
	}
	if c.PubSubTopic != "" && c.GCPProjectID == "" {
		errs = append(errs, errors.New("GCP_PROJECT_ID is required when PUBSUB_TOPIC is set"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be greater than 0"))
	}
	return errors.Join(errs...)
}

// EventsEnabled reports whether crop events are published.
func (c Config) EventsEnabled() bool {
	return c.PubSubTopic != ""
}

// LedgerEnabled reports whether crop metadata is recorded.
func (c Config) LedgerEnabled() bool {
	return c.CropDBDSN != ""
}
