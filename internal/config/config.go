package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const dateLayout = "2006-01-02"

// Config holds all batch settings. Values are immutable after Load;
// components receive what they need at construction.
type Config struct {
	// Area of interest and inputs.
	Area         string `koanf:"area"`
	SiteListPath string `koanf:"site_list"`
	OutputDir    string `koanf:"output_dir"`

	// AEP targets and the source-A disambiguation policy.
	AEPTargets   []string `koanf:"aep_targets"`
	PreferTokens []string `koanf:"prefer_tokens"`

	// Gage-statistics service.
	StatsBaseURL string        `koanf:"stats_base_url"`
	UserAgent    string        `koanf:"user_agent"`
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
	FetchRetries int           `koanf:"fetch_retries"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
	RetryMax     time.Duration `koanf:"retry_max_backoff"`

	// Retrospective flow store.
	RetroDBPath string `koanf:"retro_db"`
	RetroTable  string `koanf:"retro_table"`
	WindowStart string `koanf:"window_start"`
	WindowEnd   string `koanf:"window_end"`

	// Resume ledger.
	LedgerDBPath string `koanf:"ledger_db"`

	// Operational endpoints, logging, shutdown.
	HTTPAddr        string        `koanf:"http_addr"`
	LogLevel        string        `koanf:"log_level"`
	LogFormat       string        `koanf:"log_format"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// Optional merged-row publishing.
	KafkaEnabled bool     `koanf:"kafka_enabled"`
	KafkaBrokers []string `koanf:"kafka_brokers"`
	KafkaTopic   string   `koanf:"kafka_topic"`

	// Parsed forms of WindowStart/WindowEnd, set by Load.
	WindowStartDate time.Time `koanf:"-"`
	WindowEndDate   time.Time `koanf:"-"`
}

// defaults returns the baseline configuration before file and env layers.
func defaults() Config {
	return Config{
		OutputDir:       "out/stats",
		AEPTargets:      []string{"0.2", "1", "2", "4", "10", "20", "50"},
		PreferTokens:    []string{"Weighted", "Maximum"},
		StatsBaseURL:    "https://streamstats.usgs.gov/gagestatsservices",
		UserAgent:       "flood-aep-etl/1.0",
		FetchTimeout:    30 * time.Second,
		FetchRetries:    3,
		RetryBackoff:    2 * time.Second,
		RetryMax:        30 * time.Second,
		RetroTable:      "chrtout",
		WindowStart:     "1979-10-01",
		WindowEnd:       "2022-09-30",
		LedgerDBPath:    "aep_ledger.duckdb",
		HTTPAddr:        ":8080",
		LogLevel:        "info",
		LogFormat:       "json",
		ShutdownTimeout: 10 * time.Second,
		KafkaBrokers:    []string{"localhost:9092"},
		KafkaTopic:      "flood-aep-estimates",
	}
}

// Load builds a Config by layering defaults, an optional YAML file, and
// environment variables. Precedence (low → high):
//
//  1. defaults
//  2. YAML file (path argument, or AEPETL_CONFIG when the path is empty)
//  3. env vars with prefix AEPETL_ (AEPETL_FETCH_TIMEOUT → fetch_timeout)
func Load(path string) (*Config, error) {
	cfg := defaults()

	k := koanf.New(".")

	if path == "" {
		path = os.Getenv("AEPETL_CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("AEPETL_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "aepetl_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Area == "" {
		return errors.New("area is required")
	}
	if c.SiteListPath == "" {
		return errors.New("site_list is required")
	}
	if c.RetroDBPath == "" {
		return errors.New("retro_db is required")
	}
	if c.OutputDir == "" {
		return errors.New("output_dir must not be empty")
	}
	if c.LedgerDBPath == "" {
		return errors.New("ledger_db must not be empty")
	}
	if c.RetroTable == "" {
		return errors.New("retro_table must not be empty")
	}
	if c.StatsBaseURL == "" {
		return errors.New("stats_base_url must not be empty")
	}
	if c.HTTPAddr == "" {
		return errors.New("http_addr must not be empty")
	}

	if len(c.AEPTargets) == 0 {
		return errors.New("aep_targets must not be empty")
	}
	seen := make(map[string]bool, len(c.AEPTargets))
	for _, target := range c.AEPTargets {
		p, err := strconv.ParseFloat(target, 64)
		if err != nil || p <= 0 || p >= 100 {
			return fmt.Errorf("aep_targets entry %q must be a percentage in (0, 100)", target)
		}
		if seen[target] {
			return fmt.Errorf("aep_targets entry %q is duplicated", target)
		}
		seen[target] = true
	}
	if len(c.PreferTokens) == 0 {
		return errors.New("prefer_tokens must not be empty")
	}

	if c.FetchTimeout <= 0 {
		return errors.New("fetch_timeout must be positive")
	}
	if c.FetchRetries < 0 {
		return errors.New("fetch_retries must not be negative")
	}
	if c.RetryBackoff <= 0 {
		return errors.New("retry_backoff must be positive")
	}
	if c.RetryMax < c.RetryBackoff {
		return errors.New("retry_max_backoff must not be below retry_backoff")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown_timeout must be positive")
	}

	start, err := time.Parse(dateLayout, c.WindowStart)
	if err != nil {
		return fmt.Errorf("window_start %q: want YYYY-MM-DD", c.WindowStart)
	}
	end, err := time.Parse(dateLayout, c.WindowEnd)
	if err != nil {
		return fmt.Errorf("window_end %q: want YYYY-MM-DD", c.WindowEnd)
	}
	if !start.Before(end) {
		return errors.New("window_start must precede window_end")
	}
	c.WindowStartDate = start
	c.WindowEndDate = end

	if c.KafkaEnabled {
		if len(c.KafkaBrokers) == 0 {
			return errors.New("kafka_enabled is true but kafka_brokers is empty")
		}
		if c.KafkaTopic == "" {
			return errors.New("kafka_enabled is true but kafka_topic is empty")
		}
	}

	return nil
}
