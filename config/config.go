package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration settings.
type Config struct {
	Postgres PostgresConfig `yaml:"postgres"`
	Lookup   LookupConfig   `yaml:"lookup"`
	Resolver ResolverConfig `yaml:"resolver"`
	Detector DetectorConfig `yaml:"detector"`
	Admin    AdminConfig    `yaml:"admin"`
}

// PostgresConfig holds Postgres configuration.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// LookupConfig configures the external lookup clients (rankings pages and
// member history pages on the source site).
type LookupConfig struct {
	RankingsBaseURL      string        `yaml:"rankings_base_url"`
	MemberHistoryBaseURL string        `yaml:"member_history_base_url"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	RequestsPerSecond    float64       `yaml:"requests_per_second"`
	Burst                int           `yaml:"burst"`
	MaxRetries           int           `yaml:"max_retries"`
	CacheTTL             time.Duration `yaml:"cache_ttl"`
}

// ResolverConfig carries the resolver's tuning knobs. The tolerance values
// are empirically tuned against the source site's data; they are settings,
// not derived constants.
type ResolverConfig struct {
	SoftFallback                  bool          `yaml:"soft_fallback"`
	Workers                       int           `yaml:"workers"`
	DivisionWindowBack            time.Duration `yaml:"division_window_back"`
	DivisionWindowFwd             time.Duration `yaml:"division_window_fwd"`
	DateTolerance                 time.Duration `yaml:"date_tolerance"`
	RollingQualifierDateTolerance time.Duration `yaml:"rolling_qualifier_date_tolerance"`
	LiftTolerance                 float64       `yaml:"lift_tolerance"`
	BodyweightTolerance           float64       `yaml:"bodyweight_tolerance"`
	TotalTolerance                float64       `yaml:"total_tolerance"`
	SplitBodyweightTolerance      float64       `yaml:"split_bodyweight_tolerance"`
}

// DetectorConfig configures the duplicate detector defaults.
type DetectorConfig struct {
	MinConfidence int `yaml:"min_confidence"`
}

// AdminConfig holds the admin HTTP surface configuration.
type AdminConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// LoadConfig loads the configuration from a YAML file, overriding with
// environment variables where present. A missing file falls back to
// environment-only configuration.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return loadConfigFromEnv()
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn not set")
	}
	return cfg, nil
}

// loadConfigFromEnv loads the configuration from environment variables.
func loadConfigFromEnv() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Lookup: LookupConfig{
			RequestTimeout:    10 * time.Second,
			RequestsPerSecond: 2,
			Burst:             2,
			MaxRetries:        3,
			CacheTTL:          15 * time.Minute,
		},
		Resolver: ResolverConfig{
			SoftFallback:                  true,
			Workers:                       4,
			DivisionWindowBack:            3 * 24 * time.Hour,
			DivisionWindowFwd:             10 * 24 * time.Hour,
			DateTolerance:                 14 * 24 * time.Hour,
			RollingQualifierDateTolerance: 30 * 24 * time.Hour,
			LiftTolerance:                 0.1,
			BodyweightTolerance:           0.25,
			TotalTolerance:                0.1,
			SplitBodyweightTolerance:      2.0,
		},
		Detector: DetectorConfig{
			MinConfidence: 50,
		},
		Admin: AdminConfig{
			ListenAddress: ":8090",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("RANKINGS_BASE_URL"); v != "" {
		cfg.Lookup.RankingsBaseURL = v
	}
	if v := os.Getenv("MEMBER_HISTORY_BASE_URL"); v != "" {
		cfg.Lookup.MemberHistoryBaseURL = v
	}
	if v := os.Getenv("LOOKUP_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lookup.RequestTimeout = d
		}
	}
	if v := os.Getenv("LOOKUP_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Lookup.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("LOOKUP_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lookup.CacheTTL = d
		}
	}
	if v := os.Getenv("RESOLVER_SOFT_FALLBACK"); v != "" {
		cfg.Resolver.SoftFallback = v == "true"
	}
	if v := os.Getenv("RESOLVER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Resolver.Workers = n
		}
	}
	if v := os.Getenv("DETECTOR_MIN_CONFIDENCE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detector.MinConfidence = n
		}
	}
	if v := os.Getenv("ADMIN_LISTEN_ADDRESS"); v != "" {
		cfg.Admin.ListenAddress = v
	}
}
