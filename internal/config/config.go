// Package config loads storywatch configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv = "STORYWATCH_CONFIG"
	dbPathEnv     = "STORYWATCH_DB"
	providerEnv   = "STORYWATCH_PROVIDER"
)

// Duration wraps time.Duration so YAML values like "5m" parse.
type Duration time.Duration

// UnmarshalYAML parses either a Go duration string or a bare number of
// seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("config: invalid duration node %q", value.Value)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalYAML renders the duration in Go syntax.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Config holds every tunable the pipeline exposes.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Cluster  ClusterConfig  `yaml:"cluster"`
	Trend    TrendConfig    `yaml:"trend"`
	Sources  []SourceConfig `yaml:"sources"`
}

// DatabaseConfig describes the SQLite database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// IngestConfig controls concurrent normalization.
type IngestConfig struct {
	Workers       int `yaml:"workers"`
	MaxTextLength int `yaml:"maxTextLength"`
	ShingleSize   int `yaml:"shingleSize"`
}

// AnalysisConfig controls the cache/limiter in front of the NLP provider.
type AnalysisConfig struct {
	Provider    string   `yaml:"provider"`
	CacheTTL    Duration `yaml:"cacheTtl"`
	RateLimit   float64  `yaml:"rateLimit"` // requests per second
	Burst       int      `yaml:"burst"`
	MaxAttempts int      `yaml:"maxAttempts"`
	BaseBackoff Duration `yaml:"baseBackoff"`
}

// ClusterConfig holds the story-matching thresholds.
type ClusterConfig struct {
	TopicThreshold       float64 `yaml:"topicThreshold"`       // min centroid cosine similarity
	FingerprintThreshold int     `yaml:"fingerprintThreshold"` // max Hamming distance, bits
}

// TrendConfig drives the aggregation tick and story lifecycle.
type TrendConfig struct {
	TickInterval     Duration `yaml:"tickInterval"`
	DormantAfter     Duration `yaml:"dormantAfter"`
	InactivityWindow Duration `yaml:"inactivityWindow"`
	EmergingFactor   float64  `yaml:"emergingFactor"` // volume vs baseline multiple
	TopEntities      int      `yaml:"topEntities"`
}

// SourceConfig describes one feed to ingest from.
type SourceConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Path: "storywatch.db",
		},
		Ingest: IngestConfig{
			Workers:       8,
			MaxTextLength: 8192,
			ShingleSize:   5,
		},
		Analysis: AnalysisConfig{
			Provider:    "keyword",
			CacheTTL:    Duration(24 * time.Hour),
			RateLimit:   2,
			Burst:       4,
			MaxAttempts: 4,
			BaseBackoff: Duration(250 * time.Millisecond),
		},
		Cluster: ClusterConfig{
			TopicThreshold:       0.60,
			FingerprintThreshold: 12,
		},
		Trend: TrendConfig{
			TickInterval:     Duration(5 * time.Minute),
			DormantAfter:     Duration(2 * time.Hour),
			InactivityWindow: Duration(6 * time.Hour),
			EmergingFactor:   2.0,
			TopEntities:      5,
		},
	}
}

// Load reads YAML configuration and applies environment overrides.
// Defaults are used when no config path is set; an unreadable or
// malformed file is an error.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(dbPathEnv); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(providerEnv); v != "" {
		c.Analysis.Provider = v
	}
	if v := os.Getenv("STORYWATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ingest.Workers = n
		}
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("config: ingest workers must be positive, got %d", c.Ingest.Workers)
	}
	if c.Ingest.ShingleSize <= 0 {
		return fmt.Errorf("config: shingle size must be positive, got %d", c.Ingest.ShingleSize)
	}
	if c.Cluster.TopicThreshold < 0 || c.Cluster.TopicThreshold > 1 {
		return fmt.Errorf("config: topic threshold must be in [0,1], got %g", c.Cluster.TopicThreshold)
	}
	if c.Cluster.FingerprintThreshold < 0 || c.Cluster.FingerprintThreshold > 64 {
		return fmt.Errorf("config: fingerprint threshold must be in [0,64], got %d", c.Cluster.FingerprintThreshold)
	}
	if c.Analysis.MaxAttempts <= 0 {
		return fmt.Errorf("config: max attempts must be positive, got %d", c.Analysis.MaxAttempts)
	}
	if c.Analysis.RateLimit <= 0 {
		return fmt.Errorf("config: rate limit must be positive, got %g", c.Analysis.RateLimit)
	}
	if c.Trend.InactivityWindow <= c.Trend.DormantAfter {
		return fmt.Errorf("config: inactivity window (%s) must exceed dormancy window (%s)",
			c.Trend.InactivityWindow, c.Trend.DormantAfter)
	}
	if c.Trend.EmergingFactor <= 1 {
		return fmt.Errorf("config: emerging factor must exceed 1, got %g", c.Trend.EmergingFactor)
	}
	return nil
}
