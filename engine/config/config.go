// Package config loads service configuration from the environment via
// koanf's env provider, the way fyrsmithlabs-contextd builds its
// Config: defaults first, then anything set in the environment overrides
// them. The first `_` of a variable name separates the section from the
// field (RETRIEVAL_K_DEFAULT -> retrieval.k_default); RATE_LIMIT_* and
// CACHE_TTL_* use two-word prefixes, and OPENAI_API_KEY and
// ANTHROPIC_API_KEY are top-level keys.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config is every tunable this service reads at startup, shared by
// cmd/api and cmd/ingest-worker. Field names and defaults mirror spec.md
// §6 verbatim; ambient adapter settings are appended below it.
type Config struct {
	Embedding struct {
		Dim int `koanf:"dim"`
	} `koanf:"embedding"`

	Retrieval struct {
		KDefault         int     `koanf:"k_default"`
		ThresholdDefault float64 `koanf:"threshold_default"`
		Oversample       int     `koanf:"oversample"`
	} `koanf:"retrieval"`

	Generation struct {
		Primary   string `koanf:"primary"`
		Fallback  string `koanf:"fallback"`
		TimeoutS  int    `koanf:"timeout_s"`
	} `koanf:"generation"`

	Credits struct {
		CostPerAsk    int `koanf:"cost_per_ask"`
		InitialGrant  int `koanf:"initial_grant"`
	} `koanf:"credits"`

	RateLimit struct {
		AsksPerMinute int64 `koanf:"asks_per_minute"`
	} `koanf:"rate_limit"`

	Worker struct {
		IngestParallelism int `koanf:"ingest_parallelism"`
		SweepIntervalS    int `koanf:"sweep_interval_s"`
		StuckThresholdS   int `koanf:"stuck_threshold_s"`
	} `koanf:"worker"`

	Cache struct {
		TTL struct {
			EmbeddingS int `koanf:"embedding_s"`
			QueryS     int `koanf:"query_s"`
		} `koanf:"ttl"`
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
	} `koanf:"cache"`

	Chunking struct {
		TargetChars  int `koanf:"target_chars"`
		OverlapChars int `koanf:"overlap_chars"`
		MinChars     int `koanf:"min_chars"`
	} `koanf:"chunking"`

	MetaStore struct {
		DSN      string `koanf:"dsn"`
		MaxConns int    `koanf:"max_conns"`
	} `koanf:"metastore"`

	Blob struct {
		Bucket          string `koanf:"bucket"`
		Region          string `koanf:"region"`
		Endpoint        string `koanf:"endpoint"`
		AccessKeyID     string `koanf:"access_key_id"`
		SecretAccessKey string `koanf:"secret_access_key"`
	} `koanf:"blob"`

	Queue struct {
		URL string `koanf:"url"`
	} `koanf:"queue"`

	VectorIndex struct {
		Addr       string `koanf:"addr"`
		Collection string `koanf:"collection"`
	} `koanf:"vectorindex"`

	Auth struct {
		JWTSecret string `koanf:"jwt_secret"`
	} `koanf:"auth"`

	Otel struct {
		ExporterEndpoint string `koanf:"exporter_endpoint"`
	} `koanf:"otel"`

	Metrics struct {
		Port int `koanf:"port"`
	} `koanf:"metrics"`

	HTTP struct {
		Port       string `koanf:"port"`
		CORSOrigin string `koanf:"cors_origin"`
	} `koanf:"http"`

	OpenAIAPIKey    string `koanf:"openai_api_key"`
	AnthropicAPIKey string `koanf:"anthropic_api_key"`
}

// Load reads configuration from the process environment over a set of
// documented defaults.
func Load() (Config, error) {
	cfg := defaults()

	k := koanf.New(".")
	envKey := func(s string) string {
		s = strings.ToLower(s)
		switch {
		case s == "openai_api_key" || s == "anthropic_api_key":
			return s
		case strings.HasPrefix(s, "rate_limit_"):
			return "rate_limit." + strings.TrimPrefix(s, "rate_limit_")
		case strings.HasPrefix(s, "cache_ttl_"):
			return "cache.ttl." + strings.TrimPrefix(s, "cache_ttl_")
		}
		return strings.Replace(s, "_", ".", 1)
	}
	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("config: load environment: %w", err)
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	var cfg Config
	cfg.Retrieval.KDefault = 5
	cfg.Retrieval.ThresholdDefault = 0.70
	cfg.Retrieval.Oversample = 2
	cfg.Generation.TimeoutS = 30
	cfg.Credits.CostPerAsk = 1
	cfg.Credits.InitialGrant = 30
	cfg.RateLimit.AsksPerMinute = 30
	cfg.Worker.IngestParallelism = 1
	cfg.Worker.SweepIntervalS = 60
	cfg.Worker.StuckThresholdS = 600
	cfg.Cache.TTL.EmbeddingS = 3600
	cfg.Cache.TTL.QueryS = 1800
	cfg.Chunking.TargetChars = 1200
	cfg.Chunking.OverlapChars = 200
	cfg.Chunking.MinChars = 300
	cfg.MetaStore.MaxConns = 10
	cfg.VectorIndex.Collection = "mevzuatgpt_passages"
	cfg.Metrics.Port = 9090
	cfg.HTTP.Port = "8080"
	cfg.HTTP.CORSOrigin = "*"
	return cfg
}

// GenerationTimeout is Generation.TimeoutS as a time.Duration.
func (c Config) GenerationTimeout() time.Duration {
	return time.Duration(c.Generation.TimeoutS) * time.Second
}

// EmbeddingTTL is Cache.TTL.EmbeddingS as a time.Duration.
func (c Config) EmbeddingTTL() time.Duration {
	return time.Duration(c.Cache.TTL.EmbeddingS) * time.Second
}

// QueryTTL is Cache.TTL.QueryS as a time.Duration.
func (c Config) QueryTTL() time.Duration {
	return time.Duration(c.Cache.TTL.QueryS) * time.Second
}

// StuckThreshold is Worker.StuckThresholdS as a time.Duration.
func (c Config) StuckThreshold() time.Duration {
	return time.Duration(c.Worker.StuckThresholdS) * time.Second
}

// SweepInterval is Worker.SweepIntervalS as a time.Duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Worker.SweepIntervalS) * time.Second
}

// Validate checks the handful of settings that have no sane default and
// must come from the environment.
func (c Config) Validate() error {
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("config: EMBEDDING_DIM must be set and positive")
	}
	if c.MetaStore.DSN == "" {
		return fmt.Errorf("config: METASTORE_DSN must be set")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: AUTH_JWT_SECRET must be set")
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("config: OPENAI_API_KEY must be set")
	}
	return nil
}
