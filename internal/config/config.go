package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	LLM      LLMConfig      `toml:"llm"`
	Quality  QualityConfig  `toml:"quality"`
	Workers  WorkersConfig  `toml:"workers"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type AuthConfig struct {
	JWTSecret      string `toml:"jwt_secret"`
	TokenExpiryMin int    `toml:"token_expiry_min"`
}

type LLMConfig struct {
	AnthropicAPIKey string `toml:"anthropic_api_key"`
	OpenAIAPIKey    string `toml:"openai_api_key"`
	RewriterModel   string `toml:"rewriter_model"`
}

// QualityConfig carries the content-quality knobs. Unknown keys anywhere
// in the file are rejected at startup.
type QualityConfig struct {
	MinReviewDurationSeconds     int      `toml:"min_review_duration_seconds"`
	FastApprovalThresholdSeconds int      `toml:"fast_approval_threshold_seconds"`
	MaxRewriteCycles             int      `toml:"max_rewrite_cycles"`
	MaxReviewCyclesPerBlog       int      `toml:"max_review_cycles_per_blog"`
	RewriterTimeoutSeconds       int      `toml:"rewriter_timeout_seconds"`
	EnabledDetectors             []string `toml:"enabled_detectors"`
}

type WorkersConfig struct {
	PoolSize int `toml:"pool_size"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			Path: "data/redline.db",
		},
		Auth: AuthConfig{
			JWTSecret:      "change-me-in-production",
			TokenExpiryMin: 1440, // 24h
		},
		Quality: QualityConfig{
			MinReviewDurationSeconds:     300,
			FastApprovalThresholdSeconds: 30,
			MaxRewriteCycles:             10,
			MaxReviewCyclesPerBlog:       5,
			RewriterTimeoutSeconds:       120,
			EnabledDetectors:             []string{"ai_likeness_rubric", "aeo_rubric"},
		},
		Workers: WorkersConfig{
			PoolSize: 4,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown configuration keys: %s", strings.Join(keys, ", "))
	}
	return cfg, nil
}

func (c *Config) MinReviewDuration() time.Duration {
	return time.Duration(c.Quality.MinReviewDurationSeconds) * time.Second
}

func (c *Config) FastApprovalThreshold() time.Duration {
	return time.Duration(c.Quality.FastApprovalThresholdSeconds) * time.Second
}

func (c *Config) RewriterTimeout() time.Duration {
	return time.Duration(c.Quality.RewriterTimeoutSeconds) * time.Second
}
