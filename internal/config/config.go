// Package config loads the service configuration from a YAML file plus
// ADA_-prefixed environment variables, with sane defaults for a local run.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Embeddings   EmbeddingsConfig   `mapstructure:"embeddings"`
	Index        IndexConfig        `mapstructure:"index"`
	Poller       PollerConfig       `mapstructure:"poller"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LLMConfig struct {
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Timeout int    `mapstructure:"timeout_seconds"`
}

type EmbeddingsConfig struct {
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	CacheSize int    `mapstructure:"cache_size"`
	// Fake swaps in the deterministic in-process embedder; dev profile only.
	Fake bool `mapstructure:"fake"`
}

type IndexConfig struct {
	PersistPath string `mapstructure:"persist_path"`
	TopK        int    `mapstructure:"top_k"`
}

type PollerConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Interval          time.Duration `mapstructure:"interval"`
	TenantConcurrency int           `mapstructure:"tenant_concurrency"`
	TenantTimeout     time.Duration `mapstructure:"tenant_timeout"`
}

type OrchestratorConfig struct {
	MaxIterations      int           `mapstructure:"max_iterations"`
	MaxWallClock       time.Duration `mapstructure:"max_wall_clock"`
	HistoryWindow      int           `mapstructure:"history_window"`
	HistoryTokenBudget int           `mapstructure:"history_token_budget"`
	MaxResumptionTries int           `mapstructure:"max_resumption_tries"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ADA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("ada")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.ada")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("database.path", "data/ada.db")

	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.timeout_seconds", 120)

	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.base_url", "https://api.openai.com/v1")
	v.SetDefault("embeddings.cache_size", 10000)
	v.SetDefault("embeddings.fake", false)

	v.SetDefault("index.persist_path", "data/index")
	v.SetDefault("index.top_k", 5)

	v.SetDefault("poller.enabled", true)
	v.SetDefault("poller.interval", 30*time.Second)
	v.SetDefault("poller.tenant_concurrency", 4)
	v.SetDefault("poller.tenant_timeout", time.Minute)

	v.SetDefault("orchestrator.max_iterations", 10)
	v.SetDefault("orchestrator.max_wall_clock", 2*time.Minute)
	v.SetDefault("orchestrator.history_window", 20)
	v.SetDefault("orchestrator.history_token_budget", 8000)
	v.SetDefault("orchestrator.max_resumption_tries", 3)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
}
