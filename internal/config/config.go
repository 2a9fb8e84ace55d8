// Package config loads membank settings from file, environment, and
// defaults, plus the small mutable state file that remembers the active
// project between invocations.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Backend names for the vector index.
const (
	IndexChromem = "chromem"
	IndexQdrant  = "qdrant"
)

// Embedding provider names.
const (
	ProviderOllama = "ollama"
	ProviderMock   = "mock"
)

// Config is the full runtime configuration. Settings come, in
// precedence order, from flags, MEMBANK_* environment variables,
// ~/.membank/config.yaml, then defaults.
type Config struct {
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`

	Index struct {
		Backend   string `mapstructure:"backend"`
		QdrantURL string `mapstructure:"qdrant_url"`
	} `mapstructure:"index"`

	Embedding struct {
		Provider  string `mapstructure:"provider"`
		OllamaURL string `mapstructure:"ollama_url"`
		Model     string `mapstructure:"model"`
		Dimension int    `mapstructure:"dimension"`
	} `mapstructure:"embedding"`

	Sync struct {
		RemoteDir string `mapstructure:"remote_dir"`
		Key       string `mapstructure:"key"`
	} `mapstructure:"sync"`

	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`
}

// DBPath is the SQLite file inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "membank.db")
}

// ChromemPath is the embedded index directory inside the data directory.
func (c *Config) ChromemPath() string {
	return filepath.Join(c.DataDir, "index")
}

// StatePath is the mutable state file inside the data directory.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "state.yaml")
}

// Load reads configuration. cfgFile overrides the default search path
// when non-empty. A missing config file is fine; defaults apply.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	dataDir := filepath.Join(home, ".membank")

	v.SetDefault("data_dir", dataDir)
	v.SetDefault("log_level", "info")
	v.SetDefault("index.backend", IndexChromem)
	v.SetDefault("index.qdrant_url", "http://localhost:6333")
	v.SetDefault("embedding.provider", ProviderOllama)
	v.SetDefault("embedding.ollama_url", "http://localhost:11434")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.dimension", 768)
	v.SetDefault("sync.remote_dir", "")
	v.SetDefault("sync.key", "")
	v.SetDefault("http.addr", "127.0.0.1:7177")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(dataDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("MEMBANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file; defaults and environment apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &cfg, nil
}
