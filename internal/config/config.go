// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/butterygg/metric-report/internal/policy"
)

// App captures process-wide runtime settings such as name, metrics, and logging levels.
type App struct {
	Name         string `yaml:"name"`
	MetricsAddr  string `yaml:"metrics_addr"`
	LogLevel     string `yaml:"log_level"`
	ArtifactsDir string `yaml:"artifacts_dir"`
}

// Sources describes the upstream endpoints and the shared retry policy
// the adapters use.
type Sources struct {
	BinanceBaseURL string `yaml:"binance_base_url"`
	HyperliquidURL string `yaml:"hyperliquid_url"`
	CMCBaseURL     string `yaml:"cmc_base_url"`
	LlamaBaseURL   string `yaml:"llama_base_url"`
	YieldsBaseURL  string `yaml:"yields_base_url"`
	TimeoutMs      int    `yaml:"timeout_ms"`
	Retries        int    `yaml:"retries"`
	BackoffMs      int    `yaml:"backoff_ms"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App             `yaml:"app"`
	Sources  Sources         `yaml:"sources"`
	Policies []policy.Policy `yaml:"policies"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.applyDefaults()
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Policy looks a policy record up by name.
func (c *Config) Policy(name string) (policy.Policy, error) {
	for _, p := range c.Policies {
		if p.Name == name {
			return p, nil
		}
	}
	return policy.Policy{}, fmt.Errorf("policy %q not found in config", name)
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.ArtifactsDir == "" {
		c.App.ArtifactsDir = "artifacts"
	}
	if c.Sources.BinanceBaseURL == "" {
		c.Sources.BinanceBaseURL = "https://api.binance.com"
	}
	if c.Sources.HyperliquidURL == "" {
		c.Sources.HyperliquidURL = "https://api.hyperliquid.xyz/info"
	}
	if c.Sources.CMCBaseURL == "" {
		c.Sources.CMCBaseURL = "https://api.coinmarketcap.com"
	}
	if c.Sources.LlamaBaseURL == "" {
		c.Sources.LlamaBaseURL = "https://api.llama.fi"
	}
	if c.Sources.YieldsBaseURL == "" {
		c.Sources.YieldsBaseURL = "https://yields.llama.fi"
	}
	if c.Sources.TimeoutMs <= 0 {
		c.Sources.TimeoutMs = 30_000
	}
	if c.Sources.Retries <= 0 {
		c.Sources.Retries = 3
	}
	if c.Sources.BackoffMs <= 0 {
		c.Sources.BackoffMs = 1_500
	}
}
