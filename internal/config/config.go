// Package config loads runtime settings from a YAML file and the
// environment via viper. Every field has a working default so the tool runs
// with no configuration file at all.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every tunable of the evolution loop.
type Config struct {
	DataDir         string  `mapstructure:"data_dir"`
	InputDir        string  `mapstructure:"input_dir"`
	BaseURL         string  `mapstructure:"base_url"`
	PromptType      string  `mapstructure:"prompt_type"`
	Epsilon         float64 `mapstructure:"epsilon"`
	TopK            int     `mapstructure:"top_k"`
	Rounds          int     `mapstructure:"rounds"`
	Concurrency     int     `mapstructure:"concurrency"`
	FillMaxTokens   int     `mapstructure:"fill_max_tokens"`
	AnswerMaxTokens int     `mapstructure:"answer_max_tokens"`
	SynthMaxTokens  int     `mapstructure:"synth_max_tokens"`
}

// SetDefaults registers the default value for every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("input_dir", "input")
	v.SetDefault("base_url", "https://api.together.xyz/v1")
	v.SetDefault("prompt_type", "transcript")
	v.SetDefault("epsilon", 1e-10)
	v.SetDefault("top_k", 5)
	v.SetDefault("rounds", 1)
	v.SetDefault("concurrency", 4)
	v.SetDefault("fill_max_tokens", 1500)
	v.SetDefault("answer_max_tokens", 150)
	v.SetDefault("synth_max_tokens", 5000)
}

// Load reads configuration from path when given, otherwise from an optional
// latentloop.yaml in the working directory. Environment variables prefixed
// LATENTLOOP_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("LATENTLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("latentloop")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the loop cannot run with.
func (c *Config) Validate() error {
	if c.Epsilon <= 0 {
		return fmt.Errorf("config: epsilon must be positive, got %g", c.Epsilon)
	}
	if c.TopK < 1 {
		return fmt.Errorf("config: top_k must be at least 1, got %d", c.TopK)
	}
	if c.Rounds < 1 {
		return fmt.Errorf("config: rounds must be at least 1, got %d", c.Rounds)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be at least 1, got %d", c.Concurrency)
	}
	return nil
}
