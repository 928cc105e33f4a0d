// Package config loads settings from an optional YAML file, SURGERY_*
// environment variables and command-line flags, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ankit-chaubey/opus-tag-surgery/core/opus"
	"github.com/ankit-chaubey/opus-tag-surgery/core/vorbis"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// SURGERY_SAVE_STRATEGY=atomic.
const EnvPrefix = "SURGERY"

// Config is the full application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Save     SaveConfig     `mapstructure:"save" yaml:"save"`
	Comments CommentsConfig `mapstructure:"comments" yaml:"comments"`
	Artwork  ArtworkConfig  `mapstructure:"artwork" yaml:"artwork"`
	Batch    BatchConfig    `mapstructure:"batch" yaml:"batch"`
}

// LogConfig selects the log handler and an optional rotating log file.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"` // text or json
	File       string `mapstructure:"file" yaml:"file"`     // empty logs to stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// SaveConfig mirrors opus.SaveOptions.
type SaveConfig struct {
	Strategy  string `mapstructure:"strategy" yaml:"strategy"`
	Backup    bool   `mapstructure:"backup" yaml:"backup"`
	Verify    bool   `mapstructure:"verify" yaml:"verify"`
	ChunkSize int    `mapstructure:"chunk_size" yaml:"chunk_size"`
}

// CommentsConfig bounds comment decoding.
type CommentsConfig struct {
	MaxComments int `mapstructure:"max_comments" yaml:"max_comments"`
}

// ArtworkConfig sizes the picture loader.
type ArtworkConfig struct {
	Workers   int `mapstructure:"workers" yaml:"workers"`
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size"`
}

// BatchConfig controls multi-file runs.
type BatchConfig struct {
	Workers       int           `mapstructure:"workers" yaml:"workers"`
	RetryAttempts uint          `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

var defaults = map[string]any{
	"log.level":             "info",
	"log.format":            "text",
	"log.file":              "",
	"log.max_size_mb":       10,
	"log.max_backups":       3,
	"log.max_age_days":      28,
	"save.strategy":         opus.StrategyInPlace.String(),
	"save.backup":           false,
	"save.verify":           true,
	"save.chunk_size":       64 << 10,
	"comments.max_comments": vorbis.DefaultMaxComments,
	"artwork.workers":       2,
	"artwork.cache_size":    64,
	"batch.workers":         4,
	"batch.retry_attempts":  3,
	"batch.retry_delay":     200 * time.Millisecond,
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"log-level":    "log.level",
	"log-format":   "log.format",
	"log-file":     "log.file",
	"strategy":     "save.strategy",
	"backup":       "save.backup",
	"verify":       "save.verify",
	"max-comments": "comments.max_comments",
	"workers":      "batch.workers",
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := Load("", nil)
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not load: %v", err))
	}
	return cfg
}

// Load reads path (skipped when empty), applies environment overrides and
// then any flags in flags that were set explicitly.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []error
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		problems = append(problems, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	if _, err := opus.ParseStrategy(c.Save.Strategy); err != nil {
		problems = append(problems, fmt.Errorf("save.strategy: %w", err))
	}
	if c.Save.ChunkSize < 512 {
		problems = append(problems, fmt.Errorf("save.chunk_size must be at least 512, got %d", c.Save.ChunkSize))
	}
	if c.Comments.MaxComments < 1 {
		problems = append(problems, fmt.Errorf("comments.max_comments must be positive, got %d", c.Comments.MaxComments))
	}
	if c.Artwork.Workers < 1 {
		problems = append(problems, fmt.Errorf("artwork.workers must be at least 1, got %d", c.Artwork.Workers))
	}
	if c.Artwork.CacheSize < 1 {
		problems = append(problems, fmt.Errorf("artwork.cache_size must be at least 1, got %d", c.Artwork.CacheSize))
	}
	if c.Batch.Workers < 1 {
		problems = append(problems, fmt.Errorf("batch.workers must be at least 1, got %d", c.Batch.Workers))
	}
	if c.Batch.RetryAttempts < 1 {
		problems = append(problems, fmt.Errorf("batch.retry_attempts must be at least 1, got %d", c.Batch.RetryAttempts))
	}
	if err := errors.Join(problems...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// SaveOptions converts the save section for opus.File.
func (c *Config) SaveOptions() opus.SaveOptions {
	strategy, _ := opus.ParseStrategy(c.Save.Strategy)
	return opus.SaveOptions{
		Strategy:   strategy,
		Backup:     c.Save.Backup,
		SkipVerify: !c.Save.Verify,
		ChunkSize:  c.Save.ChunkSize,
	}
}

// YAML renders the effective configuration in the file format Load reads.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
