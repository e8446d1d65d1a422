package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig
	Review   ReviewConfig
	UI       UIConfig
	Log      LogConfig
}

// DatabaseConfig holds sqlite settings. An empty Migrations path means the
// migrations compiled into the binary are used.
type DatabaseConfig struct {
	Path       string
	Migrations string
}

// ReviewConfig holds QC review behaviour.
type ReviewConfig struct {
	Reviewer              string
	PageSize              int  `mapstructure:"page_size"`
	RequireCommentForGood bool `mapstructure:"require_comment_for_good"`
}

// UIConfig holds presentation settings.
type UIConfig struct {
	DateFormat string `mapstructure:"date_format"`
	Timezone   string
}

// LogConfig controls the zap logger. The TUI owns the terminal, so logs go
// to File when it is set.
type LogConfig struct {
	Level string
	File  string
}

var logLevels = []string{"debug", "info", "warn", "error"}

func defaultReviewer() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "reviewer"
}

// Load reads configuration from file and env. Env var overrides use prefix
// FLUXQC_. path overrides the config file location; when empty FLUXQC_CONFIG
// and then ~/.config/fluxqc/config.toml are tried.
func Load(path string) (Config, error) {
	v := viper.New()
	home := os.Getenv("HOME")

	v.SetDefault("database.path", filepath.Join(home, ".local", "share", "fluxqc", "fluxqc.db"))
	v.SetDefault("database.migrations", "")
	v.SetDefault("review.reviewer", defaultReviewer())
	v.SetDefault("review.page_size", 200)
	v.SetDefault("review.require_comment_for_good", false)
	v.SetDefault("ui.date_format", "2006-01-02 15:04:05")
	v.SetDefault("ui.timezone", "UTC")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", filepath.Join(home, ".local", "state", "fluxqc", "fluxqc.log"))

	v.SetConfigType("toml")

	if path == "" {
		path = os.Getenv("FLUXQC_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(filepath.Join(home, ".config", "fluxqc"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("FLUXQC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects settings the rest of the program cannot work with.
func (c Config) Validate() error {
	if c.Review.PageSize <= 0 {
		return fmt.Errorf("config: review.page_size must be positive, got %d", c.Review.PageSize)
	}
	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	for _, l := range logLevels {
		if l == level {
			return nil
		}
	}
	return fmt.Errorf("config: unknown log.level %q", c.Log.Level)
}

// Save writes the provided config to disk, creating the config directory if needed.
func Save(path string, cfg Config) error {
	if path == "" {
		path = os.Getenv("FLUXQC_CONFIG")
	}
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".config", "fluxqc", "config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("database.migrations", cfg.Database.Migrations)
	v.Set("review.reviewer", cfg.Review.Reviewer)
	v.Set("review.page_size", cfg.Review.PageSize)
	v.Set("review.require_comment_for_good", cfg.Review.RequireCommentForGood)
	v.Set("ui.date_format", cfg.UI.DateFormat)
	v.Set("ui.timezone", cfg.UI.Timezone)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.file", cfg.Log.File)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
