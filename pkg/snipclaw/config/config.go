// Package config defines the snipclaw configuration file and loads it with
// .env support, environment expansion and keyring-backed secrets.
package config

import (
	"fmt"
	"time"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/audit"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/bot"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/channels/telegram"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/ingest"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/scheduler"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/snippets"
)

// Config is the root configuration.
type Config struct {
	Telegram  telegram.Config     `yaml:"telegram"`
	Snippets  SnippetsConfig      `yaml:"snippets"`
	Bot       bot.Config          `yaml:"bot"`
	Git       audit.GitConfig     `yaml:"git"`
	Journal   audit.JournalConfig `yaml:"journal"`
	Scheduler scheduler.Config    `yaml:"scheduler"`
	Metrics   MetricsConfig       `yaml:"metrics"`
	Logging   LoggingConfig       `yaml:"logging"`
}

// SnippetsConfig configures the store and the save pipeline.
type SnippetsConfig struct {
	Dir      string `yaml:"dir"`
	MetaFile string `yaml:"meta_file"`

	// Flavor of newly saved bodies: "html" or "markdown".
	Flavor snippets.Flavor `yaml:"flavor"`

	// MaxMediaSize is the largest total attachment size (bytes) saved
	// locally. Larger sources become forward references.
	MaxMediaSize int64 `yaml:"max_media_size"`

	DownloadConcurrency int `yaml:"download_concurrency"`
}

// Store returns the store configuration.
func (c SnippetsConfig) Store() snippets.Config {
	return snippets.Config{Dir: c.Dir, MetaFile: c.MetaFile}
}

// Ingest returns the save pipeline configuration.
func (c SnippetsConfig) Ingest() ingest.Config {
	return ingest.Config{
		Flavor:              c.Flavor,
		MaxMediaSize:        c.MaxMediaSize,
		DownloadConcurrency: c.DownloadConcurrency,
	}
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	// Address to serve /metrics on (e.g. ":9090"). Empty disables it.
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// DefaultConfig returns the configuration used for absent settings.
func DefaultConfig() *Config {
	return &Config{
		Telegram: telegram.DefaultConfig(),
		Snippets: SnippetsConfig{
			Dir:                 "./snips",
			MetaFile:            "meta.yaml",
			Flavor:              snippets.FlavorHTML,
			MaxMediaSize:        ingest.DefaultMaxMediaSize,
			DownloadConcurrency: 4,
		},
		Bot: bot.DefaultConfig(),
		Git: audit.DefaultGitConfig(),
		Scheduler: scheduler.Config{
			JobTimeout: 5 * time.Minute,
		},
		Metrics: MetricsConfig{Namespace: "snipclaw"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Validate checks settings that have no usable fallback. The bot token is
// checked separately since it may come from the keyring.
func (c *Config) Validate() error {
	switch c.Snippets.Flavor {
	case snippets.FlavorHTML, snippets.FlavorMarkdown:
	default:
		return fmt.Errorf("snippets.flavor must be %q or %q, got %q", snippets.FlavorHTML, snippets.FlavorMarkdown, c.Snippets.Flavor)
	}
	if c.Snippets.Dir == "" {
		return fmt.Errorf("snippets.dir is required")
	}
	if c.Snippets.MaxMediaSize <= 0 {
		return fmt.Errorf("snippets.max_media_size must be positive")
	}
	if c.Bot.MaxConcurrent < 0 {
		return fmt.Errorf("bot.max_concurrent must not be negative")
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	return nil
}
