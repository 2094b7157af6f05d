package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/snippets"
)

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("SNIPCLAW_TEST_SET", "value")

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"braced", "a: ${SNIPCLAW_TEST_SET}", "a: value", false},
		{"bare", "a: $SNIPCLAW_TEST_SET", "a: value", false},
		{"default used", "a: ${SNIPCLAW_TEST_UNSET:-fallback}", "a: fallback", false},
		{"default ignored", "a: ${SNIPCLAW_TEST_SET:-fallback}", "a: value", false},
		{"unset kept", "a: ${SNIPCLAW_TEST_UNSET}", "a: ${SNIPCLAW_TEST_UNSET}", false},
		{"required missing", "a: ${SNIPCLAW_TEST_UNSET:?token needed}", "", true},
		{"required present", "a: ${SNIPCLAW_TEST_SET:?token needed}", "a: value", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandEnvVars(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expandEnvVars() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("expandEnvVars() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig([]byte("snippets:\n  dir: ./data\n"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Snippets.Dir != "./data" {
		t.Errorf("Snippets.Dir = %q", cfg.Snippets.Dir)
	}
	if cfg.Git.Dir != "./data" {
		t.Errorf("Git.Dir = %q, want the snippet dir", cfg.Git.Dir)
	}
	if cfg.Snippets.Flavor != snippets.FlavorHTML {
		t.Errorf("Flavor = %q, want html", cfg.Snippets.Flavor)
	}
	if cfg.Bot.HandlerTimeout != 60*time.Second {
		t.Errorf("HandlerTimeout = %v", cfg.Bot.HandlerTimeout)
	}
	if !cfg.Git.Enabled || !cfg.Git.Push {
		t.Errorf("git audit should be enabled with push by default: %+v", cfg.Git)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad flavor", func(c *Config) { c.Snippets.Flavor = "rtf" }},
		{"no dir", func(c *Config) { c.Snippets.Dir = "" }},
		{"zero max size", func(c *Config) { c.Snippets.MaxMediaSize = 0 }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SNIPCLAW_TEST_ADMIN", "")
	os.Unsetenv("SNIPCLAW_TEST_ADMIN")

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SNIPCLAW_TEST_ADMIN=42\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	yml := strings.Join([]string{
		"telegram:",
		"  admins: [${SNIPCLAW_TEST_ADMIN}]",
		"snippets:",
		"  dir: snips",
		"  flavor: markdown",
		"bot:",
		"  handler_timeout: 15s",
		"journal:",
		"  path: journal.db",
		"",
	}, "\n")
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile: %v", err)
	}
	if len(cfg.Telegram.Admins) != 1 || cfg.Telegram.Admins[0] != 42 {
		t.Errorf("Admins = %v, want [42]", cfg.Telegram.Admins)
	}
	if want := filepath.Join(dir, "snips"); cfg.Snippets.Dir != want || cfg.Git.Dir != want {
		t.Errorf("dirs = %q / %q, want %q", cfg.Snippets.Dir, cfg.Git.Dir, want)
	}
	if want := filepath.Join(dir, "journal.db"); cfg.Journal.Path != want {
		t.Errorf("Journal.Path = %q, want %q", cfg.Journal.Path, want)
	}
	if cfg.Snippets.Flavor != snippets.FlavorMarkdown {
		t.Errorf("Flavor = %q", cfg.Snippets.Flavor)
	}
	if cfg.Bot.HandlerTimeout != 15*time.Second {
		t.Errorf("HandlerTimeout = %v", cfg.Bot.HandlerTimeout)
	}
}

func TestSaveConfigToFileHidesToken(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Telegram.Token = "123:secret"
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := SaveConfigToFile(cfg, path); err != nil {
		t.Fatalf("SaveConfigToFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "secret") {
		t.Errorf("token leaked into config file:\n%s", data)
	}
	if !strings.Contains(string(data), "${"+TokenEnvVar+"}") {
		t.Errorf("token reference missing:\n%s", data)
	}
	if cfg.Telegram.Token != "123:secret" {
		t.Error("SaveConfigToFile modified the caller's config")
	}
}

func TestResolveToken(t *testing.T) {
	keyring.MockInit()

	t.Run("config wins", func(t *testing.T) {
		t.Setenv(TokenEnvVar, "env-token")
		cfg := DefaultConfig()
		cfg.Telegram.Token = "cfg-token"
		src, err := ResolveToken(cfg, nil)
		if err != nil || src != "config" || cfg.Telegram.Token != "cfg-token" {
			t.Errorf("got %q %q %v", src, cfg.Telegram.Token, err)
		}
	})

	t.Run("unexpanded reference falls through to env", func(t *testing.T) {
		t.Setenv(TokenEnvVar, "env-token")
		cfg := DefaultConfig()
		cfg.Telegram.Token = "${" + TokenEnvVar + "}"
		src, err := ResolveToken(cfg, nil)
		if err != nil || src != "env" || cfg.Telegram.Token != "env-token" {
			t.Errorf("got %q %q %v", src, cfg.Telegram.Token, err)
		}
	})

	t.Run("keyring", func(t *testing.T) {
		t.Setenv(TokenEnvVar, "")
		if err := StoreToken("ring-token"); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = DeleteToken() })
		cfg := DefaultConfig()
		src, err := ResolveToken(cfg, nil)
		if err != nil || src != "keyring" || cfg.Telegram.Token != "ring-token" {
			t.Errorf("got %q %q %v", src, cfg.Telegram.Token, err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		t.Setenv(TokenEnvVar, "")
		cfg := DefaultConfig()
		if _, err := ResolveToken(cfg, nil); err == nil {
			t.Error("expected error without any token source")
		}
	})
}
