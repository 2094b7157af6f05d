package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// KeyringService is the service name used in the OS keyring.
	KeyringService = "snipclaw"

	// keyringTokenKey is the entry holding the bot token.
	keyringTokenKey = "telegram_token"

	// TokenEnvVar is the environment variable holding the bot token.
	TokenEnvVar = "TELEGRAM_BOT_TOKEN"
)

// StoreToken saves the bot token in the OS keyring.
func StoreToken(token string) error {
	return keyring.Set(KeyringService, keyringTokenKey, token)
}

// GetToken returns the bot token stored in the OS keyring, or "".
func GetToken() string {
	val, err := keyring.Get(KeyringService, keyringTokenKey)
	if err != nil {
		return ""
	}
	return val
}

// DeleteToken removes the bot token from the OS keyring.
func DeleteToken() error {
	return keyring.Delete(KeyringService, keyringTokenKey)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__snipclaw_test__"
	if err := keyring.Set(KeyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(KeyringService, testKey)
	return true
}

// ResolveToken fills cfg.Telegram.Token using the chain config value →
// TELEGRAM_BOT_TOKEN → OS keyring, and reports where it came from.
func ResolveToken(cfg *Config, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if t := cfg.Telegram.Token; t != "" && !IsEnvReference(t) {
		logger.Debug("bot token loaded from config")
		return "config", nil
	}
	if t := os.Getenv(TokenEnvVar); t != "" {
		cfg.Telegram.Token = t
		logger.Debug("bot token loaded from environment")
		return "env", nil
	}
	if t := GetToken(); t != "" {
		cfg.Telegram.Token = t
		logger.Debug("bot token loaded from OS keyring")
		return "keyring", nil
	}
	cfg.Telegram.Token = ""
	return "", fmt.Errorf("no bot token: set telegram.token, %s, or run 'snipclaw token set'", TokenEnvVar)
}

// ReadPassword prompts for a secret without echo. Piped input is read as a
// single line.
func ReadPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(secret)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}
