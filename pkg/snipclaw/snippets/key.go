package snippets

import (
	"errors"
	"regexp"
	"strings"
)

// TriggerPrefix is the key namespace of trigger-word snippets.
const TriggerPrefix = "spicy-"

// ErrInvalidKey is returned for keys that are empty or contain characters
// outside letters, digits, '_' and '-'.
var ErrInvalidKey = errors.New("invalid snippet key")

var keyRe = regexp.MustCompile(`^[\p{L}\p{N}_-]+$`)

// NormalizeKey lower-cases a key and strips a leading '#'.
func NormalizeKey(raw string) (string, error) {
	key := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "#"))
	if key == "" || !keyRe.MatchString(key) {
		return "", ErrInvalidKey
	}
	return key, nil
}

// TriggerKey returns the key under which a trigger word is stored.
func TriggerKey(word string) string {
	return TriggerPrefix + word
}

// TriggerWord returns the word of a trigger key, or false when key is not
// in the trigger namespace.
func TriggerWord(key string) (string, bool) {
	if !strings.HasPrefix(key, TriggerPrefix) {
		return "", false
	}
	word := strings.TrimPrefix(key, TriggerPrefix)
	if word == "" {
		return "", false
	}
	return word, true
}
