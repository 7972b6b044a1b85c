package internal

import (
	"chat-session/runtime"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	APIURL               string        `env:"CHAT_API_URL,default=http://localhost:3000"`
	WebsocketURL         string        `env:"CHAT_WS_URL,default=ws://localhost:3000/chat"`
	LogLevel             string        `env:"LOG_LEVEL,default=INFO"`
	RequestTimeout       time.Duration `env:"REQUEST_TIMEOUT,default=15s"`
	HandshakeTimeout     time.Duration `env:"HANDSHAKE_TIMEOUT,default=10s"`
	MaxReconnectAttempts int           `env:"MAX_RECONNECT_ATTEMPTS,default=5"`
	ReconnectDelay       time.Duration `env:"RECONNECT_DELAY,default=1s"`
	MaxReconnectDelay    time.Duration `env:"MAX_RECONNECT_DELAY,default=30s"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH"`
	MetricsAddr          string        `env:"METRICS_ADDR"`
	MutedWords           string        `env:"MUTED_WORDS"`
	CharReplacement      string        `env:"CHARACTER_REPLACEMENT,default=*"`
	Colours              bool          `env:"CHAT_COLOURS,default=true"`
}

func (c Config) Reconnect() runtime.Config {
	return runtime.Config{
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		ReconnectDelay:       c.ReconnectDelay,
		MaxReconnectDelay:    c.MaxReconnectDelay,
	}
}

// Muted splits MUTED_WORDS on commas.
func (c Config) Muted() []string {
	var words []string
	for _, word := range strings.Split(c.MutedWords, ",") {
		if word = strings.TrimSpace(word); word != "" {
			words = append(words, word)
		}
	}
	return words
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
