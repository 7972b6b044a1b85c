package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_API_URL and E2E_WS_URL point at a running chat backend; the
	// scenarios are skipped when they are unset.
	APIURL       string `envconfig:"E2E_API_URL"`
	WebsocketURL string `envconfig:"E2E_WS_URL"`
	// Two accounts that may exchange direct messages.
	AliceEmail    string `envconfig:"E2E_ALICE_EMAIL"`
	AlicePassword string `envconfig:"E2E_ALICE_PASSWORD"`
	BobEmail      string `envconfig:"E2E_BOB_EMAIL"`
	BobPassword   string `envconfig:"E2E_BOB_PASSWORD"`
	Room          string `envconfig:"E2E_ROOM" default:"general"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}

func (c Config) Enabled() bool {
	return c.APIURL != "" && c.WebsocketURL != "" && c.AliceEmail != "" && c.BobEmail != ""
}
