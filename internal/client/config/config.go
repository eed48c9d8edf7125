package config

import (
	"os"
	"time"

	"github.com/dmitrijs2005/legacyvault/internal/flagx"
)

// Config holds runtime settings for vaultctl.
//
// SecretKey is only needed by the "token" command, which mints owner tokens
// locally for development setups.
type Config struct {
	ServerURL      string
	StatePath      string
	RequestTimeout time.Duration
	SecretKey      string
}

func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.StatePath = "vaultctl.db"
	c.RequestTimeout = 10 * time.Second
}

// LoadConfig applies defaults and then the JSON file at path. An empty path
// falls back to $LEGACYVAULT_CONFIG; if that is empty too only defaults apply.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if path == "" {
		path = os.Getenv(flagx.ConfigEnvVar)
	}
	if path == "" {
		return cfg, nil
	}
	if err := parseJson(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}
