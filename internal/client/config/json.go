package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/legacyvault/internal/timex"
)

// JsonConfig is the on-disk shape. Absent fields keep their defaults.
type JsonConfig struct {
	ServerURL      string          `json:"server_url"`
	StatePath      string          `json:"state_path"`
	RequestTimeout *timex.Duration `json:"request_timeout"`
	SecretKey      string          `json:"secret_key"`
}

func parseJson(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if jc.ServerURL != "" {
		cfg.ServerURL = jc.ServerURL
	}
	if jc.StatePath != "" {
		cfg.StatePath = jc.StatePath
	}
	if jc.RequestTimeout != nil {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	if jc.SecretKey != "" {
		cfg.SecretKey = jc.SecretKey
	}
	return nil
}
