package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/legacyvault/internal/flagx"
	"github.com/dmitrijs2005/legacyvault/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration, which accepts "1h30m" strings as well as nanoseconds.
// Fields left out of the file keep their previous value.
type JsonConfig struct {
	EndpointAddrHTTP             string         `json:"endpoint_addr_http"`
	StoreKind                    string         `json:"store"`
	DatabaseDSN                  string         `json:"database_dsn"`
	SecretKey                    string         `json:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	ContactTokenValidityDuration timex.Duration `json:"contact_token_validity_duration"`
	EscrowKey                    string         `json:"escrow_key"`
	SweepInterval                timex.Duration `json:"sweep_interval"`
	SweepWorkers                 int            `json:"sweep_workers"`
	ConfirmationTimeout          timex.Duration `json:"confirmation_timeout"`
	DefaultCheckInIntervalDays   int            `json:"default_check_in_interval_days"`
	DefaultGraceDays             int            `json:"default_grace_days"`
	SessionTTL                   timex.Duration `json:"session_ttl"`
	KDFWorkers                   int            `json:"kdf_workers"`
	NotifyWebhookURL             string         `json:"notify_webhook_url"`
}

// parseJson overlays values from the JSON file named by -c/-config or
// $LEGACYVAULT_CONFIG onto config. It panics if the file cannot be read or
// parsed.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigFile()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.StoreKind, c.StoreKind)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.EscrowKey, c.EscrowKey)
	setString(&config.NotifyWebhookURL, c.NotifyWebhookURL)

	setInt(&config.SweepWorkers, c.SweepWorkers)
	setInt(&config.DefaultCheckInIntervalDays, c.DefaultCheckInIntervalDays)
	setInt(&config.DefaultGraceDays, c.DefaultGraceDays)
	setInt(&config.KDFWorkers, c.KDFWorkers)

	if c.AccessTokenValidityDuration.Duration > 0 {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.ContactTokenValidityDuration.Duration > 0 {
		config.ContactTokenValidityDuration = c.ContactTokenValidityDuration.Duration
	}
	if c.SweepInterval.Duration > 0 {
		config.SweepInterval = c.SweepInterval.Duration
	}
	if c.ConfirmationTimeout.Duration > 0 {
		config.ConfirmationTimeout = c.ConfirmationTimeout.Duration
	}
	if c.SessionTTL.Duration > 0 {
		config.SessionTTL = c.SessionTTL.Duration
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
