// Package config loads runtime configuration for vaultctl.
//
// Sources and precedence:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file named by --config or $LEGACYVAULT_CONFIG.
//  3. Command-line flags, applied by the cli package.
//
// JSON example:
//
//	{
//	  "server_url": "https://vault.example.com",
//	  "state_path": "/home/me/.vaultctl.db",
//	  "request_timeout": "10s",
//	  "secret_key": "dev-only-signing-key"
//	}
package config
