// Package client is the HTTP client vaultctl uses to talk to the LegacyVault
// server. Requests carry an optional bearer token and vault session ID.
package client
