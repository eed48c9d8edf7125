// Package cli implements vaultctl, the command-line client for LegacyVault.
//
// Owners check in, inspect and cancel unlock requests, manage contacts and
// recipients, and open vault sessions. Trusted contacts verify their
// invitation and submit shares. Credentials live in a local SQLite state
// file between invocations.
package cli
