// Package state keeps vaultctl's credentials between invocations: bearer
// tokens and the current vault session, in a small SQLite key/value table.
package state
