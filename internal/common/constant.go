package common

const (
	// AuthorizationHeaderName carries the bearer JWT.
	AuthorizationHeaderName = "Authorization"

	// SessionHeaderName carries the vault session id that scopes access to a
	// decrypted VMK.
	SessionHeaderName = "X-Vault-Session"
)
