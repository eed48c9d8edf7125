package cryptox

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveSubkey expands secret into a KeySize key bound to info using
// HKDF-SHA256. Used for keys derived from bearer tokens, where the input is
// already high-entropy and a memory-hard KDF would only add latency.
func DeriveSubkey(secret []byte, info string) ([]byte, error) {
	return expand(secret, info, KeySize)
}

func expand(secret []byte, info string, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), out); err != nil {
		return nil, err
	}
	return out, nil
}
