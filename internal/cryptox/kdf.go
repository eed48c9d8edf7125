// Package cryptox implements the vault key hierarchy: a password-derived KEK
// wraps the vault master key (VMK), and the VMK wraps per-item data keys
// (DEK). Every function is pure over the byte slices it is given.
package cryptox

import (
	"errors"
	"unicode"
	"unicode/utf8"

	"github.com/dmitrijs2005/legacyvault/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	// SaltSize is the length of a freshly generated KDF salt.
	SaltSize = 16

	// MinSecretLength is the minimum number of characters in an owner secret.
	MinSecretLength = 12

	minSaltSize = 8
)

// KDFParams are the Argon2id cost parameters.
type KDFParams struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
	KeyLen    uint32
}

// DefaultKDFParams is one pass over 64 MiB with four lanes.
var DefaultKDFParams = KDFParams{Time: 1, MemoryKiB: 64 * 1024, Threads: 4, KeyLen: KeySize}

var errShortSalt = errors.New("cryptox: salt too short")

// NewSalt returns a random salt for DeriveKEK.
func NewSalt() []byte {
	return common.GenerateRandByteArray(SaltSize)
}

// DeriveKEK derives a key-encryption key from secret and salt with the
// default parameters. Same inputs always yield the same KEK.
func DeriveKEK(secret, salt []byte) ([]byte, error) {
	return DeriveKEKWithParams(secret, salt, DefaultKDFParams)
}

// DeriveKEKWithParams is DeriveKEK with explicit Argon2id costs.
func DeriveKEKWithParams(secret, salt []byte, p KDFParams) ([]byte, error) {
	if err := CheckSecretStrength(secret); err != nil {
		return nil, err
	}
	if len(salt) < minSaltSize {
		return nil, errShortSalt
	}
	return argon2.IDKey(secret, salt, p.Time, p.MemoryKiB, p.Threads, p.KeyLen), nil
}

// CheckSecretStrength applies the minimum-entropy policy: at least
// MinSecretLength characters drawn from at least two character classes
// (lower, upper, digit, other).
func CheckSecretStrength(secret []byte) error {
	if !utf8.Valid(secret) || utf8.RuneCount(secret) < MinSecretLength {
		return common.ErrWeakSecret
	}

	var lower, upper, digit, other bool
	for _, r := range string(secret) {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			other = true
		}
	}

	classes := 0
	for _, ok := range []bool{lower, upper, digit, other} {
		if ok {
			classes++
		}
	}
	if classes < 2 {
		return common.ErrWeakSecret
	}
	return nil
}
