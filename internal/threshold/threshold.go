// Package threshold wraps Shamir secret sharing over GF(2^8) for the trusted
// contact quorum. Any k-1 shares carry no information about the secret.
package threshold

import (
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/dmitrijs2005/legacyvault/internal/cryptox"
	"github.com/hashicorp/vault/shamir"
)

const (
	// Parts is the number of trusted contacts holding a share.
	Parts = 3

	// Threshold is the number of distinct shares needed to reconstruct.
	Threshold = 2
)

// Share is one point of the sharing polynomial. Index is the 1-based
// position the share was issued at; Data is the raw shamir share, whose
// last byte is the x coordinate.
type Share struct {
	Index int
	Data  []byte
}

// Split issues n shares of secret with reconstruction threshold k.
func Split(secret []byte, n, k int) ([]Share, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("threshold: empty secret")
	}
	if k < 2 || n < k {
		return nil, fmt.Errorf("threshold: invalid parameters n=%d k=%d", n, k)
	}

	parts, err := shamir.Split(secret, n, k)
	if err != nil {
		return nil, fmt.Errorf("threshold: split: %w", err)
	}

	shares := make([]Share, len(parts))
	for i, p := range parts {
		shares[i] = Share{Index: i + 1, Data: p}
	}
	return shares, nil
}

// Combine reconstructs the secret from at least k distinct shares. Shares
// repeating an index or an x coordinate count once. Fewer than k distinct
// shares fail with common.ErrInsufficientShares: the underlying
// interpolation would otherwise return a wrong secret without error.
func Combine(shares []Share, k int) ([]byte, error) {
	if k < 2 {
		return nil, fmt.Errorf("threshold: invalid threshold %d", k)
	}

	seenIndex := make(map[int]struct{}, len(shares))
	seenX := make(map[byte]struct{}, len(shares))
	parts := make([][]byte, 0, len(shares))

	for _, s := range shares {
		if len(s.Data) < 2 {
			continue
		}
		x := s.Data[len(s.Data)-1]
		if _, dup := seenIndex[s.Index]; dup {
			continue
		}
		if _, dup := seenX[x]; dup {
			continue
		}
		seenIndex[s.Index] = struct{}{}
		seenX[x] = struct{}{}
		parts = append(parts, s.Data)
	}

	if len(parts) < k {
		return nil, common.ErrInsufficientShares
	}

	secret, err := shamir.Combine(parts[:k])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInsufficientShares, err)
	}
	return secret, nil
}

// Wipe zeroes the share data in place.
func Wipe(shares []Share) {
	for i := range shares {
		common.WipeByteArray(shares[i].Data)
	}
}

// BindingAAD builds the associated data that ties a sealed share to its
// context, e.g. owner and contact ids plus the share index.
func BindingAAD(scope, subject string, index int) []byte {
	return []byte(scope + "|" + subject + "|" + strconv.Itoa(index))
}

// Seal encrypts a share under key, bound to aad, and returns the envelope
// text form.
func Seal(s Share, key, aad []byte, purpose cryptox.Purpose) (string, error) {
	env, err := cryptox.Seal(key, s.Data, aad, purpose)
	if err != nil {
		return "", err
	}
	return env.String(), nil
}

// Open decrypts a sealed share. Any failure is common.ErrDecryption.
func Open(sealed string, index int, key, aad []byte, purpose cryptox.Purpose) (Share, error) {
	env, err := cryptox.ParseEnvelope(sealed)
	if err != nil {
		return Share{}, common.ErrDecryption
	}
	data, err := cryptox.Open(key, env, aad, purpose)
	if err != nil {
		return Share{}, err
	}
	return Share{Index: index, Data: data}, nil
}
