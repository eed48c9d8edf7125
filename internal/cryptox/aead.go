package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"errors"

	"github.com/dmitrijs2005/legacyvault/internal/common"
)

const (
	// KeySize is the size of every symmetric key in the hierarchy (AES-256).
	KeySize = 32

	// NonceSize is the AES-GCM nonce length.
	NonceSize = 12

	commitSize = 32
	tagSize    = 16
)

// Purpose domain-separates ciphertexts: a blob sealed for one purpose never
// opens under another, even with the same key.
type Purpose string

const (
	PurposeVMK    Purpose = "vmk"
	PurposeDEK    Purpose = "dek"
	PurposeShare  Purpose = "share"
	PurposeEscrow Purpose = "escrow"
)

var errKeySize = errors.New("cryptox: key must be 32 bytes")

// NewKey returns a fresh random KeySize key.
func NewKey() []byte {
	return common.GenerateRandByteArray(KeySize)
}

// Seal encrypts plaintext under key with AES-256-GCM. The ciphertext is
// prefixed with a commitment to the key so that a ciphertext opens under
// exactly one key.
func Seal(key, plaintext, aad []byte, purpose Purpose) (Envelope, error) {
	if len(key) != KeySize {
		return Envelope{}, errKeySize
	}

	encKey, commitment, err := splitKey(key, purpose)
	if err != nil {
		return Envelope{}, err
	}
	defer common.WipeByteArray(encKey)

	aesgcm, err := newGCM(encKey)
	if err != nil {
		return Envelope{}, err
	}

	nonce := common.GenerateRandByteArray(NonceSize)

	out := make([]byte, 0, commitSize+len(plaintext)+aesgcm.Overhead())
	out = append(out, commitment...)
	out = aesgcm.Seal(out, nonce, plaintext, additionalData(purpose, aad))

	return Envelope{Ciphertext: out, Nonce: nonce}, nil
}

// Open reverses Seal. Every failure, whatever its cause, is
// common.ErrDecryption and yields no plaintext.
func Open(key []byte, env Envelope, aad []byte, purpose Purpose) ([]byte, error) {
	if len(key) != KeySize || len(env.Nonce) != NonceSize || len(env.Ciphertext) < commitSize+tagSize {
		return nil, common.ErrDecryption
	}

	encKey, commitment, err := splitKey(key, purpose)
	if err != nil {
		return nil, common.ErrDecryption
	}
	defer common.WipeByteArray(encKey)

	if subtle.ConstantTimeCompare(commitment, env.Ciphertext[:commitSize]) != 1 {
		return nil, common.ErrDecryption
	}

	aesgcm, err := newGCM(encKey)
	if err != nil {
		return nil, common.ErrDecryption
	}

	plaintext, err := aesgcm.Open(nil, env.Nonce, env.Ciphertext[commitSize:], additionalData(purpose, aad))
	if err != nil {
		return nil, common.ErrDecryption
	}
	return plaintext, nil
}

// WrapVMK encrypts the vault master key under a KEK (or any other 32-byte
// wrapping key, such as the threshold recovery key).
func WrapVMK(vmk, kek []byte) (Envelope, error) {
	if len(vmk) != KeySize {
		return Envelope{}, errKeySize
	}
	return Seal(kek, vmk, nil, PurposeVMK)
}

// UnwrapVMK fails with common.ErrDecryption on a wrong key or any tampering.
func UnwrapVMK(env Envelope, kek []byte) ([]byte, error) {
	return unwrapKey(env, kek, PurposeVMK)
}

// WrapItemKey encrypts a per-item DEK under the VMK.
func WrapItemKey(dek, vmk []byte) (Envelope, error) {
	if len(dek) != KeySize {
		return Envelope{}, errKeySize
	}
	return Seal(vmk, dek, nil, PurposeDEK)
}

// UnwrapItemKey fails with common.ErrDecryption on a wrong VMK or any tampering.
func UnwrapItemKey(env Envelope, vmk []byte) ([]byte, error) {
	return unwrapKey(env, vmk, PurposeDEK)
}

// RewrapItemKeys re-encrypts every wrapped DEK from oldVMK to newVMK. Either
// all keys are rewrapped or an error is returned.
func RewrapItemKeys(wrapped []string, oldVMK, newVMK []byte) ([]string, error) {
	out := make([]string, 0, len(wrapped))
	for _, w := range wrapped {
		env, err := ParseEnvelope(w)
		if err != nil {
			return nil, err
		}
		dek, err := UnwrapItemKey(env, oldVMK)
		if err != nil {
			return nil, err
		}
		next, err := WrapItemKey(dek, newVMK)
		common.WipeByteArray(dek)
		if err != nil {
			return nil, err
		}
		out = append(out, next.String())
	}
	return out, nil
}

func unwrapKey(env Envelope, key []byte, purpose Purpose) ([]byte, error) {
	out, err := Open(key, env, nil, purpose)
	if err != nil {
		return nil, err
	}
	if len(out) != KeySize {
		common.WipeByteArray(out)
		return nil, common.ErrDecryption
	}
	return out, nil
}

func splitKey(key []byte, purpose Purpose) (encKey, commitment []byte, err error) {
	material, err := expand(key, "legacyvault/v1/"+string(purpose), KeySize+commitSize)
	if err != nil {
		return nil, nil, err
	}
	return material[:KeySize], material[KeySize:], nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func additionalData(purpose Purpose, aad []byte) []byte {
	ad := make([]byte, 0, len(purpose)+1+len(aad))
	ad = append(ad, purpose...)
	ad = append(ad, 0)
	return append(ad, aad...)
}
