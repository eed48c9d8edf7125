package cryptox

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/legacyvault/internal/common"
)

// Envelope is an AEAD ciphertext with its nonce. Its text form is
// base64(ciphertext) ":" base64(nonce).
type Envelope struct {
	Ciphertext []byte
	Nonce      []byte
}

func (e Envelope) String() string {
	return base64.StdEncoding.EncodeToString(e.Ciphertext) + ":" + base64.StdEncoding.EncodeToString(e.Nonce)
}

// ParseEnvelope splits s on its final ':' and decodes both halves. Any
// malformed input is reported as common.ErrDecryption.
func ParseEnvelope(s string) (Envelope, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return Envelope{}, fmt.Errorf("%w: missing separator", common.ErrDecryption)
	}

	ct, err := base64.StdEncoding.DecodeString(s[:i])
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: bad ciphertext encoding", common.ErrDecryption)
	}
	nonce, err := base64.StdEncoding.DecodeString(s[i+1:])
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: bad nonce encoding", common.ErrDecryption)
	}

	return Envelope{Ciphertext: ct, Nonce: nonce}, nil
}
