// Package auth issues and verifies the HS256 bearer tokens used by owners
// and trusted contacts.
package auth

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleOwner   Role = "owner"
	RoleContact Role = "contact"
)

// Claims carries the subject (owner or contact ID) and its role. For a
// contact token OwnerID names the owner whose vault the contact guards.
type Claims struct {
	jwt.RegisteredClaims
	Role    Role   `json:"role"`
	OwnerID string `json:"owner_id,omitempty"`
}

// Principal is the verified identity behind a request.
type Principal struct {
	Subject string
	Role    Role
	OwnerID string
}

func GenerateToken(p Principal, secretKey []byte, validityDuration time.Duration) (string, error) {
	return generateToken(p, secretKey, validityDuration, time.Now())
}

func generateToken(p Principal, secretKey []byte, validityDuration time.Duration, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		Role:    p.Role,
		OwnerID: p.OwnerID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken verifies tokenString and returns its principal. Expired tokens
// fail with common.ErrTokenExpired, anything else with common.ErrInvalidToken.
func ParseToken(tokenString string, secretKey []byte) (Principal, error) {
	return parseToken(tokenString, secretKey, time.Now)
}

func parseToken(tokenString string, secretKey []byte, now func() time.Time) (Principal, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, common.ErrTokenExpired
		}
		return Principal{}, common.ErrInvalidToken
	}

	if !token.Valid || claims.Subject == "" {
		return Principal{}, common.ErrInvalidToken
	}
	switch claims.Role {
	case RoleOwner:
	case RoleContact:
		if claims.OwnerID == "" {
			return Principal{}, common.ErrInvalidToken
		}
	default:
		return Principal{}, common.ErrInvalidToken
	}

	return Principal{Subject: claims.Subject, Role: claims.Role, OwnerID: claims.OwnerID}, nil
}

// Issuer signs tokens with a fixed key and lifetime. Issue and expiry times
// come from its clock.
type Issuer struct {
	secretKey []byte
	validity  time.Duration
	clock     clock.Clock
}

func NewIssuer(secretKey []byte, validity time.Duration) *Issuer {
	return &Issuer{secretKey: secretKey, validity: validity, clock: clock.New()}
}

// WithClock returns a copy of the issuer reading time from clk.
func (i *Issuer) WithClock(clk clock.Clock) *Issuer {
	cp := *i
	cp.clock = clk
	return &cp
}

// ContactToken returns a token letting contactID act on ownerID's unlock
// requests. It is sent with the unlock notification.
func (i *Issuer) ContactToken(ownerID, contactID string, validity time.Duration) (string, error) {
	if validity <= 0 {
		validity = i.validity
	}
	return generateToken(Principal{Subject: contactID, Role: RoleContact, OwnerID: ownerID}, i.secretKey, validity, i.clock.Now())
}

func (i *Issuer) OwnerToken(ownerID string) (string, error) {
	return generateToken(Principal{Subject: ownerID, Role: RoleOwner}, i.secretKey, i.validity, i.clock.Now())
}

func (i *Issuer) Parse(tokenString string) (Principal, error) {
	return parseToken(tokenString, i.secretKey, i.clock.Now)
}
