// Package auth verifies bearer credentials presented to the read API. Token
// issuance lives outside this system; only the username/email claim is
// consumed here.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("invalid or missing credentials")

type Verifier struct {
	secret        []byte
	defaultDomain string
}

func NewVerifier(secret, defaultDomain string) *Verifier {
	return &Verifier{secret: []byte(secret), defaultDomain: defaultDomain}
}

// Identify extracts and verifies the request's bearer token and returns the
// canonical mailbox address for its identity claim.
func (v *Verifier) Identify(r *http.Request) (string, error) {
	tokenStr := extractBearer(r)
	if tokenStr == "" {
		return "", ErrUnauthorized
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrUnauthorized
	}
	claim := identityClaim(claims)
	if claim == "" {
		return "", ErrUnauthorized
	}
	return v.CanonicalAddress(claim), nil
}

// CanonicalAddress lower-cases the claim and appends the default domain when
// the claim is a bare username. Recipient matching uses this derived address.
func (v *Verifier) CanonicalAddress(claim string) string {
	address := strings.TrimSpace(strings.ToLower(claim))
	if address == "" {
		return ""
	}
	if !strings.Contains(address, "@") {
		address = address + "@" + v.defaultDomain
	}
	return address
}

func identityClaim(claims jwt.MapClaims) string {
	for _, key := range []string{"email", "username", "sub"} {
		if value, ok := claims[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
