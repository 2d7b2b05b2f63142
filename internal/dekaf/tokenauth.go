package dekaf

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// TokenAuthenticator implements Authenticator by treating the PLAIN
// mechanism's password field as a control-plane-issued bearer token
// (the same HS256 tokens the publication API's claims are built from),
// and its "sub" claim as the principal. This mirrors how a Materialize
// connector authenticates against the control plane: a long-lived token
// scoped to one task, minted out of band (§4.8 "Authentication",
// generalizing crates/dekaf/src/api_client.rs's bearer-token usage).
type TokenAuthenticator struct {
	Secret []byte
}

func (a TokenAuthenticator) Authenticate(mechanism Mechanism, authBytes []byte) (string, error) {
	var parts = strings.SplitN(string(authBytes), "\x00", 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("dekaf: malformed PLAIN credentials")
	}
	var token = parts[2]

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.Secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("dekaf: invalid token: %w", err)
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("dekaf: token missing sub claim")
	}
	return sub, nil
}
