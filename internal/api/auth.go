package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/estuary/agent/internal/authz"
)

type ctxKey int

const claimKey ctxKey = 0

// withAuth parses a bearer JWT off the request, verifies it against
// h.TokenSecret (an HS256 control-plane signing key, mirroring
// cfgTokens.verifyToken's kid-keyed ECDSA verification generalized to a
// single shared secret), and stores the resulting authz.Claim plus its
// role on the request context for downstream handlers.
func (h *Handler) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var header = r.Header.Get("Authorization")
		var tokenStr, ok = strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return h.TokenSecret, nil
		})
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		sub, _ := claims["sub"].(string)
		role, _ := claims["role"].(string)
		var ctx = context.WithValue(r.Context(), claimKey, requestClaim{
			Claim: authz.Claim{Subject: sub},
			Role:  role,
		})
		next(w, r.WithContext(ctx))
	}
}

// requestClaim is everything a handler needs from a verified bearer
// token: the authz.Claim used for Policy checks, plus the coarse admin
// role used to gate the admin-only endpoints of §6.
type requestClaim struct {
	Claim authz.Claim
	Role  string
}

func claimFrom(r *http.Request) requestClaim {
	c, _ := r.Context().Value(claimKey).(requestClaim)
	return c
}

// requireAdmin gates an admin-only endpoint (POST /data_planes, POST
// /update_l2_reporting), §6.
func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if claimFrom(r).Role != "admin" {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next(w, r)
	}
}
