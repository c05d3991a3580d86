package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/paywall/libs/auth"
)

const ctxKeyClaims ctxKey = iota + 100

func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims).(*auth.Claims)
	return c, ok && c != nil
}

func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, claims)
}

// RequireAuth verifies the bearer token (RS256 through jwks when a kid is present,
// HS256 with secret otherwise) and stores the claims on the request context.
func RequireAuth(secret string, jwksClient *auth.JWKSClient) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
				http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

			var claims *auth.Claims
			var err error
			header, herr := auth.ParseHeader(token)
			if herr == nil && jwksClient != nil && header.Alg == "RS256" && header.Kid != "" {
				pub, kerr := jwksClient.Get(header.Kid)
				if kerr != nil {
					http.Error(w, "invalid token key", http.StatusUnauthorized)
					return
				}
				claims, err = auth.VerifyRS256(token, pub)
			} else {
				claims, err = auth.ParseAndVerifyHS256(token, secret)
			}
			if err != nil || strings.TrimSpace(claims.Sub) == "" {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
