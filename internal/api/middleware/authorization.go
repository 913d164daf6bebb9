package middleware

import (
	"context"
	"net/http"
	"strings"

	internaljwt "livechat-backend/internal/jwt"
)

type requesterKey struct{}

// RequesterID returns the agent id stored by ValidateAgentJWT.
func RequesterID(ctx context.Context) string {
	id, _ := ctx.Value(requesterKey{}).(string)
	return id
}

func WithRequesterID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, requesterKey{}, userID)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return header[len(prefix):]
}

func ValidateJWTMiddleware(signer *internaljwt.Signer, role internaljwt.Role) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := signer.ParseToken(tokenString, role)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next(w, r.WithContext(WithRequesterID(r.Context(), claims.UserID)))
		}
	}
}

func ValidateAgentJWT(signer *internaljwt.Signer) Middleware {
	return ValidateJWTMiddleware(signer, internaljwt.RoleAgent)
}
