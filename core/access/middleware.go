package access

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/roomops/roomops/core/logger"
)

// JwtMiddlewareBuilder is a helper builder for the JWT middleware
type JwtMiddlewareBuilder struct {
	// Secret is the shared HMAC signing secret for HS256 tokens
	Secret string
	// Issuer is the accepted issuer for the token. Optional.
	Issuer string
}

type roleClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// NewJwtMiddleware returns a middleware handler to validate JWT bearer
// tokens. The token's "roles" claim becomes the request's authorization.
//
// This is a final handler with regards to the bearer token: it returns
// http.StatusUnauthorized when a token is present but cannot be verified.
// Requests without a token pass through unauthorized.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth := AuthorizationFromContext(r.Context()); auth != nil {
				h.ServeHTTP(w, r)
				return
			}
			tokenString := bearerToken(r)
			if tokenString == "" {
				h.ServeHTTP(w, r)
				return
			}

			claims := roleClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims,
				func(token *jwt.Token) (interface{}, error) {
					if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, jwt.ErrSignatureInvalid
					}
					return []byte(jmb.Secret), nil
				})
			if err != nil || !token.Valid {
				logger.FromContext(r.Context()).WithError(err).Warningln("invalid bearer token")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if jmb.Issuer != "" && claims.Issuer != jmb.Issuer {
				http.Error(w, "invalid token issuer", http.StatusUnauthorized)
				return
			}

			auth := &Authorization{Roles: claims.Roles}
			r = r.WithContext(auth.ContextWithAuthorization(r.Context()))
			h.ServeHTTP(w, r)
		})
	}
}

// APIKeyMiddlewareBuilder is a helper builder for the api-key middleware
type APIKeyMiddlewareBuilder struct {
	// Key is the expected value of the Roomops-Api-Key header
	Key string
	// Roles are granted to any request carrying the key
	Roles []string
}

// NewAPIKeyMiddleware returns a middleware handler that authorizes requests
// carrying the configured Roomops-Api-Key header. Requests without the header
// pass through unauthorized; a wrong key is rejected.
func NewAPIKeyMiddleware(amb *APIKeyMiddlewareBuilder) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth := AuthorizationFromContext(r.Context()); auth != nil {
				h.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("Roomops-Api-Key")
			if key == "" {
				h.ServeHTTP(w, r)
				return
			}
			if key != amb.Key {
				http.Error(w, "invalid api key", http.StatusUnauthorized)
				return
			}
			auth := &Authorization{Roles: amb.Roles}
			r = r.WithContext(auth.ContextWithAuthorization(r.Context()))
			h.ServeHTTP(w, r)
		})
	}
}

// BackdoorMiddlewareBuilder is a helper builder for the backdoor middleware
type BackdoorMiddlewareBuilder struct {
	// Backdoors is a mapping from a bearer token to an actual authorization
	Backdoors map[string]Authorization
}

// NewBackdoorMiddleware returns a middleware handler for a backdoor.
//
// The key for the backdoors map is the bearer token passed with the request.
//
// Example: if you specify the backdoor
//
//	"please": Authorization{Roles:[]string{"admin"}}
//
// then any request with an authorization bearer token consisting of the single
// magic word "please" will be authorized with the admin role.
func NewBackdoorMiddleware(bmb *BackdoorMiddlewareBuilder) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth := AuthorizationFromContext(r.Context()); auth != nil {
				h.ServeHTTP(w, r)
				return
			}
			tokenString := bearerToken(r)
			if tokenString == "" {
				h.ServeHTTP(w, r)
				return
			}
			if tryAuth, ok := bmb.Backdoors[tokenString]; ok {
				auth := &tryAuth
				r = r.WithContext(auth.ContextWithAuthorization(r.Context()))
			}
			h.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
		return bearer[7:]
	}
	if cookie, _ := r.Cookie("Roomops-JWT"); cookie != nil {
		return cookie.Value
	}
	return ""
}
