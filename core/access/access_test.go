package access_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/roomops/roomops/core/access"
)

// newRouter returns a router with a single route that reports the roles the
// middleware put into the request context
func newRouter(middleware mux.MiddlewareFunc) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware)
	router.HandleFunc("/whoami", func(w http.ResponseWriter, r *http.Request) {
		auth := access.AuthorizationFromContext(r.Context())
		if auth == nil {
			w.Write([]byte("nobody"))
			return
		}
		for _, role := range auth.Roles {
			w.Write([]byte(role + " "))
		}
	}).Methods(http.MethodGet)
	return router
}

func get(t *testing.T, router *mux.Router, modify func(r *http.Request)) (int, string) {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if modify != nil {
		modify(r)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	return rec.Result().StatusCode, rec.Body.String()
}

func signedToken(t *testing.T, secret string, issuer string, roles []string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   issuer,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"roles": roles,
	})
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("cannot sign token: %v", err)
	}
	return tokenString
}

func TestJwtMiddleware(t *testing.T) {
	router := newRouter(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{
		Secret: "top secret",
		Issuer: "roomops",
	}))

	status, body := get(t, router, nil)
	if status != http.StatusOK || body != "nobody" {
		t.Fatalf("requests without token must pass through unauthorized, got %d %q", status, body)
	}

	token := signedToken(t, "top secret", "roomops", []string{"admin", "operator"})
	status, body = get(t, router, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if status != http.StatusOK || body != "admin operator " {
		t.Fatalf("expected roles from the token, got %d %q", status, body)
	}

	// the token also travels as cookie
	status, body = get(t, router, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "Roomops-JWT", Value: token})
	})
	if status != http.StatusOK || body != "admin operator " {
		t.Fatalf("expected roles from the cookie token, got %d %q", status, body)
	}

	forged := signedToken(t, "wrong secret", "roomops", []string{"admin"})
	status, _ = get(t, router, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+forged)
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("a forged token must be rejected, got %d", status)
	}

	foreign := signedToken(t, "top secret", "somebody else", []string{"admin"})
	status, _ = get(t, router, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+foreign)
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("a foreign issuer must be rejected, got %d", status)
	}

	// only HMAC tokens are accepted
	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"iss":   "roomops",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"roles": []string{"admin"},
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("cannot encode token: %v", err)
	}
	status, _ = get(t, router, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+unsigned)
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("a token without HMAC signature must be rejected, got %d", status)
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	router := newRouter(access.NewAPIKeyMiddleware(&access.APIKeyMiddlewareBuilder{
		Key:   "machine key",
		Roles: []string{"operator"},
	}))

	status, body := get(t, router, nil)
	if status != http.StatusOK || body != "nobody" {
		t.Fatalf("requests without key must pass through unauthorized, got %d %q", status, body)
	}

	status, body = get(t, router, func(r *http.Request) {
		r.Header.Set("Roomops-Api-Key", "machine key")
	})
	if status != http.StatusOK || body != "operator " {
		t.Fatalf("expected the configured roles, got %d %q", status, body)
	}

	status, _ = get(t, router, func(r *http.Request) {
		r.Header.Set("Roomops-Api-Key", "wrong key")
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("a wrong key must be rejected, got %d", status)
	}
}

func TestBackdoorMiddleware(t *testing.T) {
	router := newRouter(access.NewBackdoorMiddleware(&access.BackdoorMiddlewareBuilder{
		Backdoors: map[string]access.Authorization{
			"please": {Roles: []string{"admin"}},
		},
	}))

	status, body := get(t, router, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer please")
	})
	if status != http.StatusOK || body != "admin " {
		t.Fatalf("the magic word must authorize, got %d %q", status, body)
	}

	status, body = get(t, router, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer abracadabra")
	})
	if status != http.StatusOK || body != "nobody" {
		t.Fatalf("unknown tokens pass through unauthorized, got %d %q", status, body)
	}
}

func TestAuthorizationHasRoleAndProperties(t *testing.T) {
	auth := access.Authorization{
		Roles:      []string{"operator"},
		Properties: map[string]string{"region": "west"},
	}
	if !auth.HasRole("operator") || auth.HasRole("admin") {
		t.Fatal("role check failed")
	}
	if value, ok := auth.Property("region"); !ok || value != "west" {
		t.Fatal("property lookup failed")
	}
}
