/*Package access provides utilities for access control
 */
package access

import (
	"context"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyAuthorization contextKey = "_authorization_"
)

// Authorization is a context object which stores authorization information
// for users or machines.
//
// An authorization carries a list of roles and optional properties. It is
// added to a request context with
//
//	ctx = auth.ContextWithAuthorization(ctx)
//
// and retrieved with
//
//	auth := AuthorizationFromContext(ctx)
//
// Authorization objects are added to the context by different middleware
// implementations, depending on authorization tokens in the HTTP request.
// The admin API supports JWT bearer token and a Roomops-Api-Key header.
type Authorization struct {
	Roles      []string          `json:"roles"`
	Properties map[string]string `json:"properties,omitempty"`
}

// HasRole returns true if the authorization contains the requested role;
// otherwise it returns false.
func (a *Authorization) HasRole(role string) bool {
	if a == nil || a.Roles == nil {
		return false
	}
	for _, hasRole := range a.Roles {
		if role == hasRole {
			return true
		}
	}
	return false
}

// Property returns the value for the requested property; if the
// property does not exist, it returns an empty string and false.
func (a *Authorization) Property(name string) (string, bool) {
	if a == nil || a.Properties == nil {
		return "", false
	}
	value, ok := a.Properties[name]
	return value, ok
}

// ContextWithAuthorization returns a new context with this authorization added to it
func (a *Authorization) ContextWithAuthorization(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// AuthorizationFromContext retrieves an authorization from the context, or nil
func AuthorizationFromContext(ctx context.Context) *Authorization {
	auth, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if !ok {
		return nil
	}
	return auth
}
