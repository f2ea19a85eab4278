package tenant

import (
	"errors"
	"net/http"

	"github.com/md-rashed-zaman/practicecore/libs/auth"
	"github.com/md-rashed-zaman/practicecore/libs/httpx"
)

// Headers a client might use to smuggle a tenant. They are dropped before
// any handler runs.
var spoofableHeaders = []string{"X-Organization-Id", "X-Org-Id", "X-Business-Id", "X-Tenant-Id"}

type Authenticator interface {
	Authenticate(r *http.Request) (Principal, error)
}

var ErrUnauthenticated = errors.New("unauthenticated")

// JWTAuthenticator verifies bearer tokens issued by the auth service.
type JWTAuthenticator struct {
	Verifier *auth.Verifier
}

func (a JWTAuthenticator) Authenticate(r *http.Request) (Principal, error) {
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	claims, err := a.Verifier.Verify(token)
	if err != nil {
		return Principal{}, err
	}
	return Principal{Subject: claims.Subject, Org: ID(claims.OrgID), Role: Role(claims.Role)}, nil
}

// Middleware rejects unauthenticated requests and stores the principal on
// the request context for handlers.
func Middleware(a Authenticator) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, h := range spoofableHeaders {
				r.Header.Del(h)
			}
			p, err := a.Authenticate(r)
			if err != nil || !p.Org.Valid() {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid credentials", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// OrgKey buckets rate limits per organization, falling back to client IP.
func OrgKey(r *http.Request) string {
	if p, ok := FromContext(r.Context()); ok {
		return "org:" + p.Org.String()
	}
	return "ip:" + httpx.ClientIP(r)
}
