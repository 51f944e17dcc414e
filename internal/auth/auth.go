package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the set of roles a session token can carry.
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
	RoleSystem    = "system"
)

// Actor identifies who performs an action. Background jobs use System.
type Actor struct {
	ID   int64  `json:"id"`
	Role string `json:"role"`
}

// System is the actor attached to maintenance and scheduled work.
var System = Actor{ID: 0, Role: RoleSystem}

// Claims is the session token payload. Tokens are issued by the host
// application; this service only verifies them.
type Claims struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type ctxKey int

const ctxKeyActor ctxKey = iota

// Verifier parses and validates session tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier over the given HMAC secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Parse validates a raw token string and returns its claims.
func (v *Verifier) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Sign issues a token for the given identity. Used by tests and by the
// host application's session layer.
func (v *Verifier) Sign(id int64, username, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		ID:       id,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware authenticates every request. The token comes from the
// Authorization header, or from the "token" query parameter for
// EventSource connections, which cannot set headers.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := bearerToken(r)
		if tokenStr == "" {
			tokenStr = r.URL.Query().Get("token")
		}
		if tokenStr == "" {
			http.Error(w, "missing credentials", http.StatusUnauthorized)
			return
		}

		claims, err := v.Parse(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusForbidden)
			return
		}

		actor := Actor{ID: claims.ID, Role: claims.Role}
		ctx := context.WithValue(r.Context(), ctxKeyActor, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole guards a route subtree to the given roles. Admin always passes.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles)+1)
	allowed[RoleAdmin] = true
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFrom(r.Context())
			if !ok || !allowed[actor.Role] {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ActorFrom returns the authenticated actor stored in the context.
func ActorFrom(ctx context.Context) (Actor, bool) {
	v := ctx.Value(ctxKeyActor)
	if v == nil {
		return Actor{}, false
	}
	actor, ok := v.(Actor)
	return actor, ok
}

// WithActor returns a context carrying the given actor. Used by internal
// callers (CLI commands, tests) that bypass the HTTP middleware.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ctxKeyActor, actor)
}

func bearerToken(r *http.Request) string {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
