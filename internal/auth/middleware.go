package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Roles, highest privilege first
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

var rolePriority = []string{RoleAdmin, RoleOperator, RoleViewer}

type Claims struct {
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	Role   string   `json:"role"`
	Groups []string `json:"groups"`
	jwt.RegisteredClaims
}

type contextKey string

const UserContextKey contextKey = "user"

// Config selects how bearer tokens are verified
type Config struct {
	JWKSURL  string
	SkipAuth bool
}

// Authenticator validates JWT bearer tokens against a JWKS
type Authenticator struct {
	keyfunc jwt.Keyfunc
	skip    bool
	logger  zerolog.Logger
}

// New creates an Authenticator. The JWKS is fetched and refreshed in the
// background until ctx is cancelled.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Authenticator, error) {
	logger = logger.With().Str("component", "auth").Logger()

	if cfg.SkipAuth {
		logger.Warn().Msg("SKIP_AUTH enabled - bypassing authentication")
		return &Authenticator{skip: true, logger: logger}, nil
	}
	if cfg.JWKSURL == "" {
		return nil, errors.New("JWKS_URL not configured for JWT verification")
	}

	logger.Info().Str("jwks_url", cfg.JWKSURL).Msg("fetching JWKS")
	k, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create keyfunc: %w", err)
	}
	return &Authenticator{keyfunc: k.Keyfunc, logger: logger}, nil
}

// NewWithKeyfunc creates an Authenticator around an existing key lookup
func NewWithKeyfunc(kf jwt.Keyfunc, logger zerolog.Logger) *Authenticator {
	return &Authenticator{keyfunc: kf, logger: logger.With().Str("component", "auth").Logger()}
}

// Middleware validates the bearer token and stores the claims in the context
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skip {
			ctx := context.WithValue(r.Context(), UserContextKey, &Claims{
				Email:  "dev@expose.local",
				Name:   "Dev User",
				Role:   RoleAdmin,
				Groups: []string{"developers"},
			})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		tokenString := extractToken(r)
		if tokenString == "" {
			a.logger.Debug().Str("path", r.URL.Path).Msg("missing authorization token")
			http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
			return
		}

		claims, err := a.validateToken(tokenString)
		if err != nil {
			a.logger.Warn().Err(err).Msg("token validation failed")
			http.Error(w, fmt.Sprintf("Unauthorized: %v", err), http.StatusUnauthorized)
			return
		}

		a.logger.Debug().Str("email", claims.Email).Str("role", claims.Role).Msg("user authenticated")

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects users below role. Must run after Middleware.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetUserFromContext(r.Context())
			if !ok || !Allows(claims.Role, role) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Allows reports whether have is at least as privileged as want
func Allows(have, want string) bool {
	rank := func(role string) int {
		for i, r := range rolePriority {
			if r == role {
				return i
			}
		}
		return len(rolePriority)
	}
	return rank(have) <= rank(want)
}

// extractToken gets the token from Authorization header or query parameter
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString != authHeader {
			return tokenString
		}
	}

	// Query parameter for WebSocket connections
	return r.URL.Query().Get("token")
}

func (a *Authenticator) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, a.keyfunc,
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	claims := &Claims{
		Role:   extractRole(mapClaims),
		Groups: stringList(mapClaims["groups"]),
	}
	if email, ok := mapClaims["email"].(string); ok {
		claims.Email = email
	}
	if name, ok := mapClaims["name"].(string); ok {
		claims.Name = name
	} else if preferredUsername, ok := mapClaims["preferred_username"].(string); ok {
		claims.Name = preferredUsername
	}
	if sub, err := mapClaims.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil {
		claims.ExpiresAt = exp
	}
	return claims, nil
}

// extractRole reads realm_access.roles (Keycloak) or a flat "role" claim
func extractRole(mapClaims jwt.MapClaims) string {
	var roles []string
	if realmAccess, ok := mapClaims["realm_access"].(map[string]interface{}); ok {
		roles = stringList(realmAccess["roles"])
	}
	if role, ok := mapClaims["role"].(string); ok {
		roles = append(roles, role)
	}

	for _, priority := range rolePriority {
		for _, role := range roles {
			if role == priority {
				return role
			}
		}
	}
	return RoleViewer
}

func stringList(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// GetUserFromContext retrieves user claims from request context
func GetUserFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	return claims, ok
}
