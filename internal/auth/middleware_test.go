package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const testKID = "test-key"

func newTestKeys(t *testing.T) (*rsa.PrivateKey, *Authenticator) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	jwks, _ := json.Marshal(map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": testKID,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}},
	})

	k, err := keyfunc.NewJWKSetJSON(jwks)
	if err != nil {
		t.Fatalf("failed to build keyfunc: %v", err)
	}
	return key, NewWithKeyfunc(k.Keyfunc, zerolog.Nop())
}

func sign(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetUserFromContext(r.Context())
		if !ok {
			http.Error(w, "no user", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(claims.Role + ":" + claims.Email))
	})
}

func TestMiddleware(t *testing.T) {
	key, a := newTestKeys(t)
	otherKey, _ := newTestKeys(t)
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "missing token",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "valid header token",
			header: "Bearer " + sign(t, key, jwt.MapClaims{
				"sub": "u1", "email": "ops@fleet", "exp": exp,
				"realm_access": map[string]interface{}{"roles": []string{"viewer", "operator"}},
			}),
			wantStatus: http.StatusOK,
			wantBody:   "operator:ops@fleet",
		},
		{
			name:       "valid query token",
			query:      sign(t, key, jwt.MapClaims{"email": "a@fleet", "role": "admin", "exp": exp}),
			wantStatus: http.StatusOK,
			wantBody:   "admin:a@fleet",
		},
		{
			name:       "expired",
			header:     "Bearer " + sign(t, key, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "no expiry",
			header:     "Bearer " + sign(t, key, jwt.MapClaims{"email": "x"}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong key",
			header:     "Bearer " + sign(t, otherKey, jwt.MapClaims{"exp": exp}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "not a bearer header",
			header:     "Basic Zm9vOmJhcg==",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/ban"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodPost, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()

			a.Middleware(echoUser()).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d (%s)", tt.wantStatus, rr.Code, rr.Body.String())
			}
			if tt.wantBody != "" && rr.Body.String() != tt.wantBody {
				t.Errorf("expected body %q, got %q", tt.wantBody, rr.Body.String())
			}
		})
	}
}

func TestSkipAuth(t *testing.T) {
	a, err := New(context.Background(), Config{SkipAuth: true}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	a.Middleware(echoUser()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK || rr.Body.String() != "admin:dev@expose.local" {
		t.Errorf("expected dev admin user, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestNewRequiresJWKS(t *testing.T) {
	if _, err := New(context.Background(), Config{}, zerolog.Nop()); err == nil {
		t.Error("expected error without JWKS_URL")
	}
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		role string
		want int
	}{
		{RoleAdmin, http.StatusOK},
		{RoleOperator, http.StatusOK},
		{RoleViewer, http.StatusForbidden},
		{"", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/ban", nil)
		if tt.role != "" {
			req = req.WithContext(context.WithValue(req.Context(), UserContextKey, &Claims{Role: tt.role}))
		}
		rr := httptest.NewRecorder()
		RequireRole(RoleOperator)(ok).ServeHTTP(rr, req)
		if rr.Code != tt.want {
			t.Errorf("role %q: expected %d, got %d", tt.role, tt.want, rr.Code)
		}
	}
}
