package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenService_IssueAndValidate(t *testing.T) {
	svc := NewTokenService("s3cret", "medic", time.Hour)

	token, expires, err := svc.Issue("nurse-1", "team", 0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "nurse-1", claims.Subject)
	assert.Equal(t, "team", claims.Role)
	assert.Equal(t, "medic", claims.Issuer)
}

func TestTokenService_ValidateRejects(t *testing.T) {
	svc := NewTokenService("s3cret", "medic", time.Hour)

	expired := NewTokenService("s3cret", "medic", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, _, err := expired.Issue("nurse-1", "team", time.Hour)
	require.NoError(t, err)

	otherKey, _, err := NewTokenService("other", "medic", time.Hour).Issue("nurse-1", "team", 0)
	require.NoError(t, err)

	otherIssuer, _, err := NewTokenService("s3cret", "someone-else", time.Hour).Issue("nurse-1", "team", 0)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: "team"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      expiredToken,
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"alg none":     none,
		"garbage":      "not.a.jwt",
		"empty":        "",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Validate(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestTokenService_NoSecret(t *testing.T) {
	svc := NewTokenService("", "medic", 0)
	_, _, err := svc.Issue("x", "team", 0)
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = svc.Validate("x")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestAuthenticator_Middleware(t *testing.T) {
	tokens := NewTokenService("s3cret", "medic", time.Hour)
	valid, _, err := tokens.Issue("nurse-1", "team", 0)
	require.NoError(t, err)

	a := NewAuthenticator(tokens, "static-key", logr.Discard())
	var gotSubject string
	handler := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		gotSubject = claims.Subject
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name        string
		prepare     func(r *http.Request)
		wantStatus  int
		wantSubject string
	}{
		{"bearer jwt", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) }, http.StatusNoContent, "nurse-1"},
		{"lowercase bearer", func(r *http.Request) { r.Header.Set("Authorization", "bearer "+valid) }, http.StatusNoContent, "nurse-1"},
		{"bearer api key", func(r *http.Request) { r.Header.Set("Authorization", "Bearer static-key") }, http.StatusNoContent, "api-key"},
		{"api key header", func(r *http.Request) { r.Header.Set("X-API-Key", "static-key") }, http.StatusNoContent, "api-key"},
		{"query token", func(r *http.Request) { r.URL.RawQuery = "token=" + valid }, http.StatusNoContent, "nurse-1"},
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized, ""},
		{"basic auth", func(r *http.Request) { r.SetBasicAuth("a", "b") }, http.StatusUnauthorized, ""},
		{"wrong key", func(r *http.Request) { r.Header.Set("X-API-Key", "static-kez") }, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSubject = ""
			req := httptest.NewRequest("GET", "/api/reports", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantSubject, gotSubject)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
				assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
			}
		})
	}
}

func TestAuthenticator_DisabledPassesThrough(t *testing.T) {
	a := NewAuthenticator(NewTokenService("", "", 0), "", logr.Discard())
	assert.False(t, a.Enabled())

	called := false
	handler := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.True(t, called)
}

func TestGenerateRandomString(t *testing.T) {
	tests := []struct {
		name   string
		length int
	}{
		{"short string", 10},
		{"medium string", 32},
		{"zero length", 0},
	}

	validChars := "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := generateRandomString(tt.length)
			if err != nil {
				t.Fatalf("generateRandomString(%d) returned error: %v", tt.length, err)
			}
			if tt.length == 0 {
				if result != "" {
					t.Errorf("generateRandomString(0) = %q, want empty string", result)
				}
				return
			}
			for _, char := range result {
				if !strings.ContainsRune(validChars, char) {
					t.Errorf("generateRandomString(%d) contains invalid character: %c", tt.length, char)
				}
			}
			again, _ := generateRandomString(tt.length)
			if again == result {
				t.Errorf("generateRandomString(%d) produced identical results: %q", tt.length, result)
			}
		})
	}

	secret, err := GenerateSecret()
	require.NoError(t, err)
	assert.Len(t, secret, 43)
}
