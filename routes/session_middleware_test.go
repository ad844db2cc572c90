package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/m-barthelemy/notifyd/models"
	"github.com/m-barthelemy/notifyd/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "jwt-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, subject string, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(method, Claims{
		Role: "homeowner",
		StandardClaims: jwt.StandardClaims{
			Subject:   subject,
			ExpiresAt: expiresAt.Unix(),
		},
	})
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func identityHandler(w http.ResponseWriter, r *http.Request) {
	identity, _ := utils.Identity(r)
	w.Write([]byte(identity))
}

func TestSessionMiddleware(t *testing.T) {
	session := NewSessionHandler(&models.Config{JWTSecret: testJWTSecret})
	handler := session.SessionMiddleware(identityHandler)
	inAnHour := time.Now().Add(time.Hour)

	tests := []struct {
		name       string
		auth       string
		wantStatus int
		wantBody   string
	}{
		{"valid", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testJWTSecret), "U1", inAnHour), http.StatusOK, "U1"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, ""},
		{"malformed", "Bearer not-a-jwt", http.StatusBadRequest, ""},
		{"wrong secret", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), "U1", inAnHour), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testJWTSecret), "U1", time.Now().Add(-time.Minute)), http.StatusUnauthorized, ""},
		{"no subject", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testJWTSecret), "", inAnHour), http.StatusUnauthorized, ""},
		{"alg none", "Bearer " + signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, "U1", inAnHour), http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/preferences", nil)
			if tt.auth != "" {
				r.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			handler(w, r)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestInternalMiddleware(t *testing.T) {
	called := false
	handler := func(w http.ResponseWriter, r *http.Request) { called = true }

	tests := []struct {
		name       string
		configured string
		provided   string
		wantStatus int
	}{
		{"valid key", "internal-key", "internal-key", http.StatusOK},
		{"wrong key", "internal-key", "internal-kez", http.StatusForbidden},
		{"missing key", "internal-key", "", http.StatusForbidden},
		{"nothing configured", "", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			session := NewSessionHandler(&models.Config{InternalAPIKey: tt.configured})
			r := httptest.NewRequest(http.MethodPost, "/internal/dispatch", nil)
			if tt.provided != "" {
				r.Header.Set("Authorization", "Bearer "+tt.provided)
			}
			w := httptest.NewRecorder()
			session.InternalMiddleware(handler)(w, r)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantStatus == http.StatusOK, called)
		})
	}
}
