package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubValidator map[string]string

func (s stubValidator) ValidateJWT(token string) (string, error) {
	if userID, ok := s[token]; ok {
		return userID, nil
	}
	return "", errors.New("bad token")
}

func TestAuthMiddleware(t *testing.T) {
	validator := stubValidator{"good": "user-1"}

	var seen string
	handler := AuthMiddleware(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
		userID string
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic good", status: http.StatusUnauthorized},
		{name: "scheme only", header: "Bearer", status: http.StatusUnauthorized},
		{name: "extra parts", header: "Bearer good extra", status: http.StatusUnauthorized},
		{name: "lower case scheme", header: "bearer good", status: http.StatusNoContent, userID: "user-1"},
		{name: "invalid token", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer good", status: http.StatusNoContent, userID: "user-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.userID, seen)
		})
	}
}

func TestValidateWebSocketToken(t *testing.T) {
	validator := stubValidator{"good": "user-1"}

	_, err := ValidateWebSocketToken("", validator)
	assert.Error(t, err)

	userID, err := ValidateWebSocketToken("good", validator)
	assert.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestWebSocketToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	req.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-query", WebSocketToken(req))

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", WebSocketToken(req))

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.Equal(t, "", WebSocketToken(req))
}
