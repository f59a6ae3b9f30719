package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeValid(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		ok     bool
		errMsg string
	}{
		{"valid", `{"username":"alice","email":"a@example.com","password":"password123"}`, true, ""},
		{"malformed", `{"username":`, false, "invalid request body"},
		{"missing username", `{"email":"a@example.com","password":"password123"}`, false, "username is required"},
		{"bad email", `{"username":"alice","email":"nope","password":"password123"}`, false, "email must be a valid email address"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()

			var dst signupRequest
			assert.Equal(t, tc.ok, decodeValid(rec, req, &dst))
			if tc.ok {
				assert.Equal(t, "alice", dst.Username)
				return
			}
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tc.errMsg, body["error"])
		})
	}
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "jo*****@example.com", maskEmail("johndoe@example.com"))
	assert.Equal(t, "***", maskEmail("jo@example.com"))
	assert.Equal(t, "***", maskEmail("not-an-email"))
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
