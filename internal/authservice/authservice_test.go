package authservice

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/chatcore/internal/authtoken"
	"github.com/chatcore/chatcore/internal/store"
)

func testServer() (*Server, *store.MemoryStore) {
	st := store.NewMemoryStore()
	tokens := authtoken.NewManager("test-secret", time.Hour)
	return &Server{Users: st, Tokens: tokens, Logger: zerolog.Nop()}, st
}

func TestRegister_ThenLogin(t *testing.T) {
	s, _ := testServer()

	regBody, _ := json.Marshal(registerRequest{Email: "a@example.com", Password: "hunter2", DisplayName: "A"})
	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader(regBody))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	loginBody, _ := json.Marshal(loginRequest{Email: "a@example.com", Password: "hunter2"})
	req = httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(loginBody))
	rec = httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)

	subject, err := s.Tokens.Verify(resp.AccessToken)
	require.NoError(t, err)
	assert.NotEmpty(t, subject)
}

func TestRegister_DuplicateEmailConflicts(t *testing.T) {
	s, _ := testServer()
	body, _ := json.Marshal(registerRequest{Email: "a@example.com", Password: "hunter2"})

	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLogin_WrongPasswordUnauthenticated(t *testing.T) {
	s, _ := testServer()
	body, _ := json.Marshal(registerRequest{Email: "a@example.com", Password: "hunter2"})
	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	loginBody, _ := json.Marshal(loginRequest{Email: "a@example.com", Password: "wrong"})
	req = httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(loginBody))
	rec = httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin_UnknownEmailUnauthenticated(t *testing.T) {
	s, _ := testServer()
	loginBody, _ := json.Marshal(loginRequest{Email: "nobody@example.com", Password: "x"})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(loginBody))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
