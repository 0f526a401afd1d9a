// Package authservice is the auth collaborator's minimal HTTP surface:
// register, login, and health, backed by a bcrypt password hash and the
// same HS256 token scheme the chat core's Auth Verifier validates.
package authservice

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/chatcore/chatcore/internal/apperr"
	"github.com/chatcore/chatcore/internal/authtoken"
	"github.com/chatcore/chatcore/internal/store"
)

type Server struct {
	Users      store.UserStore
	Tokens     *authtoken.Manager
	BcryptCost int
	Logger     zerolog.Logger
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"OK"`))
	})
	r.Post("/auth/register", s.register)
	r.Post("/auth/login", s.login)

	return r
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type registerResponse struct {
	UserID string `json:"user_id"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.Wrap(apperr.BadRequest, "malformed register body", err))
		return
	}
	if body.Email == "" || body.Password == "" {
		writeError(w, apperr.BadRequestf("email and password are required"))
		return
	}

	cost := s.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), cost)
	if err != nil {
		writeError(w, apperr.Internalf(err, "hash password"))
		return
	}

	user := store.UserRecord{
		ID:           uuid.NewString(),
		Email:        body.Email,
		DisplayName:  body.DisplayName,
		PasswordHash: string(hash),
	}
	if err := s.Users.CreateUser(r.Context(), user); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{UserID: user.ID})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.Wrap(apperr.BadRequest, "malformed login body", err))
		return
	}

	user, err := s.Users.GetUserByEmail(r.Context(), body.Email)
	if err != nil {
		writeError(w, apperr.Unauthenticatedf("invalid credentials"))
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(body.Password)) != nil {
		writeError(w, apperr.Unauthenticatedf("invalid credentials"))
		return
	}

	token, err := s.Tokens.Issue(user.ID)
	if err != nil {
		writeError(w, apperr.Internalf(err, "issue token"))
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{AccessToken: token})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.Unauthenticated:
		status = http.StatusUnauthorized
	case apperr.Conflict:
		status = http.StatusConflict
	case apperr.BadRequest:
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: apperr.SafeMessage(err)})
}
