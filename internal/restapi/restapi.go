// Package restapi is the REST surface over the Message Store: the Send
// API plus paged read, edit, soft-delete, media attach, and edit-history
// endpoints described in the external interfaces.
package restapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chatcore/chatcore/internal/apperr"
	"github.com/chatcore/chatcore/internal/authtoken"
	"github.com/chatcore/chatcore/internal/events"
	"github.com/chatcore/chatcore/internal/metrics"
	"github.com/chatcore/chatcore/internal/model"
	"github.com/chatcore/chatcore/internal/store"
)

// Server holds the dependencies the chat service's HTTP handlers need.
type Server struct {
	Store    store.Store
	Producer *events.Producer
	Tokens   *authtoken.Manager
	Logger   zerolog.Logger
}

// Routes builds the chi router for the chat service's REST surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"OK"`))
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/chats/{chat_id}/messages", s.sendMessage)
		r.Get("/chats/{chat_id}/messages", s.fetchRecent)
		r.Put("/messages/{message_id}", s.editMessage)
		r.Delete("/messages/{message_id}", s.deleteMessage)
		r.Post("/messages/{message_id}/media", s.attachMedia)
		r.Get("/messages/{message_id}/edits", s.fetchEdits)
	})

	return r
}

type subjectKey struct{}

// requireAuth verifies the bearer credential and stashes the subject id in
// the request context for downstream handlers.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := s.Tokens.VerifyRequest(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := contextWithSubject(r.Context(), subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the body returned for every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFor(apperr.KindOf(err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: apperr.SafeMessage(err)})
}

func httpStatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Unauthenticated:
		return http.StatusUnauthorized
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.BadRequest:
		return http.StatusBadRequest
	case apperr.Transient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type sendRequest struct {
	Content   *string           `json:"content,omitempty"`
	MediaURLs []string          `json:"media_urls,omitempty"`
	MediaMeta map[string]string `json:"media_meta,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chat_id")
	subject := subjectFrom(r.Context())

	var body sendRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, r, apperr.Wrap(apperr.BadRequest, "malformed send body", err))
			return
		}
	}

	event := model.ChatEvent{
		ChatID:    chatID,
		MessageID: uuid.NewString(),
		UserID:    subject,
		MediaURLs: body.MediaURLs,
		MediaMeta: body.MediaMeta,
		CreatedAt: nowUTC(),
	}
	if body.Content != nil {
		event.Content = *body.Content
	}

	if err := s.Producer.Publish(r.Context(), event); err != nil {
		writeError(w, r, err)
		return
	}
	metrics.MessagesSent.Inc()

	writeJSON(w, http.StatusCreated, sendResponse{
		MessageID: event.MessageID,
		CreatedAt: event.CreatedAt.Format(rfc3339),
	})
}

type fetchRecentResponse struct {
	Messages        []model.Message `json:"messages"`
	NextPagingState *string         `json:"next_paging_state,omitempty"`
}

func (s *Server) fetchRecent(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chat_id")
	limit := parseLimit(r.URL.Query().Get("limit"), 50)

	pagingState, err := store.DecodePagingState(r.URL.Query().Get("paging_state"))
	if err != nil {
		writeError(w, r, apperr.Wrap(apperr.BadRequest, "malformed paging_state", err))
		return
	}

	messages, next, err := s.Store.FetchRecentPaged(r.Context(), chatID, limit, pagingState)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := fetchRecentResponse{Messages: messages}
	if next != nil {
		encoded := store.EncodePagingState(next)
		resp.NextPagingState = &encoded
	}
	writeJSON(w, http.StatusOK, resp)
}

type editRequest struct {
	NewContent string `json:"new_content"`
}

func (s *Server) editMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "message_id")
	subject := subjectFrom(r.Context())

	var body editRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, apperr.Wrap(apperr.BadRequest, "malformed edit body", err))
		return
	}

	if err := s.Store.EditWithHistory(r.Context(), messageID, body.NewContent, subject); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "message_id")
	subject := subjectFrom(r.Context())

	if err := s.Store.SoftDelete(r.Context(), messageID, subject, false); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type attachMediaRequest struct {
	MediaURLs []string          `json:"media_urls"`
	MediaMeta map[string]string `json:"media_meta,omitempty"`
}

func (s *Server) attachMedia(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "message_id")

	var body attachMediaRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, apperr.Wrap(apperr.BadRequest, "malformed media body", err))
		return
	}

	if err := s.Store.AttachMedia(r.Context(), messageID, body.MediaURLs, body.MediaMeta); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) fetchEdits(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "message_id")
	limit := parseLimit(r.URL.Query().Get("limit"), 50)

	edits, err := s.Store.FetchEdits(r.Context(), messageID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, edits)
}
