package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/zakki0925224/aident/internal/chat"
	"github.com/zakki0925224/aident/internal/models"
)

const sessionCookie = "aident_session"

type Handler struct {
	sessions  *chat.Manager
	modelName string
	logger    *zap.Logger
	page      *template.Template
	markdown  goldmark.Markdown
}

func NewHandler(sessions *chat.Manager, modelName string, logger *zap.Logger) *Handler {
	return &Handler{
		sessions:  sessions,
		modelName: modelName,
		logger:    logger,
		page:      template.Must(template.ParseFS(templateFS, "templates/index.html")),
		markdown:  goldmark.New(),
	}
}

// Routes registers the page, form actions and JSON API.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", h.Index)
	mux.HandleFunc("/new", h.NewChat)
	mux.HandleFunc("/select", h.SelectChat)
	mux.HandleFunc("/send", h.Send)
	mux.HandleFunc("/resolve", h.Resolve)
	mux.HandleFunc("/healthz", h.Health)

	mux.HandleFunc("/api/state", h.GetState)
	mux.HandleFunc("/api/conversations", h.GetConversations)
	mux.HandleFunc("/api/conversations/active", h.SelectConversation)
	mux.HandleFunc("/api/messages", h.GetMessages)
	mux.HandleFunc("/api/message", h.HandleMessage)

	return h.logRequests(mux)
}

type MessageRequest struct {
	Content string `json:"content"`
}

type MessageResponse struct {
	ConversationID string          `json:"conversation_id"`
	Message        *models.Message `json:"message"`
}

type CreateConversationResponse struct {
	ID string `json:"id"`
}

// session resolves the caller's chat session from its cookie, issuing a new one if needed.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*chat.Session, error) {
	sid := ""
	if c, err := r.Cookie(sessionCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			sid = c.Value
		}
	}
	if sid == "" {
		sid = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sid,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return h.sessions.Get(r.Context(), sid)
}

// detached keeps a model call running when the browser goes away mid-request.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, err := h.session(w, r)
	if err != nil {
		h.sessionError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sess.Snapshot())
}

// GetConversations lists conversations (GET) or starts a new one (POST).
func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(w, r)
	if err != nil {
		h.sessionError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		conversations := sess.Conversations()
		h.logger.Debug("Retrieved conversations",
			zap.Int("count", len(conversations)),
			zap.String("session_id", sess.ID()))
		h.writeJSON(w, http.StatusOK, conversations)

	case http.MethodPost:
		id := sess.CreateConversation()
		h.writeJSON(w, http.StatusCreated, CreateConversationResponse{ID: id})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) SelectConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, err := h.session(w, r)
	if err != nil {
		h.sessionError(w, err)
		return
	}

	if !sess.SelectConversation(r.URL.Query().Get("conversation_id")) {
		http.Error(w, "Unknown conversation", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetMessages returns a conversation's messages; the active one when no id is given.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, err := h.session(w, r)
	if err != nil {
		h.sessionError(w, err)
		return
	}

	convID := r.URL.Query().Get("conversation_id")
	if convID == "" {
		convID = sess.ActiveID()
	}
	messages, err := sess.Messages(convID)
	if err != nil {
		http.Error(w, "Unknown conversation", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, messages)
}

// HandleMessage runs a whole turn on the active conversation and returns the reply.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, err := h.session(w, r)
	if err != nil {
		h.sessionError(w, err)
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	convID := sess.ActiveID()
	switch err := sess.Submit(req.Content); {
	case errors.Is(err, chat.ErrEmptyMessage):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, chat.ErrPending):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		h.logger.Error("Failed to submit message", zap.Error(err))
		http.Error(w, fmt.Sprintf("Failed to submit message: %v", err), http.StatusInternalServerError)
		return
	}

	if err := sess.Resolve(detached(r)); err != nil && !errors.Is(err, chat.ErrResolving) {
		h.logger.Error("Failed to resolve turn", zap.Error(err))
		http.Error(w, fmt.Sprintf("Failed to resolve turn: %v", err), http.StatusInternalServerError)
		return
	}

	messages, err := sess.Messages(convID)
	if err != nil || len(messages) == 0 {
		http.Error(w, "Unknown conversation", http.StatusNotFound)
		return
	}
	reply := messages[len(messages)-1]
	h.writeJSON(w, http.StatusOK, MessageResponse{ConversationID: convID, Message: &reply})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": h.sessions.Len(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *Handler) sessionError(w http.ResponseWriter, err error) {
	h.logger.Error("Failed to load session", zap.Error(err))
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status))
	})
}
