package api

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/zakki0925224/aident/internal/chat"
)

//go:embed templates/*.html
var templateFS embed.FS

type conversationItem struct {
	ID     string
	Title  string
	Active bool
}

type messageItem struct {
	Role    string
	Content template.HTML
	Time    string
}

type pageData struct {
	Model         string
	Conversations []conversationItem
	Messages      []messageItem
	Pending       bool
	Resolving     bool
}

// Index renders the chat page for the caller's session. While a turn is
// pending the page posts to /resolve on load; while the call is already
// running it refreshes until the answer lands.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, err := h.session(w, r)
	if err != nil {
		h.sessionError(w, err)
		return
	}
	snap := sess.Snapshot()

	data := pageData{
		Model:     h.modelName,
		Pending:   snap.Pending,
		Resolving: snap.Resolving,
	}
	for _, c := range snap.Conversations {
		data.Conversations = append(data.Conversations, conversationItem{
			ID:     c.ID,
			Title:  c.Title,
			Active: c.ID == snap.ActiveID,
		})
	}
	for _, m := range snap.Messages {
		data.Messages = append(data.Messages, messageItem{
			Role:    string(m.Role),
			Content: h.renderMarkdown(m.Content),
			Time:    m.Time,
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := h.page.Execute(w, data); err != nil {
		h.logger.Error("failed to render page", zap.Error(err))
	}
}

func (h *Handler) NewChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.formSession(w, r)
	if !ok {
		return
	}
	sess.CreateConversation()
	redirectHome(w, r)
}

func (h *Handler) SelectChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.formSession(w, r)
	if !ok {
		return
	}
	if !sess.SelectConversation(r.PostFormValue("conversation_id")) {
		h.logger.Debug("ignoring unknown conversation", zap.String("session_id", sess.ID()))
	}
	redirectHome(w, r)
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.formSession(w, r)
	if !ok {
		return
	}
	if err := sess.Submit(r.PostFormValue("message")); err != nil {
		h.logger.Debug("message not accepted", zap.String("session_id", sess.ID()), zap.Error(err))
	}
	redirectHome(w, r)
}

func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.formSession(w, r)
	if !ok {
		return
	}
	err := sess.Resolve(detached(r))
	if err != nil && !errors.Is(err, chat.ErrNotPending) && !errors.Is(err, chat.ErrResolving) {
		h.logger.Error("failed to resolve turn", zap.String("session_id", sess.ID()), zap.Error(err))
	}
	redirectHome(w, r)
}

// formSession checks the method and returns the caller's session; it writes
// the error response itself when ok is false.
func (h *Handler) formSession(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	sess, err := h.session(w, r)
	if err != nil {
		h.sessionError(w, err)
		return nil, false
	}
	return sess, true
}

func (h *Handler) renderMarkdown(content string) template.HTML {
	var buf bytes.Buffer
	if err := h.markdown.Convert([]byte(content), &buf); err != nil {
		h.logger.Error("failed to convert markdown", zap.Error(err))
		return template.HTML(template.HTMLEscapeString(content))
	}
	// goldmark drops raw HTML and unsafe links unless configured otherwise
	return template.HTML(buf.String())
}

func redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
