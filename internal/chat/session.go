package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zakki0925224/aident/internal/models"
)

var (
	ErrPending             = errors.New("a response is still pending")
	ErrEmptyMessage        = errors.New("message is empty")
	ErrNotPending          = errors.New("no pending turn")
	ErrResolving           = errors.New("pending turn is already being resolved")
	ErrUnknownConversation = errors.New("unknown conversation")
)

const recordTimeout = 5 * time.Second

// ModelSession is one conversation's context on the model side.
type ModelSession interface {
	Send(ctx context.Context, text string) (string, error)
}

// ModelClient opens model sessions configured with the system instructions.
// history holds the conversation's earlier messages, oldest first, so a
// conversation restored from storage keeps its context on the model side.
type ModelClient interface {
	NewSession(ctx context.Context, history []models.Message) (ModelSession, error)
}

// Recorder persists conversations as they change. Failures never affect in-memory state.
type Recorder interface {
	SaveConversation(ctx context.Context, sessionID string, conv models.Conversation) error
	SaveMessage(ctx context.Context, conversationID string, position int, msg models.Message) error
}

type conversation struct {
	id        string
	createdAt time.Time
	messages  []models.Message
	model     ModelSession
	persisted bool
}

// turn is the submitted-but-unanswered exchange; index points at the placeholder.
type turn struct {
	conversationID string
	index          int
	resolving      bool
}

// Snapshot is a consistent copy of the session for rendering.
type Snapshot struct {
	SessionID     string                `json:"session_id"`
	ActiveID      string                `json:"active_conversation_id"`
	Pending       bool                  `json:"pending"`
	Resolving     bool                  `json:"resolving"`
	Conversations []models.Conversation `json:"conversations"`
	Messages      []models.Message      `json:"messages"`
}

// Session owns the conversations of one browser session and drives the
// Idle -> Pending -> Idle turn cycle of its active conversation.
type Session struct {
	mu sync.Mutex

	id       string
	client   ModelClient
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
	timeout  time.Duration

	active        string
	pending       *turn
	order         []string
	conversations map[string]*conversation
	lastUsed      time.Time
}

type Option func(*Session)

func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithClock replaces time.Now for timestamps and idle tracking.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithTimeout bounds each model call. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// NewSession returns an empty session. Callers create the first conversation.
func NewSession(id string, client ModelClient, opts ...Option) *Session {
	s := &Session{
		id:            id,
		client:        client,
		logger:        zap.NewNop(),
		now:           time.Now,
		newID:         uuid.NewString,
		conversations: make(map[string]*conversation),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session_id", id))
	s.lastUsed = s.now()
	return s
}

func (s *Session) ID() string { return s.id }

// CreateConversation adds an empty conversation, makes it active and clears pending.
func (s *Session) CreateConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	conv := &conversation{id: s.newID(), createdAt: now}
	s.conversations[conv.id] = conv
	s.order = append(s.order, conv.id)
	s.active = conv.id
	s.pending = nil
	s.lastUsed = now

	s.logger.Debug("conversation created", zap.String("conversation_id", conv.id))
	return conv.id
}

// SelectConversation makes id active and clears pending. Unknown ids are ignored
// and reported as false. An in-flight call for the previous turn is not cancelled.
func (s *Session) SelectConversation(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return false
	}
	s.active = id
	s.pending = nil
	s.lastUsed = s.now()
	return true
}

// Submit appends the user message and the placeholder reply to the active
// conversation and marks the turn pending.
func (s *Session) Submit(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		return ErrPending
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	conv, ok := s.conversations[s.active]
	if !ok {
		return ErrUnknownConversation
	}
	// saved with its first message so untouched chats never reach storage
	if !conv.persisted {
		s.recordConversation(conv)
		conv.persisted = true
	}

	now := s.now()
	stamp := now.Format(models.TimeLayout)
	conv.messages = append(conv.messages,
		models.Message{Role: models.RoleUser, Content: text, Time: stamp},
		models.Message{Role: models.RoleAssistant, Content: models.Placeholder, Time: stamp},
	)
	s.pending = &turn{conversationID: conv.id, index: len(conv.messages) - 1}
	s.lastUsed = now

	s.recordMessage(conv.id, len(conv.messages)-2, conv.messages[len(conv.messages)-2])
	s.recordMessage(conv.id, len(conv.messages)-1, conv.messages[len(conv.messages)-1])
	return nil
}

// Resolve sends the pending user message to the model and replaces the
// placeholder with the reply, or with "Error: <msg>" when the call fails.
// Model failures are not returned; only ErrNotPending and ErrResolving are.
func (s *Session) Resolve(ctx context.Context) error {
	s.mu.Lock()
	t := s.pending
	if t == nil {
		s.mu.Unlock()
		return ErrNotPending
	}
	if t.resolving {
		s.mu.Unlock()
		return ErrResolving
	}
	t.resolving = true
	conv := s.conversations[t.conversationID]
	prompt := conv.messages[t.index-1].Content
	model := conv.model
	var history []models.Message
	if model == nil {
		history = cloneMessages(conv.messages[:t.index-1])
	}
	s.mu.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	content, err := s.send(ctx, conv, model, history, prompt)
	if err != nil {
		s.logger.Warn("model call failed",
			zap.String("conversation_id", conv.id),
			zap.Error(err))
		content = models.ErrorPrefix + err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	reply := models.Message{Role: models.RoleAssistant, Content: content, Time: now.Format(models.TimeLayout)}
	conv.messages[t.index] = reply
	// The user may have switched away (or started a newer turn) while the call ran.
	if s.pending == t {
		s.pending = nil
	}
	s.lastUsed = now

	s.recordMessage(conv.id, t.index, reply)
	return nil
}

// send uses the conversation's model session, opening it on first use.
func (s *Session) send(ctx context.Context, conv *conversation, model ModelSession, history []models.Message, prompt string) (string, error) {
	if model == nil {
		opened, err := s.client.NewSession(ctx, history)
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		if conv.model == nil {
			conv.model = opened
		}
		model = conv.model
		s.mu.Unlock()
		s.logger.Debug("model session opened", zap.String("conversation_id", conv.id))
	}
	return model.Send(ctx, prompt)
}

func (s *Session) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Messages returns a copy of the conversation's messages.
func (s *Session) Messages(id string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrUnknownConversation
	}
	return cloneMessages(conv.messages), nil
}

// Conversations lists conversation summaries in creation order.
func (s *Session) Conversations() []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaries()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		SessionID:     s.id,
		ActiveID:      s.active,
		Pending:       s.pending != nil,
		Resolving:     s.pending != nil && s.pending.resolving,
		Conversations: s.summaries(),
		Messages:      []models.Message{},
	}
	if conv, ok := s.conversations[s.active]; ok {
		snap.Messages = cloneMessages(conv.messages)
	}
	return snap
}

// resolving reports whether a model call is in flight for the pending turn.
func (s *Session) resolving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil && s.pending.resolving
}

// LastUsed reports when the session last changed state.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// restore loads a persisted conversation without making it active.
func (s *Session) restore(c models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[c.ID]; ok {
		return
	}
	s.conversations[c.ID] = &conversation{
		id:        c.ID,
		createdAt: c.CreatedAt,
		messages:  cloneMessages(c.Messages),
		persisted: true,
	}
	s.order = append(s.order, c.ID)
}

func (s *Session) summaries() []models.Conversation {
	out := make([]models.Conversation, 0, len(s.order))
	for _, id := range s.order {
		conv := s.conversations[id]
		out = append(out, models.Conversation{
			ID:           conv.id,
			Title:        models.Title(conv.messages),
			CreatedAt:    conv.createdAt,
			MessageCount: len(conv.messages),
		})
	}
	return out
}

func (s *Session) recordConversation(conv *conversation) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	err := s.recorder.SaveConversation(ctx, s.id, models.Conversation{ID: conv.id, CreatedAt: conv.createdAt})
	if err != nil {
		s.logger.Error("failed to save conversation",
			zap.String("conversation_id", conv.id),
			zap.Error(err))
	}
}

func (s *Session) recordMessage(conversationID string, position int, msg models.Message) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := s.recorder.SaveMessage(ctx, conversationID, position, msg); err != nil {
		s.logger.Error("failed to save message",
			zap.String("conversation_id", conversationID),
			zap.Int("position", position),
			zap.Error(err))
	}
}

func cloneMessages(in []models.Message) []models.Message {
	out := make([]models.Message, len(in))
	copy(out, in)
	return out
}
