package llm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/zakki0925224/aident/internal/chat"
	"github.com/zakki0925224/aident/internal/models"
)

const (
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"
)

var errEmptyResponse = errors.New("model returned no content")

type Config struct {
	Provider           string
	APIKey             string
	Model              string
	BaseURL            string
	SystemInstructions string
}

// Service opens chat sessions against the configured model.
type Service struct {
	llm    llms.Model
	system string
}

func New(ctx context.Context, cfg Config) (*Service, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case ProviderGoogleAI, "":
		model, err = googleai.New(ctx,
			googleai.WithAPIKey(cfg.APIKey),
			googleai.WithDefaultModel(cfg.Model),
		)
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s client: %w", cfg.Provider, err)
	}
	return NewWithModel(model, cfg.SystemInstructions), nil
}

// NewWithModel wraps an existing langchaingo model.
func NewWithModel(model llms.Model, systemInstructions string) *Service {
	return &Service{llm: model, system: systemInstructions}
}

// NewSession starts a conversation context seeded with the system instructions
// and the answered exchanges of history.
func (s *Service) NewSession(ctx context.Context, history []models.Message) (chat.ModelSession, error) {
	cs := &chatSession{llm: s.llm}
	if s.system != "" {
		cs.history = append(cs.history, llms.TextParts(llms.ChatMessageTypeSystem, s.system))
	}
	cs.history = append(cs.history, replay(history)...)
	return cs, nil
}

// replay converts stored messages into model history. Only a user message
// followed by a real reply is kept; placeholders and failed turns never
// reached the model's context, so they are left out here too.
func replay(history []models.Message) []llms.MessageContent {
	var out []llms.MessageContent
	for i := 0; i+1 < len(history); i++ {
		q, a := history[i], history[i+1]
		if q.Role != models.RoleUser || a.Role != models.RoleAssistant {
			continue
		}
		i++
		if a.IsPlaceholder() || a.IsFailure() {
			continue
		}
		out = append(out,
			llms.TextParts(llms.ChatMessageTypeHuman, q.Content),
			llms.TextParts(llms.ChatMessageTypeAI, a.Content),
		)
	}
	return out
}

// Ask sends a single prompt with no conversation context.
func (s *Service) Ask(ctx context.Context, prompt string) (string, error) {
	completion, err := llms.GenerateFromSinglePrompt(ctx, s.llm, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate completion: %w", err)
	}
	return completion, nil
}

// chatSession keeps one conversation's history and replays it on every call.
type chatSession struct {
	mu      sync.Mutex
	llm     llms.Model
	history []llms.MessageContent
}

// Send returns the model's reply. On failure the history is left untouched
// and the provider error is returned as-is so it can be shown to the user.
func (c *chatSession) Send(ctx context.Context, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	messages := append(slices.Clone(c.history), llms.TextParts(llms.ChatMessageTypeHuman, text))
	resp, err := c.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyResponse
	}

	reply := resp.Choices[0].Content
	c.history = append(messages, llms.TextParts(llms.ChatMessageTypeAI, reply))
	return reply, nil
}
