package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Placeholder is the assistant content shown while a turn is waiting for the model.
const Placeholder = "Thinking..."

// ErrorPrefix starts the assistant content of a turn whose model call failed.
const ErrorPrefix = "Error: "

// TimeLayout formats message timestamps as local HH:MM.
const TimeLayout = "15:04"

const titleLimit = 40

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Time    string `json:"time"` // HH:MM, local time
}

// IsPlaceholder reports whether m is the interim assistant message of a pending turn.
func (m Message) IsPlaceholder() bool {
	return m.Role == RoleAssistant && m.Content == Placeholder
}

// IsFailure reports whether m records a failed model call rather than a reply.
func (m Message) IsFailure() bool {
	return m.Role == RoleAssistant && strings.HasPrefix(m.Content, ErrorPrefix)
}

type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
	Messages     []Message `json:"messages,omitempty"`
}

// Title derives a display label from the first user message.
func Title(messages []Message) string {
	for _, m := range messages {
		if m.Role != RoleUser {
			continue
		}
		text := strings.Join(strings.Fields(m.Content), " ")
		if text == "" {
			continue
		}
		if utf8.RuneCountInString(text) <= titleLimit {
			return text
		}
		runes := []rune(text)
		return string(runes[:titleLimit]) + "…"
	}
	return "New chat"
}
