package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTitle(t *testing.T) {
	assert.Equal(t, "New chat", Title(nil))
	assert.Equal(t, "New chat", Title([]Message{{Role: RoleAssistant, Content: "hi"}}))
	assert.Equal(t, "second", Title([]Message{
		{Role: RoleUser, Content: "   "},
		{Role: RoleUser, Content: "second"},
	}))

	long := Title([]Message{{Role: RoleUser, Content: strings.Repeat("é", 50)}})
	assert.Equal(t, strings.Repeat("é", titleLimit)+"…", long)
}

func TestIsPlaceholder(t *testing.T) {
	assert.True(t, Message{Role: RoleAssistant, Content: Placeholder}.IsPlaceholder())
	assert.False(t, Message{Role: RoleUser, Content: Placeholder}.IsPlaceholder())
	assert.False(t, Message{Role: RoleAssistant, Content: "Hi"}.IsPlaceholder())
}

func TestIsFailure(t *testing.T) {
	assert.True(t, Message{Role: RoleAssistant, Content: ErrorPrefix + "slow"}.IsFailure())
	assert.False(t, Message{Role: RoleUser, Content: ErrorPrefix + "slow"}.IsFailure())
	assert.False(t, Message{Role: RoleAssistant, Content: Placeholder}.IsFailure())
}
