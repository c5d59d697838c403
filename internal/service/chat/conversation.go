package chat

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/knowledge-portal/backend/internal/model/chat"
)

var (
	ErrNoPendingMessage = errors.New("no pending assistant message")
	ErrMessageNotFound  = errors.New("message not found")
)

// Conversation is the ordered message list of one workspace. Messages are
// only appended; a pending assistant message transitions exactly once to
// resolved or error.
type Conversation struct {
	mu       sync.RWMutex
	messages []chat.Message
	now      func() time.Time
}

// NewConversation returns an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{
		messages: make([]chat.Message, 0, 16),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AppendUserMessage pushes the user's text followed by a pending assistant
// placeholder and returns the placeholder's ID.
func (c *Conversation) AppendUserMessage(text string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	at := c.now()
	c.messages = append(c.messages, chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleUser,
		Content:   text,
		State:     chat.StateResolved,
		CreatedAt: at,
	})

	placeholder := chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleAssistant,
		Content:   chat.Placeholder,
		State:     chat.StatePending,
		CreatedAt: at,
	}
	c.messages = append(c.messages, placeholder)
	return placeholder.ID
}

// ResolvePlaceholder replaces the last message, which must be pending, with
// finalText.
func (c *Conversation) ResolvePlaceholder(finalText string) (chat.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.messages) == 0 || !c.messages[len(c.messages)-1].Pending() {
		return chat.Message{}, ErrNoPendingMessage
	}
	return c.transition(len(c.messages)-1, finalText, chat.StateResolved), nil
}

// Resolve completes the pending message id with text.
func (c *Conversation) Resolve(id, text string) (chat.Message, error) {
	return c.finish(id, text, chat.StateResolved)
}

// Fail completes the pending message id with an error text.
func (c *Conversation) Fail(id, text string) (chat.Message, error) {
	return c.finish(id, text, chat.StateError)
}

func (c *Conversation) finish(id, text string, state chat.State) (chat.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID != id {
			continue
		}
		if !c.messages[i].Pending() {
			return chat.Message{}, ErrNoPendingMessage
		}
		return c.transition(i, text, state), nil
	}
	return chat.Message{}, ErrMessageNotFound
}

func (c *Conversation) transition(i int, text string, state chat.State) chat.Message {
	c.messages[i].Content = text
	c.messages[i].State = state
	return c.messages[i]
}

// Reset clears all messages.
func (c *Conversation) Reset() {
	c.mu.Lock()
	c.messages = c.messages[:0:0]
	c.mu.Unlock()
}

// Messages returns a copy of the message list.
func (c *Conversation) Messages() []chat.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	copied := make([]chat.Message, len(c.messages))
	copy(copied, c.messages)
	return copied
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}
