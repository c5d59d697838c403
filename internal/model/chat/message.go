package chat

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// State tracks an assistant message through a request.
type State string

const (
	StatePending  State = "pending"
	StateResolved State = "resolved"
	StateError    State = "error"
)

// Placeholder is the content shown while an answer is pending.
const Placeholder = "..."

// Message is one chat bubble. Only pending messages may change.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}

// Pending reports whether the message still awaits a result.
func (m Message) Pending() bool {
	return m.State == StatePending
}
