package chat

import "time"

// Role tags the author of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the roles the endpoint accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one turn of the in-memory transcript and the unit sent to the model endpoint.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// StoredMessage is a persisted message row.
type StoredMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Message strips the storage metadata.
func (m StoredMessage) Message() Message {
	return Message{Role: m.Role, Content: m.Content}
}
