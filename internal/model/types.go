package model

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the roles the store accepts.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Conversation is a chat thread owned by the desktop application.
// Timestamps are unix seconds.
type Conversation struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	CreatedAt    int64   `json:"created_at"`
	UpdatedAt    int64   `json:"updated_at"`
	Model        string  `json:"model"`
	Provider     string  `json:"provider"`
	SystemPrompt *string `json:"system_prompt"`
}

// Message is one entry in a conversation.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           Role   `json:"role"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
	TokensUsed     *int64 `json:"tokens_used"`
}

// NewConversation holds the caller-supplied fields of a conversation.
type NewConversation struct {
	Title        string
	Model        string
	Provider     string
	SystemPrompt *string
}

// NewMessage holds the caller-supplied fields of a message.
type NewMessage struct {
	ConversationID string
	Role           Role
	Content        string
	TokensUsed     *int64
}
