package domain

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape used by the history
// store, the use cases and the completion client.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
