package models

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one message in a user's conversation history. Turns are values:
// once appended they are never edited in place.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func UserTurn(content string) Turn      { return Turn{Role: RoleUser, Content: content} }
func AssistantTurn(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

// Usage mirrors the token accounting returned by the generation backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
