package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry in a conversation's append-only history. Assistant
// turns may carry citations and inline page-reference markers in Content.
type Turn struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Citations []Citation `json:"citations,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Citation is a normalized grounding source attached to an assistant turn.
type Citation struct {
	Title string `json:"title"`
	Text  string `json:"text,omitempty"`
	URI   string `json:"uri,omitempty"`
}
