package chat

// Role identifies the author of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single entry in the conversation transcript. Turns are
// immutable once appended; insertion order is replayed verbatim to the
// inference engine as conversational context.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
