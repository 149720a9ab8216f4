package turn

// Role tags who produced a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSummary marks synthetic summary turns. They are never sent to the
	// model verbatim and never shown as conversation content.
	RoleSummary Role = "summary"
	// RoleCounselor marks messages written by a human reviewer. Storage only.
	RoleCounselor Role = "counselor"
)

// Turn is one message unit of a conversation. It doubles as the
// OpenAI-compatible chat message shape.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func System(content string) Turn    { return Turn{Role: RoleSystem, Content: content} }
func User(content string) Turn      { return Turn{Role: RoleUser, Content: content} }
func Assistant(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

// IsDialogue reports whether the turn is a user or assistant message.
func (t Turn) IsDialogue() bool {
	return t.Role == RoleUser || t.Role == RoleAssistant
}

// Dialogue returns only the user/assistant turns of history, in order.
func Dialogue(history []Turn) []Turn {
	out := make([]Turn, 0, len(history))
	for _, t := range history {
		if t.IsDialogue() {
			out = append(out, t)
		}
	}
	return out
}

// Tail returns at most n trailing turns. n <= 0 returns all of them.
func Tail(seq []Turn, n int) []Turn {
	if n <= 0 || n >= len(seq) {
		return seq
	}
	return seq[len(seq)-n:]
}
