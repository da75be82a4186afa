package models

// MessageKind tags the origin tier of an assembled context message, so the
// builder's budget arithmetic stays checkable instead of flowing through
// untyped maps.
type MessageKind string

const (
	KindProfile MessageKind = "profile"
	KindSummary MessageKind = "summary"
	KindTurn    MessageKind = "turn"
)

// ContextMessage is one entry of the assembled context handed to the
// completion service. Tokens is the cached content token count (excluding
// per-message formatting overhead, which the accountant adds).
type ContextMessage struct {
	Kind    MessageKind `json:"kind"`
	Role    string      `json:"role"`
	Content string      `json:"content"`
	Tokens  int         `json:"tokens"`
	TurnID  int64       `json:"turn_id,omitempty"`
}

// TurnMessage wraps a stored turn as a context message.
func TurnMessage(t Turn) ContextMessage {
	return ContextMessage{
		Kind:    KindTurn,
		Role:    t.Role,
		Content: t.Text,
		Tokens:  t.Tokens,
		TurnID:  t.TurnID,
	}
}
