package llm

import "errors"

// Role is the speaker of a conversation turn.
type Role string

const (
	RoleSubject   Role = "subject"
	RoleAssistant Role = "assistant"
)

// Turn is one validated message of a conversation. Content is never empty
// for turns produced by this package's consumers.
type Turn struct {
	Role    Role
	Content string
}

var (
	// ErrSchemaValidation marks a structured completion that could not be
	// decoded into the requested type or failed its field constraints.
	ErrSchemaValidation = errors.New("llm: response failed schema validation")

	// ErrTransport marks a network or backend failure. Never retried here,
	// the caller decides.
	ErrTransport = errors.New("llm: transport failure")
)
