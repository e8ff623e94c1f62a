package interfaces

import (
	"context"
	"encoding/json"

	"aiworker/pkg/types"
)

// DocumentValidator checks document content against a security level.
type DocumentValidator interface {
	ValidateDocument(ctx context.Context, content, securityLevel string) (*types.ValidationResult, error)
}

// ChatResponder produces a reply to a chat message. documentContent is nil when
// the client sent none. history is passed through untouched.
type ChatResponder interface {
	GenerateChatReply(ctx context.Context, message string, documentContent *string, history []json.RawMessage) (string, error)
}
