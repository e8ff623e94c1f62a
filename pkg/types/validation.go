package types

import (
	"bytes"
	"encoding/json"
)

// MaxBroadcastPayload bounds a single broadcast message.
const MaxBroadcastPayload = 64 * 1024

// IsKnownRequestType reports whether t selects one of the request handlers.
func IsKnownRequestType(t string) bool {
	switch t {
	case RequestTypeAnalyze, RequestTypeChat, RequestTypePing:
		return true
	default:
		return false
	}
}

// EffectiveSecurityLevel returns the requested security level, or
// DefaultSecurityLevel when none was sent.
func (r *Request) EffectiveSecurityLevel() string {
	if r.SecurityLevel == "" {
		return DefaultSecurityLevel
	}
	return r.SecurityLevel
}

// ValidateBroadcastPayload checks that payload can be pushed to clients as-is.
func ValidateBroadcastPayload(payload []byte) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return ErrEmptyPayload
	}
	if len(payload) > MaxBroadcastPayload {
		return ErrPayloadTooLarge
	}
	if !json.Valid(payload) {
		return ErrInvalidPayload
	}
	return nil
}
