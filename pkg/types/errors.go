package types

import "errors"

var (
	ErrEmptyPayload    = errors.New("broadcast payload cannot be empty")
	ErrInvalidPayload  = errors.New("broadcast payload must be valid JSON")
	ErrPayloadTooLarge = errors.New("broadcast payload exceeds 64KB limit")
)
