package message

import "errors"

// Sentinel errors for message validation
var (
	// ErrMissingChannel indicates a message without a channel identifier
	ErrMissingChannel = errors.New("message missing channel")

	// ErrMissingSender indicates a message without a sender identifier
	ErrMissingSender = errors.New("message missing sender")
)
