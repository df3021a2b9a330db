package session

import "errors"

// Sentinel errors for session lifecycle misuse.
var (
	ErrAlreadyStarted = errors.New("session already started")
)
