package ident

import "github.com/google/uuid"

// New returns a fresh opaque identifier for a conversation, message or
// response row.
func New() string {
	return uuid.NewString()
}

// IsValid reports whether s looks like an identifier produced by New.
func IsValid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
