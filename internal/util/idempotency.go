package util

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const derivedKeyPrefix = "derived:"

// NormalizeRequestKey validates a client supplied Idempotency-Key, which must
// be a UUID, and returns its canonical lower-case form.
func NormalizeRequestKey(raw string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("idempotency key must be a UUID: %w", err)
	}
	return id.String(), nil
}

// DeriveRequestKey builds a stable key from the request fields so a retried
// submission without an explicit key still maps to the same session.
func DeriveRequestKey(parts ...string) string {
	return derivedKeyPrefix + HashToken(strings.Join(parts, "|"))
}
