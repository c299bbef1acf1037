// Package checkpoint persists suspended workflow rounds keyed by thread and
// tool call, so that a paused workflow can be resumed from another request
// or another process.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL bounds how long a suspended round stays resumable.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned when no checkpoint exists for a key, including
// one that expired or was already taken.
var ErrNotFound = errors.New("checkpoint not found")

// Store persists opaque checkpoint payloads.
type Store interface {
	// Save stores data under (threadID, toolCallID), replacing any previous
	// payload. A ttl of zero uses DefaultTTL.
	Save(ctx context.Context, threadID, toolCallID string, data []byte, ttl time.Duration) error

	// Load returns the payload without removing it.
	Load(ctx context.Context, threadID, toolCallID string) ([]byte, error)

	// Take atomically returns and removes the payload. Of several
	// concurrent callers at most one succeeds.
	Take(ctx context.Context, threadID, toolCallID string) ([]byte, error)

	// Delete removes the payload. Deleting a missing key is not an error.
	Delete(ctx context.Context, threadID, toolCallID string) error
}

func validateKey(threadID, toolCallID string) error {
	if threadID == "" {
		return fmt.Errorf("thread id is required")
	}
	if toolCallID == "" {
		return fmt.Errorf("tool call id is required")
	}
	return nil
}
