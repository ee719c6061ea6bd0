// Package draft persists in-progress funnel instances so a session can be
// resumed after a reload or a process restart.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when no draft exists for the key.
	ErrNotFound = errors.New("draft not found")
	// ErrQuotaExceeded is returned by Set when the backend has no room left.
	ErrQuotaExceeded = errors.New("draft storage quota exceeded")
	// ErrDisabled is returned by every call of a store that has been switched off.
	ErrDisabled = errors.New("draft storage disabled")
	// ErrMalformed is returned by Decode for unreadable drafts.
	ErrMalformed = errors.New("malformed draft")
)

// Store is the key-value port the funnel machine persists through.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Draft is the persisted form of a funnel instance.
type Draft struct {
	Data             map[string]interface{} `json:"data"`
	CurrentStepIndex int                    `json:"currentStepIndex"`
	UserRef          string                 `json:"userRef"`
	Submitted        bool                   `json:"submitted,omitempty"`
}

// Key builds the namespaced key of one funnel instance.
func Key(prefix, flow, sessionID string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, flow, sessionID)
}

func Encode(d Draft) ([]byte, error) {
	return json.Marshal(d)
}

// Tombstone marks a submitted instance whose draft could not be removed.
func Tombstone(userRef string) Draft {
	return Draft{UserRef: userRef, Submitted: true}
}

// Decode parses a stored draft. A submitted tombstone is returned as is.
// Anything else that is not a JSON object with a positive step index and a
// data map is ErrMalformed.
func Decode(raw []byte) (Draft, error) {
	var d Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return Draft{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if d.Submitted {
		return d, nil
	}
	if d.CurrentStepIndex < 1 || d.Data == nil {
		return Draft{}, fmt.Errorf("%w: missing data or step index", ErrMalformed)
	}
	return d, nil
}

// Load reads and decodes a draft in one call.
func Load(ctx context.Context, s Store, key string) (Draft, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return Draft{}, err
	}
	return Decode(raw)
}
