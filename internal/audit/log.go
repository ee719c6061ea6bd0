// Package audit is the append-only, capped log of referral routing decisions.
package audit

import (
	"context"

	"opz-funnels/internal/models"
)

// DefaultMaxEntries caps the log when no limit is configured.
const DefaultMaxEntries = 500

// Log stores referral entries oldest first. When an append would exceed the
// cap the oldest entries are evicted.
type Log interface {
	Append(ctx context.Context, entry models.ReferralEntry) error
	History(ctx context.Context) ([]models.ReferralEntry, error)
	ForUser(ctx context.Context, userRef string) ([]models.ReferralEntry, error)
}

func capOrDefault(max int) int {
	if max <= 0 {
		return DefaultMaxEntries
	}
	return max
}

func filterUser(entries []models.ReferralEntry, userRef string) []models.ReferralEntry {
	out := make([]models.ReferralEntry, 0)
	for _, e := range entries {
		if e.UserRef == userRef {
			out = append(out, e)
		}
	}
	return out
}
