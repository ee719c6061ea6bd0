package audit

import (
	"context"
	"sync"

	"opz-funnels/internal/models"
)

// MemoryLog keeps entries in process memory.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []models.ReferralEntry
	max     int
}

func NewMemoryLog(max int) *MemoryLog {
	return &MemoryLog{max: capOrDefault(max)}
}

func (l *MemoryLog) Append(_ context.Context, entry models.ReferralEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
	if over := len(l.entries) - l.max; over > 0 {
		l.entries = append([]models.ReferralEntry(nil), l.entries[over:]...)
	}
	return nil
}

func (l *MemoryLog) History(_ context.Context) ([]models.ReferralEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.ReferralEntry, len(l.entries))
	copy(out, l.entries)
	return out, nil
}

func (l *MemoryLog) ForUser(ctx context.Context, userRef string) ([]models.ReferralEntry, error) {
	all, _ := l.History(ctx)
	return filterUser(all, userRef), nil
}
