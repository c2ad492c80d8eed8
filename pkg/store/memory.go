package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pulseguard/pulseguard/pkg/heartrate"
)

// MemoryStore is a HistoryStore kept in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	subjects map[string][]heartrate.Sample
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subjects: make(map[string][]heartrate.Sample)}
}

// Append stores samples for subject. A reading identical to a stored one is kept once.
func (m *MemoryStore) Append(_ context.Context, subject string, samples ...heartrate.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	all := append(m.subjects[subject], samples...)
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].Time.Equal(all[j].Time) {
			return all[i].Time.Before(all[j].Time)
		}
		return all[i].BPM < all[j].BPM
	})
	m.subjects[subject] = dedupe(all)
	return nil
}

// dedupe drops adjacent identical readings in place.
func dedupe(sorted []heartrate.Sample) []heartrate.Sample {
	out := sorted[:0]
	for _, s := range sorted {
		if n := len(out); n > 0 && out[n-1].Time.Equal(s.Time) && out[n-1].BPM == s.BPM {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Range returns the samples of subject taken in [from, to], oldest first.
func (m *MemoryStore) Range(_ context.Context, subject string, from, to time.Time) ([]heartrate.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all, ok := m.subjects[subject]
	if !ok {
		return nil, ErrNotFound
	}

	out := make([]heartrate.Sample, 0, len(all))
	for _, s := range all {
		if s.Time.Before(from) || s.Time.After(to) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Trim drops the samples of subject taken before cutoff.
func (m *MemoryStore) Trim(_ context.Context, subject string, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.subjects[subject]
	i := sort.Search(len(all), func(i int) bool {
		return !all[i].Time.Before(before)
	})
	if i == len(all) {
		delete(m.subjects, subject)
		return nil
	}
	m.subjects[subject] = append([]heartrate.Sample(nil), all[i:]...)
	return nil
}

// Close releases resources.
func (m *MemoryStore) Close() error {
	return nil
}
