package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/viewcraft/viewcraft/backend/pkg/models"
)

// maxMemorySTM bounds the fallback store so a long Redis outage cannot
// grow it without limit. Oldest experiences are dropped first.
const maxMemorySTM = 1000

type stmEntry struct {
	exp       models.Experience
	expiresAt time.Time
}

// MemorySTM is the in-process fallback used when Redis is unreachable.
// Same TTL semantics as the Redis tier; expiry is enforced lazily on
// reads.
type MemorySTM struct {
	mu      sync.RWMutex
	agentID string
	prefix  string
	entries map[string]*stmEntry
	order   []string // ids, newest first
}

// NewMemorySTM creates an empty in-process short-term store.
func NewMemorySTM(agentID string) *MemorySTM {
	return &MemorySTM{
		agentID: agentID,
		prefix:  KeyPrefix(agentID),
		entries: make(map[string]*stmEntry),
	}
}

func (s *MemorySTM) Store(_ context.Context, exp *models.Experience) error {
	if exp.ID == "" {
		exp.ID = NewExperienceID()
	}
	if exp.AgentID == "" {
		exp.AgentID = s.agentID
	}
	if exp.Timestamp.IsZero() {
		exp.Timestamp = time.Now().UTC()
	}
	cp := *exp

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[cp.ID] = &stmEntry{exp: cp, expiresAt: time.Now().Add(ExperienceTTL)}
	s.order = append([]string{cp.ID}, s.order...)

	// Capacity bound: drop the oldest
	for len(s.order) > maxMemorySTM {
		last := s.order[len(s.order)-1]
		s.order = s.order[:len(s.order)-1]
		delete(s.entries, last)
	}
	return nil
}

func (s *MemorySTM) Recent(_ context.Context, limit int) ([]models.Experience, error) {
	if limit <= 0 || limit > maxScan {
		limit = maxScan
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var out []models.Experience
	for _, id := range s.order {
		if len(out) >= limit {
			break
		}
		entry, ok := s.entries[id]
		if !ok || now.After(entry.expiresAt) {
			continue
		}
		out = append(out, entry.exp)
	}
	return out, nil
}

func (s *MemorySTM) HighQ(ctx context.Context, threshold float64, limit int) ([]models.Experience, error) {
	all, err := s.Recent(ctx, maxScan)
	if err != nil {
		return nil, err
	}
	var out []models.Experience
	for _, exp := range all {
		if exp.QValue >= threshold {
			out = append(out, exp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QValue > out[j].QValue })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemorySTM) UpdateQ(_ context.Context, expID string, q float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[expID]
	if !ok || time.Now().After(entry.expiresAt) {
		return ErrExpired
	}
	entry.exp.QValue = q
	// Updates never shorten the remaining TTL below the floor
	if floor := time.Now().Add(minRemainingTTL); entry.expiresAt.Before(floor) {
		entry.expiresAt = floor
	}
	return nil
}

func (s *MemorySTM) Delete(_ context.Context, expID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, expID)
	for i, id := range s.order {
		if id == expID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemorySTM) Stats(ctx context.Context) (models.STMStats, error) {
	all, err := s.Recent(ctx, maxScan)
	if err != nil {
		return models.STMStats{}, err
	}
	return summarize(all), nil
}

func (s *MemorySTM) Status(_ context.Context) models.STMStatus {
	return models.STMStatus{
		Connected:   true,
		KeyPrefix:   s.prefix,
		StorageType: "memory",
	}
}

func (s *MemorySTM) Close() error { return nil }
