package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relay-protocol/relay/internal/model"
)

// MemoryLedger is an in-memory, thread-safe Ledger implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryLedger struct {
	mu        sync.RWMutex
	manifests map[uuid.UUID]*ManifestRow
	seals     map[string]*model.Seal
	byCreated []uuid.UUID // insertion order; sorted at query time
	events    []*model.AuthEvent
}

// NewMemory creates an empty MemoryLedger.
func NewMemory() *MemoryLedger {
	return &MemoryLedger{
		manifests: make(map[uuid.UUID]*ManifestRow),
		seals:     make(map[string]*model.Seal),
	}
}

// WriteDecision implements Ledger. The mutex makes the two inserts atomic.
func (l *MemoryLedger) WriteDecision(_ context.Context, m *ManifestRow, s *model.Seal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.manifests[m.ManifestID]; ok {
		return fmt.Errorf("%w: manifest %s", ErrDuplicate, m.ManifestID)
	}
	if _, ok := l.seals[s.SealID]; ok {
		return fmt.Errorf("%w: seal %s", ErrDuplicate, s.SealID)
	}

	mCopy := *m
	sCopy := *s
	l.manifests[m.ManifestID] = &mCopy
	l.seals[s.SealID] = &sCopy
	l.byCreated = append(l.byCreated, m.ManifestID)
	return nil
}

// WriteAuthEvent implements Ledger.
func (l *MemoryLedger) WriteAuthEvent(_ context.Context, e *model.AuthEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	eCopy := *e
	l.events = append(l.events, &eCopy)
	return nil
}

// GetManifest implements Ledger.
func (l *MemoryLedger) GetManifest(_ context.Context, id uuid.UUID) (*ManifestRow, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.manifests[id]
	if !ok {
		return nil, ErrNotFound
	}
	mCopy := *m
	return &mCopy, nil
}

// GetSeal implements Ledger.
func (l *MemoryLedger) GetSeal(_ context.Context, sealID string) (*model.Seal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.seals[sealID]
	if !ok {
		return nil, ErrNotFound
	}
	sCopy := *s
	return &sCopy, nil
}

// MarkExecuted implements Ledger. The write lock serializes concurrent
// callers so exactly one observes Executed=false.
func (l *MemoryLedger) MarkExecuted(_ context.Context, sealID string) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.seals[sealID]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	if s.Executed {
		return time.Time{}, ErrAlreadyExecuted
	}
	now := time.Now().UTC()
	if s.IsExpired(now) {
		return time.Time{}, ErrExpired
	}
	s.Executed = true
	s.ExecutedAt = &now
	return now, nil
}

// sealForManifest finds the seal referencing a manifest. Callers hold l.mu.
func (l *MemoryLedger) sealForManifest(id uuid.UUID) *model.Seal {
	for _, s := range l.seals {
		if s.ManifestID == id {
			sCopy := *s
			return &sCopy
		}
	}
	return nil
}

// Query implements Ledger.
func (l *MemoryLedger) Query(_ context.Context, f Filter) ([]*Record, error) {
	f.normalize()

	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []*Record
	for _, id := range l.byCreated {
		m := l.manifests[id]
		if f.OrgID != "" && m.OrgID != f.OrgID {
			continue
		}
		if f.AgentID != "" && m.AgentID != f.AgentID {
			continue
		}
		if f.Provider != "" && m.Provider != f.Provider {
			continue
		}
		s := l.sealForManifest(id)
		if f.ApprovedOnly != nil && (s == nil || s.Approved != *f.ApprovedOnly) {
			continue
		}
		mCopy := *m
		matched = append(matched, &Record{Manifest: &mCopy, Seal: s})
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Manifest.CreatedAt.After(matched[j].Manifest.CreatedAt)
	})

	if f.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// Stats implements Ledger.
func (l *MemoryLedger) Stats(_ context.Context, f Filter) (*Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var s Stats
	for id, m := range l.manifests {
		if f.OrgID != "" && m.OrgID != f.OrgID {
			continue
		}
		if f.AgentID != "" && m.AgentID != f.AgentID {
			continue
		}
		if f.Provider != "" && m.Provider != f.Provider {
			continue
		}
		s.TotalManifests++
		seal := l.sealForManifest(id)
		if seal == nil {
			continue
		}
		if seal.Approved {
			s.Approved++
		} else {
			s.Denied++
		}
		if seal.Executed {
			s.Executed++
		}
	}
	s.ApprovalRate = rate(s.Approved, s.TotalManifests)
	return &s, nil
}

// AuthEvents returns a snapshot of the recorded auth events, oldest first.
// Test helper; the HTTP surface never exposes raw auth events.
func (l *MemoryLedger) AuthEvents() []*model.AuthEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*model.AuthEvent, len(l.events))
	copy(out, l.events)
	return out
}
