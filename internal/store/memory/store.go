// Package memory provides in-process record and audit stores for development
// and tests. Contents are lost on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// RecordStore is a mutex-guarded map implementing domain.RecordStore.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]domain.MarketRecord
}

// NewRecordStore returns an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]domain.MarketRecord)}
}

// Insert stores rec, or returns domain.ErrAlreadyExists when the id is taken.
func (s *RecordStore) Insert(_ context.Context, rec domain.MarketRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("memory: insert record %s: %w", rec.ID, domain.ErrAlreadyExists)
	}
	s.records[rec.ID] = clone(rec)
	return nil
}

// Get returns a copy of the record, or domain.ErrNotFound.
func (s *RecordStore) Get(_ context.Context, id string) (domain.MarketRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.MarketRecord{}, fmt.Errorf("memory: record %s: %w", id, domain.ErrNotFound)
	}
	return clone(rec), nil
}

// MarkRevealed flags the record revealed, keeping the first reveal time.
func (s *RecordStore) MarkRevealed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("memory: mark revealed %s: %w", id, domain.ErrNotFound)
	}
	rec.Revealed = true
	if rec.RevealedAt == nil {
		rec.RevealedAt = &at
	}
	s.records[id] = rec
	return nil
}

// ListUnrevealed returns unrevealed records oldest first, filtered and paged by opts.
func (s *RecordStore) ListUnrevealed(_ context.Context, opts domain.ListOpts) ([]domain.MarketRecord, error) {
	s.mu.RLock()
	var out []domain.MarketRecord
	for _, rec := range s.records {
		if rec.Revealed {
			continue
		}
		if opts.Since != nil && rec.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && rec.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, clone(rec))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return page(out, opts), nil
}

// Count returns the number of stored records.
func (s *RecordStore) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

func clone(rec domain.MarketRecord) domain.MarketRecord {
	if rec.RevealedAt != nil {
		t := *rec.RevealedAt
		rec.RevealedAt = &t
	}
	return rec
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// AuditStore keeps audit entries in a slice.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewAuditStore returns an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{now: time.Now}
}

// Log appends an entry stamped with the current time.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]any, len(detail))
	for k, v := range detail {
		cp[k] = v
	}
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    cp,
		CreatedAt: s.now(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	return page(out, opts), nil
}
