package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/secretmarket/internal/crypto"
	"github.com/alanyoungcy/secretmarket/internal/domain"
	"github.com/alanyoungcy/secretmarket/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePlatform is an in-memory MarketPlatform.
type fakePlatform struct {
	mu         sync.Mutex
	nextID     int
	markets    map[string]domain.ExternalMarket
	created    []domain.NewExternalMarket
	createKeys []string
	resolved   []domain.Resolution
	comments   []domain.RichText
	commentKey []string

	createErr  error
	resolveErr error
	commentErr error
	getErr     error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{markets: map[string]domain.ExternalMarket{}}
}

func (f *fakePlatform) CreateMarket(_ context.Context, apiKey string, m domain.NewExternalMarket) (domain.ExternalMarket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, m)
	f.createKeys = append(f.createKeys, apiKey)
	if f.createErr != nil {
		return domain.ExternalMarket{}, f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("mkt%d", f.nextID)
	slug := fmt.Sprintf("secret-market-%d", f.nextID)
	ct := m.CloseTime
	em := domain.ExternalMarket{
		ID:        id,
		Slug:      slug,
		Question:  m.Question,
		URL:       "https://manifold.markets/creator/" + slug,
		CloseTime: &ct,
	}
	f.markets[id] = em
	return em, nil
}

func (f *fakePlatform) GetMarket(_ context.Context, id string) (domain.ExternalMarket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.ExternalMarket{}, f.getErr
	}
	m, ok := f.markets[id]
	if !ok {
		return domain.ExternalMarket{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakePlatform) GetMarketBySlug(_ context.Context, slug string) (domain.ExternalMarket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.markets {
		if m.Slug == slug {
			return m, nil
		}
	}
	return domain.ExternalMarket{}, domain.ErrNotFound
}

func (f *fakePlatform) Resolve(_ context.Context, _ string, id string, res domain.Resolution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return f.resolveErr
	}
	f.resolved = append(f.resolved, res)
	m := f.markets[id]
	m.IsResolved = true
	m.Resolution = string(res.Outcome)
	f.markets[id] = m
	return nil
}

func (f *fakePlatform) PostComment(_ context.Context, apiKey, _ string, body domain.RichText) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commentErr != nil {
		return f.commentErr
	}
	f.comments = append(f.comments, body)
	f.commentKey = append(f.commentKey, apiKey)
	return nil
}

// flakyStore wraps the memory store with injectable failures.
type flakyStore struct {
	*memory.RecordStore
	insertErr error
	markErr   error
}

func (s *flakyStore) Insert(ctx context.Context, rec domain.MarketRecord) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	return s.RecordStore.Insert(ctx, rec)
}

func (s *flakyStore) MarkRevealed(ctx context.Context, id string, at time.Time) error {
	if s.markErr != nil {
		return s.markErr
	}
	return s.RecordStore.MarkRevealed(ctx, id, at)
}

// busRecorder records published payloads per channel.
type busRecorder struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func (b *busRecorder) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.msgs == nil {
		b.msgs = map[string][][]byte{}
	}
	b.msgs[channel] = append(b.msgs[channel], payload)
	return nil
}

func (b *busRecorder) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, fmt.Errorf("not supported")
}

func (b *busRecorder) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs[channel])
}

// countingCache is a map-backed RecordCache.
type countingCache struct {
	mu          sync.Mutex
	items       map[string]domain.PublicInfo
	hits        int
	invalidated []string
}

func newCountingCache() *countingCache {
	return &countingCache{items: map[string]domain.PublicInfo{}}
}

func (c *countingCache) Set(_ context.Context, info domain.PublicInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[info.ID] = info
	return nil
}

func (c *countingCache) Get(_ context.Context, id string) (domain.PublicInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.items[id]
	if !ok {
		return domain.PublicInfo{}, domain.ErrNotFound
	}
	c.hits++
	return info, nil
}

func (c *countingCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

// memJournal is an in-memory OrphanJournal and ProofArchive.
type memJournal struct {
	mu      sync.Mutex
	orphans map[string]domain.MarketRecord
	proofs  map[string]domain.MarketRecord
}

func newMemJournal() *memJournal {
	return &memJournal{orphans: map[string]domain.MarketRecord{}, proofs: map[string]domain.MarketRecord{}}
}

func (j *memJournal) Record(_ context.Context, rec domain.MarketRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.orphans[rec.ID] = rec
	return nil
}

func (j *memJournal) Pending(context.Context) ([]domain.MarketRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]domain.MarketRecord, 0, len(j.orphans))
	for _, r := range j.orphans {
		out = append(out, r)
	}
	return out, nil
}

func (j *memJournal) Resolve(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.orphans, id)
	return nil
}

func (j *memJournal) Archive(_ context.Context, rec domain.MarketRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.proofs[rec.ID] = rec
	return nil
}

// harness wires a SecretMarketService over fakes.
type harness struct {
	svc      *SecretMarketService
	platform *fakePlatform
	store    *flakyStore
	cache    *countingCache
	journal  *memJournal
	bus      *busRecorder
	audit    *memory.AuditStore
	cipher   *crypto.Cipher
	now      time.Time
}

type harnessOpt func(*Options, *bool, *crypto.Mode)

func withVerify(v bool) harnessOpt {
	return func(_ *Options, verify *bool, _ *crypto.Mode) { *verify = v }
}

func withMode(m crypto.Mode) harnessOpt {
	return func(_ *Options, _ *bool, mode *crypto.Mode) { *mode = m }
}

func withOptions(f func(*Options)) harnessOpt {
	return func(o *Options, _ *bool, _ *crypto.Mode) { f(o) }
}

func newHarness(t *testing.T, opts ...harnessOpt) *harness {
	t.Helper()
	o := DefaultOptions()
	verify := true
	mode := crypto.ModeLegacy
	for _, f := range opts {
		f(&o, &verify, &mode)
	}

	cipher, err := crypto.NewCipher(mode, 1000)
	require.NoError(t, err)

	h := &harness{
		platform: newFakePlatform(),
		store:    &flakyStore{RecordStore: memory.NewRecordStore()},
		cache:    newCountingCache(),
		journal:  newMemJournal(),
		bus:      &busRecorder{},
		audit:    memory.NewAuditStore(),
		cipher:   cipher,
		now:      time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	events := NewEvents(h.bus, h.audit, nil, discardLogger())
	h.svc = NewSecretMarketService(Deps{
		Platform: h.platform,
		Store:    h.store,
		Cipher:   cipher,
		Revealer: NewRevealer(h.store, cipher, verify),
		Cache:    h.cache,
		Journal:  h.journal,
		Proofs:   h.journal,
		Events:   events,
	}, o, discardLogger())
	h.svc.now = func() time.Time { return h.now }
	return h
}

func (h *harness) auditEvents(t *testing.T) []string {
	t.Helper()
	entries, err := h.audit.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i].Event)
	}
	return out
}
