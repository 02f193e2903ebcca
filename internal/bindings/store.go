package bindings

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/zalouser/internal/target"
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/zalouser/internal/bindings")

// Persister stores and loads binding snapshots.
type Persister interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, records []Record) error
}

// Store is the in-memory binding index with an optional durable mirror.
// Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	forward map[string]Record              // account|target → record
	reverse map[string]map[string]struct{} // child session → forward keys
	now     func() time.Time

	persister Persister
	queue     persistQueue
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithPersister mirrors every mutation to p through a FIFO write queue.
func WithPersister(p Persister) Option { return func(s *Store) { s.persister = p } }

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		forward: make(map[string]Record),
		reverse: make(map[string]map[string]struct{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bind records that req.ChildSessionKey's completion belongs to req.To,
// replacing any existing binding for that conversation. Returns false for a
// blank or unparseable target or a missing session/agent id.
func (s *Store) Bind(req BindRequest) (Record, bool) {
	t, ok := target.Parse(req.To)
	if !ok {
		return Record{}, false
	}
	childKey := strings.TrimSpace(req.ChildSessionKey)
	agentID := strings.TrimSpace(req.AgentID)
	if childKey == "" || agentID == "" {
		return Record{}, false
	}
	accountID := normalizeAccount(req.AccountID)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UnixMilli()
	s.sweep(now)

	rec := Record{
		AccountID:       accountID,
		To:              t.String(),
		ThreadID:        t.ID,
		IsGroup:         t.IsGroup(),
		ChildSessionKey: childKey,
		AgentID:         agentID,
		Label:           strings.TrimSpace(req.Label),
		BoundAt:         now,
		LastTouchedAt:   now,
	}
	if req.TTL > 0 {
		rec.TTLMs = req.TTL.Milliseconds()
		if rec.TTLMs == 0 {
			rec.TTLMs = 1
		}
		rec.ExpiresAt = now + rec.TTLMs
	}

	key := forwardKey(accountID, t)
	if prev, ok := s.forward[key]; ok {
		s.unlink(key, prev)
	}
	s.link(key, rec)
	s.schedulePersist("bind")

	slog.Debug("bindings: bound",
		"account", accountID,
		"to", rec.To,
		"session", childKey,
		"agent", agentID,
		"ttl_ms", rec.TTLMs,
	)
	return rec, true
}

// ResolveByTarget returns the live binding for a conversation.
func (s *Store) ResolveByTarget(accountID, to string) (Record, bool) {
	t, ok := target.Parse(to)
	if !ok {
		return Record{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.now().UnixMilli())

	rec, ok := s.forward[forwardKey(normalizeAccount(accountID), t)]
	return rec, ok
}

// ResolveOriginBySession returns the earliest-bound live record for a child
// session, optionally restricted to one account (empty = any).
func (s *Store) ResolveOriginBySession(childSessionKey, accountID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.now().UnixMilli())

	recs := s.bySession(strings.TrimSpace(childSessionKey), strings.TrimSpace(accountID))
	if len(recs) == 0 {
		return Record{}, false
	}
	return recs[0], true
}

// UnbindBySession removes and returns every live record for a child session,
// optionally restricted to one account (empty = any).
func (s *Store) UnbindBySession(childSessionKey, accountID string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.now().UnixMilli())

	recs := s.bySession(strings.TrimSpace(childSessionKey), strings.TrimSpace(accountID))
	for _, rec := range recs {
		t, _ := target.Parse(rec.To)
		s.unlink(forwardKey(rec.AccountID, t), rec)
	}
	if len(recs) > 0 {
		s.schedulePersist("unbind")
	}
	return recs
}

// Snapshot returns a copy of all live records ordered by bind time.
func (s *Store) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.now().UnixMilli())
	return s.snapshotLocked()
}

// ReplaceAll clears the store and re-admits each record independently,
// dropping malformed or already-expired ones. Returns the number restored.
// It does not write back to the persister.
func (s *Store) ReplaceAll(records []Record) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forward = make(map[string]Record)
	s.reverse = make(map[string]map[string]struct{})

	now := s.now().UnixMilli()
	for _, raw := range records {
		rec, t, ok := sanitize(raw, now)
		if !ok {
			continue
		}
		key := forwardKey(rec.AccountID, t)
		if prev, ok := s.forward[key]; ok {
			s.unlink(key, prev)
		}
		s.link(key, rec)
	}
	return len(s.forward)
}

// Reset drops every record without persisting.
func (s *Store) Reset() {
	s.ReplaceAll(nil)
}

// Len returns the number of live records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.now().UnixMilli())
	return len(s.forward)
}

// Load restores the store from the persister. A missing or unreadable
// snapshot leaves the store empty; the error is logged, not returned.
func (s *Store) Load(ctx context.Context) int {
	if s.persister == nil {
		return 0
	}
	records, err := s.persister.Load(ctx)
	if err != nil {
		slog.Warn("bindings: load failed, starting empty", "error", err)
		s.Reset()
		return 0
	}
	n := s.ReplaceAll(records)
	if dropped := len(records) - n; dropped > 0 {
		slog.Info("bindings: dropped invalid or expired records on load", "dropped", dropped)
	}
	slog.Info("bindings: restored", "count", n)
	return n
}

// Flush waits until every queued persist has finished.
func (s *Store) Flush(ctx context.Context) error {
	return s.queue.wait(ctx)
}

func (s *Store) link(key string, rec Record) {
	s.forward[key] = rec
	set, ok := s.reverse[rec.ChildSessionKey]
	if !ok {
		set = make(map[string]struct{})
		s.reverse[rec.ChildSessionKey] = set
	}
	set[key] = struct{}{}
}

func (s *Store) unlink(key string, rec Record) {
	delete(s.forward, key)
	if set, ok := s.reverse[rec.ChildSessionKey]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(s.reverse, rec.ChildSessionKey)
		}
	}
}

func (s *Store) bySession(childKey, accountID string) []Record {
	set := s.reverse[childKey]
	recs := make([]Record, 0, len(set))
	for key := range set {
		rec, ok := s.forward[key]
		if !ok {
			continue
		}
		if accountID != "" && rec.AccountID != accountID {
			continue
		}
		recs = append(recs, rec)
	}
	sortRecords(recs)
	return recs
}

// sweep removes expired records. Caller holds s.mu.
func (s *Store) sweep(nowMs int64) {
	removed := 0
	for key, rec := range s.forward {
		if !rec.Live(nowMs) {
			s.unlink(key, rec)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("bindings: expired", "count", removed)
		s.schedulePersist("expire")
	}
}

func (s *Store) snapshotLocked() []Record {
	out := make([]Record, 0, len(s.forward))
	for _, rec := range s.forward {
		out = append(out, rec)
	}
	sortRecords(out)
	return out
}

// schedulePersist captures a snapshot and queues it behind earlier writes.
// Caller holds s.mu, so snapshots enter the queue in mutation order.
func (s *Store) schedulePersist(reason string) {
	if s.persister == nil {
		return
	}
	snap := s.snapshotLocked()
	p := s.persister
	s.queue.enqueue(func() {
		ctx, span := tracer.Start(context.Background(), "bindings.persist")
		defer span.End()
		span.SetAttributes(
			attribute.String("bindings.reason", reason),
			attribute.Int("bindings.count", len(snap)),
		)
		if err := p.Save(ctx, snap); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Warn("bindings: persist failed", "reason", reason, "count", len(snap), "error", err)
		}
	})
}

func sortRecords(recs []Record) {
	slices.SortStableFunc(recs, func(a, b Record) int {
		switch {
		case a.BoundAt != b.BoundAt:
			if a.BoundAt < b.BoundAt {
				return -1
			}
			return 1
		case a.AccountID != b.AccountID:
			return strings.Compare(a.AccountID, b.AccountID)
		default:
			return strings.Compare(a.To, b.To)
		}
	})
}
