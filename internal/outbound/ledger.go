package outbound

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultRecentTTL is how long a successful send suppresses identical repeats.
	DefaultRecentTTL = 30 * time.Second

	// maxTrackedSends caps remembered fingerprints; oldest recent entries go first.
	maxTrackedSends = 4096
)

// Reason explains why an acquire was refused.
type Reason string

const (
	ReasonInflight Reason = "inflight"
	ReasonRecent   Reason = "recent"
)

// Ticket is the handle for one in-flight send. Redeem it with Ledger.Release.
type Ticket struct {
	ID  string
	Key string
}

// AcquireResult is either an acquired ticket or a refusal reason, never both.
type AcquireResult struct {
	ticket *Ticket
	reason Reason
}

// Acquired reports whether a ticket was issued.
func (r AcquireResult) Acquired() bool { return r.ticket != nil }

// Ticket returns the issued ticket, or nil when refused.
func (r AcquireResult) Ticket() *Ticket { return r.ticket }

// Reason returns why the acquire was refused ("" when acquired).
func (r AcquireResult) Reason() Reason { return r.reason }

type sendState int

const (
	stateInflight sendState = iota
	stateRecent
)

type sendRecord struct {
	state     sendState
	ticketID  string
	expiresAt time.Time
	seq       uint64
}

// Ledger tracks in-flight and recently completed sends per fingerprint.
// Acquire and Release never block on I/O.
type Ledger struct {
	mu      sync.Mutex
	ttl     time.Duration
	records map[string]*sendRecord
	seq     uint64
	now     func() time.Time
}

// LedgerOption customizes a Ledger.
type LedgerOption func(*Ledger)

// WithRecentTTL sets the post-success suppression window.
func WithRecentTTL(ttl time.Duration) LedgerOption {
	return func(l *Ledger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates an empty ledger.
func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{
		ttl:     DefaultRecentTTL,
		records: make(map[string]*sendRecord),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire claims the fingerprint. It fails with ReasonInflight while another
// ticket for it is outstanding and with ReasonRecent inside the post-success window.
func (l *Ledger) Acquire(fp Fingerprint) AcquireResult {
	key := fp.Key()

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if rec, ok := l.records[key]; ok {
		switch {
		case rec.state == stateInflight:
			return AcquireResult{reason: ReasonInflight}
		case now.Before(rec.expiresAt):
			return AcquireResult{reason: ReasonRecent}
		default:
			delete(l.records, key)
		}
	}

	l.evict(now)

	l.seq++
	t := &Ticket{ID: uuid.NewString(), Key: key}
	l.records[key] = &sendRecord{state: stateInflight, ticketID: t.ID, seq: l.seq}
	return AcquireResult{ticket: t}
}

// Release redeems a ticket. sent=true starts the recent window; sent=false
// unlocks immediately so the send can be retried. Unknown or already
// released tickets are ignored.
func (l *Ledger) Release(t *Ticket, sent bool) {
	if t == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[t.Key]
	if !ok || rec.state != stateInflight || rec.ticketID != t.ID {
		return
	}
	if !sent {
		delete(l.records, t.Key)
		return
	}
	rec.state = stateRecent
	rec.expiresAt = l.now().Add(l.ttl)
}

// Len returns the number of tracked fingerprints.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Reset forgets every fingerprint.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[string]*sendRecord)
}

// evict drops expired recent entries, then the oldest recent entries while
// over capacity. In-flight entries are never evicted.
func (l *Ledger) evict(now time.Time) {
	for k, rec := range l.records {
		if rec.state == stateRecent && !now.Before(rec.expiresAt) {
			delete(l.records, k)
		}
	}
	for len(l.records) >= maxTrackedSends {
		var oldestKey string
		var oldestSeq uint64
		for k, rec := range l.records {
			if rec.state != stateRecent {
				continue
			}
			if oldestKey == "" || rec.seq < oldestSeq {
				oldestKey, oldestSeq = k, rec.seq
			}
		}
		if oldestKey == "" {
			return
		}
		delete(l.records, oldestKey)
	}
}
