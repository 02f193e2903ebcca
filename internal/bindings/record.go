// Package bindings routes asynchronous subagent completions back to the
// conversation that spawned them.
//
// A binding links (account, conversation) to (child session, agent). Each
// conversation holds at most one binding (last bind wins); a child session
// may be bound from several conversations. Expiry is enforced lazily on every
// read and write, so callers never observe an expired record.
package bindings

import (
	"strings"
	"time"

	"github.com/nextlevelbuilder/zalouser/internal/target"
)

// DefaultAccountID is used when a caller leaves the account blank.
const DefaultAccountID = "default"

// FileVersion is the on-disk snapshot format version.
const FileVersion = 1

// Record is one conversation binding. Records are immutable; rebinding
// replaces the record wholesale.
type Record struct {
	AccountID       string `json:"accountId"`
	To              string `json:"to"` // canonical target
	ThreadID        string `json:"threadId"`
	IsGroup         bool   `json:"isGroup"`
	ChildSessionKey string `json:"childSessionKey"`
	AgentID         string `json:"agentId"`
	Label           string `json:"label,omitempty"`
	BoundAt         int64  `json:"boundAt"`       // unix ms
	LastTouchedAt   int64  `json:"lastTouchedAt"` // unix ms
	TTLMs           int64  `json:"ttlMs,omitempty"`
	ExpiresAt       int64  `json:"expiresAt,omitempty"` // unix ms, 0 = never
}

// Live reports whether the record is unexpired at nowMs.
func (r Record) Live(nowMs int64) bool {
	return r.ExpiresAt == 0 || r.ExpiresAt > nowMs
}

// Snapshot is the persisted form of the store.
type Snapshot struct {
	Version  int      `json:"version"`
	Bindings []Record `json:"bindings"`
}

// BindRequest asks for a conversation to receive a child session's completion.
type BindRequest struct {
	AccountID       string
	To              string
	ChildSessionKey string
	AgentID         string
	Label           string
	TTL             time.Duration // zero = no expiry
}

func normalizeAccount(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultAccountID
	}
	return id
}

func forwardKey(accountID string, t target.Target) string {
	return accountID + "|" + t.String()
}

// sanitize validates a persisted record and rebuilds its derived fields from
// the canonical target. Returns false when the record must be dropped.
func sanitize(r Record, nowMs int64) (Record, target.Target, bool) {
	t, ok := target.Parse(r.To)
	if !ok {
		return Record{}, target.Target{}, false
	}
	r.ChildSessionKey = strings.TrimSpace(r.ChildSessionKey)
	r.AgentID = strings.TrimSpace(r.AgentID)
	if r.ChildSessionKey == "" || r.AgentID == "" {
		return Record{}, target.Target{}, false
	}
	if !r.Live(nowMs) {
		return Record{}, target.Target{}, false
	}
	r.AccountID = normalizeAccount(r.AccountID)
	r.To = t.String()
	r.ThreadID = t.ID
	r.IsGroup = t.IsGroup()
	if r.BoundAt <= 0 {
		r.BoundAt = nowMs
	}
	if r.LastTouchedAt < r.BoundAt {
		r.LastTouchedAt = r.BoundAt
	}
	if r.TTLMs < 0 {
		r.TTLMs = 0
	}
	return r, t, true
}
