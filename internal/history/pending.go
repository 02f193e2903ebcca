// Package history keeps short per-conversation windows of group chatter the
// bot did not reply to, used as context when it is finally addressed.
package history

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v3"
)

const (
	// DefaultLimit is the per-conversation window when config leaves it unset.
	DefaultLimit = 50

	// DefaultMaxKeys caps tracked conversations.
	DefaultMaxKeys = 1000
)

// Entry is one remembered group message.
type Entry struct {
	Sender     string   `json:"sender"`
	Body       string   `json:"body"`
	Timestamp  int64    `json:"timestamp"` // unix ms
	MessageID  string   `json:"messageId,omitempty"`
	MediaPaths []string `json:"mediaPaths,omitempty"`
	MediaURLs  []string `json:"mediaUrls,omitempty"`
	MediaTypes []string `json:"mediaTypes,omitempty"`
}

// Key builds the history key for a conversation.
func Key(accountID, threadID string) string {
	return accountID + ":" + threadID
}

// Buffers holds bounded history windows keyed by conversation.
type Buffers struct {
	mu      sync.Mutex
	maxKeys int
	now     func() time.Time
	keys    *orderedmap.OrderedMap[string, []Entry]
}

// Option customizes Buffers.
type Option func(*Buffers)

// WithMaxKeys overrides the conversation cap.
func WithMaxKeys(n int) Option { return func(b *Buffers) { b.maxKeys = n } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(b *Buffers) { b.now = now } }

// New creates empty buffers.
func New(opts ...Option) *Buffers {
	b := &Buffers{
		maxKeys: DefaultMaxKeys,
		now:     time.Now,
		keys:    orderedmap.NewOrderedMap[string, []Entry](),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Append prunes expired entries across every conversation, appends entry to
// key, trims it to the limit most recent entries and returns a copy.
// limit <= 0 disables recording for the call and returns nil.
func (b *Buffers) Append(key string, entry Entry, limit int, ttl time.Duration) []Entry {
	if limit <= 0 || key == "" {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.prune(ttl)

	list, _ := b.keys.Get(key)
	list = append(list, entry)
	if len(list) > limit {
		list = append([]Entry(nil), list[len(list)-limit:]...)
	}
	// Set keeps an existing key in place; the cap evicts by first insertion.
	b.keys.Set(key, list)

	for b.maxKeys > 0 && b.keys.Len() > b.maxKeys {
		b.keys.Delete(b.keys.Front().Key)
	}
	return cloneEntries(list)
}

// Read prunes expired entries and returns a copy of key's window.
func (b *Buffers) Read(key string, ttl time.Duration) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.prune(ttl)
	list, _ := b.keys.Get(key)
	return cloneEntries(list)
}

// Clear drops key's window regardless of TTL.
func (b *Buffers) Clear(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys.Delete(key)
}

// Reset drops every window.
func (b *Buffers) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = orderedmap.NewOrderedMap[string, []Entry]()
}

// Len returns the number of tracked conversations.
func (b *Buffers) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.keys.Len()
}

func (b *Buffers) prune(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	cutoff := b.now().Add(-ttl).UnixMilli()

	var empty []string
	for el := b.keys.Front(); el != nil; el = el.Next() {
		list := el.Value
		i := 0
		for i < len(list) && list[i].Timestamp <= cutoff {
			i++
		}
		if i == 0 {
			continue
		}
		if i == len(list) {
			empty = append(empty, el.Key)
			continue
		}
		b.keys.Set(el.Key, append([]Entry(nil), list[i:]...))
	}
	for _, k := range empty {
		b.keys.Delete(k)
	}
}

func cloneEntries(list []Entry) []Entry {
	if len(list) == 0 {
		return nil
	}
	out := make([]Entry, len(list))
	copy(out, list)
	return out
}

// FormatContext renders pending entries ahead of the current message body.
func FormatContext(entries []Entry, current string) string {
	if len(entries) == 0 {
		return current
	}
	var sb strings.Builder
	sb.WriteString("[Chat messages since your last reply - for context]\n")
	for _, e := range entries {
		body := e.Body
		if body == "" && len(e.MediaURLs)+len(e.MediaPaths) > 0 {
			body = "[media]"
		}
		fmt.Fprintf(&sb, "%s: %s\n", e.Sender, body)
	}
	sb.WriteString("\n[Current message - respond to this]\n")
	sb.WriteString(current)
	return sb.String()
}
