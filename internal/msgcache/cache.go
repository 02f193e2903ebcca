// Package msgcache indexes recently seen Zalo messages so action commands
// (react, unsend) can refer to them by a short id or by either external id.
package msgcache

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v3"
	"github.com/mattn/go-runewidth"
)

const (
	DefaultTTL        = 6 * time.Hour
	DefaultMaxEntries = 4000

	maxShortID    = 999999
	previewWidth  = 80
	previewSuffix = "…"
)

var shortIDPattern = regexp.MustCompile(`^\d{1,6}$`)

// Entry is a cached message reference.
type Entry struct {
	AccountID string `json:"accountId"`
	ThreadID  string `json:"threadId"`
	IsGroup   bool   `json:"isGroup"`
	MsgID     string `json:"msgId,omitempty"`
	CliMsgID  string `json:"cliMsgId,omitempty"`
	ShortID   int    `json:"shortId"`
	Timestamp int64  `json:"timestamp"` // unix ms as reported by the payload
	Preview   string `json:"preview,omitempty"`

	rememberedAt time.Time
	seq          uint64
}

// Ref is the input to Remember.
type Ref struct {
	AccountID string
	ThreadID  string
	IsGroup   bool
	MsgID     string
	CliMsgID  string
	Timestamp int64
	Preview   string
}

// Resolved is the outcome of Resolve. Entry is nil when nothing matched and
// the raw input was passed through as MsgID.
type Resolved struct {
	MsgID    string
	CliMsgID string
	Entry    *Entry
}

// Cache is a TTL + size bounded message reference index, scoped per account.
type Cache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	entries *orderedmap.OrderedMap[string, *Entry]
	byShort map[string]string // account|short → entry key
	byMsg   map[string]string // account|msgId → entry key
	byCli   map[string]string // account|cliMsgId → entry key
	latest  map[string]string // account|kind|thread → entry key
	nextID  int
	nextSeq uint64
}

// Option customizes a Cache.
type Option func(*Cache)

// WithTTL overrides the 6h entry lifetime.
func WithTTL(ttl time.Duration) Option { return func(c *Cache) { c.ttl = ttl } }

// WithMaxEntries overrides the 4000 entry cap.
func WithMaxEntries(n int) Option { return func(c *Cache) { c.maxEntries = n } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.reset()
	return c
}

// Reset drops every entry and restarts short ids.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

func (c *Cache) reset() {
	c.entries = orderedmap.NewOrderedMap[string, *Entry]()
	c.byShort = make(map[string]string)
	c.byMsg = make(map[string]string)
	c.byCli = make(map[string]string)
	c.latest = make(map[string]string)
	c.nextID = 0
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune(c.now())
	return c.entries.Len()
}

// Remember upserts a message reference and marks it as the latest for its
// thread. Returns false when neither MsgID nor CliMsgID is set.
func (c *Cache) Remember(ref Ref) (Entry, bool) {
	ref.MsgID = strings.TrimSpace(ref.MsgID)
	ref.CliMsgID = strings.TrimSpace(ref.CliMsgID)
	if ref.MsgID == "" && ref.CliMsgID == "" {
		return Entry{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.prune(now)

	e := c.findExisting(ref)
	if e != nil {
		// Ids are only filled in, so existing index entries stay valid and
		// the entry keeps its insertion slot.
		if e.MsgID == "" {
			e.MsgID = ref.MsgID
		}
		if e.CliMsgID == "" {
			e.CliMsgID = ref.CliMsgID
		}
		if ref.Timestamp > 0 {
			e.Timestamp = ref.Timestamp
		}
		if ref.Preview != "" {
			e.Preview = truncatePreview(ref.Preview)
		}
	} else {
		e = &Entry{
			AccountID: ref.AccountID,
			ThreadID:  ref.ThreadID,
			IsGroup:   ref.IsGroup,
			MsgID:     ref.MsgID,
			CliMsgID:  ref.CliMsgID,
			ShortID:   c.allocShortID(),
			Timestamp: ref.Timestamp,
			Preview:   truncatePreview(ref.Preview),
		}
		c.nextSeq++
		e.seq = c.nextSeq
		if e.Timestamp == 0 {
			e.Timestamp = now.UnixMilli()
		}
	}
	e.rememberedAt = now

	key := entryKey(e)
	c.entries.Set(key, e)
	c.byShort[scoped(e.AccountID, strconv.Itoa(e.ShortID))] = key
	if e.MsgID != "" {
		c.byMsg[scoped(e.AccountID, e.MsgID)] = key
	}
	if e.CliMsgID != "" {
		c.byCli[scoped(e.AccountID, e.CliMsgID)] = key
	}
	// Latest follows call order, not payload timestamps.
	c.latest[threadKey(e.AccountID, e.ThreadID, e.IsGroup)] = key

	for c.entries.Len() > c.maxEntries {
		front := c.entries.Front()
		c.remove(front.Key, front.Value)
	}
	return *e, true
}

// Resolve maps a user-supplied reference to message ids. Accepted forms:
// "msgId:cliMsgId", a 1–6 digit short id, or a bare msgId/cliMsgId.
// Unknown references are returned verbatim as MsgID.
func (c *Cache) Resolve(accountID, raw string) Resolved {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Resolved{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune(c.now())

	if msgID, cliID, ok := strings.Cut(raw, ":"); ok {
		if e := c.lookup(c.byMsg, accountID, msgID); e != nil {
			return resolvedFrom(e)
		}
		if e := c.lookup(c.byCli, accountID, cliID); e != nil {
			return resolvedFrom(e)
		}
		return Resolved{MsgID: msgID, CliMsgID: cliID}
	}

	if shortIDPattern.MatchString(raw) {
		if e := c.lookup(c.byShort, accountID, strings.TrimLeft(raw, "0")); e != nil {
			return resolvedFrom(e)
		}
	}
	if e := c.lookup(c.byMsg, accountID, raw); e != nil {
		return resolvedFrom(e)
	}
	if e := c.lookup(c.byCli, accountID, raw); e != nil {
		return resolvedFrom(e)
	}
	return Resolved{MsgID: raw}
}

// Latest returns the most recently remembered entry for the thread.
func (c *Cache) Latest(accountID, threadID string, isGroup bool) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune(c.now())

	key, ok := c.latest[threadKey(accountID, threadID, isGroup)]
	if !ok {
		return Entry{}, false
	}
	e, ok := c.entries.Get(key)
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (c *Cache) findExisting(ref Ref) *Entry {
	for _, probe := range []struct {
		idx map[string]string
		id  string
	}{{c.byMsg, ref.MsgID}, {c.byCli, ref.CliMsgID}} {
		if probe.id == "" {
			continue
		}
		e := c.lookup(probe.idx, ref.AccountID, probe.id)
		if e == nil || e.ThreadID != ref.ThreadID || e.IsGroup != ref.IsGroup {
			continue
		}
		// Conflicting ids mean a different message that happens to share one id.
		if ref.MsgID != "" && e.MsgID != "" && e.MsgID != ref.MsgID {
			continue
		}
		if ref.CliMsgID != "" && e.CliMsgID != "" && e.CliMsgID != ref.CliMsgID {
			continue
		}
		return e
	}
	return nil
}

func (c *Cache) lookup(idx map[string]string, accountID, id string) *Entry {
	if id == "" {
		return nil
	}
	key, ok := idx[scoped(accountID, id)]
	if !ok {
		return nil
	}
	e, ok := c.entries.Get(key)
	if !ok {
		return nil
	}
	return e
}

func (c *Cache) allocShortID() int {
	c.nextID++
	if c.nextID > maxShortID {
		c.nextID = 1
	}
	return c.nextID
}

// prune drops entries older than the TTL. Updates refresh rememberedAt in
// place, so expiry is not ordered and every entry is checked.
func (c *Cache) prune(now time.Time) {
	var expired []*orderedmap.Element[string, *Entry]
	for el := c.entries.Front(); el != nil; el = el.Next() {
		if now.Sub(el.Value.rememberedAt) >= c.ttl {
			expired = append(expired, el)
		}
	}
	for _, el := range expired {
		c.remove(el.Key, el.Value)
	}
}

// remove drops key and the index entries that still point at it.
func (c *Cache) remove(key string, e *Entry) {
	c.entries.Delete(key)
	dropIf(c.byShort, scoped(e.AccountID, strconv.Itoa(e.ShortID)), key)
	if e.MsgID != "" {
		dropIf(c.byMsg, scoped(e.AccountID, e.MsgID), key)
	}
	if e.CliMsgID != "" {
		dropIf(c.byCli, scoped(e.AccountID, e.CliMsgID), key)
	}
	dropIf(c.latest, threadKey(e.AccountID, e.ThreadID, e.IsGroup), key)
}

func dropIf(idx map[string]string, k, want string) {
	if idx[k] == want {
		delete(idx, k)
	}
}

func resolvedFrom(e *Entry) Resolved {
	cp := *e
	return Resolved{MsgID: e.MsgID, CliMsgID: e.CliMsgID, Entry: &cp}
}

func entryKey(e *Entry) string {
	return strconv.FormatUint(e.seq, 10)
}

func threadKey(accountID, threadID string, isGroup bool) string {
	kind := "user"
	if isGroup {
		kind = "group"
	}
	return accountID + "|" + kind + "|" + threadID
}

func scoped(accountID, id string) string { return accountID + "|" + id }

func truncatePreview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, previewWidth, previewSuffix)
}
