package history

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryAt(body string, ts time.Time) Entry {
	return Entry{Sender: "alice", Body: body, Timestamp: ts.UnixMilli()}
}

func TestAppendTrimsToLimit(t *testing.T) {
	b := New()
	now := time.Now()
	key := Key("default", "g1")

	b.Append(key, entryAt("one", now), 2, 0)
	b.Append(key, entryAt("two", now), 2, 0)
	got := b.Append(key, entryAt("three", now), 2, 0)

	require.Len(t, got, 2)
	assert.Equal(t, "two", got[0].Body)
	assert.Equal(t, "three", got[1].Body)
	assert.Equal(t, got, b.Read(key, 0))
}

func TestAppendZeroLimitDisablesRecording(t *testing.T) {
	b := New()
	other := Key("default", "other")
	b.Append(other, entryAt("keep", time.Now()), 5, 0)

	assert.Nil(t, b.Append(Key("default", "g1"), entryAt("x", time.Now()), 0, 0))
	assert.Empty(t, b.Read(Key("default", "g1"), 0))
	assert.Len(t, b.Read(other, 0), 1, "other keys are untouched")
}

func TestTTLPrunesAllKeys(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := New(WithClock(func() time.Time { return now }))

	b.Append("a", entryAt("old-a", now.Add(-10*time.Minute)), 10, 0)
	b.Append("b", entryAt("old-b", now.Add(-10*time.Minute)), 10, 0)
	b.Append("b", entryAt("fresh-b", now.Add(-time.Minute)), 10, 0)

	got := b.Append("c", entryAt("new-c", now), 10, 5*time.Minute)
	require.Len(t, got, 1)

	assert.Empty(t, b.Read("a", 0))
	fresh := b.Read("b", 0)
	require.Len(t, fresh, 1)
	assert.Equal(t, "fresh-b", fresh[0].Body)
	assert.Equal(t, 2, b.Len())
}

func TestKeyCapEvictsOldestConversation(t *testing.T) {
	b := New(WithMaxKeys(2))
	now := time.Now()
	b.Append("k1", entryAt("1", now), 5, 0)
	b.Append("k2", entryAt("2", now), 5, 0)
	b.Append("k1", entryAt("1b", now), 5, 0) // does not move k1
	b.Append("k3", entryAt("3", now), 5, 0)

	assert.Empty(t, b.Read("k1", 0))
	assert.Len(t, b.Read("k2", 0), 1)
	assert.Len(t, b.Read("k3", 0), 1)
	assert.Equal(t, 2, b.Len())
}

func TestReadReturnsCopy(t *testing.T) {
	b := New()
	b.Append("k", entryAt("x", time.Now()), 5, 0)
	got := b.Read("k", 0)
	got[0].Body = "mutated"
	assert.Equal(t, "x", b.Read("k", 0)[0].Body)
}

func TestClearAndReset(t *testing.T) {
	b := New()
	for i := range 3 {
		b.Append("k"+strconv.Itoa(i), entryAt("x", time.Now()), 5, 0)
	}
	b.Clear("k0")
	assert.Empty(t, b.Read("k0", 0))
	assert.Equal(t, 2, b.Len())
	b.Reset()
	assert.Equal(t, 0, b.Len())
}

func TestFormatContext(t *testing.T) {
	assert.Equal(t, "hi", FormatContext(nil, "hi"))

	out := FormatContext([]Entry{{Sender: "bob", Body: "lunch?"}, {Sender: "eve", MediaURLs: []string{"u"}}}, "@bot where")
	assert.Contains(t, out, "bob: lunch?\n")
	assert.Contains(t, out, "eve: [media]\n")
	assert.Contains(t, out, "@bot where")
}
