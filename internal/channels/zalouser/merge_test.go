package zalouser

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/zalouser/internal/channels/zalouser/zca"
)

func TestMergeLastCommandWins(t *testing.T) {
	items := []InboundEvent{
		{Text: "hello", MsgID: "1"},
		{Text: "hello", MsgID: "2"},
		{Text: "/status", MsgID: "3"},
	}
	assert.Equal(t, "/status", mergeEvents(items).Text)

	items[2].Text = "@Bot what now"
	assert.Equal(t, "@Bot what now", mergeEvents(items).Text)
}

func TestMergeJoinsUniqueTexts(t *testing.T) {
	items := []InboundEvent{
		{Text: " a ", MsgID: "1", Timestamp: 30, Raw: json.RawMessage(`1`)},
		{Text: "", CliMsgID: "c2", QuoteText: "q", Timestamp: 50, Raw: json.RawMessage(`2`),
			MediaURLs: []string{"u1"}, MediaTypes: []string{"image/*"}, Mentions: []string{"bot"}},
		{Text: "b", MsgID: "3", CliMsgID: "c3", Timestamp: 40, Raw: json.RawMessage(`3`),
			MediaURLs: []string{"u1", "u2"}, Mentions: []string{"bot", "x"}},
		{Text: "a", Raw: json.RawMessage(`4`)},
	}
	got := mergeEvents(items)

	assert.Equal(t, "a\nb", got.Text)
	assert.Equal(t, "1", got.MsgID, "first non-empty msg id")
	assert.Equal(t, "c2", got.CliMsgID, "fields are filled independently")
	assert.Equal(t, "q", got.QuoteText)
	assert.Equal(t, int64(50), got.Timestamp)
	assert.Equal(t, json.RawMessage(`4`), got.Raw)
	assert.Equal(t, []string{"u1", "u2"}, got.MediaURLs)
	assert.Equal(t, []string{"bot", "x"}, got.Mentions)
}

func TestMergeSingleEntryPassesThrough(t *testing.T) {
	in := InboundEvent{Text: "  spaced  ", MediaURLs: []string{"u", "u"}}
	assert.Equal(t, in, mergeEvents([]InboundEvent{in}))
}

func TestMergeTimestampFallsBackToFirst(t *testing.T) {
	got := mergeEvents([]InboundEvent{{Text: "x", Timestamp: -1}, {Text: "y"}})
	assert.Equal(t, int64(-1), got.Timestamp)
}

func TestParseEvent(t *testing.T) {
	msg := zca.Message{
		Type:     zca.ThreadTypeGroup,
		ThreadID: "g1",
		Data: zca.MessageData{
			MsgID:    "10",
			CliMsgID: "20",
			UIDFrom:  "u1",
			DName:    " Alice ",
			TS:       "1700000000000",
			Mentions: []*zca.Mention{{UID: "-1", Type: zca.MentionAll}, {UID: "bot"}},
			Quote:    &zca.Quote{GlobalMsgID: "5", OwnerID: "u2", Msg: "earlier"},
		},
	}
	text := "@Bot hi"
	msg.Data.Content.String = &text

	ev, ok := parseEvent("acc", "bot", msg)
	require.True(t, ok)
	assert.True(t, ev.IsGroup)
	assert.Equal(t, "Alice", ev.SenderName)
	assert.Equal(t, []string{"bot"}, ev.Mentions)
	assert.Equal(t, "u2", ev.QuoteSender)
	assert.Equal(t, int64(1_700_000_000_000), ev.Timestamp)
	assert.False(t, ev.IsSelf)
	assert.Equal(t, "group:g1", ev.Target().String())

	msg.Data.UIDFrom = "bot"
	ev, ok = parseEvent("acc", "bot", msg)
	require.True(t, ok)
	assert.True(t, ev.IsSelf)

	empty := ""
	msg.Data.Content.String = &empty
	_, ok = parseEvent("acc", "bot", msg)
	assert.False(t, ok)
}

func TestParseEventAttachment(t *testing.T) {
	var msg zca.Message
	require.NoError(t, json.Unmarshal([]byte(`{"type":0,"threadId":"u1","data":{
		"msgId":"1","uidFrom":"u1","msgType":"chat.photo",
		"content":{"title":"cat","href":"https://f1.zdn.vn/jpg/a"}}}`), &msg))

	ev, ok := parseEvent("acc", "bot", msg)
	require.True(t, ok)
	assert.Equal(t, []string{"https://f1.zdn.vn/jpg/a"}, ev.MediaURLs)
	assert.Equal(t, []string{"image/*"}, ev.MediaTypes)
	assert.Equal(t, "[User sent an image: cat]", ev.Text)
}

func TestChunkText(t *testing.T) {
	assert.Empty(t, chunkText("", 10))
	assert.Equal(t, []string{"short"}, chunkText("short", 10))
	assert.Equal(t, []string{"abcdefghij", "klm"}, chunkText("abcdefghijklm", 10))
	assert.Equal(t, []string{"abcdefg\n", "hijkl"}, chunkText("abcdefg\nhijkl", 10))
	assert.Equal(t, []string{"ờờờ", "ờờ"}, chunkText("ờờờờờ", 3), "limit counts runes")
}
