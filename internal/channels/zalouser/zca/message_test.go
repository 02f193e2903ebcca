package zca

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) Message {
	t.Helper()
	ev, ok := parseEventLine([]byte(raw))
	require.True(t, ok)
	m, err := DecodeMessage(ev)
	require.NoError(t, err)
	return m
}

func TestDecodeGroupMessage(t *testing.T) {
	m := decode(t, `{"type":1,"threadId":"g1","isSelf":false,"data":{
		"msgId":"100","cliMsgId":200,"uidFrom":"u1","idTo":"g1","dName":"Alice","ts":"1700000000000",
		"content":"@Bot hi","mentions":[{"uid":"-1","type":1},{"uid":"bot","pos":0,"len":4,"type":0}],
		"quote":{"globalMsgId":99,"cliMsgId":"98","ownerId":"u2","fromD":"Bob","msg":"earlier"}}}`)

	assert.Equal(t, ThreadTypeGroup, m.Type)
	assert.Equal(t, "200", string(m.Data.CliMsgID))
	assert.Equal(t, int64(1_700_000_000_000), m.Data.TS.Int64())
	assert.Equal(t, "@Bot hi", m.Data.Content.Text())
	assert.True(t, m.Mentions("bot"))
	assert.False(t, m.Mentions("-1"))
	require.NotNil(t, m.Data.Quote)
	assert.Equal(t, "99", string(m.Data.Quote.GlobalMsgID))
}

func TestDecodeDerivesThreadID(t *testing.T) {
	m := decode(t, `{"type":0,"data":{"msgId":"1","uidFrom":"u9","content":"x"}}`)
	assert.Equal(t, "u9", m.ThreadID)
}

func TestDecodeRejectsLifecycle(t *testing.T) {
	ev, ok := parseEventLine([]byte(`{"kind":"lifecycle","event":"connected"}`))
	require.True(t, ok)
	_, err := DecodeMessage(ev)
	assert.Error(t, err)
}

func TestContentAttachment(t *testing.T) {
	var c Content
	require.NoError(t, json.Unmarshal([]byte(`{"title":"cat","href":"https://f20-zpc.zdn.vn/jpg/abc"}`), &c))
	assert.Empty(t, c.Text())
	att := c.ParseAttachment()
	require.NotNil(t, att)
	assert.True(t, att.IsImage())
	assert.Equal(t, "[User sent an image: cat]", c.Placeholder("chat.photo"))

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"cat","href":"https://f20-zpc.zdn.vn/jpg/abc"}`, string(out))
}

func TestMediaKindFor(t *testing.T) {
	k, ok := MediaKindFor("image/png")
	assert.True(t, ok)
	assert.Equal(t, MediaImage, k)
	_, ok = MediaKindFor("application/pdf")
	assert.False(t, ok)
}
