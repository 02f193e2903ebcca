package zalouser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/zalouser/internal/bus"
	"github.com/nextlevelbuilder/zalouser/internal/channels/zalouser/zca"
	"github.com/nextlevelbuilder/zalouser/internal/config"
	"github.com/nextlevelbuilder/zalouser/internal/history"
)

type sent struct {
	Thread  string
	IsGroup bool
	Kind    string
	Body    string
}

type fakeClient struct {
	mu      sync.Mutex
	sent    []sent
	actions []string
	fail    error // returned once by the next send
	n       int
}

func (f *fakeClient) record(s sent) (zca.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		err := f.fail
		f.fail = nil
		return zca.SendResult{}, err
	}
	f.n++
	f.sent = append(f.sent, s)
	return zca.SendResult{MsgID: strconv.Itoa(1000 + f.n), CliMsgID: strconv.Itoa(2000 + f.n)}, nil
}

func (f *fakeClient) SendText(_ context.Context, threadID string, isGroup bool, text string) (zca.SendResult, error) {
	return f.record(sent{threadID, isGroup, "text", text})
}

func (f *fakeClient) SendMedia(_ context.Context, threadID string, isGroup bool, kind zca.MediaKind, url, _ string) (zca.SendResult, error) {
	return f.record(sent{threadID, isGroup, string(kind), url})
}

func (f *fakeClient) SendLink(_ context.Context, threadID string, isGroup bool, url string) (zca.SendResult, error) {
	return f.record(sent{threadID, isGroup, "link", url})
}

func (f *fakeClient) React(_ context.Context, threadID string, _ bool, msgID, cliMsgID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, fmt.Sprintf("react %s %s %s %s", threadID, msgID, cliMsgID, emoji))
	return nil
}

func (f *fakeClient) Undo(_ context.Context, threadID string, _ bool, msgID, cliMsgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, fmt.Sprintf("undo %s %s %s", threadID, msgID, cliMsgID))
	return nil
}

func (f *fakeClient) Me(context.Context) (zca.Profile, error) {
	return zca.Profile{UserID: "bot", DisplayName: "Bot"}, nil
}

func (f *fakeClient) sends() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func newTestChannel(t *testing.T, mutate func(*config.ZaloUserConfig)) (*Channel, *bus.MessageBus, *fakeClient) {
	t.Helper()
	cfg := config.ZaloUserConfig{
		Enabled:        true,
		DMPolicy:       "open",
		GroupPolicy:    "open",
		DebounceMs:     intPtr(0),
		SendRatePerSec: -1,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	mb := bus.New()
	fc := &fakeClient{}
	ch := New(cfg, nil, mb, Deps{}, WithClient(fc))
	ch.setSelfUID("bot")
	ch.SetRunning(true)
	t.Cleanup(ch.debouncer.Stop)
	return ch, mb, fc
}

func consume(t *testing.T, mb *bus.MessageBus) (bus.InboundMessage, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	return mb.ConsumeInbound(ctx)
}

func dm(id, text string) InboundEvent {
	return InboundEvent{AccountID: "default", ThreadID: "u1", SenderID: "u1", SenderName: "Alice", MsgID: id, CliMsgID: "c" + id, Text: text, Timestamp: 1}
}

func groupMsg(id, sender, text string, mentions ...string) InboundEvent {
	return InboundEvent{AccountID: "default", ThreadID: "g1", IsGroup: true, SenderID: sender, SenderName: sender, MsgID: id, CliMsgID: "c" + id, Text: text, Mentions: mentions}
}

func TestDMPublishesToBus(t *testing.T) {
	ch, mb, _ := newTestChannel(t, nil)
	ch.handleInbound(dm("1", "hello"))

	msg, ok := consume(t, mb)
	require.True(t, ok)
	assert.Equal(t, ChannelName, msg.Channel)
	assert.Equal(t, "user:u1", msg.ChatID)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "agent:default:zalouser:direct:u1", msg.SessionKey)
	assert.Equal(t, "direct", msg.PeerKind)
	assert.Equal(t, "1", msg.Metadata[bus.MetaMessageID])
	assert.Equal(t, "Alice", msg.Metadata[bus.MetaSenderName])
	assert.Equal(t, "u1", msg.UserID)
}

func TestDMAllowlistWithoutEntriesDropsAll(t *testing.T) {
	ch, mb, _ := newTestChannel(t, func(c *config.ZaloUserConfig) { c.DMPolicy = "allowlist" })
	ch.handleInbound(dm("1", "hello"))
	_, ok := consume(t, mb)
	assert.False(t, ok)
}

func TestDMAllowlist(t *testing.T) {
	ch, mb, _ := newTestChannel(t, func(c *config.ZaloUserConfig) {
		c.DMPolicy = "allowlist"
		c.AllowFrom = config.FlexibleStringSlice{"u1"}
	})
	ch.handleInbound(dm("1", "hello"))
	_, ok := consume(t, mb)
	assert.True(t, ok)
}

func TestSelfMessagesAreRememberedButNotDispatched(t *testing.T) {
	ch, mb, _ := newTestChannel(t, nil)
	ev := dm("7", "mine")
	ev.IsSelf = true
	ch.handleInbound(ev)

	_, ok := consume(t, mb)
	assert.False(t, ok)
	e, ok := ch.cache.Latest("default", "u1", false)
	require.True(t, ok)
	assert.Equal(t, "7", e.MsgID)
}

func TestRedeliveredMessageIsDropped(t *testing.T) {
	ch, mb, _ := newTestChannel(t, nil)
	ch.handleInbound(dm("1", "hello"))
	ch.handleInbound(dm("1", "hello"))

	_, ok := consume(t, mb)
	require.True(t, ok)
	_, ok = consume(t, mb)
	assert.False(t, ok)
}

func TestGroupMentionGatingKeepsHistory(t *testing.T) {
	ch, mb, _ := newTestChannel(t, func(c *config.ZaloUserConfig) { c.RequireMention = boolPtr(true) })

	ch.handleInbound(groupMsg("1", "alice", "lunch?"))
	ch.handleInbound(groupMsg("2", "bob", "sure"))
	_, ok := consume(t, mb)
	require.False(t, ok, "unmentioned group messages are not dispatched")

	key := history.Key("default", "g1")
	require.Len(t, ch.history.Read(key, 0), 2)

	ch.handleInbound(groupMsg("3", "carol", "@Bot where?", "bot"))
	msg, ok := consume(t, mb)
	require.True(t, ok)
	assert.Equal(t, "group:g1", msg.ChatID)
	assert.Equal(t, "g1", msg.Metadata[bus.MetaGroupID])
	assert.Contains(t, msg.Content, "alice: lunch?")
	assert.Contains(t, msg.Content, "bob: sure")
	assert.Contains(t, msg.Content, "@Bot where?")
	assert.Empty(t, ch.history.Read(key, 0), "history is cleared after dispatch")
}

func TestGroupPolicyDisabled(t *testing.T) {
	ch, mb, _ := newTestChannel(t, func(c *config.ZaloUserConfig) { c.GroupPolicy = "disabled" })
	ch.handleInbound(groupMsg("1", "alice", "@Bot hi", "bot"))
	_, ok := consume(t, mb)
	assert.False(t, ok)
	assert.Empty(t, ch.history.Read(history.Key("default", "g1"), 0))
}

func TestDebounceCoalescesPerSender(t *testing.T) {
	ch, mb, _ := newTestChannel(t, func(c *config.ZaloUserConfig) { c.DebounceMs = intPtr(40) })

	ch.handleInbound(dm("1", "first"))
	ch.handleInbound(dm("2", "second"))

	msg, ok := consume(t, mb)
	require.True(t, ok)
	assert.Equal(t, "first\nsecond", msg.Content)
	assert.Equal(t, "1", msg.Metadata[bus.MetaMessageID])

	_, ok = consume(t, mb)
	assert.False(t, ok)
}

func TestDebounceKey(t *testing.T) {
	assert.Equal(t, "zalouser|default|group|g1|alice", debounceKey(groupMsg("1", "alice", "x")))
	assert.Equal(t, "zalouser|default|direct|u1|u1", debounceKey(dm("1", "x")))
}

func TestSendChunksAndSuppressesDuplicates(t *testing.T) {
	ch, _, fc := newTestChannel(t, func(c *config.ZaloUserConfig) { c.TextChunkLimit = 10 })
	ctx := context.Background()
	msg := bus.OutboundMessage{ChatID: "group:g1", Content: "aaaaaaaaaabbbbbbbbbbccc"}

	require.NoError(t, ch.Send(ctx, msg))
	got := fc.sends()
	require.Len(t, got, 3)
	assert.Equal(t, sent{"g1", true, "text", "aaaaaaaaaa"}, got[0])
	assert.Equal(t, "ccc", got[2].Body)

	require.NoError(t, ch.Send(ctx, msg), "a duplicate is skipped, not an error")
	assert.Len(t, fc.sends(), 3)

	msg.Metadata = map[string]string{bus.MetaIdempotencyKey: "run-2"}
	require.NoError(t, ch.Send(ctx, msg))
	assert.Len(t, fc.sends(), 6, "a new idempotency context sends again")
}

func TestSendRepeatedChunksAreDistinct(t *testing.T) {
	ch, _, fc := newTestChannel(t, func(c *config.ZaloUserConfig) { c.TextChunkLimit = 3 })
	require.NoError(t, ch.Send(context.Background(), bus.OutboundMessage{ChatID: "user:u1", Content: "hahhah"}))
	assert.Len(t, fc.sends(), 2)
}

func TestSendFailureCanBeRetried(t *testing.T) {
	ch, _, fc := newTestChannel(t, nil)
	fc.fail = errors.New("network down")
	msg := bus.OutboundMessage{ChatID: "user:u1", Content: "hi"}

	require.Error(t, ch.Send(context.Background(), msg))
	require.NoError(t, ch.Send(context.Background(), msg))
	assert.Len(t, fc.sends(), 1)
}

func TestSendMedia(t *testing.T) {
	ch, _, fc := newTestChannel(t, nil)
	err := ch.Send(context.Background(), bus.OutboundMessage{
		ChatID: "user:u1",
		Media: []bus.MediaAttachment{
			{URL: "https://x/a.png", ContentType: "image/png"},
			{URL: "https://x/b.pdf", ContentType: "application/pdf"},
		},
	})
	require.NoError(t, err)
	got := fc.sends()
	require.Len(t, got, 2)
	assert.Equal(t, "image", got[0].Kind)
	assert.Equal(t, "link", got[1].Kind)
}

func TestSendValidation(t *testing.T) {
	ch, _, _ := newTestChannel(t, nil)
	assert.Error(t, ch.Send(context.Background(), bus.OutboundMessage{ChatID: "  "}))
	assert.Error(t, ch.Send(context.Background(), bus.OutboundMessage{ChatID: "user:u1", AccountID: "other", Content: "x"}))

	ch.SetRunning(false)
	assert.Error(t, ch.Send(context.Background(), bus.OutboundMessage{ChatID: "user:u1", Content: "x"}))
}

func TestReactAndUnsendResolveThroughCache(t *testing.T) {
	ch, _, fc := newTestChannel(t, nil)
	ctx := context.Background()
	require.NoError(t, ch.Send(ctx, bus.OutboundMessage{ChatID: "user:u1", Content: "hi"}))

	require.NoError(t, ch.React(ctx, "", "user:u1", "last", "/-heart"))
	latest, ok := ch.cache.Latest("default", "u1", false)
	require.True(t, ok)
	require.NoError(t, ch.Unsend(ctx, "", "user:u1", strconv.Itoa(latest.ShortID)))
	require.NoError(t, ch.Unsend(ctx, "", "u:u1", "55:66"))

	assert.Equal(t, []string{
		"react u1 1001 2001 /-heart",
		"undo u1 1001 2001",
		"undo u1 55 66",
	}, fc.actions)

	assert.ErrorIs(t, ch.Unsend(ctx, "", "user:u1", "123456789"), ErrUnknownMessage)
	assert.ErrorIs(t, ch.React(ctx, "", "group:g9", "", "x"), ErrUnknownMessage)
}

func TestSubagentDelivery(t *testing.T) {
	ch, _, fc := newTestChannel(t, nil)
	ctx := context.Background()

	rec, err := ch.OnSubagentSpawned(SpawnRequest{To: "g:g1", ChildSessionKey: "child-1", AgentID: "researcher"})
	require.NoError(t, err)
	assert.Equal(t, "group:g1", rec.To)
	assert.Equal(t, "default", rec.AccountID)

	ok, err := ch.DeliverSubagentResult(ctx, "child-1", "", "done")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []sent{{"g1", true, "text", "done"}}, fc.sends())

	ok, err = ch.DeliverSubagentResult(ctx, "child-1", "", "again")
	require.NoError(t, err)
	assert.False(t, ok, "binding is dropped after delivery")

	_, err = ch.OnSubagentSpawned(SpawnRequest{To: " ", ChildSessionKey: "c", AgentID: "a"})
	assert.Error(t, err)
}

func TestOnSubagentEnded(t *testing.T) {
	ch, _, _ := newTestChannel(t, nil)
	_, err := ch.OnSubagentSpawned(SpawnRequest{To: "user:u1", ChildSessionKey: "child", AgentID: "a"})
	require.NoError(t, err)
	_, err = ch.OnSubagentSpawned(SpawnRequest{To: "user:u2", ChildSessionKey: "child", AgentID: "a"})
	require.NoError(t, err)

	assert.Equal(t, 2, ch.OnSubagentEnded("child", ""))
	assert.Zero(t, ch.OnSubagentEnded("child", ""))
	assert.Zero(t, ch.Bindings().Len())
}

func TestNewFromConfigValidates(t *testing.T) {
	_, err := NewFromConfig(config.ZaloUserConfig{}, bus.New(), Deps{})
	assert.Error(t, err)
	_, err = NewFromConfig(config.ZaloUserConfig{Enabled: true, DMPolicy: "pairing"}, bus.New(), Deps{})
	assert.Error(t, err)

	ch, err := NewFromConfig(config.ZaloUserConfig{Enabled: true, Profile: "work"}, bus.New(), Deps{})
	require.NoError(t, err)
	assert.Equal(t, "work", ch.runner.Profile)
	ch.debouncer.Stop()
}
