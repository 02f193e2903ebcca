package zalouser

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/zalouser/internal/bus"
	"github.com/nextlevelbuilder/zalouser/internal/channels"
	"github.com/nextlevelbuilder/zalouser/internal/channels/zalouser/zca"
	"github.com/nextlevelbuilder/zalouser/internal/history"
	"github.com/nextlevelbuilder/zalouser/internal/msgcache"
	"github.com/nextlevelbuilder/zalouser/internal/sessions"
)

func (c *Channel) handlers() zca.StreamHandlers {
	return zca.StreamHandlers{
		OnJSONLine: c.onEvent,
		OnStderrLine: func(line string) {
			slog.Debug("zalouser zca output", "line", line)
		},
	}
}

func (c *Channel) onEvent(ev zca.Event) {
	if ev.IsConnected() {
		slog.Info("zalouser connected", "account", c.accountID)
		return
	}
	if ev.IsLifecycle() {
		slog.Debug("zalouser lifecycle event", "event", ev.Event)
		return
	}
	msg, err := zca.DecodeMessage(ev)
	if err != nil {
		slog.Debug("zalouser: skipping undecodable event", "error", err)
		return
	}
	in, ok := parseEvent(c.accountID, c.selfUID(), msg)
	if !ok {
		return
	}
	c.handleInbound(in)
}

// handleInbound runs one normalized message through cache, dedupe, policy
// and the debouncer.
func (c *Channel) handleInbound(ev InboundEvent) {
	if ev.MsgID != "" || ev.CliMsgID != "" {
		c.cache.Remember(msgcache.Ref{
			AccountID: ev.AccountID,
			ThreadID:  ev.ThreadID,
			IsGroup:   ev.IsGroup,
			MsgID:     ev.MsgID,
			CliMsgID:  ev.CliMsgID,
			Timestamp: ev.Timestamp,
			Preview:   ev.Text,
		})
	}
	if ev.IsSelf {
		return
	}
	if id := ev.MsgID; id != "" && c.seen.IsDuplicate(ev.AccountID+"|"+ev.ThreadID+"|"+id) {
		slog.Debug("zalouser duplicate inbound dropped", "thread", ev.ThreadID, "msg_id", id)
		return
	}

	switch c.checkPolicy(ev) {
	case verdictDrop:
		return
	case verdictHistory:
		c.recordHistory(ev)
		return
	}

	slog.Debug("zalouser message received",
		"thread", ev.ThreadID,
		"group", ev.IsGroup,
		"sender", ev.SenderID,
		"preview", channels.Truncate(ev.Text, 50),
	)
	c.debouncer.Enqueue(ev)
}

func (c *Channel) recordHistory(ev InboundEvent) {
	sender := ev.SenderName
	if sender == "" {
		sender = ev.SenderID
	}
	c.history.Append(history.Key(ev.AccountID, ev.ThreadID), history.Entry{
		Sender:     sender,
		Body:       ev.Text,
		Timestamp:  ev.Timestamp,
		MessageID:  ev.MsgID,
		MediaPaths: ev.MediaPaths,
		MediaURLs:  ev.MediaURLs,
		MediaTypes: ev.MediaTypes,
	}, c.historyLimit, 0)
}

// debounceKey scopes coalescing to one sender within one conversation.
func debounceKey(ev InboundEvent) string {
	kind := "direct"
	if ev.IsGroup {
		kind = "group"
	}
	return ChannelName + "|" + ev.AccountID + "|" + kind + "|" + ev.ThreadID + "|" + ev.SenderID
}

func (c *Channel) flush(ctx context.Context, _ string, items []InboundEvent) error {
	ev := mergeEvents(items)
	_, span := tracer.Start(ctx, "zalouser.inbound.flush", trace.WithAttributes(
		attribute.Int("zalouser.batch_size", len(items)),
		attribute.Bool("zalouser.group", ev.IsGroup),
	))
	defer span.End()

	c.dispatch(ev)
	return nil
}

// dispatch publishes a merged event. Group messages carry the pending
// history as context, and the history is cleared.
func (c *Channel) dispatch(ev InboundEvent) {
	body := ev.Text
	if ev.IsGroup {
		key := history.Key(ev.AccountID, ev.ThreadID)
		body = history.FormatContext(c.history.Read(key, 0), body)
		c.history.Clear(key)
	}

	kind := sessions.PeerKindFromGroup(ev.IsGroup)
	metadata := map[string]string{
		bus.MetaPlatform: ChannelName,
	}
	setMeta(metadata, bus.MetaMessageID, ev.MsgID)
	setMeta(metadata, bus.MetaCliMessageID, ev.CliMsgID)
	setMeta(metadata, bus.MetaSenderName, ev.SenderName)
	setMeta(metadata, bus.MetaQuoteMessageID, ev.QuoteMsgID)
	setMeta(metadata, bus.MetaQuoteText, ev.QuoteText)
	setMeta(metadata, bus.MetaQuoteSender, ev.QuoteSender)
	if ev.IsGroup {
		metadata[bus.MetaGroupID] = ev.ThreadID
	}

	c.Publish(bus.InboundMessage{
		AccountID:  ev.AccountID,
		SenderID:   ev.SenderID,
		ChatID:     ev.Target().String(),
		Content:    body,
		Media:      ev.MediaPaths,
		MediaURLs:  ev.MediaURLs,
		MediaTypes: ev.MediaTypes,
		SessionKey: sessions.BuildAccountSessionKey(c.AgentID(), c.Name(), ev.AccountID, kind, ev.ThreadID),
		PeerKind:   string(kind),
		Timestamp:  ev.Timestamp,
		Metadata:   metadata,
	})
}

func setMeta(m map[string]string, k, v string) {
	if v != "" {
		m[k] = v
	}
}
