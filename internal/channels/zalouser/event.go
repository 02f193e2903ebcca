package zalouser

import (
	"encoding/json"
	"strings"

	"github.com/nextlevelbuilder/zalouser/internal/channels/zalouser/zca"
	"github.com/nextlevelbuilder/zalouser/internal/target"
)

// InboundEvent is a normalized inbound Zalo message.
type InboundEvent struct {
	AccountID  string
	ThreadID   string
	IsGroup    bool
	SenderID   string
	SenderName string
	MsgID      string
	CliMsgID   string
	Text       string
	MediaPaths []string
	MediaURLs  []string
	MediaTypes []string
	Mentions   []string // mentioned user ids, @all excluded

	QuoteMsgID    string
	QuoteCliMsgID string
	QuoteText     string
	QuoteSender   string

	Timestamp int64 // unix ms
	IsSelf    bool
	Raw       json.RawMessage
}

// Target returns the conversation as a canonical target.
func (e InboundEvent) Target() target.Target {
	t, _ := target.FromThread(e.ThreadID, e.IsGroup)
	return t
}

// parseEvent normalizes a decoded listener message. selfUID marks messages
// sent by this account. Returns false when the payload carries nothing a
// conversation can use.
func parseEvent(accountID, selfUID string, m zca.Message) (InboundEvent, bool) {
	d := m.Data
	ev := InboundEvent{
		AccountID:  accountID,
		ThreadID:   m.ThreadID,
		IsGroup:    m.Type == zca.ThreadTypeGroup,
		SenderID:   d.UIDFrom,
		SenderName: strings.TrimSpace(d.DName),
		MsgID:      string(d.MsgID),
		CliMsgID:   string(d.CliMsgID),
		Text:       d.Content.Text(),
		Timestamp:  d.TS.Int64(),
		IsSelf:     m.IsSelf || (selfUID != "" && d.UIDFrom == selfUID),
		Raw:        append(json.RawMessage(nil), mustMarshal(m)...),
	}
	if ev.ThreadID == "" {
		return InboundEvent{}, false
	}

	if att := d.Content.ParseAttachment(); att != nil {
		if att.Href != "" {
			ev.MediaURLs = []string{att.Href}
			ev.MediaTypes = []string{att.MediaType(d.MsgType)}
		}
		ev.Text = d.Content.Placeholder(d.MsgType)
		if att.Description != "" && !att.IsImage() {
			ev.Text += "\n" + att.Description
		}
	}

	for _, mn := range d.Mentions {
		if mn == nil || mn.Type == zca.MentionAll || mn.UID == zca.MentionAllUID || mn.UID == "" {
			continue
		}
		ev.Mentions = append(ev.Mentions, mn.UID)
	}

	if q := d.Quote; q != nil {
		ev.QuoteMsgID = string(q.GlobalMsgID)
		ev.QuoteCliMsgID = string(q.CliMsgID)
		ev.QuoteText = q.Msg
		ev.QuoteSender = q.FromD
		if ev.QuoteSender == "" {
			ev.QuoteSender = q.OwnerID
		}
	}

	if strings.TrimSpace(ev.Text) == "" && len(ev.MediaURLs) == 0 {
		return InboundEvent{}, false
	}
	return ev, true
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
