package zalouser

import (
	"log/slog"
	"slices"

	"github.com/nextlevelbuilder/zalouser/internal/channels"
)

// verdict is what the inbound pipeline does with a message after policy.
type verdict int

const (
	verdictDrop     verdict = iota
	verdictHistory          // group message kept only as context
	verdictDispatch
)

// checkPolicy enforces dm/group policy and @mention gating.
func (c *Channel) checkPolicy(ev InboundEvent) verdict {
	if !ev.IsGroup {
		if !channels.CheckPolicy(c.dmPolicy, c.cfg.AllowFrom, ev.SenderID) {
			slog.Debug("zalouser DM rejected by policy", "policy", c.dmPolicy, "sender_id", ev.SenderID)
			return verdictDrop
		}
		return verdictDispatch
	}

	if !channels.CheckPolicy(c.groupPolicy, c.cfg.GroupAllowFrom, ev.ThreadID) {
		slog.Debug("zalouser group message rejected by policy", "policy", c.groupPolicy, "group_id", ev.ThreadID)
		return verdictDrop
	}

	if c.requireMention && !c.mentionsSelf(ev) {
		slog.Debug("zalouser group message not mentioned, kept as history",
			"group_id", ev.ThreadID,
			"sender_id", ev.SenderID,
		)
		return verdictHistory
	}
	return verdictDispatch
}

func (c *Channel) mentionsSelf(ev InboundEvent) bool {
	uid := c.selfUID()
	return uid != "" && slices.Contains(ev.Mentions, uid)
}
