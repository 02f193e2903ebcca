// Package channels provides the channel abstraction layer between chat
// platforms and the host agent runtime.
//
// Channels publish inbound messages to the bus and receive outbound messages
// from the Manager. Shared behavior lives in BaseChannel:
//   - DM/Group policies (allowlist, open, disabled)
//   - Allowlist matching with "id|username" compound ids
package channels

import (
	"context"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/zalouser/internal/bus"
)

// InternalChannels are system channels excluded from outbound dispatch.
var InternalChannels = map[string]bool{
	"cli":      true,
	"system":   true,
	"subagent": true,
}

// IsInternalChannel checks if a channel name is internal.
func IsInternalChannel(name string) bool {
	return InternalChannels[name]
}

// DMPolicy controls how DMs from unknown senders are handled.
type DMPolicy string

const (
	DMPolicyAllowlist DMPolicy = "allowlist" // Only whitelisted senders
	DMPolicyOpen      DMPolicy = "open"      // Accept all
	DMPolicyDisabled  DMPolicy = "disabled"  // Reject all DMs
)

// GroupPolicy controls how group messages are handled.
type GroupPolicy string

const (
	GroupPolicyOpen      GroupPolicy = "open"      // Accept all groups
	GroupPolicyAllowlist GroupPolicy = "allowlist" // Only whitelisted groups
	GroupPolicyDisabled  GroupPolicy = "disabled"  // No group messages
)

// Channel defines the interface that all channel implementations must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g., "zalouser").
	Name() string

	// Start begins listening for messages. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the channel.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool

	// IsAllowed checks if a sender is permitted by the channel's allowlist.
	IsAllowed(senderID string) bool
}

// ActionChannel extends Channel with message actions addressed by a message
// reference (short id, "msgId:cliMsgId", a raw id, or "last").
type ActionChannel interface {
	Channel
	React(ctx context.Context, accountID, to, ref, emoji string) error
	Unsend(ctx context.Context, accountID, to, ref string) error
}

// BaseChannel provides shared functionality for all channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	running   bool
	allowList []string
	agentID   string // explicit agent route (empty = host default)
}

// NewBaseChannel creates a new BaseChannel with the given parameters.
func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       msgBus,
		allowList: allowList,
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// SetName overrides the channel name (multi-account setups).
func (c *BaseChannel) SetName(name string) { c.name = name }

// AgentID returns the explicit agent ID for this channel.
func (c *BaseChannel) AgentID() string { return c.agentID }

// SetAgentID sets the explicit agent ID for routing.
func (c *BaseChannel) SetAgentID(id string) { c.agentID = id }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// HasAllowList returns true if an allowlist is configured (non-empty).
func (c *BaseChannel) HasAllowList() bool { return len(c.allowList) > 0 }

// IsAllowed checks if a sender is permitted by the allowlist.
// Supports compound senderID format: "123456|username".
// Empty allowlist means all senders are allowed.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	return MatchAllowList(c.allowList, senderID)
}

// MatchAllowList reports whether id is in list. An empty list allows all.
func MatchAllowList(list []string, senderID string) bool {
	if len(list) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range list {
		// Strip leading "@" from allowed value for username matching
		trimmed := strings.TrimPrefix(strings.TrimSpace(allowed), "@")
		allowedID := trimmed
		allowedUser := ""
		if idx := strings.Index(trimmed, "|"); idx > 0 {
			allowedID = trimmed[:idx]
			allowedUser = trimmed[idx+1:]
		}

		if senderID == allowed ||
			idPart == allowed ||
			senderID == trimmed ||
			idPart == trimmed ||
			idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == allowed || userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}

	return false
}

// CheckPolicy evaluates a DM/Group policy value against an allowlist.
// Returns true if the message should be accepted.
func CheckPolicy(policy string, allowList []string, id string) bool {
	switch policy {
	case "disabled":
		return false
	case "allowlist":
		// An allowlist policy with no entries admits nobody.
		return len(allowList) > 0 && MatchAllowList(allowList, id)
	default: // "open"
		return true
	}
}

// Publish stamps channel identity onto msg and hands it to the bus.
func (c *BaseChannel) Publish(msg bus.InboundMessage) {
	msg.Channel = c.name
	if msg.AgentID == "" {
		msg.AgentID = c.agentID
	}
	if msg.UserID == "" {
		// Strip "|username" suffix if present.
		msg.UserID = msg.SenderID
		if idx := strings.IndexByte(msg.SenderID, '|'); idx > 0 {
			msg.UserID = msg.SenderID[:idx]
		}
	}
	c.bus.PublishInbound(msg)
}

// Truncate shortens s to maxWidth display cells, appending "..." if truncated.
func Truncate(s string, maxWidth int) string {
	return runewidth.Truncate(s, maxWidth, "...")
}
