// Package sessions builds and parses agent session keys.
//
// Session keys use the canonical format:
//
//	agent:{agentId}:{rest}
//
// Where {rest} depends on the session type:
//
//	DM:       {channel}:direct:{peerId}
//	Group:    {channel}:group:{groupId}
//	Account:  {channel}:{accountId}:{direct|group}:{peerId}
//	Subagent: subagent:{label}
//
// Examples:
//
//	agent:default:zalouser:direct:386246614
//	agent:default:zalouser:work:group:5521
//	agent:default:subagent:research-1
package sessions

import (
	"fmt"
	"strings"
)

// DefaultAgentID routes conversations when the host does not pick an agent.
const DefaultAgentID = "default"

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// BuildSessionKey builds the canonical agent session key for a channel conversation.
//
//	DM:    agent:{agentId}:{channel}:direct:{peerID}
//	Group: agent:{agentId}:{channel}:group:{chatID}
func BuildSessionKey(agentID, channel string, kind PeerKind, chatID string) string {
	if agentID == "" {
		agentID = DefaultAgentID
	}
	return fmt.Sprintf("agent:%s:%s:%s:%s", agentID, channel, kind, chatID)
}

// BuildAccountSessionKey scopes the session to one channel account. The
// default account keeps the short form so single-account keys stay stable.
//
//	agent:{agentId}:{channel}:{accountId}:{kind}:{chatID}
func BuildAccountSessionKey(agentID, channel, accountID string, kind PeerKind, chatID string) string {
	if accountID == "" || accountID == "default" {
		return BuildSessionKey(agentID, channel, kind, chatID)
	}
	if agentID == "" {
		agentID = DefaultAgentID
	}
	return fmt.Sprintf("agent:%s:%s:%s:%s:%s", agentID, channel, accountID, kind, chatID)
}

// BuildSubagentSessionKey builds the session key for a subagent.
//
//	agent:{agentId}:subagent:{label}
func BuildSubagentSessionKey(agentID, label string) string {
	return fmt.Sprintf("agent:%s:subagent:%s", agentID, label)
}

// ParseSessionKey extracts the agentID and rest from a canonical session key.
// Returns ("", "") if the key is not in the expected format.
func ParseSessionKey(key string) (agentID, rest string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "agent" {
		return "", ""
	}
	return parts[1], parts[2]
}

// IsSubagentSession checks if a session key indicates a subagent session.
func IsSubagentSession(key string) bool {
	_, rest := ParseSessionKey(key)
	return strings.HasPrefix(strings.ToLower(rest), "subagent:")
}

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDirect otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}
