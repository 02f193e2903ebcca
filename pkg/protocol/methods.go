package protocol

// Request methods handled by the bridge.
const (
	MethodOutbound = "outbound"
	MethodStatus   = "status"

	MethodSubagentSpawned = "subagent.spawned"
	MethodSubagentResult  = "subagent.result"
	MethodSubagentEnded   = "subagent.ended"

	MethodActionReact  = "action.react"
	MethodActionUnsend = "action.unsend"
)

// OutboundParams is the payload of MethodOutbound. Queue hands the message
// to the bus instead of waiting for delivery.
type OutboundParams struct {
	Channel   string            `json:"channel,omitempty"`
	AccountID string            `json:"account_id,omitempty"`
	To        string            `json:"to"`
	Text      string            `json:"text,omitempty"`
	Media     []MediaParams     `json:"media,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Queue     bool              `json:"queue,omitempty"`
}

// MediaParams is one outbound attachment.
type MediaParams struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

// SubagentSpawnedParams binds a conversation to a child session.
type SubagentSpawnedParams struct {
	AccountID       string `json:"account_id,omitempty"`
	To              string `json:"to"`
	ChildSessionKey string `json:"child_session_key"`
	AgentID         string `json:"agent_id"`
	Label           string `json:"label,omitempty"`
	TTLMs           int64  `json:"ttl_ms,omitempty"`
}

// SubagentResultParams delivers a child session's final text.
type SubagentResultParams struct {
	AccountID       string `json:"account_id,omitempty"`
	ChildSessionKey string `json:"child_session_key"`
	Text            string `json:"text"`
}

// SubagentEndedParams drops a child session's bindings.
type SubagentEndedParams struct {
	AccountID       string `json:"account_id,omitempty"`
	ChildSessionKey string `json:"child_session_key"`
}

// ActionParams addresses a message by reference: a short id, "msgId:cliMsgId",
// a raw id, or "last".
type ActionParams struct {
	Channel   string `json:"channel,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	To        string `json:"to"`
	Ref       string `json:"ref,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
}
