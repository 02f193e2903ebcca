package bus

import "context"

// InboundMessage represents a (possibly merged) message received from a channel.
type InboundMessage struct {
	Channel    string            `json:"channel"`
	AccountID  string            `json:"account_id,omitempty"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	Media      []string          `json:"media,omitempty"`       // local media paths
	MediaURLs  []string          `json:"media_urls,omitempty"`  // remote media references
	MediaTypes []string          `json:"media_types,omitempty"` // MIME types, aligned best-effort with media
	SessionKey string            `json:"session_key"`
	PeerKind   string            `json:"peer_kind,omitempty"` // "direct" or "group"
	AgentID    string            `json:"agent_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	Timestamp  int64             `json:"timestamp,omitempty"` // unix ms
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel   string            `json:"channel"`
	AccountID string            `json:"account_id,omitempty"`
	ChatID    string            `json:"chat_id"` // target string, e.g. "user:123" or "group:456"
	Content   string            `json:"content"`
	Media     []MediaAttachment `json:"media,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"` // channel-specific metadata
}

// MediaAttachment represents a media file to be sent with a message.
type MediaAttachment struct {
	URL         string `json:"url"`                    // file path or URL
	ContentType string `json:"content_type,omitempty"` // MIME type (e.g. "image/jpeg", "video/mp4")
	Caption     string `json:"caption,omitempty"`
}

// Well-known metadata keys.
const (
	MetaMessageID      = "message_id"
	MetaCliMessageID   = "cli_message_id"
	MetaQuoteMessageID = "quote_message_id"
	MetaQuoteText      = "quote_text"
	MetaQuoteSender    = "quote_sender"
	MetaSenderName     = "sender_name"
	MetaGroupID        = "group_id"
	MetaIdempotencyKey = "idempotency_key"
	MetaReplyTo        = "reply_to"
	MetaSessionKey     = "session_key"
	MetaPlatform       = "platform"
)

// MessageHandler handles an inbound message from a specific channel.
type MessageHandler func(InboundMessage) error

// MessageRouter abstracts inbound/outbound message routing between channels and the agent runtime.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
