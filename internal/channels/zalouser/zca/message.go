package zca

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// ThreadType distinguishes direct chats from groups in listener output.
type ThreadType int

const (
	ThreadTypeUser  ThreadType = 0
	ThreadTypeGroup ThreadType = 1
)

// Message is one raw listener payload (`listen -r`).
type Message struct {
	Type     ThreadType  `json:"type"`
	ThreadID string      `json:"threadId"`
	IsSelf   bool        `json:"isSelf"`
	Data     MessageData `json:"data"`
}

// MessageData is the Zalo message body.
type MessageData struct {
	MsgID    FlexInt    `json:"msgId"`
	CliMsgID FlexInt    `json:"cliMsgId"`
	UIDFrom  string     `json:"uidFrom"`
	IDTo     string     `json:"idTo"`
	DName    string     `json:"dName"`
	TS       FlexInt    `json:"ts"`
	MsgType  string     `json:"msgType"`
	Content  Content    `json:"content"`
	Mentions []*Mention `json:"mentions,omitempty"`
	Quote    *Quote     `json:"quote,omitempty"`
}

// Mention is an @mention in a group message.
type Mention struct {
	UID  string      `json:"uid"` // "-1" for @all
	Pos  int         `json:"pos"`
	Len  int         `json:"len"`
	Type MentionType `json:"type"`
}

// MentionType distinguishes individual vs @all mentions.
type MentionType int

const (
	MentionEach   MentionType = 0
	MentionAll    MentionType = 1
	MentionAllUID             = "-1"
)

// Quote is the message being replied to.
type Quote struct {
	GlobalMsgID FlexInt `json:"globalMsgId"`
	CliMsgID    FlexInt `json:"cliMsgId"`
	OwnerID     string  `json:"ownerId"`
	FromD       string  `json:"fromD"`
	Msg         string  `json:"msg"`
}

// FlexInt accepts a JSON number or numeric string and keeps the decimal text.
type FlexInt string

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexInt(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexInt(n.String())
	return nil
}

// Int64 parses the value, returning 0 when it is not numeric.
func (f FlexInt) Int64() int64 {
	n, _ := strconv.ParseInt(string(f), 10, 64)
	return n
}

// Content is a plain string for text messages and an object for attachments.
type Content struct {
	String *string
	Raw    json.RawMessage
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.String = &s
		return nil
	}
	c.Raw = slices.Clone(data)
	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.String != nil {
		return json.Marshal(c.String)
	}
	if c.Raw != nil {
		return c.Raw, nil
	}
	return []byte("null"), nil
}

// Text returns the plain text, or "" for attachments.
func (c Content) Text() string {
	if c.String != nil {
		return *c.String
	}
	return ""
}

// Attachment holds the fields of a non-text content object.
type Attachment struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Href        string `json:"href"`
	Thumb       string `json:"thumb"`
}

// ParseAttachment decodes attachment content. Returns nil for text.
func (c Content) ParseAttachment() *Attachment {
	if c.Raw == nil {
		return nil
	}
	var att Attachment
	if json.Unmarshal(c.Raw, &att) != nil {
		return &Attachment{}
	}
	return &att
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// IsImage reports whether the href points at an image, by extension or by
// Zalo CDN path (e.g. /jpg/).
func (a *Attachment) IsImage() bool {
	if a == nil || a.Href == "" {
		return false
	}
	path := strings.SplitN(a.Href, "?", 2)[0]
	if imageExts[strings.ToLower(filepath.Ext(path))] {
		return true
	}
	lower := strings.ToLower(path)
	return strings.Contains(lower, "/jpg/") || strings.Contains(lower, "/png/") ||
		strings.Contains(lower, "/gif/") || strings.Contains(lower, "/webp/")
}

// MediaType guesses a MIME type for the attachment.
func (a *Attachment) MediaType(msgType string) string {
	switch {
	case a.IsImage() || strings.Contains(msgType, "photo"):
		return "image/*"
	case strings.Contains(msgType, "video"):
		return "video/*"
	case strings.Contains(msgType, "voice"):
		return "audio/*"
	}
	return "application/octet-stream"
}

// Placeholder is the text used when a message carries only an attachment.
func (c Content) Placeholder(msgType string) string {
	att := c.ParseAttachment()
	if att == nil {
		return ""
	}
	switch {
	case att.IsImage() || strings.Contains(msgType, "photo"):
		if att.Title != "" {
			return fmt.Sprintf("[User sent an image: %s]", att.Title)
		}
		return "[User sent an image]"
	case strings.Contains(msgType, "sticker"):
		return "[User sent a sticker]"
	case att.Href != "":
		if att.Title != "" {
			return fmt.Sprintf("[User sent a file: %s]", att.Title)
		}
		return "[User sent a file]"
	}
	return "[User sent a non-text message]"
}

// DecodeMessage parses a listener event. Lifecycle payloads are rejected.
func DecodeMessage(ev Event) (Message, error) {
	if ev.IsLifecycle() {
		return Message{}, fmt.Errorf("lifecycle event %q", ev.Event)
	}
	var m Message
	if err := json.Unmarshal(ev.Raw, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.ThreadID == "" {
		// Older builds omit threadId: derive it like the web client does.
		if m.Type == ThreadTypeGroup {
			m.ThreadID = m.Data.IDTo
		} else {
			m.ThreadID = m.Data.UIDFrom
		}
	}
	if m.ThreadID == "" {
		return Message{}, fmt.Errorf("decode message: missing thread id")
	}
	return m, nil
}

// Mentions reports whether uid is individually @mentioned. @all does not count.
func (m Message) Mentions(uid string) bool {
	if uid == "" {
		return false
	}
	for _, mn := range m.Data.Mentions {
		if mn == nil || mn.Type == MentionAll || mn.UID == MentionAllUID {
			continue
		}
		if mn.UID == uid {
			return true
		}
	}
	return false
}
