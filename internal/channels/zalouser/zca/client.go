package zca

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// MediaKind selects the zca send subcommand for an attachment.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaVoice MediaKind = "voice"
)

// MediaKindFor maps a MIME type to a send subcommand. Unknown types go out
// as links.
func MediaKindFor(contentType string) (MediaKind, bool) {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return MediaImage, true
	case strings.HasPrefix(contentType, "video/"):
		return MediaVideo, true
	case strings.HasPrefix(contentType, "audio/"):
		return MediaVoice, true
	}
	return "", false
}

// SendResult identifies a delivered message. Either id may be empty when the
// CLI output could not be parsed.
type SendResult struct {
	MsgID    string `json:"msgId"`
	CliMsgID string `json:"cliMsgId"`
}

// Profile is the logged-in account as reported by `me info`.
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Client wraps Runner with typed zca commands.
type Client struct {
	Runner *Runner
}

// NewClient returns a client for r.
func NewClient(r *Runner) *Client { return &Client{Runner: r} }

// SendText sends one text message.
func (c *Client) SendText(ctx context.Context, threadID string, isGroup bool, text string) (SendResult, error) {
	return c.send(ctx, withGroup([]string{"msg", "send", threadID, text}, isGroup))
}

// SendMedia sends an image, video or voice note by URL.
func (c *Client) SendMedia(ctx context.Context, threadID string, isGroup bool, kind MediaKind, url, caption string) (SendResult, error) {
	args := []string{"msg", string(kind), threadID, "-u", url}
	if caption != "" {
		args = append(args, "-m", caption)
	}
	return c.send(ctx, withGroup(args, isGroup))
}

// SendLink sends a URL with preview.
func (c *Client) SendLink(ctx context.Context, threadID string, isGroup bool, url string) (SendResult, error) {
	return c.send(ctx, withGroup([]string{"msg", "link", threadID, url}, isGroup))
}

// React adds an emoji reaction to a message.
func (c *Client) React(ctx context.Context, threadID string, isGroup bool, msgID, cliMsgID, emoji string) error {
	_, err := c.exec(ctx, withGroup([]string{"msg", "react", threadID, msgID, cliMsgID, emoji}, isGroup))
	return err
}

// Undo recalls a message sent by this account.
func (c *Client) Undo(ctx context.Context, threadID string, isGroup bool, msgID, cliMsgID string) error {
	_, err := c.exec(ctx, withGroup([]string{"msg", "undo", threadID, msgID, cliMsgID}, isGroup))
	return err
}

// Me returns the logged-in profile.
func (c *Client) Me(ctx context.Context) (Profile, error) {
	res, err := c.exec(ctx, []string{"me", "info"})
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := json.Unmarshal([]byte(lastJSONLine(res.Stdout)), &p); err != nil {
		return Profile{}, fmt.Errorf("decode me info: %w", err)
	}
	if p.UserID == "" {
		return Profile{}, fmt.Errorf("me info: missing userId")
	}
	return p, nil
}

func (c *Client) send(ctx context.Context, args []string) (SendResult, error) {
	res, err := c.exec(ctx, args)
	if err != nil {
		return SendResult{}, err
	}
	var out SendResult
	// Output shape varies across zca versions; ids are best-effort.
	_ = json.Unmarshal([]byte(lastJSONLine(res.Stdout)), &out)
	return out, nil
}

// exec runs args and turns a non-zero exit into an error.
func (c *Client) exec(ctx context.Context, args []string) (Result, error) {
	res, err := c.Runner.Run(ctx, Request{Args: args})
	if err != nil {
		return res, fmt.Errorf("zca %s: %w", strings.Join(args[:min(2, len(args))], " "), err)
	}
	if !res.OK() {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(res.Stdout)
		}
		return res, fmt.Errorf("zca %s: exit %d: %s", strings.Join(args[:min(2, len(args))], " "), res.ExitCode, msg)
	}
	return res, nil
}

func withGroup(args []string, isGroup bool) []string {
	if isGroup {
		return append(args, "-g")
	}
	return args
}

func lastJSONLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); strings.HasPrefix(l, "{") {
			return l
		}
	}
	return "{}"
}
