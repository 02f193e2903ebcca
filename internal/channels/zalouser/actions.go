package zalouser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/zalouser/internal/target"
)

// ErrUnknownMessage is returned when a message reference cannot be resolved
// to both ids zca needs.
var ErrUnknownMessage = errors.New("zalouser: unknown message reference")

// React adds emoji to the message ref in conversation to.
func (c *Channel) React(ctx context.Context, accountID, to, ref, emoji string) error {
	t, msgID, cliMsgID, err := c.resolveAction(accountID, to, ref)
	if err != nil {
		return err
	}
	if strings.TrimSpace(emoji) == "" {
		return fmt.Errorf("zalouser react: empty emoji")
	}
	if err := c.client.React(ctx, t.ID, t.IsGroup(), msgID, cliMsgID, emoji); err != nil {
		return fmt.Errorf("zalouser react: %w", err)
	}
	return nil
}

// Unsend recalls a message this account sent.
func (c *Channel) Unsend(ctx context.Context, accountID, to, ref string) error {
	t, msgID, cliMsgID, err := c.resolveAction(accountID, to, ref)
	if err != nil {
		return err
	}
	if err := c.client.Undo(ctx, t.ID, t.IsGroup(), msgID, cliMsgID); err != nil {
		return fmt.Errorf("zalouser unsend: %w", err)
	}
	return nil
}

// resolveAction resolves ref through the message cache. An empty ref or
// "last" picks the latest message remembered for the conversation.
func (c *Channel) resolveAction(accountID, to, ref string) (target.Target, string, string, error) {
	t, ok := target.Parse(to)
	if !ok {
		return target.Target{}, "", "", fmt.Errorf("zalouser: invalid target %q", to)
	}
	account, err := c.account(accountID)
	if err != nil {
		return target.Target{}, "", "", err
	}

	ref = strings.TrimSpace(ref)
	var msgID, cliMsgID string
	if ref == "" || strings.EqualFold(ref, "last") {
		e, ok := c.cache.Latest(account, t.ID, t.IsGroup())
		if !ok {
			return target.Target{}, "", "", fmt.Errorf("%w: no recent message in %s", ErrUnknownMessage, t)
		}
		msgID, cliMsgID = e.MsgID, e.CliMsgID
	} else {
		r := c.cache.Resolve(account, ref)
		msgID, cliMsgID = r.MsgID, r.CliMsgID
		if r.Entry != nil && r.Entry.ThreadID != t.ID {
			return target.Target{}, "", "", fmt.Errorf("%w: %q belongs to another conversation", ErrUnknownMessage, ref)
		}
	}
	if msgID == "" || cliMsgID == "" {
		return target.Target{}, "", "", fmt.Errorf("%w: %q (use msgId:cliMsgId)", ErrUnknownMessage, ref)
	}
	return t, msgID, cliMsgID, nil
}
