package zalouser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/zalouser/internal/bindings"
	"github.com/nextlevelbuilder/zalouser/internal/bus"
)

// SpawnRequest binds a conversation to a delegated child session.
type SpawnRequest = bindings.BindRequest

// Bindings exposes the subagent binding store.
func (c *Channel) Bindings() *bindings.Store { return c.bindings }

// OnSubagentSpawned records that the child session's completion belongs to
// the conversation req.To.
func (c *Channel) OnSubagentSpawned(req SpawnRequest) (bindings.Record, error) {
	accountID, err := c.account(req.AccountID)
	if err != nil {
		return bindings.Record{}, err
	}
	req.AccountID = accountID
	rec, ok := c.bindings.Bind(req)
	if !ok {
		return bindings.Record{}, fmt.Errorf("zalouser: invalid subagent binding for %q (session %q)", req.To, req.ChildSessionKey)
	}
	slog.Info("zalouser subagent bound",
		"to", rec.To,
		"session", rec.ChildSessionKey,
		"agent", rec.AgentID,
		"label", rec.Label,
	)
	return rec, nil
}

// DeliverSubagentResult sends text to the conversation that spawned the child
// session and drops the binding. It reports false when no live binding exists.
func (c *Channel) DeliverSubagentResult(ctx context.Context, childSessionKey, accountID, text string) (bool, error) {
	if accountID != "" {
		if _, err := c.account(accountID); err != nil {
			return false, err
		}
	}
	rec, ok := c.bindings.ResolveOriginBySession(childSessionKey, accountID)
	if !ok {
		slog.Debug("zalouser subagent result has no origin", "session", childSessionKey)
		return false, nil
	}

	err := c.Send(ctx, bus.OutboundMessage{
		Channel:   c.Name(),
		AccountID: rec.AccountID,
		ChatID:    rec.To,
		Content:   text,
		Metadata: map[string]string{
			bus.MetaSessionKey:     childSessionKey,
			bus.MetaIdempotencyKey: "subagent:" + childSessionKey,
		},
	})
	if err != nil {
		return false, fmt.Errorf("deliver subagent result: %w", err)
	}

	c.bindings.UnbindBySession(childSessionKey, rec.AccountID)
	slog.Info("zalouser subagent result delivered", "to", rec.To, "session", childSessionKey)
	return true, nil
}

// OnSubagentEnded drops every binding of the child session and returns how
// many were removed.
func (c *Channel) OnSubagentEnded(childSessionKey, accountID string) int {
	removed := c.bindings.UnbindBySession(childSessionKey, accountID)
	if len(removed) > 0 {
		slog.Info("zalouser subagent unbound", "session", childSessionKey, "count", len(removed))
	}
	return len(removed)
}
