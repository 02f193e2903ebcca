package methods

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/zalouser/internal/bindings"
	"github.com/nextlevelbuilder/zalouser/internal/gateway"
	"github.com/nextlevelbuilder/zalouser/pkg/protocol"
)

// SubagentRouter routes delegated-session completions back to conversations.
type SubagentRouter interface {
	OnSubagentSpawned(req bindings.BindRequest) (bindings.Record, error)
	DeliverSubagentResult(ctx context.Context, childSessionKey, accountID, text string) (bool, error)
	OnSubagentEnded(childSessionKey, accountID string) int
}

// SubagentMethods handles the subagent lifecycle hooks.
type SubagentMethods struct {
	router SubagentRouter
}

// NewSubagentMethods creates the handler set.
func NewSubagentMethods(r SubagentRouter) *SubagentMethods {
	return &SubagentMethods{router: r}
}

// Register registers the subagent methods.
func (m *SubagentMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodSubagentSpawned, m.handleSpawned)
	router.Register(protocol.MethodSubagentResult, m.handleResult)
	router.Register(protocol.MethodSubagentEnded, m.handleEnded)
}

func (m *SubagentMethods) handleSpawned(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.SubagentSpawnedParams
	if !decodeParams(client, req, &params) {
		return
	}
	rec, err := m.router.OnSubagentSpawned(bindings.BindRequest{
		AccountID:       params.AccountID,
		To:              params.To,
		ChildSessionKey: params.ChildSessionKey,
		AgentID:         params.AgentID,
		Label:           params.Label,
		TTL:             time.Duration(params.TTLMs) * time.Millisecond,
	})
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, rec))
}

func (m *SubagentMethods) handleResult(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.SubagentResultParams
	if !decodeParams(client, req, &params) {
		return
	}
	delivered, err := m.router.DeliverSubagentResult(ctx, params.ChildSessionKey, params.AccountID, params.Text)
	if err != nil {
		slog.Warn("subagent result delivery failed", "session", params.ChildSessionKey, "error", err)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"delivered": delivered}))
}

func (m *SubagentMethods) handleEnded(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.SubagentEndedParams
	if !decodeParams(client, req, &params) {
		return
	}
	n := m.router.OnSubagentEnded(params.ChildSessionKey, params.AccountID)
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"removed": n}))
}
