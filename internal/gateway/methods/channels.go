// Package methods implements the bridge's request handlers.
package methods

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/zalouser/internal/bus"
	"github.com/nextlevelbuilder/zalouser/internal/channels"
	"github.com/nextlevelbuilder/zalouser/internal/gateway"
	"github.com/nextlevelbuilder/zalouser/pkg/protocol"
)

// ChannelMethods handles outbound sends, message actions and status.
type ChannelMethods struct {
	mgr            *channels.Manager
	msgBus         *bus.MessageBus
	defaultChannel string
}

// NewChannelMethods creates the handler set. Requests that omit a channel go
// to defaultChannel.
func NewChannelMethods(mgr *channels.Manager, msgBus *bus.MessageBus, defaultChannel string) *ChannelMethods {
	return &ChannelMethods{mgr: mgr, msgBus: msgBus, defaultChannel: defaultChannel}
}

// Register registers the channel methods.
func (m *ChannelMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodOutbound, m.handleOutbound)
	router.Register(protocol.MethodActionReact, m.handleReact)
	router.Register(protocol.MethodActionUnsend, m.handleUnsend)
	router.Register(protocol.MethodStatus, m.handleStatus)
}

func (m *ChannelMethods) channel(name string) string {
	if name == "" {
		return m.defaultChannel
	}
	return name
}

func (m *ChannelMethods) handleOutbound(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.OutboundParams
	if !decodeParams(client, req, &params) {
		return
	}
	if strings.TrimSpace(params.To) == "" || (params.Text == "" && len(params.Media) == 0) {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "to and text or media are required"))
		return
	}

	msg := bus.OutboundMessage{
		Channel:   m.channel(params.Channel),
		AccountID: params.AccountID,
		ChatID:    params.To,
		Content:   params.Text,
		Metadata:  params.Metadata,
	}
	for _, md := range params.Media {
		msg.Media = append(msg.Media, bus.MediaAttachment{URL: md.URL, ContentType: md.ContentType, Caption: md.Caption})
	}

	if params.Queue {
		m.msgBus.PublishOutbound(msg)
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"queued": true}))
		return
	}
	if err := m.mgr.SendToChannel(ctx, msg); err != nil {
		slog.Warn("outbound send failed", "channel", msg.Channel, "to", msg.ChatID, "error", err)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"sent": true}))
}

func (m *ChannelMethods) handleReact(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.ActionParams
	if !decodeParams(client, req, &params) {
		return
	}
	ac, err := m.mgr.Action(m.channel(params.Channel))
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
		return
	}
	if err := ac.React(ctx, params.AccountID, params.To, params.Ref, params.Emoji); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, nil))
}

func (m *ChannelMethods) handleUnsend(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.ActionParams
	if !decodeParams(client, req, &params) {
		return
	}
	ac, err := m.mgr.Action(m.channel(params.Channel))
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
		return
	}
	if err := ac.Unsend(ctx, params.AccountID, params.To, params.Ref); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, nil))
}

func (m *ChannelMethods) handleStatus(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"protocol": protocol.ProtocolVersion,
		"channels": m.mgr.GetStatus(),
	}))
}

// decodeParams unmarshals req.Params into v, answering the request itself
// when the params are malformed.
func decodeParams(client *gateway.Client, req *protocol.RequestFrame, v any) bool {
	if len(req.Params) == 0 {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "params required"))
		return false
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid params: "+err.Error()))
		return false
	}
	return true
}
