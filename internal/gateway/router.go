package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/zalouser/pkg/protocol"
)

// MethodHandler answers one request. It must send exactly one response.
type MethodHandler func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter dispatches requests by method name.
type MethodRouter struct {
	mu       sync.RWMutex
	handlers map[string]MethodHandler
}

// NewMethodRouter returns an empty router.
func NewMethodRouter() *MethodRouter {
	return &MethodRouter{handlers: make(map[string]MethodHandler)}
}

// Register binds a handler to method, replacing any previous one.
func (r *MethodRouter) Register(method string, h MethodHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = h
}

// Methods lists the registered method names.
func (r *MethodRouter) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Handle runs the handler for req. Unknown methods and handler panics are
// answered with an error response.
func (r *MethodRouter) Handle(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	r.mu.RLock()
	h, ok := r.handlers[req.Method]
	r.mu.RUnlock()
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnknownMethod,
			fmt.Sprintf("unknown method %q", req.Method)))
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("gateway: handler panic", "method", req.Method, "panic", rec)
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "internal error"))
		}
	}()
	h(ctx, client, req)
}
