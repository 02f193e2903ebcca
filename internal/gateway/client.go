package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/zalouser/pkg/protocol"
)

// Client is the host end of the bridge. Frames are written as one JSON
// object per line; writes are serialized.
type Client struct {
	id  string
	mu  sync.Mutex
	enc *json.Encoder
	seq atomic.Int64
}

// NewClient writes frames to w.
func NewClient(w io.Writer) *Client {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Client{id: uuid.NewString(), enc: enc}
}

// ID identifies this connection in logs.
func (c *Client) ID() string { return c.id }

// SendResponse writes a response frame.
func (c *Client) SendResponse(resp *protocol.ResponseFrame) {
	c.write(resp)
}

// SendEvent writes an event frame stamped with the next sequence number.
func (c *Client) SendEvent(evt protocol.EventFrame) {
	evt.Seq = c.seq.Add(1)
	c.write(evt)
}

func (c *Client) write(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(v); err != nil {
		slog.Warn("gateway: write frame failed", "client", c.id, "error", err)
	}
}
