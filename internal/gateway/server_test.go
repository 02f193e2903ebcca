package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/zalouser/internal/bus"
	"github.com/nextlevelbuilder/zalouser/pkg/protocol"
)

type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Event   string          `json:"event"`
	Seq     int64           `json:"seq"`
	Payload json.RawMessage `json:"payload"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func readFrame(t *testing.T, r *bufio.Reader) frame {
	t.Helper()
	type result struct {
		line []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := r.ReadBytes('\n')
		done <- result{line, err}
	}()
	select {
	case res := <-done:
		require.NoError(t, res.err)
		var f frame
		require.NoError(t, json.Unmarshal(res.line, &f))
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return frame{}
	}
}

func TestServerRoundTrip(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	mb := bus.New()

	srv := NewServer(inR, outW, mb)
	srv.SetHello(protocol.HelloPayload{Version: "test", Channels: []string{"zalouser"}})
	srv.Router().Register("echo", func(_ context.Context, c *Client, req *protocol.RequestFrame) {
		c.SendResponse(protocol.NewOKResponse(req.ID, req.Params))
	})
	srv.Router().Register("boom", func(context.Context, *Client, *protocol.RequestFrame) {
		panic("kaboom")
	})

	served := make(chan error, 1)
	go func() { served <- srv.Serve(context.Background()) }()
	out := bufio.NewReader(outR)

	hello := readFrame(t, out)
	assert.Equal(t, "event", hello.Type)
	assert.Equal(t, protocol.EventHello, hello.Event)
	assert.Equal(t, int64(1), hello.Seq)

	write := func(s string) {
		_, err := io.WriteString(inW, s+"\n")
		require.NoError(t, err)
	}

	write(`{"type":"req","id":"1","method":"echo","params":{"a":1}}`)
	res := readFrame(t, out)
	assert.Equal(t, "1", res.ID)
	assert.True(t, res.OK)
	assert.JSONEq(t, `{"a":1}`, string(res.Payload))

	write(`{"type":"req","id":"2","method":"nope"}`)
	res = readFrame(t, out)
	require.NotNil(t, res.Error)
	assert.Equal(t, protocol.ErrUnknownMethod, res.Error.Code)

	write(`{"type":"req","id":"3","method":"boom"}`)
	res = readFrame(t, out)
	require.NotNil(t, res.Error)
	assert.Equal(t, protocol.ErrInternal, res.Error.Code)

	write(`garbage`)
	res = readFrame(t, out)
	require.NotNil(t, res.Error)
	assert.Equal(t, protocol.ErrInvalidRequest, res.Error.Code)

	mb.PublishInbound(bus.InboundMessage{Channel: "zalouser", ChatID: "user:1", Content: "hi"})
	ev := readFrame(t, out)
	assert.Equal(t, protocol.EventInbound, ev.Event)
	assert.Contains(t, string(ev.Payload), `"content":"hi"`)

	require.NoError(t, inW.Close())
	shutdown := readFrame(t, out)
	assert.Equal(t, protocol.EventShutdown, shutdown.Event)
	select {
	case err := <-served:
		assert.NoError(t, err, "closing stdin is a clean shutdown")
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestRouterMethods(t *testing.T) {
	r := NewMethodRouter()
	r.Register("b", nil)
	r.Register("a", nil)
	assert.Equal(t, []string{"a", "b"}, r.Methods())
}
