// Package gateway bridges the channel runtime to a host agent over NDJSON
// on stdio.
package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/zalouser/internal/bus"
	"github.com/nextlevelbuilder/zalouser/pkg/protocol"
)

const maxFrameBytes = 8 * 1024 * 1024

// Server reads host requests from in and writes responses and events to the
// client. Requests are handled one at a time in arrival order, so outbound
// sends keep the host's ordering.
type Server struct {
	in     io.Reader
	client *Client
	router *MethodRouter
	msgBus *bus.MessageBus
	hello  protocol.HelloPayload
}

// NewServer creates a bridge over in/out. Inbound bus messages are forwarded
// to the host as events.
func NewServer(in io.Reader, out io.Writer, msgBus *bus.MessageBus) *Server {
	return &Server{
		in:     in,
		client: NewClient(out),
		router: NewMethodRouter(),
		msgBus: msgBus,
		hello:  protocol.HelloPayload{Protocol: protocol.ProtocolVersion},
	}
}

// Router returns the method router for registering handlers.
func (s *Server) Router() *MethodRouter { return s.router }

// Client returns the host connection.
func (s *Server) Client() *Client { return s.client }

// SetHello sets the payload of the hello event.
func (s *Server) SetHello(p protocol.HelloPayload) {
	p.Protocol = protocol.ProtocolVersion
	s.hello = p
}

// Serve runs until ctx is done or the host closes stdin.
func (s *Server) Serve(ctx context.Context) error {
	slog.Info("gateway bridge started", "client", s.client.ID(), "protocol", protocol.ProtocolVersion)
	s.client.SendEvent(*protocol.NewEvent(protocol.EventHello, s.hello))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error {
		s.pumpInbound(gctx)
		return nil
	})
	err := g.Wait()

	s.client.SendEvent(*protocol.NewEvent(protocol.EventShutdown, nil))
	if errors.Is(err, io.EOF) {
		slog.Info("gateway host closed stdin")
		return nil
	}
	return err
}

type lineResult struct {
	line []byte
	err  error
}

func (s *Server) readLoop(ctx context.Context) error {
	lines := make(chan lineResult)
	go func() {
		scanner := bufio.NewScanner(s.in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
		for scanner.Scan() {
			select {
			case lines <- lineResult{line: append([]byte(nil), scanner.Bytes()...)}:
			case <-ctx.Done():
				return
			}
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		select {
		case lines <- lineResult{err: err}:
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-lines:
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					return io.EOF
				}
				return fmt.Errorf("read host frames: %w", r.err)
			}
			s.handleLine(ctx, r.line)
		}
	}
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	if len(line) == 0 {
		return
	}
	ft, err := protocol.ParseFrameType(line)
	if err != nil {
		s.client.SendResponse(protocol.NewErrorResponse("", protocol.ErrInvalidRequest, err.Error()))
		return
	}
	if ft != protocol.FrameTypeRequest {
		slog.Debug("gateway: ignoring non-request frame", "type", ft)
		return
	}
	var req protocol.RequestFrame
	if err := json.Unmarshal(line, &req); err != nil {
		s.client.SendResponse(protocol.NewErrorResponse("", protocol.ErrInvalidRequest, err.Error()))
		return
	}
	slog.Debug("gateway request", "id", req.ID, "method", req.Method)
	s.router.Handle(ctx, s.client, &req)
}

func (s *Server) pumpInbound(ctx context.Context) {
	for {
		msg, ok := s.msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		s.client.SendEvent(*protocol.NewEvent(protocol.EventInbound, msg))
	}
}
