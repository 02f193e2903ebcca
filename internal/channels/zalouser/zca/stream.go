package zca

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

const maxLineBytes = 4 * 1024 * 1024

// Event is one JSON object emitted by the listener.
type Event struct {
	Kind  string          `json:"kind,omitempty"`
	Event string          `json:"event,omitempty"`
	Raw   json.RawMessage `json:"-"`
}

// IsConnected reports the lifecycle event sent once the session is live.
func (e Event) IsConnected() bool {
	return e.Kind == "lifecycle" && e.Event == "connected"
}

// IsLifecycle reports any lifecycle payload.
func (e Event) IsLifecycle() bool { return e.Kind == "lifecycle" }

// StreamHandlers receive listener output. Handlers run on the reader
// goroutines and must not block for long.
type StreamHandlers struct {
	OnJSONLine   func(Event)
	OnStderrLine func(string)
}

// Stream is a running listener subprocess.
type Stream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// ListenArgs are the arguments for the raw, keep-alive event listener.
var ListenArgs = []string{"listen", "-r", "-k"}

// Listen starts the event listener. The subprocess is killed when ctx is
// cancelled or Stop is called.
func (r *Runner) Listen(ctx context.Context, h StreamHandlers) (*Stream, error) {
	return r.Stream(ctx, ListenArgs, h)
}

// Stream starts an arbitrary long-lived command whose stdout is
// newline-delimited JSON.
func (r *Runner) Stream(ctx context.Context, args []string, h StreamHandlers) (*Stream, error) {
	sctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(sctx, r.binary(), r.argv(args)...)
	cmd.Env = r.env()
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		signalGroup(cmd, sigKill)
		return nil
	}
	cmd.WaitDelay = r.grace()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", r.binary(), err)
	}

	s := &Stream{cmd: cmd, cancel: cancel, done: make(chan struct{})}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		scanLines(stdout, func(line []byte) {
			if ev, ok := parseEventLine(line); ok {
				if h.OnJSONLine != nil {
					h.OnJSONLine(ev)
				}
				return
			}
			if h.OnStderrLine != nil {
				h.OnStderrLine(string(line))
			}
		})
	}()
	go func() {
		defer readers.Done()
		scanLines(stderr, func(line []byte) {
			if h.OnStderrLine != nil {
				h.OnStderrLine(string(line))
			}
		})
	}()

	go func() {
		defer close(s.done)
		readers.Wait()
		err := cmd.Wait()
		if sctx.Err() != nil {
			err = ErrAborted
		}
		s.err = err
		cancel()
	}()
	return s, nil
}

// Done is closed once the subprocess has exited and output is drained.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Wait blocks until the subprocess exits. It returns ErrAborted after Stop
// or context cancellation.
func (s *Stream) Wait() error {
	<-s.done
	return s.err
}

// Stop kills the subprocess and waits for it.
func (s *Stream) Stop() {
	s.cancel()
	<-s.done
}

// scanLines calls fn for every non-blank line. A line longer than
// maxLineBytes is dropped and reported, and reading continues with the next
// line so the child never blocks on a full pipe.
func scanLines(r io.Reader, fn func([]byte)) {
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	skipping := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !skipping {
			if len(line)+len(chunk) > maxLineBytes {
				skipping = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if skipping {
			fn(fmt.Appendf(nil, "zca stream: dropped line longer than %d bytes", maxLineBytes))
			skipping = false
		} else if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			fn(bytes.Clone(trimmed))
		}
		line = line[:0]

		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
				fn([]byte("zca stream read error: " + err.Error()))
			}
			return
		}
	}
}

func parseEventLine(line []byte) (Event, bool) {
	if len(line) == 0 || line[0] != '{' {
		return Event{}, false
	}
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, false
	}
	ev.Raw = json.RawMessage(line)
	return ev, true
}
