package host

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/storyloom/sidecar/internal/event"
)

// maxRequest is the longest request line accepted.
const maxRequest = 4 * 1024 * 1024

// Request is one line on the input of the server. IDs are positive, 0 is
// reserved for errors which can't be attributed to a request.
type Request struct {
	ID   int64           `json:"id"`
	Cmd  string          `json:"cmd"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Response answers the Request with the same ID. Exactly one of Result and
// Error is set, Result is omitted for commands without a value.
type Response struct {
	ID     int64  `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Server exchanges JSON lines with the UI: requests are read from r,
// responses and events are written to w. Requests are handled concurrently,
// so a long initialize_sidecar doesn't block a search.
type Server struct {
	registry *Registry
	r        io.Reader

	mu  sync.Mutex
	enc *json.Encoder

	wg sync.WaitGroup
}

func NewServer(registry *Registry, r io.Reader, w io.Writer) *Server {
	return &Server{
		registry: registry,
		r:        r,
		enc:      json.NewEncoder(w),
	}
}

// Publish writes msg as an event line. It is an event.Handler.
func (s *Server) Publish(msg event.Message) {
	if err := s.write(msg); err != nil {
		slog.Error("writing event", "topic", msg.Topic, "error", err)
	}
}

// Serve handles requests until the input ends or ctx is done. It waits for
// the requests in progress before returning.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.wg.Wait()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxRequest)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("reading requests: %w", err)
					}
				default:
				}
				slog.DebugContext(ctx, "input closed: stopping the server")
				return nil
			}
			if len(line) == 0 {
				continue
			}
			s.dispatch(ctx, line)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.respond(ctx, Response{ID: requestID(line), Error: "invalid request: " + err.Error()})
		return
	}
	if req.ID <= 0 {
		s.respond(ctx, Response{Error: "invalid request: id must be positive"})
		return
	}
	s.wg.Go(func() {
		slog.DebugContext(ctx, "handling command", "cmd", req.Cmd, "id", req.ID)
		result, err := s.registry.Invoke(ctx, req.Cmd, req.Args)
		resp := Response{ID: req.ID, Result: result}
		if err != nil {
			slog.WarnContext(ctx, "command failed", "cmd", req.Cmd, "id", req.ID, "error", err)
			resp = Response{ID: req.ID, Error: err.Error()}
		}
		s.respond(ctx, resp)
	})
}

// requestID returns the id of a request which didn't decode, 0 when there
// is none.
func requestID(line []byte) int64 {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return 0
	}
	var id int64
	if err := json.Unmarshal(fields["id"], &id); err != nil || id < 0 {
		return 0
	}
	return id
}

func (s *Server) respond(ctx context.Context, resp Response) {
	if err := s.write(resp); err != nil {
		slog.ErrorContext(ctx, "writing response", "id", resp.ID, "error", err)
	}
}

func (s *Server) write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(v)
}
