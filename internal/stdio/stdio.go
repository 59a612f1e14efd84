// Package stdio is the line-oriented transport: one JSON request per stdin
// line, one JSON envelope per stdout line. Calls are handled serially in
// arrival order; logging goes to stderr so stdout stays clean.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mattjoyce/partforge/internal/dispatch"
	"github.com/mattjoyce/partforge/internal/log"
)

// maxLineBytes bounds a single request line. Scripts ride inside the
// envelope, so the limit is generous.
const maxLineBytes = 10 * 1024 * 1024

// Dispatcher executes one tool call envelope.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) dispatch.Response
}

// Server runs the stdio loop.
type Server struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

func New(disp Dispatcher) *Server {
	return &Server{
		dispatcher: disp,
		logger:     log.WithComponent("stdio"),
	}
}

// Run reads requests from in until EOF or ctx cancellation. A line that is
// not a valid envelope produces an error envelope with request_id "unknown"
// instead of killing the loop.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	enc := json.NewEncoder(out)

	s.logger.Info("stdio transport started")
	defer s.logger.Info("stdio transport stopped")

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req dispatch.Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Warn("malformed request line", "error", err)
			if err := enc.Encode(errorEnvelope("unknown", fmt.Sprintf("invalid request: %v", err))); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
			continue
		}
		if req.RequestID == "" {
			req.RequestID = "unknown"
		}
		if req.Tool == "" {
			if err := enc.Encode(errorEnvelope(req.RequestID, "missing 'tool_name'")); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
			continue
		}

		resp := s.dispatcher.Dispatch(ctx, req)
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	return nil
}

func errorEnvelope(requestID, message string) dispatch.Response {
	return dispatch.Response{
		RequestID: requestID,
		Type:      dispatch.TypeError,
		Error:     message,
	}
}
