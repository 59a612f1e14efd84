// Package dispatch routes tool call envelopes to the right operation. It is
// transport-agnostic: stdio and HTTP both hand it the same Request and relay
// the same Response.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/partforge/internal/config"
	"github.com/mattjoyce/partforge/internal/engine"
	"github.com/mattjoyce/partforge/internal/history"
	"github.com/mattjoyce/partforge/internal/library"
	"github.com/mattjoyce/partforge/internal/log"
	"github.com/mattjoyce/partforge/internal/registry"
	"github.com/mattjoyce/partforge/internal/workspace"
)

// Notifier receives completed call envelopes for push transports. Satisfied
// by *api.EventHub.
type Notifier interface {
	Publish(eventType string, resp Response)
}

// EventResponse is the hub event type carrying a completed Response.
const EventResponse = "response"

// Dispatcher is a pure request-to-response mapper over the engine, registry
// and library index. It holds one library index per workspace root, created
// lazily on first scan or search.
type Dispatcher struct {
	engine   *engine.Engine
	manager  *workspace.Manager
	registry *registry.Registry
	history  *history.Store
	hub      Notifier
	cfg      *config.Config
	logger   *slog.Logger

	mu      sync.Mutex
	indexes map[string]*library.Index
}

// New creates a Dispatcher. history and hub may be nil; completed calls are
// then neither persisted nor pushed.
func New(eng *engine.Engine, mgr *workspace.Manager, reg *registry.Registry, hist *history.Store, hub Notifier, cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		engine:   eng,
		manager:  mgr,
		registry: reg,
		history:  hist,
		hub:      hub,
		cfg:      cfg,
		logger:   log.WithComponent("dispatch"),
		indexes:  make(map[string]*library.Index),
	}
}

// Dispatch executes one tool call and returns its envelope. It never returns
// a Go error: every failure becomes an error envelope correlated by
// request_id. Calls are independent; the dispatcher adds no ordering.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	reqLogger := log.WithRequest(req.RequestID).With("tool", req.Tool)
	reqLogger.Info("dispatching tool call")

	out, err := d.route(ctx, req)
	resp := Response{RequestID: req.RequestID}
	if err != nil {
		reqLogger.Warn("tool call failed", "error", err)
		resp.Type = TypeError
		resp.Error = err.Error()
	} else {
		reqLogger.Info("tool call completed")
		resp.Type = TypeResult
		resp.Result = out.result
	}

	d.record(ctx, req, out, err)
	if d.hub != nil {
		d.hub.Publish(EventResponse, resp)
	}
	return resp
}

// outcome carries a tool result plus the context the history log wants.
type outcome struct {
	result     any
	workspace  string
	resultIDs  []string
	shapeCount int
}

func (d *Dispatcher) route(ctx context.Context, req Request) (outcome, error) {
	switch req.Tool {
	case ToolRunScript:
		return d.runScript(ctx, req.Arguments)
	case ToolExportArtifact:
		return d.exportArtifact(ctx, req.Arguments)
	case ToolExportPreview:
		return d.exportPreview(ctx, req.Arguments)
	case ToolScanLibrary:
		return d.scanLibrary(ctx, req.Arguments)
	case ToolSearchLibrary:
		return d.searchLibrary(req.Arguments)
	case ToolGetProperties:
		return d.getProperties(ctx, req.Arguments)
	case ToolGetDescription:
		return d.getDescription(ctx, req.Arguments)
	case ToolSaveModule:
		return d.saveModule(req.Arguments)
	case ToolInstallPackage:
		return d.installPackage(ctx, req.Arguments)
	default:
		return outcome{}, fmt.Errorf("unknown tool %q", req.Tool)
	}
}

func (d *Dispatcher) record(ctx context.Context, req Request, out outcome, callErr error) {
	if d.history == nil {
		return
	}
	rec := history.Record{
		RequestID:  req.RequestID,
		Tool:       req.Tool,
		Workspace:  out.workspace,
		ResultIDs:  out.resultIDs,
		Success:    callErr == nil,
		ShapeCount: out.shapeCount,
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	}
	if err := d.history.Append(ctx, rec); err != nil {
		d.logger.Error("failed to append history record", "request_id", req.RequestID, "error", err)
	}
}

// indexFor returns the library index for a workspace root, creating it on
// first use.
func (d *Dispatcher) indexFor(root string) *library.Index {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx, ok := d.indexes[root]
	if !ok {
		idx = library.NewIndex(root, d.cfg, d.engine)
		d.indexes[root] = idx
	}
	return idx
}

// IndexedParts reports the total number of indexed parts across all
// workspace libraries. Used by the health endpoint.
func (d *Dispatcher) IndexedParts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, idx := range d.indexes {
		total += idx.Len()
	}
	return total
}

func decodeArgs(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing arguments")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
