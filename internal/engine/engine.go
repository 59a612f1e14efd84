package engine

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/partforge/internal/config"
	"github.com/mattjoyce/partforge/internal/log"
	"github.com/mattjoyce/partforge/internal/protocol"
	"github.com/mattjoyce/partforge/internal/workspace"
)

// runnerScript is the Python side of the runner protocol. It is materialized
// into a temp file per invocation so the binary stays self-contained.
//
//go:embed runner.py
var runnerScript []byte

const (
	// maxStderrBytes caps the amount of stderr captured from runner execution.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second

	runnerFileName = "runner.py"
)

// EnvPreparer provides a ready workspace runtime. Satisfied by
// *workspace.Manager; tests substitute a stub.
type EnvPreparer interface {
	Prepare(ctx context.Context, root string) (string, error)
}

// RunnerError reports a runner subprocess that never produced a protocol
// response: a spawn failure, a timeout, or unparseable stdout. Script
// failures are NOT runner errors; they arrive as success=false responses.
type RunnerError struct {
	Timeout bool
	Stderr  string
	Err     error
}

func (e *RunnerError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("runner timed out: %v", e.Err)
	}
	return fmt.Sprintf("runner failed: %v", e.Err)
}

func (e *RunnerError) Unwrap() error { return e.Err }

// SetResult is the outcome of executing a script against one parameter set.
// Exactly one of Err or the response fields is meaningful: Err set means the
// runner itself failed, otherwise Success/ExceptionStr/Shapes carry what the
// script did.
type SetResult struct {
	ResultID     string
	Params       map[string]any
	Success      bool
	ExceptionStr string
	Shapes       []protocol.Shape
	Err          *RunnerError
}

// Engine executes scripts and artifact operations by spawning one runner
// subprocess per operation inside the workspace runtime.
type Engine struct {
	prep    EnvPreparer
	timeout time.Duration
	logger  *slog.Logger
}

// New creates an Engine using cfg.Engine.ExecTimeout per subprocess.
func New(prep EnvPreparer, cfg *config.Config) *Engine {
	return &Engine{
		prep:    prep,
		timeout: cfg.Engine.ExecTimeout,
		logger:  log.WithComponent("engine"),
	}
}

// Execute runs script once per parameter set and returns one SetResult per
// set, in order. An empty paramSets means a single run with no substitution.
//
// The returned error covers workspace-level failures only (bad root, failed
// environment bootstrap). Per-set failures, including runner crashes and
// timeouts, land in the corresponding SetResult.
func (e *Engine) Execute(ctx context.Context, root, script string, paramSets []map[string]any) ([]SetResult, error) {
	ws, err := workspace.Resolve(root)
	if err != nil {
		return nil, err
	}

	runtime, err := e.prepareRuntime(ctx, root)
	if err != nil {
		return nil, err
	}

	if len(paramSets) == 0 {
		paramSets = []map[string]any{nil}
	}

	results := make([]SetResult, 0, len(paramSets))
	for _, params := range paramSets {
		results = append(results, e.executeSet(ctx, ws, runtime, script, params))
	}
	return results, nil
}

func (e *Engine) executeSet(ctx context.Context, ws workspace.Workspace, runtime, script string, params map[string]any) SetResult {
	result := SetResult{
		ResultID: uuid.NewString(),
		Params:   params,
	}

	substituted, err := applyParams(script, params)
	if err != nil {
		// Bad parameters read like a script failure to the caller: the set
		// did not build, and the message says why.
		result.ExceptionStr = err.Error()
		return result
	}

	req := &protocol.Request{
		Protocol:     protocol.Version,
		Command:      protocol.CommandBuild,
		WorkspaceDir: ws.Root,
		ResultID:     result.ResultID,
		Script:       substituted,
	}

	resp, runErr := e.invoke(ctx, ws, runtime, req)
	if runErr != nil {
		result.Err = runErr
		return result
	}

	result.Success = resp.Success
	result.ExceptionStr = resp.ExceptionStr
	result.Shapes = resp.Shapes

	if resp.Success {
		e.verifyArtifacts(result.ResultID, result.Shapes)
	}
	return result
}

// verifyArtifacts stats every intermediate path before the result is handed
// out. A shape whose file is missing keeps its slot but is demoted to an
// export error.
func (e *Engine) verifyArtifacts(resultID string, shapes []protocol.Shape) {
	for i := range shapes {
		path := shapes[i].IntermediatePath
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			e.logger.Warn("intermediate artifact missing", "result_id", resultID, "index", shapes[i].Index, "path", path)
			shapes[i].IntermediatePath = ""
			shapes[i].ExportError = fmt.Sprintf("intermediate file missing: %v", err)
		}
	}
}

// invoke materializes the runner script, spawns it under the workspace
// runtime, and exchanges one request/response pair.
func (e *Engine) invoke(ctx context.Context, ws workspace.Workspace, runtime string, req *protocol.Request) (*protocol.Response, *RunnerError) {
	runnerDir, err := os.MkdirTemp("", "partforge-runner-")
	if err != nil {
		return nil, &RunnerError{Err: fmt.Errorf("create runner dir: %w", err)}
	}
	defer os.RemoveAll(runnerDir)

	runnerPath := filepath.Join(runnerDir, runnerFileName)
	if err := os.WriteFile(runnerPath, runnerScript, 0o644); err != nil {
		return nil, &RunnerError{Err: fmt.Errorf("write runner script: %w", err)}
	}

	resp, stderr, err := e.spawn(ctx, ws, runtime, runnerPath, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &RunnerError{Timeout: true, Stderr: stderr, Err: fmt.Errorf("after %v", e.timeout)}
		}
		return nil, &RunnerError{Stderr: stderr, Err: err}
	}
	return resp, nil
}

// spawn runs one runner subprocess: request on stdin, response on stdout,
// stderr captured for diagnostics. Termination on timeout is SIGTERM, a
// grace period, then SIGKILL.
func (e *Engine) spawn(ctx context.Context, ws workspace.Workspace, runtime, runnerPath string, req *protocol.Request) (*protocol.Response, string, error) {
	timeoutTimer := time.NewTimer(e.timeout)
	defer timeoutTimer.Stop()

	// Termination is managed by hand, so plain Command rather than
	// CommandContext.
	cmd := exec.Command(runtime, runnerPath)
	cmd.Dir = ws.Root

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("spawning runner", "runtime", runtime, "command", req.Command, "workspace", ws.Root)

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start runner: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		writeErr <- protocol.EncodeRequest(stdin, req)
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timeoutTimer.C:
		e.logger.Warn("runner timed out, sending SIGTERM", "command", req.Command)
		if cmd.Process != nil {
			if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
				e.logger.Error("failed to send SIGTERM", "error", err)
			}
		}

		grace := time.NewTimer(terminationGracePeriod)
		defer grace.Stop()

		select {
		case <-waitErr:
			e.logger.Info("runner exited after SIGTERM")
		case <-grace.C:
			e.logger.Warn("runner did not exit after SIGTERM, sending SIGKILL")
			if cmd.Process != nil {
				if err := cmd.Process.Kill(); err != nil {
					e.logger.Error("failed to send SIGKILL", "error", err)
				}
			}
			<-waitErr
		}

		return nil, truncateStderr(stderr.String()), context.DeadlineExceeded

	case err := <-waitErr:
		if werr := <-writeErr; werr != nil {
			return nil, truncateStderr(stderr.String()), fmt.Errorf("encode request: %w", werr)
		}

		stderrStr := truncateStderr(stderr.String())

		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				e.logger.Warn("runner exited with non-zero status", "exit_code", exitErr.ExitCode())
			} else {
				return nil, stderrStr, fmt.Errorf("wait for runner: %w", err)
			}
		}

		resp, raw, err := protocol.DecodeResponseLenient(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			e.logger.Error("failed to decode runner response", "error", err, "stdout", string(raw))
			return nil, stderrStr, fmt.Errorf("decode response: %w", err)
		}
		return resp, stderrStr, nil
	}
}

// prepareRuntime resolves the workspace runtime, tolerating a failed
// dependency sync: a stale environment can still run scripts, and the caller
// already gets the sync failure logged.
func (e *Engine) prepareRuntime(ctx context.Context, root string) (string, error) {
	runtime, err := e.prep.Prepare(ctx, root)
	if err != nil {
		var syncErr *workspace.SyncError
		if errors.As(err, &syncErr) {
			e.logger.Warn("dependency sync failed, using stale environment", "workspace", root, "error", err)
			return runtime, nil
		}
		return "", err
	}
	return runtime, nil
}

func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
