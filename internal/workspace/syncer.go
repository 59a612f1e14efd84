package workspace

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/mattjoyce/partforge/internal/config"
	"github.com/mattjoyce/partforge/internal/log"
)

// maxInstallerOutput caps captured installer output kept in error messages.
const maxInstallerOutput = 16 * 1024

// Syncer provisions workspace runtimes and installs dependencies into them.
// The exec-backed implementation shells out to a uv-compatible installer;
// tests substitute a mock.
type Syncer interface {
	// CreateEnv creates the virtual environment under ws.EnvDir().
	CreateEnv(ctx context.Context, ws Workspace) error
	// InstallBase installs the base modeling package into the environment.
	InstallBase(ctx context.Context, ws Workspace) error
	// SyncManifest installs the workspace manifest (requirements.txt).
	SyncManifest(ctx context.Context, ws Workspace) error
	// InstallPackage installs a single named package.
	InstallPackage(ctx context.Context, ws Workspace, pkg string) error
}

type execSyncer struct {
	installer     string
	pythonVersion string
	basePackage   string
	timeout       time.Duration
	logger        *slog.Logger
}

var _ Syncer = (*execSyncer)(nil)

// NewExecSyncer returns a Syncer that shells out to cfg.Engine.Installer.
func NewExecSyncer(cfg *config.Config) Syncer {
	return &execSyncer{
		installer:     cfg.Engine.Installer,
		pythonVersion: cfg.Engine.PythonVersion,
		basePackage:   cfg.Engine.BasePackage,
		timeout:       cfg.Engine.SyncTimeout,
		logger:        log.WithComponent("syncer"),
	}
}

func (s *execSyncer) CreateEnv(ctx context.Context, ws Workspace) error {
	return s.run(ctx, ws, "venv", ws.EnvDir(), "-p", s.pythonVersion)
}

func (s *execSyncer) InstallBase(ctx context.Context, ws Workspace) error {
	if s.basePackage == "" {
		return nil
	}
	return s.run(ctx, ws, "pip", "install", s.basePackage, "--python", ws.RuntimePath())
}

func (s *execSyncer) SyncManifest(ctx context.Context, ws Workspace) error {
	return s.run(ctx, ws, "pip", "install", "-r", ws.ManifestPath(), "--python", ws.RuntimePath())
}

func (s *execSyncer) InstallPackage(ctx context.Context, ws Workspace, pkg string) error {
	if pkg == "" {
		return fmt.Errorf("package name is empty")
	}
	return s.run(ctx, ws, "pip", "install", pkg, "--python", ws.RuntimePath())
}

func (s *execSyncer) run(ctx context.Context, ws Workspace, args ...string) error {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, s.installer, args...)
	cmd.Dir = ws.Root

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	s.logger.Debug("running installer", "installer", s.installer, "args", args, "workspace", ws.Root)

	if err := cmd.Run(); err != nil {
		out := output.String()
		if len(out) > maxInstallerOutput {
			out = out[:maxInstallerOutput]
		}
		if runCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("installer %s timed out after %v: %s", s.installer, s.timeout, out)
		}
		return fmt.Errorf("installer %s %v: %w: %s", s.installer, args, err, out)
	}
	return nil
}
