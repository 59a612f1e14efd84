package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/partforge/internal/protocol"
	"github.com/mattjoyce/partforge/internal/workspace"
)

// defaultSVGOptions are the preview render defaults. Caller options are laid
// over them, so any key can be overridden per request.
var defaultSVGOptions = map[string]any{
	"width":         400,
	"height":        300,
	"marginLeft":    10,
	"marginTop":     10,
	"showAxes":      false,
	"projectionDir": []any{0.5, 0.5, 0.5},
	"strokeWidth":   0.25,
	"strokeColor":   []any{0, 0, 0},
	"hiddenColor":   []any{0, 0, 255, 100},
	"showHidden":    false,
}

// ExportRequest describes one artifact export.
type ExportRequest struct {
	Root       string
	SourcePath string
	TargetPath string
	Format     string
	Options    map[string]any
}

// Export re-loads an intermediate artifact and writes it in the requested
// format. A bare target filename lands in the workspace shapes directory;
// relative paths resolve against the workspace root. Returns the final path.
func (e *Engine) Export(ctx context.Context, req ExportRequest) (string, error) {
	ws, runtime, err := e.resolveForConsume(ctx, req.Root)
	if err != nil {
		return "", err
	}

	target := strings.TrimSpace(req.TargetPath)
	if target == "" {
		return "", fmt.Errorf("export target path is empty")
	}
	target = resolveTarget(ws, target)

	resp, runErr := e.invoke(ctx, ws, runtime, &protocol.Request{
		Protocol:     protocol.Version,
		Command:      protocol.CommandExport,
		WorkspaceDir: ws.Root,
		SourcePath:   req.SourcePath,
		TargetPath:   target,
		Format:       req.Format,
		Options:      req.Options,
	})
	if runErr != nil {
		return "", runErr
	}
	if !resp.Success {
		return "", fmt.Errorf("export failed: %s", resp.ExceptionStr)
	}
	return resp.TargetPath, nil
}

// PreviewRequest describes one SVG preview render.
type PreviewRequest struct {
	Root       string
	SourcePath string
	// TargetName is the output filename; ".svg" is appended when absent.
	TargetName string
	Options    map[string]any
}

// Preview renders an intermediate artifact to SVG under shapes/renders/.
// Returns the render path.
func (e *Engine) Preview(ctx context.Context, req PreviewRequest) (string, error) {
	ws, runtime, err := e.resolveForConsume(ctx, req.Root)
	if err != nil {
		return "", err
	}

	name := strings.TrimSpace(req.TargetName)
	if name == "" {
		return "", fmt.Errorf("preview target name is empty")
	}
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("preview target name %q must not contain path separators", name)
	}
	if !strings.HasSuffix(name, ".svg") {
		name += ".svg"
	}

	opts := make(map[string]any, len(defaultSVGOptions)+len(req.Options))
	for k, v := range defaultSVGOptions {
		opts[k] = v
	}
	for k, v := range req.Options {
		opts[k] = v
	}

	resp, runErr := e.invoke(ctx, ws, runtime, &protocol.Request{
		Protocol:     protocol.Version,
		Command:      protocol.CommandPreview,
		WorkspaceDir: ws.Root,
		SourcePath:   req.SourcePath,
		TargetPath:   filepath.Join(ws.RendersDir(), name),
		Options:      opts,
	})
	if runErr != nil {
		return "", runErr
	}
	if !resp.Success {
		return "", fmt.Errorf("preview render failed: %s", resp.ExceptionStr)
	}
	return resp.TargetPath, nil
}

// RenderSVG renders an intermediate artifact to an arbitrary SVG path with
// explicit options and no defaults merged in. Used by the library indexer,
// which keeps its own preview directory and sizing.
func (e *Engine) RenderSVG(ctx context.Context, root, sourcePath, targetPath string, opts map[string]any) error {
	ws, runtime, err := e.resolveForConsume(ctx, root)
	if err != nil {
		return err
	}

	resp, runErr := e.invoke(ctx, ws, runtime, &protocol.Request{
		Protocol:     protocol.Version,
		Command:      protocol.CommandPreview,
		WorkspaceDir: ws.Root,
		SourcePath:   sourcePath,
		TargetPath:   targetPath,
		Options:      opts,
	})
	if runErr != nil {
		return runErr
	}
	if !resp.Success {
		return fmt.Errorf("preview render failed: %s", resp.ExceptionStr)
	}
	return nil
}

// Properties computes geometric properties of an intermediate artifact.
// Individual fields may be nil with an explanation in Diagnostics; failing
// to load the artifact at all is an error.
func (e *Engine) Properties(ctx context.Context, root, sourcePath string) (*protocol.PropertyReport, error) {
	ws, runtime, err := e.resolveForConsume(ctx, root)
	if err != nil {
		return nil, err
	}

	resp, runErr := e.invoke(ctx, ws, runtime, &protocol.Request{
		Protocol:     protocol.Version,
		Command:      protocol.CommandProperties,
		WorkspaceDir: ws.Root,
		SourcePath:   sourcePath,
	})
	if runErr != nil {
		return nil, runErr
	}
	if !resp.Success {
		return nil, fmt.Errorf("property computation failed: %s", resp.ExceptionStr)
	}
	if resp.Properties == nil {
		return nil, fmt.Errorf("runner returned no property report")
	}
	return resp.Properties, nil
}

// Describe returns a textual summary of an intermediate artifact.
func (e *Engine) Describe(ctx context.Context, root, sourcePath string) (string, error) {
	ws, runtime, err := e.resolveForConsume(ctx, root)
	if err != nil {
		return "", err
	}

	resp, runErr := e.invoke(ctx, ws, runtime, &protocol.Request{
		Protocol:     protocol.Version,
		Command:      protocol.CommandDescribe,
		WorkspaceDir: ws.Root,
		SourcePath:   sourcePath,
	})
	if runErr != nil {
		return "", runErr
	}
	if !resp.Success {
		return "", fmt.Errorf("describe failed: %s", resp.ExceptionStr)
	}
	return resp.Description, nil
}

func (e *Engine) resolveForConsume(ctx context.Context, root string) (workspace.Workspace, string, error) {
	ws, err := workspace.Resolve(root)
	if err != nil {
		return workspace.Workspace{}, "", err
	}
	runtime, err := e.prepareRuntime(ctx, root)
	if err != nil {
		return workspace.Workspace{}, "", err
	}
	return ws, runtime, nil
}

func resolveTarget(ws workspace.Workspace, target string) string {
	if filepath.IsAbs(target) {
		return target
	}
	if !strings.ContainsAny(target, `/\`) {
		return filepath.Join(ws.OutputDir(), target)
	}
	return filepath.Join(ws.Root, target)
}
