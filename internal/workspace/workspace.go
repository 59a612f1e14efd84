package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Well-known names under a workspace root.
const (
	EnvDirName      = ".env"
	ManifestName    = "requirements.txt"
	ModulesDirName  = "modules"
	ResultsDirName  = ".results"
	PreviewsDirName = ".previews"
	OutputDirName   = "shapes"
	RendersDirName  = "renders"
)

// Workspace describes one workspace directory tree. The root is the unit of
// environment and library isolation; everything else is derived from it.
//
// Absolute paths stay here so callers never join path fragments themselves.
type Workspace struct {
	Root string
}

// Resolve validates root and returns a Workspace with an absolute root path.
func Resolve(root string) (Workspace, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return Workspace{}, fmt.Errorf("workspace root is empty")
	}

	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return Workspace{}, fmt.Errorf("resolve workspace root %q: %w", root, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return Workspace{}, fmt.Errorf("workspace root %q: %w", abs, err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("workspace root %q is not a directory", abs)
	}

	return Workspace{Root: abs}, nil
}

// ID identifies the workspace across process-wide caches.
func (w Workspace) ID() string { return w.Root }

func (w Workspace) EnvDir() string       { return filepath.Join(w.Root, EnvDirName) }
func (w Workspace) ManifestPath() string { return filepath.Join(w.Root, ManifestName) }
func (w Workspace) ModulesDir() string   { return filepath.Join(w.Root, ModulesDirName) }
func (w Workspace) PreviewsDir() string  { return filepath.Join(w.Root, PreviewsDirName) }
func (w Workspace) OutputDir() string    { return filepath.Join(w.Root, OutputDirName) }

// RuntimePath is the interpreter inside the workspace environment.
func (w Workspace) RuntimePath() string {
	return filepath.Join(w.EnvDir(), "bin", "python")
}

// ResultsDir is the scratch directory holding intermediate artifacts for one
// execution.
func (w Workspace) ResultsDir(resultID string) string {
	return filepath.Join(w.Root, ResultsDirName, resultID)
}

// RendersDir holds preview renders produced by export_preview.
func (w Workspace) RendersDir() string {
	return filepath.Join(w.OutputDir(), RendersDirName)
}

// LibraryDir resolves the part library directory (name is configurable).
func (w Workspace) LibraryDir(dirName string) string {
	return filepath.Join(w.Root, dirName)
}

// SaveModule writes a helper module under modules/ so scripts can import it.
// The filename must be a bare .py name; traversal attempts are rejected.
func (w Workspace) SaveModule(filename, content string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("module filename is empty")
	}
	if !strings.HasSuffix(filename, ".py") {
		return "", fmt.Errorf("module filename %q must end with .py", filename)
	}
	if strings.ContainsAny(filename, `/\`) {
		return "", fmt.Errorf("module filename %q must not contain path separators", filename)
	}

	modulesDir := w.ModulesDir()
	if err := os.MkdirAll(modulesDir, 0o755); err != nil {
		return "", fmt.Errorf("create modules directory: %w", err)
	}

	target := filepath.Join(modulesDir, filename)
	if filepath.Dir(target) != modulesDir {
		return "", fmt.Errorf("module filename %q escapes modules directory", filename)
	}

	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write module %q: %w", filename, err)
	}
	return target, nil
}
