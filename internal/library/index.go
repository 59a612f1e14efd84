// Package library indexes the workspace part library: one-level scan of
// scripts, metadata extraction, preview generation, and search. The index is
// in-memory and rebuilt incrementally by Scan.
package library

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/partforge/internal/config"
	"github.com/mattjoyce/partforge/internal/engine"
	"github.com/mattjoyce/partforge/internal/log"
	"github.com/mattjoyce/partforge/internal/workspace"
)

// Search scoring weights. Name matches outrank tag matches outrank
// description matches.
const (
	scoreName        = 5
	scoreTags        = 3
	scoreDescription = 2
)

// Executor runs part scripts and renders previews. Satisfied by
// *engine.Engine; tests substitute a fake.
type Executor interface {
	Execute(ctx context.Context, root, script string, paramSets []map[string]any) ([]engine.SetResult, error)
	RenderSVG(ctx context.Context, root, sourcePath, targetPath string, opts map[string]any) error
}

// Entry is one indexed part. PartName is the script's file stem and is the
// index key; the metadata Name is display data only.
type Entry struct {
	PartName    string
	Path        string
	ModTime     time.Time
	Metadata    Metadata
	PreviewPath string
	// Error annotates a part whose script or preview failed; the entry is
	// still searchable by its metadata.
	Error string
}

// ScanReport summarizes one Scan pass.
type ScanReport struct {
	Scanned int
	Indexed int
	Cached  int
	Pruned  int
	Errors  int
}

// Index holds the indexed parts of one workspace library. Scan replaces the
// entry set atomically with respect to Search.
type Index struct {
	root     string
	dirName  string
	previewW int
	previewH int
	exec     Executor
	logger   *slog.Logger

	mu      sync.RWMutex
	entries map[string]Entry
}

// NewIndex creates an Index for the library under root.
func NewIndex(root string, cfg *config.Config, exec Executor) *Index {
	return &Index{
		root:     root,
		dirName:  cfg.Library.DirName,
		previewW: cfg.Library.PreviewWidth,
		previewH: cfg.Library.PreviewHeight,
		exec:     exec,
		logger:   log.WithComponent("library").With("workspace", root),
	}
}

// Scan walks the library directory one level deep, indexing every .py script
// that is new or modified since the last scan. Unchanged scripts keep their
// cached entry without re-execution. Scripts removed from disk are pruned
// along with their preview files.
func (idx *Index) Scan(ctx context.Context) (ScanReport, error) {
	var report ScanReport

	ws, err := workspace.Resolve(idx.root)
	if err != nil {
		return report, err
	}

	libDir := ws.LibraryDir(idx.dirName)
	dirEntries, err := os.ReadDir(libDir)
	if err != nil {
		return report, fmt.Errorf("read library directory %q: %w", libDir, err)
	}

	previewsDir := ws.PreviewsDir()
	if err := os.MkdirAll(previewsDir, 0o755); err != nil {
		return report, fmt.Errorf("create previews directory: %w", err)
	}

	// Snapshot current entries by script path for the mtime comparison.
	byPath := make(map[string]Entry)
	idx.mu.RLock()
	for _, entry := range idx.entries {
		byPath[entry.Path] = entry
	}
	idx.mu.RUnlock()

	next := make(map[string]Entry)
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".py") || strings.HasPrefix(name, "_") {
			continue
		}
		report.Scanned++

		path := filepath.Join(libDir, name)
		info, err := de.Info()
		if err != nil {
			idx.logger.Warn("failed to stat library script", "path", path, "error", err)
			report.Errors++
			continue
		}

		if cached, ok := byPath[path]; ok && cached.ModTime.Equal(info.ModTime()) {
			next[cached.PartName] = cached
			report.Cached++
			continue
		}

		entry, err := idx.buildEntry(ctx, ws, previewsDir, path, info.ModTime())
		if err != nil {
			return report, err
		}
		if entry.Error != "" {
			report.Errors++
		}
		next[entry.PartName] = entry
		report.Indexed++
	}

	// Prune entries whose script disappeared, previews included.
	for path, entry := range byPath {
		if _, ok := next[entry.PartName]; ok && next[entry.PartName].Path == path {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			continue
		}
		report.Pruned++
		if entry.PreviewPath != "" {
			if err := os.Remove(entry.PreviewPath); err != nil && !os.IsNotExist(err) {
				idx.logger.Warn("failed to remove stale preview", "path", entry.PreviewPath, "error", err)
			}
		}
		idx.logger.Info("pruned deleted part", "part", entry.PartName)
	}

	idx.mu.Lock()
	idx.entries = next
	idx.mu.Unlock()

	idx.logger.Info("library scan complete",
		"scanned", report.Scanned, "indexed", report.Indexed,
		"cached", report.Cached, "pruned", report.Pruned, "errors", report.Errors)
	return report, nil
}

// buildEntry executes one script and renders its preview. Per-script failures
// (unreadable file, script error, preview render) are recorded on the entry,
// not returned: one bad script must not abort the scan. Only workspace-level
// failures come back as an error.
func (idx *Index) buildEntry(ctx context.Context, ws workspace.Workspace, previewsDir, path string, modTime time.Time) (Entry, error) {
	entry := Entry{
		PartName: strings.TrimSuffix(filepath.Base(path), ".py"),
		Path:     path,
		ModTime:  modTime,
	}

	content, err := os.ReadFile(path)
	if err != nil {
		entry.Error = fmt.Sprintf("read script: %v", err)
		return entry, nil
	}
	entry.Metadata = parseMetadata(string(content))

	results, err := idx.exec.Execute(ctx, ws.Root, string(content), nil)
	if err != nil {
		return Entry{}, err
	}

	res := results[0]
	switch {
	case res.Err != nil:
		entry.Error = res.Err.Error()
		return entry, nil
	case !res.Success:
		entry.Error = res.ExceptionStr
		return entry, nil
	}

	source := ""
	for _, shape := range res.Shapes {
		if shape.IntermediatePath != "" {
			source = shape.IntermediatePath
			break
		}
	}
	if source == "" {
		entry.Error = "script produced no exportable shape"
		return entry, nil
	}

	// Preview filename comes from the file stem, never from metadata.
	previewPath := filepath.Join(previewsDir, entry.PartName+".svg")
	opts := map[string]any{
		"width":    idx.previewW,
		"height":   idx.previewH,
		"showAxes": false,
	}
	if err := idx.exec.RenderSVG(ctx, ws.Root, source, previewPath, opts); err != nil {
		entry.Error = fmt.Sprintf("preview render failed: %v", err)
		return entry, nil
	}
	entry.PreviewPath = previewPath
	return entry, nil
}

// Search returns entries matching query, best matches first, ties broken by
// part name. An empty query returns the whole index sorted by part name.
// Matching is case-insensitive substring over name, tags, and description.
func (idx *Index) Search(query string) []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	query = strings.ToLower(strings.TrimSpace(query))

	type scored struct {
		entry Entry
		score int
	}
	var matches []scored

	terms := strings.Fields(query)
	for _, entry := range idx.entries {
		if query == "" {
			matches = append(matches, scored{entry: entry})
			continue
		}

		score := 0
		if strings.Contains(strings.ToLower(entry.PartName), query) ||
			strings.Contains(strings.ToLower(entry.Metadata.Name), query) {
			score += scoreName
		}
	tagSearch:
		for _, tag := range entry.Metadata.Tags {
			for _, term := range terms {
				if strings.Contains(tag, term) {
					score += scoreTags
					break tagSearch
				}
			}
		}
		if strings.Contains(strings.ToLower(entry.Metadata.Description), query) {
			score += scoreDescription
		}

		if score > 0 {
			matches = append(matches, scored{entry: entry, score: score})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].entry.PartName < matches[j].entry.PartName
	})

	entries := make([]Entry, len(matches))
	for i, m := range matches {
		entries[i] = m.entry
	}
	return entries
}

// Len reports the number of indexed parts.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}
