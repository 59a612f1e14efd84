// Package registry tracks artifacts produced by script executions. Entries
// hold file paths and checksums, never geometry; the files themselves live
// under the workspace results directory. The registry is in-memory only and
// is lost on restart.
package registry

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/partforge/internal/log"
	"github.com/mattjoyce/partforge/internal/protocol"
)

var (
	// ErrUnknownResult means the result id was never stored (or the process
	// restarted since).
	ErrUnknownResult = errors.New("unknown result id")

	// ErrNoSuchArtifact means the result exists but has no retrievable
	// artifact at the requested index.
	ErrNoSuchArtifact = errors.New("no such artifact")
)

// Artifact is one retrievable intermediate file.
type Artifact struct {
	Index    int
	Name     string
	Path     string
	Checksum string
}

// Entry records one execution's artifacts.
type Entry struct {
	ID            string
	WorkspaceRoot string
	Artifacts     []Artifact
	CreatedAt     time.Time
}

// Registry is safe for concurrent use. There is no eviction: consumers of
// long-lived processes are expected to restart or accept the growth.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	logger  *slog.Logger
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		logger:  log.WithComponent("registry"),
	}
}

// Store records the shapes of one execution under its result id. Shapes
// whose intermediate export failed are skipped; they were already reported
// to the caller via the execution result. Returns the stored entry.
func (r *Registry) Store(resultID, workspaceRoot string, shapes []protocol.Shape) Entry {
	entry := Entry{
		ID:            resultID,
		WorkspaceRoot: workspaceRoot,
		CreatedAt:     time.Now().UTC(),
	}

	for _, shape := range shapes {
		if shape.IntermediatePath == "" {
			continue
		}
		checksum, err := hashFile(shape.IntermediatePath)
		if err != nil {
			r.logger.Warn("failed to checksum artifact", "result_id", resultID, "path", shape.IntermediatePath, "error", err)
		}
		entry.Artifacts = append(entry.Artifacts, Artifact{
			Index:    shape.Index,
			Name:     shape.Name,
			Path:     shape.IntermediatePath,
			Checksum: checksum,
		})
	}

	r.mu.Lock()
	r.entries[resultID] = entry
	r.mu.Unlock()

	r.logger.Debug("stored result", "result_id", resultID, "artifacts", len(entry.Artifacts))
	return entry
}

// Entry returns the full entry for a result id.
func (r *Registry) Entry(resultID string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[resultID]
	if !ok {
		return Entry{}, fmt.Errorf("result %q: %w", resultID, ErrUnknownResult)
	}
	return entry, nil
}

// Get returns one artifact of a result by shape index.
func (r *Registry) Get(resultID string, index int) (Artifact, error) {
	entry, err := r.Entry(resultID)
	if err != nil {
		return Artifact{}, err
	}
	for _, a := range entry.Artifacts {
		if a.Index == index {
			return a, nil
		}
	}
	return Artifact{}, fmt.Errorf("result %q index %d: %w", resultID, index, ErrNoSuchArtifact)
}

// Len reports the number of stored results.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Verify re-hashes the artifact file and compares against the stored
// checksum, so consumers notice truncated or modified intermediates before
// handing them to a runner.
func Verify(a Artifact) error {
	if a.Checksum == "" {
		// Hashing failed at store time; nothing to compare against.
		return nil
	}
	actual, err := hashFile(a.Path)
	if err != nil {
		return fmt.Errorf("verify artifact %s: %w", a.Path, err)
	}
	if actual != a.Checksum {
		return fmt.Errorf("artifact %s modified since execution: checksum mismatch", a.Path)
	}
	return nil
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}
