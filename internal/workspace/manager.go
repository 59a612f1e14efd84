package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mattjoyce/partforge/internal/log"
)

// EnvCreationError reports a failed environment bootstrap. It is fatal for
// the workspace: nothing retries it automatically.
type EnvCreationError struct {
	Root string
	Err  error
}

func (e *EnvCreationError) Error() string {
	return fmt.Sprintf("create environment for workspace %s: %v", e.Root, e.Err)
}

func (e *EnvCreationError) Unwrap() error { return e.Err }

// SyncError reports a failed dependency sync. The environment may be stale
// but is still usable; Prepare returns it alongside this error.
type SyncError struct {
	Root string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync dependencies for workspace %s: %v", e.Root, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// envRecord is the cached sync state for one workspace root.
type envRecord struct {
	manifestMtime  time.Time
	manifestExists bool
	synced         bool
}

// Manager ensures an isolated runtime exists and is current for each
// workspace. One instance is shared process-wide; the sync cache and the
// per-root locks live here rather than in package globals so the
// at-most-one-sync invariant is testable.
type Manager struct {
	syncer Syncer
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	cache map[string]envRecord
}

// NewManager creates a Manager backed by the given Syncer.
func NewManager(syncer Syncer) *Manager {
	return &Manager{
		syncer: syncer,
		logger: log.WithComponent("workspace"),
		locks:  make(map[string]*sync.Mutex),
		cache:  make(map[string]envRecord),
	}
}

// Prepare ensures the workspace runtime exists and its dependencies match the
// manifest, returning the runtime interpreter path.
//
// Concurrent calls for the same root serialize; distinct roots proceed
// independently. A failed sync still returns the runtime path: the cached
// manifest mtime is updated either way so a persistently broken manifest does
// not trigger an install on every call.
func (m *Manager) Prepare(ctx context.Context, root string) (string, error) {
	ws, err := Resolve(root)
	if err != nil {
		return "", err
	}

	lock := m.lockFor(ws.ID())
	lock.Lock()
	defer lock.Unlock()

	runtime := ws.RuntimePath()

	if _, err := os.Stat(runtime); err != nil {
		m.logger.Info("bootstrapping environment", "workspace", ws.Root)
		if err := m.syncer.CreateEnv(ctx, ws); err != nil {
			return "", &EnvCreationError{Root: ws.Root, Err: err}
		}
		if err := m.syncer.InstallBase(ctx, ws); err != nil {
			return "", &EnvCreationError{Root: ws.Root, Err: err}
		}
		if _, err := os.Stat(runtime); err != nil {
			return "", &EnvCreationError{Root: ws.Root, Err: fmt.Errorf("runtime missing after creation: %w", err)}
		}
	}

	mtime, exists := manifestState(ws)
	cached, haveRecord := m.getRecord(ws.ID())

	changed := !haveRecord ||
		cached.manifestExists != exists ||
		(exists && !cached.manifestMtime.Equal(mtime))

	if !changed {
		return runtime, nil
	}

	// Record the observed state before attempting the sync so a broken
	// manifest is not retried endlessly.
	record := envRecord{manifestMtime: mtime, manifestExists: exists, synced: true}

	if !exists {
		m.logger.Info("manifest absent, skipping dependency sync", "workspace", ws.Root)
		m.setRecord(ws.ID(), record)
		return runtime, nil
	}

	m.logger.Info("manifest changed, syncing dependencies", "workspace", ws.Root, "mtime", mtime)
	if err := m.syncer.SyncManifest(ctx, ws); err != nil {
		record.synced = false
		m.setRecord(ws.ID(), record)
		return runtime, &SyncError{Root: ws.Root, Err: err}
	}

	m.setRecord(ws.ID(), record)
	return runtime, nil
}

// InstallPackage installs one package into the workspace environment and
// refreshes the cached manifest mtime, since the installer may rewrite it.
func (m *Manager) InstallPackage(ctx context.Context, root, pkg string) error {
	if _, err := m.Prepare(ctx, root); err != nil {
		var syncErr *SyncError
		if !errors.As(err, &syncErr) {
			return err
		}
		// Stale environment still accepts installs.
		m.logger.Warn("installing into stale environment", "workspace", root, "error", err)
	}

	ws, err := Resolve(root)
	if err != nil {
		return err
	}

	lock := m.lockFor(ws.ID())
	lock.Lock()
	defer lock.Unlock()

	if err := m.syncer.InstallPackage(ctx, ws, pkg); err != nil {
		return fmt.Errorf("install package %q: %w", pkg, err)
	}

	mtime, exists := manifestState(ws)
	m.setRecord(ws.ID(), envRecord{manifestMtime: mtime, manifestExists: exists, synced: true})
	return nil
}

// Synced reports whether the last sync for root succeeded. Used by tests and
// the health endpoint.
func (m *Manager) Synced(root string) bool {
	ws, err := Resolve(root)
	if err != nil {
		return false
	}
	record, ok := m.getRecord(ws.ID())
	return ok && record.synced
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

func (m *Manager) getRecord(id string) (envRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.cache[id]
	return record, ok
}

func (m *Manager) setRecord(id string, record envRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[id] = record
}

func manifestState(ws Workspace) (time.Time, bool) {
	info, err := os.Stat(ws.ManifestPath())
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}
