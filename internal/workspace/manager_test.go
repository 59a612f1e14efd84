package workspace_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/mattjoyce/partforge/internal/workspace"
	"github.com/mattjoyce/partforge/internal/workspace/mocks"
)

func newRoot(t *testing.T, withRuntime bool) string {
	t.Helper()
	root := t.TempDir()
	if withRuntime {
		createRuntime(t, root)
	}
	return root
}

func createRuntime(t *testing.T, root string) {
	t.Helper()
	binDir := filepath.Join(root, workspace.EnvDirName, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(binDir, "python"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
}

func writeManifest(t *testing.T, root, content string) string {
	t.Helper()
	path := filepath.Join(root, workspace.ManifestName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPrepareBootstrapsEnvironment(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	root := newRoot(t, false)

	syncer := mocks.NewMockSyncer(ctrl)
	syncer.EXPECT().CreateEnv(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, ws workspace.Workspace) error {
			createRuntime(t, ws.Root)
			return nil
		})
	syncer.EXPECT().InstallBase(gomock.Any(), gomock.Any()).Return(nil)

	mgr := workspace.NewManager(syncer)
	runtime, err := mgr.Prepare(context.Background(), root)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if _, err := os.Stat(runtime); err != nil {
		t.Errorf("returned runtime %q does not exist: %v", runtime, err)
	}
}

func TestPrepareEnvCreationFailureIsFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	root := newRoot(t, false)

	syncer := mocks.NewMockSyncer(ctrl)
	syncer.EXPECT().CreateEnv(gomock.Any(), gomock.Any()).Return(fmt.Errorf("uv not found"))

	mgr := workspace.NewManager(syncer)
	runtime, err := mgr.Prepare(context.Background(), root)
	if runtime != "" {
		t.Errorf("expected no runtime path, got %q", runtime)
	}
	var envErr *workspace.EnvCreationError
	if !errors.As(err, &envErr) {
		t.Fatalf("expected EnvCreationError, got %v", err)
	}
}

func TestPrepareSyncsOnceForUnchangedManifest(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	root := newRoot(t, true)
	writeManifest(t, root, "cadquery==2.4\n")

	syncer := mocks.NewMockSyncer(ctrl)
	syncer.EXPECT().SyncManifest(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	mgr := workspace.NewManager(syncer)
	for i := 0; i < 3; i++ {
		if _, err := mgr.Prepare(context.Background(), root); err != nil {
			t.Fatalf("Prepare() #%d error = %v", i, err)
		}
	}
	if !mgr.Synced(root) {
		t.Error("Synced() = false after successful sync")
	}
}

func TestPrepareConcurrentCallsSyncOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	root := newRoot(t, true)
	writeManifest(t, root, "cadquery==2.4\n")

	syncer := mocks.NewMockSyncer(ctrl)
	syncer.EXPECT().SyncManifest(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ workspace.Workspace) error {
			time.Sleep(10 * time.Millisecond)
			return nil
		}).Times(1)

	mgr := workspace.NewManager(syncer)

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Prepare(context.Background(), root)
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Errorf("concurrent Prepare() error = %v", err)
		}
	}
}

func TestPrepareResyncsOnManifestChange(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	root := newRoot(t, true)
	manifest := writeManifest(t, root, "cadquery==2.4\n")

	syncer := mocks.NewMockSyncer(ctrl)
	syncer.EXPECT().SyncManifest(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	mgr := workspace.NewManager(syncer)
	if _, err := mgr.Prepare(context.Background(), root); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	// Bump the mtime explicitly so the test does not depend on filesystem
	// timestamp resolution.
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(manifest, future, future); err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.Prepare(context.Background(), root); err != nil {
		t.Fatalf("Prepare() after touch error = %v", err)
	}
}

func TestPrepareFailedSyncReturnsRuntimeWithoutRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	root := newRoot(t, true)
	writeManifest(t, root, "no-such-package==99\n")

	syncer := mocks.NewMockSyncer(ctrl)
	syncer.EXPECT().SyncManifest(gomock.Any(), gomock.Any()).Return(fmt.Errorf("resolution failed")).Times(1)

	mgr := workspace.NewManager(syncer)

	runtime, err := mgr.Prepare(context.Background(), root)
	if runtime == "" {
		t.Error("expected runtime path despite sync failure")
	}
	var syncErr *workspace.SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("expected SyncError, got %v", err)
	}
	if mgr.Synced(root) {
		t.Error("Synced() = true after failed sync")
	}

	// The broken manifest is unchanged, so the second call must not retry.
	if _, err := mgr.Prepare(context.Background(), root); err != nil {
		t.Fatalf("second Prepare() error = %v", err)
	}
}

func TestPrepareWithoutManifestSkipsSync(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	root := newRoot(t, true)

	syncer := mocks.NewMockSyncer(ctrl)

	mgr := workspace.NewManager(syncer)
	if _, err := mgr.Prepare(context.Background(), root); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	// Manifest appears later: exactly one sync on the next call.
	writeManifest(t, root, "cadquery==2.4\n")
	syncer.EXPECT().SyncManifest(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	if _, err := mgr.Prepare(context.Background(), root); err != nil {
		t.Fatalf("Prepare() after manifest appeared error = %v", err)
	}
}

func TestInstallPackageRefreshesManifestRecord(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	root := newRoot(t, true)
	manifest := writeManifest(t, root, "cadquery==2.4\n")

	syncer := mocks.NewMockSyncer(ctrl)
	syncer.EXPECT().SyncManifest(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	syncer.EXPECT().InstallPackage(gomock.Any(), gomock.Any(), "numpy").DoAndReturn(
		func(_ context.Context, _ workspace.Workspace, _ string) error {
			// The installer rewrites the manifest as part of the install.
			future := time.Now().Add(time.Hour)
			return os.Chtimes(manifest, future, future)
		})

	mgr := workspace.NewManager(syncer)
	if err := mgr.InstallPackage(context.Background(), root, "numpy"); err != nil {
		t.Fatalf("InstallPackage() error = %v", err)
	}

	// The record was refreshed after the install, so no resync happens.
	if _, err := mgr.Prepare(context.Background(), root); err != nil {
		t.Fatalf("Prepare() after install error = %v", err)
	}
}

func TestInstallPackagePropagatesInstallerError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	root := newRoot(t, true)

	syncer := mocks.NewMockSyncer(ctrl)
	syncer.EXPECT().InstallPackage(gomock.Any(), gomock.Any(), "broken").Return(fmt.Errorf("no matching distribution"))

	mgr := workspace.NewManager(syncer)
	err := mgr.InstallPackage(context.Background(), root, "broken")
	if err == nil {
		t.Fatal("expected error from failed install")
	}
}
