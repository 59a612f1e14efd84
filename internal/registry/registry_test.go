package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mattjoyce/partforge/internal/protocol"
)

func writeArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStoreAndGet(t *testing.T) {
	dir := t.TempDir()
	p0 := writeArtifact(t, dir, "0.brep", "brep-data-0")
	p1 := writeArtifact(t, dir, "1.brep", "brep-data-1")

	reg := New()
	entry := reg.Store("res-1", "/ws", []protocol.Shape{
		{Index: 0, Name: "shape_0", IntermediatePath: p0},
		{Index: 1, Name: "shape_1", IntermediatePath: p1},
	})

	if len(entry.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(entry.Artifacts))
	}
	if entry.Artifacts[0].Checksum == "" {
		t.Error("checksum not computed")
	}

	got, err := reg.Get("res-1", 1)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Path != p1 {
		t.Errorf("Get() path = %q, want %q", got.Path, p1)
	}

	stored, err := reg.Entry("res-1")
	if err != nil {
		t.Fatalf("Entry() error = %v", err)
	}
	if stored.WorkspaceRoot != "/ws" {
		t.Errorf("workspace root = %q", stored.WorkspaceRoot)
	}
}

func TestStoreSkipsFailedExports(t *testing.T) {
	dir := t.TempDir()
	p0 := writeArtifact(t, dir, "0.brep", "data")

	reg := New()
	reg.Store("res-1", "/ws", []protocol.Shape{
		{Index: 0, Name: "shape_0", IntermediatePath: p0},
		{Index: 1, Name: "shape_1", ExportError: "disk full"},
	})

	if _, err := reg.Get("res-1", 0); err != nil {
		t.Errorf("Get(0) error = %v", err)
	}
	_, err := reg.Get("res-1", 1)
	if !errors.Is(err, ErrNoSuchArtifact) {
		t.Errorf("Get(1) error = %v, want ErrNoSuchArtifact", err)
	}
}

func TestGetUnknownResult(t *testing.T) {
	reg := New()
	_, err := reg.Get("nope", 0)
	if !errors.Is(err, ErrUnknownResult) {
		t.Errorf("Get() error = %v, want ErrUnknownResult", err)
	}
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "0.brep", "original")

	reg := New()
	reg.Store("res-1", "/ws", []protocol.Shape{
		{Index: 0, Name: "shape_0", IntermediatePath: path},
	})

	artifact, err := reg.Get("res-1", 0)
	if err != nil {
		t.Fatal(err)
	}

	if err := Verify(artifact); err != nil {
		t.Errorf("Verify() on untouched file: %v", err)
	}

	if err := os.WriteFile(path, []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Verify(artifact); err == nil {
		t.Error("Verify() accepted a modified artifact")
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := Verify(artifact); err == nil {
		t.Error("Verify() accepted a deleted artifact")
	}
}

func TestConcurrentStoreAndGet(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "0.brep", "data")

	reg := New()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			reg.Store("res-w", "/ws", []protocol.Shape{
				{Index: 0, Name: "shape_0", IntermediatePath: path},
			})
		}
	}()
	for i := 0; i < 100; i++ {
		reg.Get("res-w", 0)
	}
	<-done

	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}
}
