package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/partforge/internal/config"
	"github.com/mattjoyce/partforge/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

// stubPreparer hands out a fixed runtime path without touching any installer.
type stubPreparer struct {
	runtime string
	err     error
}

func (s *stubPreparer) Prepare(ctx context.Context, root string) (string, error) {
	return s.runtime, s.err
}

// newFakeWorkspace creates a workspace whose runtime interpreter is a shell
// script, so tests drive the whole spawn path without a real Python.
func newFakeWorkspace(t *testing.T, runtimeScript string) (string, string) {
	t.Helper()
	root := t.TempDir()
	binDir := filepath.Join(root, ".env", "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	runtime := filepath.Join(binDir, "python")
	if err := os.WriteFile(runtime, []byte(runtimeScript), 0o755); err != nil {
		t.Fatal(err)
	}
	return root, runtime
}

func newTestEngine(runtime string, timeout time.Duration) *Engine {
	cfg := config.Defaults()
	if timeout > 0 {
		cfg.Engine.ExecTimeout = timeout
	}
	return New(&stubPreparer{runtime: runtime}, cfg)
}

func TestExecute_Success(t *testing.T) {
	// Fake runner: create the intermediate file the response points at.
	script := `#!/bin/bash
payload="$(cat)"
result_id=$(echo "$payload" | sed -n 's/.*"result_id":"\([^"]*\)".*/\1/p')
dir="$PWD/.results/$result_id"
mkdir -p "$dir"
touch "$dir/0.brep"
echo "{\"success\":true,\"shapes\":[{\"index\":0,\"name\":\"shape_0\",\"intermediate_path\":\"$dir/0.brep\"}]}"
`
	root, runtime := newFakeWorkspace(t, script)
	eng := newTestEngine(runtime, 0)

	results, err := eng.Execute(context.Background(), root, "result = box(1, 1, 1)", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	res := results[0]
	if res.Err != nil {
		t.Fatalf("unexpected runner error: %v", res.Err)
	}
	if !res.Success {
		t.Fatalf("expected success, got exception %q", res.ExceptionStr)
	}
	if res.ResultID == "" {
		t.Error("result id is empty")
	}
	if len(res.Shapes) != 1 {
		t.Fatalf("expected 1 shape, got %d", len(res.Shapes))
	}
	if _, err := os.Stat(res.Shapes[0].IntermediatePath); err != nil {
		t.Errorf("intermediate path does not exist: %v", err)
	}
}

func TestExecute_ScriptFailureIsDataNotError(t *testing.T) {
	script := `#!/bin/bash
read input
echo '{"success":false,"exception_str":"NameError: name '"'"'bax'"'"' is not defined"}'
`
	root, runtime := newFakeWorkspace(t, script)
	eng := newTestEngine(runtime, 0)

	results, err := eng.Execute(context.Background(), root, "bax(1)", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	res := results[0]
	if res.Err != nil {
		t.Fatalf("script failure must not be a runner error: %v", res.Err)
	}
	if res.Success {
		t.Error("expected success=false")
	}
	if !strings.Contains(res.ExceptionStr, "NameError") {
		t.Errorf("unexpected exception %q", res.ExceptionStr)
	}
}

func TestExecute_GarbageOutputIsRunnerError(t *testing.T) {
	script := `#!/bin/bash
read input
echo 'Traceback (most recent call last):'
`
	root, runtime := newFakeWorkspace(t, script)
	eng := newTestEngine(runtime, 0)

	results, err := eng.Execute(context.Background(), root, "result = 1", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	res := results[0]
	if res.Err == nil {
		t.Fatal("expected runner error for unparseable stdout")
	}
	if res.Err.Timeout {
		t.Error("garbage output misreported as timeout")
	}
}

func TestExecute_Timeout(t *testing.T) {
	// exec replaces bash so SIGTERM goes straight to sleep.
	script := `#!/bin/bash
read input
exec sleep 10
`
	root, runtime := newFakeWorkspace(t, script)
	eng := newTestEngine(runtime, 1*time.Second)

	start := time.Now()
	results, err := eng.Execute(context.Background(), root, "result = 1", nil)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	// 1s timeout + 5s grace + margin.
	if elapsed > 8*time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}

	res := results[0]
	if res.Err == nil || !res.Err.Timeout {
		t.Fatalf("expected timeout runner error, got %v", res.Err)
	}
}

func TestExecute_MissingArtifactDemotedToExportError(t *testing.T) {
	script := `#!/bin/bash
read input
echo '{"success":true,"shapes":[{"index":0,"name":"shape_0","intermediate_path":"/nonexistent/0.brep"}]}'
`
	root, runtime := newFakeWorkspace(t, script)
	eng := newTestEngine(runtime, 0)

	results, err := eng.Execute(context.Background(), root, "result = 1", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	shape := results[0].Shapes[0]
	if shape.IntermediatePath != "" {
		t.Errorf("missing artifact kept its path %q", shape.IntermediatePath)
	}
	if shape.ExportError == "" {
		t.Error("expected export error for missing artifact")
	}
}

func TestExecute_OneResultPerParameterSet(t *testing.T) {
	script := `#!/bin/bash
payload="$(cat)"
result_id=$(echo "$payload" | sed -n 's/.*"result_id":"\([^"]*\)".*/\1/p')
dir="$PWD/.results/$result_id"
mkdir -p "$dir"
touch "$dir/0.brep"
echo "{\"success\":true,\"shapes\":[{\"index\":0,\"name\":\"shape_0\",\"intermediate_path\":\"$dir/0.brep\"}]}"
`
	root, runtime := newFakeWorkspace(t, script)
	eng := newTestEngine(runtime, 0)

	sets := []map[string]any{
		{"length": 10.0},
		{"length": 20.0},
		{"length": 30.0},
	}
	results, err := eng.Execute(context.Background(), root, "length = 5  # PARAM\nresult = box(length, 1, 1)", sets)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	seen := make(map[string]bool)
	for i, res := range results {
		if res.Err != nil || !res.Success {
			t.Errorf("set %d failed: err=%v exception=%q", i, res.Err, res.ExceptionStr)
		}
		if seen[res.ResultID] {
			t.Errorf("duplicate result id %q", res.ResultID)
		}
		seen[res.ResultID] = true
	}
}

func TestExecute_BadParameterFailsOnlyThatSet(t *testing.T) {
	script := `#!/bin/bash
read input
echo '{"success":true,"shapes":[]}'
`
	root, runtime := newFakeWorkspace(t, script)
	eng := newTestEngine(runtime, 0)

	sets := []map[string]any{
		{"no_such_param": 1.0},
		nil,
	}
	results, err := eng.Execute(context.Background(), root, "result = 1", sets)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if results[0].Success || results[0].ExceptionStr == "" {
		t.Errorf("bad parameter set should fail with a message, got %+v", results[0])
	}
	if !results[1].Success {
		t.Errorf("good set should still run, got %+v", results[1])
	}
}

func TestExport_ResolvesBareFilenameToShapesDir(t *testing.T) {
	script := `#!/bin/bash
payload="$(cat)"
target=$(echo "$payload" | sed -n 's/.*"target_path":"\([^"]*\)".*/\1/p')
mkdir -p "$(dirname "$target")"
touch "$target"
echo "{\"success\":true,\"target_path\":\"$target\"}"
`
	root, runtime := newFakeWorkspace(t, script)
	eng := newTestEngine(runtime, 0)

	got, err := eng.Export(context.Background(), ExportRequest{
		Root:       root,
		SourcePath: filepath.Join(root, ".results", "r", "0.brep"),
		TargetPath: "part.step",
		Format:     "STEP",
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	want := filepath.Join(root, "shapes", "part.step")
	if got != want {
		t.Errorf("Export() target = %q, want %q", got, want)
	}
	if _, err := os.Stat(got); err != nil {
		t.Errorf("exported file missing: %v", err)
	}
}

func TestExport_RunnerFailurePropagates(t *testing.T) {
	script := `#!/bin/bash
read input
echo '{"success":false,"exception_str":"cannot read BREP file"}'
`
	root, runtime := newFakeWorkspace(t, script)
	eng := newTestEngine(runtime, 0)

	_, err := eng.Export(context.Background(), ExportRequest{
		Root:       root,
		SourcePath: "/nonexistent/0.brep",
		TargetPath: "out.step",
	})
	if err == nil || !strings.Contains(err.Error(), "cannot read BREP file") {
		t.Errorf("expected export failure with runner message, got %v", err)
	}
}

func TestPreview_TargetUnderRendersDir(t *testing.T) {
	script := `#!/bin/bash
payload="$(cat)"
target=$(echo "$payload" | sed -n 's/.*"target_path":"\([^"]*\)".*/\1/p')
echo "{\"success\":true,\"target_path\":\"$target\"}"
`
	root, runtime := newFakeWorkspace(t, script)
	eng := newTestEngine(runtime, 0)

	got, err := eng.Preview(context.Background(), PreviewRequest{
		Root:       root,
		SourcePath: filepath.Join(root, ".results", "r", "0.brep"),
		TargetName: "part",
		Options:    map[string]any{"width": 800},
	})
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	want := filepath.Join(root, "shapes", "renders", "part.svg")
	if got != want {
		t.Errorf("Preview() target = %q, want %q", got, want)
	}
}

func TestPreview_RejectsPathSeparators(t *testing.T) {
	root, runtime := newFakeWorkspace(t, "#!/bin/bash\nread input\n")
	eng := newTestEngine(runtime, 0)

	_, err := eng.Preview(context.Background(), PreviewRequest{
		Root:       root,
		SourcePath: "x.brep",
		TargetName: "../escape",
	})
	if err == nil {
		t.Error("expected error for target name with separators")
	}
}

func TestProperties_PartialReport(t *testing.T) {
	script := `#!/bin/bash
read input
echo '{"success":true,"properties":{"bounding_box":null,"volume":42.5,"area":null,"center_of_mass":null,"diagnostics":["bounding_box: degenerate shape","area: degenerate shape","center_of_mass: degenerate shape"]}}'
`
	root, runtime := newFakeWorkspace(t, script)
	eng := newTestEngine(runtime, 0)

	report, err := eng.Properties(context.Background(), root, "x.brep")
	if err != nil {
		t.Fatalf("Properties() error = %v", err)
	}
	if report.Volume == nil || *report.Volume != 42.5 {
		t.Errorf("unexpected volume %v", report.Volume)
	}
	if report.BoundingBox != nil {
		t.Error("expected nil bounding box")
	}
	if len(report.Diagnostics) != 3 {
		t.Errorf("expected 3 diagnostics, got %v", report.Diagnostics)
	}
}

func TestDescribe(t *testing.T) {
	script := `#!/bin/bash
read input
echo '{"success":true,"description":"Volume: 42.500 cubic units."}'
`
	root, runtime := newFakeWorkspace(t, script)
	eng := newTestEngine(runtime, 0)

	desc, err := eng.Describe(context.Background(), root, "x.brep")
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if !strings.Contains(desc, "Volume") {
		t.Errorf("unexpected description %q", desc)
	}
}

func TestTruncateStderr(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"short string unchanged", "short", 5},
		{"exactly at limit unchanged", string(make([]byte, maxStderrBytes)), maxStderrBytes},
		{"over limit truncated", string(make([]byte, maxStderrBytes+1000)), maxStderrBytes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateStderr(tt.input)
			if len(got) != tt.want {
				t.Errorf("truncateStderr() length = %d, want %d", len(got), tt.want)
			}
		})
	}
}
