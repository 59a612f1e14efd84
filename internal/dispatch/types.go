package dispatch

import (
	"encoding/json"

	"github.com/mattjoyce/partforge/internal/protocol"
)

// Tool names accepted by the dispatcher.
const (
	ToolRunScript      = "run_script"
	ToolExportArtifact = "export_artifact"
	ToolExportPreview  = "export_preview"
	ToolScanLibrary    = "scan_library"
	ToolSearchLibrary  = "search_library"
	ToolGetProperties  = "get_properties"
	ToolGetDescription = "get_description"
	ToolSaveModule     = "save_workspace_module"
	ToolInstallPackage = "install_workspace_package"
)

// Response envelope types.
const (
	TypeResult = "result"
	TypeError  = "error"
)

// Request is the transport-agnostic tool call envelope.
type Request struct {
	RequestID string          `json:"request_id"`
	Tool      string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Response is the completed call envelope pushed back over the transport.
type Response struct {
	RequestID string `json:"request_id"`
	Type      string `json:"type"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SetOutcome is one parameter set's outcome inside a run_script result.
type SetOutcome struct {
	ResultID     string           `json:"result_id"`
	Success      bool             `json:"success"`
	Shapes       []protocol.Shape `json:"shapes,omitempty"`
	ExceptionStr string           `json:"exception_str,omitempty"`
	// Error is set when the runner itself crashed or timed out for this set.
	Error string `json:"error,omitempty"`
}

// RunScriptResult is the run_script tool result payload.
type RunScriptResult struct {
	Results []SetOutcome `json:"results"`
}

// Per-tool argument payloads. Field names follow the wire protocol.

type runScriptArgs struct {
	WorkspacePath string           `json:"workspace_path"`
	Script        string           `json:"script"`
	ParameterSets []map[string]any `json:"parameter_sets"`
	Parameters    map[string]any   `json:"parameters"`
}

type exportArtifactArgs struct {
	ResultID   string         `json:"result_id"`
	ShapeIndex int            `json:"shape_index"`
	Filename   string         `json:"filename"`
	Format     string         `json:"format"`
	Options    map[string]any `json:"options"`
}

type exportPreviewArgs struct {
	ResultID   string         `json:"result_id"`
	ShapeIndex int            `json:"shape_index"`
	Filename   string         `json:"filename"`
	Options    map[string]any `json:"options"`
}

type scanLibraryArgs struct {
	WorkspacePath string `json:"workspace_path"`
}

type searchLibraryArgs struct {
	WorkspacePath string `json:"workspace_path"`
	Query         string `json:"query"`
}

type artifactArgs struct {
	ResultID   string `json:"result_id"`
	ShapeIndex int    `json:"shape_index"`
}

type saveModuleArgs struct {
	WorkspacePath  string `json:"workspace_path"`
	ModuleFilename string `json:"module_filename"`
	ModuleContent  string `json:"module_content"`
}

type installPackageArgs struct {
	WorkspacePath string `json:"workspace_path"`
	PackageName   string `json:"package_name"`
}
