package protocol

// Version is the runner wire protocol version. The Go side and the embedded
// runner script must agree on it; a mismatch is a deploy error, not a runtime
// negotiation.
const Version = 1

// Runner commands.
const (
	CommandBuild      = "build"
	CommandExport     = "export"
	CommandPreview    = "preview"
	CommandProperties = "properties"
	CommandDescribe   = "describe"
)

// Request is the envelope written to a runner subprocess via stdin.
// Exactly one JSON document per invocation.
type Request struct {
	Protocol     int    `json:"protocol"`
	Command      string `json:"command"`
	WorkspaceDir string `json:"workspace_dir"`

	// build
	ResultID string `json:"result_id,omitempty"`
	Script   string `json:"script,omitempty"`

	// export / preview / properties / describe
	SourcePath string         `json:"source_path,omitempty"`
	TargetPath string         `json:"target_path,omitempty"`
	Format     string         `json:"format,omitempty"`
	Options    map[string]any `json:"options,omitempty"`
}

// Shape describes one artifact produced by a build.
type Shape struct {
	Index            int    `json:"index"`
	Name             string `json:"name"`
	IntermediatePath string `json:"intermediate_path"`
	ExportError      string `json:"export_error,omitempty"`
}

// Vec3 is a point or vector in model space.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// BoundingBox is an axis-aligned bounding box.
type BoundingBox struct {
	XMin   float64 `json:"xmin"`
	YMin   float64 `json:"ymin"`
	ZMin   float64 `json:"zmin"`
	XMax   float64 `json:"xmax"`
	YMax   float64 `json:"ymax"`
	ZMax   float64 `json:"zmax"`
	XLen   float64 `json:"xlen"`
	YLen   float64 `json:"ylen"`
	ZLen   float64 `json:"zlen"`
	Center Vec3    `json:"center"`
}

// PropertyReport carries geometric properties computed field-by-field.
// A nil field means that computation failed; Diagnostics holds one message
// per failed field. Loading the shape at all is the runner's problem; if
// that fails the whole response is an error, not a report.
type PropertyReport struct {
	BoundingBox  *BoundingBox `json:"bounding_box"`
	Volume       *float64     `json:"volume"`
	Area         *float64     `json:"area"`
	CenterOfMass *Vec3        `json:"center_of_mass"`
	Diagnostics  []string     `json:"diagnostics,omitempty"`
}

// Response is the single JSON line a runner subprocess emits on stdout.
type Response struct {
	Success      bool    `json:"success"`
	Shapes       []Shape `json:"shapes,omitempty"`
	ExceptionStr string  `json:"exception_str,omitempty"`

	// consume commands
	TargetPath  string          `json:"target_path,omitempty"`
	Properties  *PropertyReport `json:"properties,omitempty"`
	Description string          `json:"description,omitempty"`
}
