package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mattjoyce/partforge/internal/engine"
	"github.com/mattjoyce/partforge/internal/registry"
	"github.com/mattjoyce/partforge/internal/workspace"
)

func (d *Dispatcher) runScript(ctx context.Context, raw json.RawMessage) (outcome, error) {
	var args runScriptArgs
	if err := decodeArgs(raw, &args); err != nil {
		return outcome{}, err
	}
	if args.WorkspacePath == "" {
		return outcome{}, fmt.Errorf("missing 'workspace_path' argument")
	}
	if args.Script == "" {
		return outcome{}, fmt.Errorf("missing 'script' argument")
	}

	// parameter_sets wins over the single-set shorthand.
	paramSets := args.ParameterSets
	if paramSets == nil && args.Parameters != nil {
		paramSets = []map[string]any{args.Parameters}
	}

	results, err := d.engine.Execute(ctx, args.WorkspacePath, args.Script, paramSets)
	if err != nil {
		return outcome{workspace: args.WorkspacePath}, err
	}

	out := outcome{workspace: args.WorkspacePath}
	payload := RunScriptResult{Results: make([]SetOutcome, 0, len(results))}
	for _, res := range results {
		set := SetOutcome{
			ResultID:     res.ResultID,
			Success:      res.Success,
			Shapes:       res.Shapes,
			ExceptionStr: res.ExceptionStr,
		}
		if res.Err != nil {
			set.Error = res.Err.Error()
		}
		if res.Success {
			entry := d.registry.Store(res.ResultID, args.WorkspacePath, res.Shapes)
			out.resultIDs = append(out.resultIDs, res.ResultID)
			out.shapeCount += len(entry.Artifacts)
		}
		payload.Results = append(payload.Results, set)
	}
	out.result = payload
	return out, nil
}

func (d *Dispatcher) exportArtifact(ctx context.Context, raw json.RawMessage) (outcome, error) {
	var args exportArtifactArgs
	if err := decodeArgs(raw, &args); err != nil {
		return outcome{}, err
	}
	if args.Filename == "" {
		return outcome{}, fmt.Errorf("missing 'filename' argument")
	}

	entry, artifact, err := d.lookupArtifact(args.ResultID, args.ShapeIndex)
	if err != nil {
		return outcome{}, err
	}

	target, err := d.engine.Export(ctx, engine.ExportRequest{
		Root:       entry.WorkspaceRoot,
		SourcePath: artifact.Path,
		TargetPath: args.Filename,
		Format:     args.Format,
		Options:    args.Options,
	})
	if err != nil {
		return outcome{workspace: entry.WorkspaceRoot}, err
	}

	return outcome{
		result:    map[string]any{"filename": target},
		workspace: entry.WorkspaceRoot,
		resultIDs: []string{args.ResultID},
	}, nil
}

func (d *Dispatcher) exportPreview(ctx context.Context, raw json.RawMessage) (outcome, error) {
	var args exportPreviewArgs
	if err := decodeArgs(raw, &args); err != nil {
		return outcome{}, err
	}

	entry, artifact, err := d.lookupArtifact(args.ResultID, args.ShapeIndex)
	if err != nil {
		return outcome{}, err
	}

	name := args.Filename
	if name == "" {
		name = fmt.Sprintf("%s_%d.svg", args.ResultID, args.ShapeIndex)
	}

	target, err := d.engine.Preview(ctx, engine.PreviewRequest{
		Root:       entry.WorkspaceRoot,
		SourcePath: artifact.Path,
		TargetName: name,
		Options:    args.Options,
	})
	if err != nil {
		return outcome{workspace: entry.WorkspaceRoot}, err
	}

	return outcome{
		result:    map[string]any{"filename": target},
		workspace: entry.WorkspaceRoot,
		resultIDs: []string{args.ResultID},
	}, nil
}

func (d *Dispatcher) scanLibrary(ctx context.Context, raw json.RawMessage) (outcome, error) {
	var args scanLibraryArgs
	if err := decodeArgs(raw, &args); err != nil {
		return outcome{}, err
	}

	ws, err := workspace.Resolve(args.WorkspacePath)
	if err != nil {
		return outcome{}, err
	}

	report, err := d.indexFor(ws.Root).Scan(ctx)
	if err != nil {
		return outcome{workspace: ws.Root}, err
	}

	return outcome{
		result: map[string]any{
			"scanned": report.Scanned,
			"indexed": report.Indexed,
			"cached":  report.Cached,
			"pruned":  report.Pruned,
			"errors":  report.Errors,
		},
		workspace: ws.Root,
	}, nil
}

func (d *Dispatcher) searchLibrary(raw json.RawMessage) (outcome, error) {
	var args searchLibraryArgs
	if err := decodeArgs(raw, &args); err != nil {
		return outcome{}, err
	}

	ws, err := workspace.Resolve(args.WorkspacePath)
	if err != nil {
		return outcome{}, err
	}

	entries := d.indexFor(ws.Root).Search(args.Query)
	parts := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		part := map[string]any{
			"part_name":    entry.PartName,
			"path":         entry.Path,
			"preview_path": entry.PreviewPath,
			"metadata": map[string]any{
				"name":        entry.Metadata.Name,
				"description": entry.Metadata.Description,
				"author":      entry.Metadata.Author,
				"tags":        entry.Metadata.Tags,
			},
		}
		if entry.Error != "" {
			part["error"] = entry.Error
		}
		parts = append(parts, part)
	}

	return outcome{
		result:    map[string]any{"results": parts},
		workspace: ws.Root,
	}, nil
}

func (d *Dispatcher) getProperties(ctx context.Context, raw json.RawMessage) (outcome, error) {
	var args artifactArgs
	if err := decodeArgs(raw, &args); err != nil {
		return outcome{}, err
	}

	entry, artifact, err := d.lookupArtifact(args.ResultID, args.ShapeIndex)
	if err != nil {
		return outcome{}, err
	}

	report, err := d.engine.Properties(ctx, entry.WorkspaceRoot, artifact.Path)
	if err != nil {
		return outcome{workspace: entry.WorkspaceRoot}, err
	}

	return outcome{
		result:    map[string]any{"properties": report},
		workspace: entry.WorkspaceRoot,
		resultIDs: []string{args.ResultID},
	}, nil
}

func (d *Dispatcher) getDescription(ctx context.Context, raw json.RawMessage) (outcome, error) {
	var args artifactArgs
	if err := decodeArgs(raw, &args); err != nil {
		return outcome{}, err
	}

	entry, artifact, err := d.lookupArtifact(args.ResultID, args.ShapeIndex)
	if err != nil {
		return outcome{}, err
	}

	description, err := d.engine.Describe(ctx, entry.WorkspaceRoot, artifact.Path)
	if err != nil {
		return outcome{workspace: entry.WorkspaceRoot}, err
	}

	return outcome{
		result:    map[string]any{"description": description},
		workspace: entry.WorkspaceRoot,
		resultIDs: []string{args.ResultID},
	}, nil
}

func (d *Dispatcher) saveModule(raw json.RawMessage) (outcome, error) {
	var args saveModuleArgs
	if err := decodeArgs(raw, &args); err != nil {
		return outcome{}, err
	}
	if args.ModuleFilename == "" {
		return outcome{}, fmt.Errorf("missing 'module_filename' argument")
	}

	ws, err := workspace.Resolve(args.WorkspacePath)
	if err != nil {
		return outcome{}, err
	}

	path, err := ws.SaveModule(args.ModuleFilename, args.ModuleContent)
	if err != nil {
		return outcome{workspace: ws.Root}, err
	}

	return outcome{
		result:    map[string]any{"module_path": path},
		workspace: ws.Root,
	}, nil
}

func (d *Dispatcher) installPackage(ctx context.Context, raw json.RawMessage) (outcome, error) {
	var args installPackageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return outcome{}, err
	}
	if args.PackageName == "" {
		return outcome{}, fmt.Errorf("missing 'package_name' argument")
	}

	ws, err := workspace.Resolve(args.WorkspacePath)
	if err != nil {
		return outcome{}, err
	}

	if err := d.manager.InstallPackage(ctx, ws.Root, args.PackageName); err != nil {
		return outcome{workspace: ws.Root}, err
	}

	return outcome{
		result:    map[string]any{"installed": args.PackageName},
		workspace: ws.Root,
	}, nil
}

// lookupArtifact resolves a result id and shape index to a verified artifact.
func (d *Dispatcher) lookupArtifact(resultID string, shapeIndex int) (registry.Entry, registry.Artifact, error) {
	if resultID == "" {
		return registry.Entry{}, registry.Artifact{}, fmt.Errorf("missing 'result_id' argument")
	}
	if shapeIndex < 0 {
		return registry.Entry{}, registry.Artifact{}, fmt.Errorf("'shape_index' must be a non-negative integer")
	}

	entry, err := d.registry.Entry(resultID)
	if err != nil {
		return registry.Entry{}, registry.Artifact{}, err
	}
	artifact, err := d.registry.Get(resultID, shapeIndex)
	if err != nil {
		return registry.Entry{}, registry.Artifact{}, err
	}
	if err := registry.Verify(artifact); err != nil {
		return registry.Entry{}, registry.Artifact{}, err
	}
	return entry, artifact, nil
}
