package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"labnet/internal/artifact"
	"labnet/internal/assign"
	"labnet/internal/loader"
	"labnet/internal/render"
)

// Generate renders a fresh artifact set from the declarative lab description
// into outputDir. The metadata document is additionally written next to the
// lab description so display tooling finds it without knowing the output
// directory; identical targets are written once. With validateOnly, the
// description is loaded and checked but nothing is written.
func (e *Engine) Generate(ctx context.Context, outputDir string, validateOnly bool) ([]string, error) {
	started := time.Now()
	written, err := e.generate(outputDir, validateOnly)
	if !validateOnly {
		e.record(ctx, "generate", started, nil, written, err)
	}
	return written, err
}

func (e *Engine) generate(outputDir string, validateOnly bool) ([]string, error) {
	cfgPath := e.cfg.LabConfigPath()
	if !artifact.Exists(cfgPath) {
		return nil, fmt.Errorf("%w: %s", ErrMissingArtifact, cfgPath)
	}

	topo, err := loader.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if errs := topo.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid lab description: %w", errors.Join(errs...))
	}
	plan, err := assign.ForTopology(topo)
	if err != nil {
		return nil, err
	}
	if validateOnly {
		return nil, nil
	}

	files, err := render.Files(topo, plan)
	if err != nil {
		return nil, err
	}

	targets := make(map[string][]byte, len(files)+1)
	for name, data := range files {
		targets[filepath.Join(outputDir, name)] = data
	}
	fanout := filepath.Join(filepath.Dir(cfgPath), render.MetadataFile)
	if _, dup := targets[fanout]; !dup {
		targets[fanout] = files[render.MetadataFile]
	}

	paths := make([]string, 0, len(targets))
	for path := range targets {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var written []string
	for _, path := range paths {
		if err := artifact.WriteAtomicBytes(path, targets[path]); err != nil {
			return written, fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}
