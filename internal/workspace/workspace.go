// Package workspace owns the per-run scratch directory layout.
//
// Every pipeline run works inside its own tree:
//
//	<output_root>/<run_id>/input/          staged solver inputs
//	<output_root>/<run_id>/intermediate/   cross-stage artifacts (fluence, p0)
//	<output_root>/<run_id>/output/         terminal artifacts
//
// The layout is deterministic and documented so downstream tooling can
// locate artifacts without re-invoking the pipeline. No two concurrent runs
// ever share a workspace path: a pre-existing run directory is a collision,
// not something to reuse.
package workspace

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vk/photopipe/internal/ctxlog"
	"github.com/vk/photopipe/internal/field"
)

// Subdirectory names under a run's workspace root.
const (
	InputDir        = "input"
	IntermediateDir = "intermediate"
	OutputDir       = "output"
)

// Workspace is one run's scratch directory tree.
type Workspace struct {
	RunID string
	Root  string
}

// Dir returns the absolute path of the named subdirectory.
func (w *Workspace) Dir(name string) string {
	return filepath.Join(w.Root, name)
}

// Path returns an absolute path for a file relative to the workspace root.
func (w *Workspace) Path(rel string) string {
	return filepath.Join(w.Root, rel)
}

// IncompleteOutputError reports expected solver output files that are
// missing or empty after an invocation. Partial output is never silently
// accepted as success.
type IncompleteOutputError struct {
	Workspace string
	Missing   []string
}

// Error implements the error interface.
func (e *IncompleteOutputError) Error() string {
	return fmt.Sprintf("incomplete solver output in %s, missing or empty: %s",
		e.Workspace, strings.Join(e.Missing, ", "))
}

// Manager allocates, populates and tears down workspaces under a single
// output root. Methods are safe for use by concurrent runs because each run
// operates on its own Workspace.
type Manager struct {
	outputRoot string
}

// NewManager returns a Manager rooted at outputRoot. The root must already
// exist; config validation guarantees that for resolved configurations.
func NewManager(outputRoot string) *Manager {
	return &Manager{outputRoot: outputRoot}
}

// Create allocates a fresh workspace directory tree for runID. A colliding
// run directory is an error, not a reuse: reusing would let two runs
// corrupt each other's artifacts.
func (m *Manager) Create(ctx context.Context, runID string) (*Workspace, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id must not be empty")
	}
	root := filepath.Join(m.outputRoot, runID)
	if err := os.Mkdir(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to allocate workspace %s: %w", root, err)
	}
	for _, sub := range []string{InputDir, IntermediateDir, OutputDir} {
		if err := os.Mkdir(filepath.Join(root, sub), 0o755); err != nil {
			os.RemoveAll(root)
			return nil, fmt.Errorf("failed to create workspace subdirectory %s: %w", sub, err)
		}
	}

	ctxlog.FromContext(ctx).Debug("Workspace allocated.", "run_id", runID, "root", root)
	return &Workspace{RunID: runID, Root: root}, nil
}

// StageScalar serializes a scalar artifact into the workspace's input
// directory under a content-addressed name, so repeated runs with identical
// inputs produce identical file names for debugging. Returns the absolute
// path and the full content digest.
func (m *Manager) StageScalar(ctx context.Context, ws *Workspace, name string, s *field.Scalar) (string, string, error) {
	var buf bytes.Buffer
	if err := field.EncodeScalar(&buf, s); err != nil {
		return "", "", fmt.Errorf("failed to serialize artifact %q: %w", name, err)
	}
	return m.StageBytes(ctx, ws, name, ".fld", buf.Bytes())
}

// StageBytes writes raw artifact bytes into input/ under a
// content-addressed name "<name>-<sha256[:12]><ext>". Adapters use this for
// solver-native formats the field codec does not cover.
func (m *Manager) StageBytes(ctx context.Context, ws *Workspace, name, ext string, data []byte) (string, string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	path := filepath.Join(ws.Dir(InputDir), fmt.Sprintf("%s-%s%s", name, digest[:12], ext))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to stage artifact %q: %w", name, err)
	}
	ctxlog.FromContext(ctx).Debug("Artifact staged.", "name", name, "path", path, "sha256", digest)
	return path, digest, nil
}

// CollectOutput verifies that every expected file (relative to the
// workspace root) exists and is non-empty, returning a map from relative to
// absolute path. A single missing or empty file fails the whole collection
// with *IncompleteOutputError naming every offender.
func (m *Manager) CollectOutput(ctx context.Context, ws *Workspace, expected []string) (map[string]string, error) {
	collected := make(map[string]string, len(expected))
	var missing []string
	for _, rel := range expected {
		abs := ws.Path(rel)
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() || info.Size() == 0 {
			missing = append(missing, rel)
			continue
		}
		collected[rel] = abs
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &IncompleteOutputError{Workspace: ws.Root, Missing: missing}
	}

	ctxlog.FromContext(ctx).Debug("Solver output collected.", "files", len(collected))
	return collected, nil
}

// Teardown removes the workspace tree unless retention is requested.
// Idempotent: tearing down an already-removed workspace is a no-op, so it
// is safe to call on every exit path.
func (m *Manager) Teardown(ctx context.Context, ws *Workspace, retain bool) error {
	logger := ctxlog.FromContext(ctx)
	if retain {
		logger.Info("Workspace retained for inspection.", "root", ws.Root)
		return nil
	}
	if err := os.RemoveAll(ws.Root); err != nil {
		return fmt.Errorf("failed to tear down workspace %s: %w", ws.Root, err)
	}
	logger.Debug("Workspace removed.", "root", ws.Root)
	return nil
}
