// Package solver defines the capability contract every external solver
// binary is driven through: prepare an on-disk invocation, invoke the
// process, parse what it wrote back.
//
// Why an adapter interface?
//
// The solver binaries are opaque executables with their own CLI dialects
// and file formats. Keeping each dialect behind one Adapter implementation
// means none of it leaks into the orchestrator: the pipeline sequences
// stages without knowing what an .mc2 file is.
package solver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vk/photopipe/internal/config"
	"github.com/vk/photopipe/internal/device"
	"github.com/vk/photopipe/internal/field"
	"github.com/vk/photopipe/internal/volume"
	"github.com/vk/photopipe/internal/workspace"
)

// Inputs carries the domain artifacts an adapter translates into its
// solver's native format. The volume is always present; InitialPressure is
// only set for the acoustic stage, which consumes the optical stage's
// derived source term.
type Inputs struct {
	Config          *config.RunConfig
	Volume          *volume.SimulationVolume
	InitialPressure *field.Scalar
}

// Result is what an adapter's Parse returns: an in-memory view of the
// solver's output plus the file it was read from.
type Result interface {
	// ArtifactPath is the workspace-relative path of the parsed artifact.
	ArtifactPath() string
	// Summary describes the parsed samples for logging and the ledger.
	Summary() field.Summary
}

// Adapter is the capability set common to both solver variants. Adapters
// hold no per-run state: everything a call needs arrives through the
// workspace and inputs, so one adapter instance serves concurrent runs.
// Prepare is pure given identical inputs; Parse never returns a partially
// populated result.
type Adapter interface {
	// Name identifies the stage in logs, errors and the ledger.
	Name() string
	// Prepare translates the inputs into the solver's expected on-disk
	// format inside the workspace and builds the invocation command line,
	// including device-selection flags.
	Prepare(ctx context.Context, ws *workspace.Workspace, in *Inputs, binding device.Binding) (*CommandSpec, error)
	// ExpectedOutputs lists the workspace-relative files the solver must
	// have written for the invocation to count as complete.
	ExpectedOutputs() []string
	// Parse reads the solver's written output files back into memory,
	// interpreting them against the same inputs Prepare staged. It fails
	// with *FormatError if files are present but structurally invalid.
	Parse(ctx context.Context, ws *workspace.Workspace, in *Inputs) (Result, error)
}

// CommandSpec is a fully resolved external process invocation.
type CommandSpec struct {
	Stage   string
	Binary  string
	Args    []string
	Dir     string
	Binding device.Binding
}

// CommandLine renders the full command for diagnostics, sufficient for a
// user to reproduce the invocation manually.
func (c *CommandSpec) CommandLine() string {
	return strings.Join(append([]string{c.Binary}, c.Args...), " ")
}

// StageInvocation records a single external-process execution. It exists
// for error reporting and logging and is discarded after the run.
type StageInvocation struct {
	Stage       string
	CommandLine string
	Dir         string
	DeviceIDs   []int
	Start       time.Time
	End         time.Time
	ExitCode    int
	Stdout      string
	Stderr      string
	TimedOut    bool
}

// Duration returns the invocation's wall-clock time.
func (s *StageInvocation) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// ProcessError reports a solver process that exited nonzero, timed out, or
// was cancelled. The exit code is solver-defined and treated opaquely.
type ProcessError struct {
	Invocation *StageInvocation
	Err        error
}

// Error implements the error interface.
func (e *ProcessError) Error() string {
	inv := e.Invocation
	cause := fmt.Sprintf("exit code %d", inv.ExitCode)
	if inv.TimedOut {
		cause = "timed out"
	} else if e.Err != nil && inv.ExitCode == 0 {
		cause = e.Err.Error()
	}
	msg := fmt.Sprintf("solver stage %q failed (%s) after %s: %s",
		inv.Stage, cause, inv.Duration().Round(time.Millisecond), inv.CommandLine)
	if stderr := strings.TrimSpace(inv.Stderr); stderr != "" {
		msg += "\nstderr: " + stderr
	}
	return msg
}

// Unwrap exposes the underlying process error.
func (e *ProcessError) Unwrap() error {
	return e.Err
}

// FormatError reports solver output files that are present but structurally
// invalid: wrong dimensions, unreadable layout, truncated write.
type FormatError struct {
	Stage  string
	Path   string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	msg := fmt.Sprintf("solver stage %q produced invalid output at %s: %s", e.Stage, e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying parse error.
func (e *FormatError) Unwrap() error {
	return e.Err
}
