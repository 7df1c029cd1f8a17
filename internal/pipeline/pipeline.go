// Package pipeline sequences the optical and acoustic solver stages into
// one reproducible run.
//
// A run is strictly sequential: the acoustic stage's input is a derived
// artifact of the optical stage, so there is nothing to parallelize inside
// one run. Multiple independent runs may execute concurrently; each owns a
// distinct workspace and device binding, and the orchestrator holds no
// mutable state shared across runs beyond the immutable RunConfig.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/vk/photopipe/internal/config"
	"github.com/vk/photopipe/internal/ctxlog"
	"github.com/vk/photopipe/internal/device"
	"github.com/vk/photopipe/internal/field"
	"github.com/vk/photopipe/internal/solver"
	"github.com/vk/photopipe/internal/volume"
	"github.com/vk/photopipe/internal/workspace"
)

// initialPressureFile is the staged source term the acoustic stage consumes,
// kept under intermediate/ so downstream tooling can inspect it.
const initialPressureFile = "initial_pressure.fld"

// Recorder persists the run trail. Recording failures never fail a run;
// the ledger is diagnostics, not control flow.
type Recorder interface {
	RecordRunStart(ctx context.Context, runID string) error
	RecordInvocation(ctx context.Context, runID string, inv *solver.StageInvocation) error
	RecordRunEnd(ctx context.Context, runID string, state, failedStage, cause string) error
}

// Archiver mirrors terminal artifacts to remote storage after a successful
// run. Best effort: an archive failure is logged, not raised, because the
// scientific result already exists on disk.
type Archiver interface {
	Upload(ctx context.Context, runID string, files map[string]string) error
}

// Result is the assembled outcome of one pipeline run. Trail and State are
// populated for failed runs too; Optical, Acoustic and Artifacts only when
// the run reached DONE. Artifact paths survive teardown only when the
// configuration retains workspaces.
type Result struct {
	RunID     string
	State     State
	Optical   *solver.OpticalResult
	Acoustic  *solver.AcousticResult
	Artifacts map[string]string
	Trail     []*solver.StageInvocation
}

// Orchestrator drives one or more pipeline runs against a resolved
// configuration.
type Orchestrator struct {
	cfg      *config.RunConfig
	manager  *workspace.Manager
	selector *device.Selector
	optical  solver.Adapter
	acoustic solver.Adapter
	recorder Recorder
	archiver Archiver
	newRunID func() string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder attaches a run ledger.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithArchiver attaches a terminal-artifact uploader.
func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

// WithRunIDFunc overrides run id generation. Tests use this for
// deterministic workspace paths.
func WithRunIDFunc(fn func() string) Option {
	return func(o *Orchestrator) { o.newRunID = fn }
}

// New assembles an orchestrator from its collaborators.
func New(cfg *config.RunConfig, manager *workspace.Manager, selector *device.Selector, optical, acoustic solver.Adapter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		manager:  manager,
		selector: selector,
		optical:  optical,
		acoustic: acoustic,
		newRunID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run tracks the mutable state of a single pipeline execution.
type run struct {
	id     string
	state  State
	ws     *workspace.Workspace
	trail  []*solver.StageInvocation
	result *Result
}

// Run executes the full pipeline for one simulation volume. On failure the
// returned error is a *Failure naming the stage and cause, and the partial
// Result still carries the invocation trail. Workspace teardown (or
// retention) runs on every exit path, including cancellation and timeout.
func (o *Orchestrator) Run(ctx context.Context, vol *volume.SimulationVolume) (*Result, error) {
	r := &run{id: o.newRunID(), state: StateInit}
	r.result = &Result{RunID: r.id, State: StateInit}
	ctx = ctxlog.With(ctx, "run_id", r.id)
	logger := ctxlog.FromContext(ctx)
	logger.Info("Pipeline run starting.")

	o.recordStart(ctx, r)
	err := o.execute(ctx, r, vol)

	r.result.Trail = r.trail
	r.result.State = r.state
	if err != nil {
		logger.Error("Pipeline run failed.", "state", r.state, "error", err)
	} else {
		logger.Info("Pipeline run finished.", "state", r.state)
	}
	o.recordEnd(ctx, r, err)
	return r.result, err
}

// execute walks the state machine. Every return path after workspace
// creation goes through the deferred teardown.
func (o *Orchestrator) execute(ctx context.Context, r *run, vol *volume.SimulationVolume) error {
	if err := vol.Validate(); err != nil {
		return o.fail(r, fmt.Errorf("invalid simulation volume: %w", err))
	}

	// Resolve both bindings up front: a misconfigured device list should
	// fail the run before any workspace or GPU time is spent. The optical
	// stage binds the first configured device; the acoustic stage spans
	// all of them.
	if len(o.cfg.DeviceIDs) == 0 {
		return o.fail(r, &device.UnavailableError{Available: o.selector.Available()})
	}
	opticalBinding, err := o.selector.Select(o.cfg.DeviceIDs[:1])
	if err != nil {
		return o.fail(r, err)
	}
	acousticBinding, err := o.selector.Select(o.cfg.DeviceIDs)
	if err != nil {
		return o.fail(r, err)
	}

	ws, err := o.manager.Create(ctx, r.id)
	if err != nil {
		return o.fail(r, err)
	}
	r.ws = ws
	defer func() {
		if terr := o.manager.Teardown(ctx, ws, o.cfg.RetainWorkspace); terr != nil {
			ctxlog.FromContext(ctx).Warn("Workspace teardown failed.", "error", terr)
		}
	}()

	inputs := &solver.Inputs{Config: o.cfg, Volume: vol}

	// Optical stage.
	o.transition(ctx, r, StateStagingOptical)
	opticalSpec, err := o.optical.Prepare(ctx, ws, inputs, opticalBinding)
	if err != nil {
		return o.fail(r, err)
	}

	o.transition(ctx, r, StateRunningOptical)
	optical, err := o.runStage(ctx, r, o.optical, opticalSpec, inputs, StateParsingOptical)
	if err != nil {
		return err
	}
	opticalResult := optical.(*solver.OpticalResult)
	r.result.Optical = opticalResult

	// Derive the acoustic source term from the optical artifact. The
	// acoustic stage never starts without a validated upstream result.
	p0, err := o.deriveInitialPressure(ctx, r, vol, opticalResult)
	if err != nil {
		return o.fail(r, err)
	}
	inputs.InitialPressure = p0

	// Acoustic stage.
	o.transition(ctx, r, StateStagingAcoustic)
	acousticSpec, err := o.acoustic.Prepare(ctx, ws, inputs, acousticBinding)
	if err != nil {
		return o.fail(r, err)
	}

	o.transition(ctx, r, StateRunningAcoustic)
	acoustic, err := o.runStage(ctx, r, o.acoustic, acousticSpec, inputs, StateParsingAcoustic)
	if err != nil {
		return err
	}
	r.result.Acoustic = acoustic.(*solver.AcousticResult)

	return o.finish(ctx, r)
}

// runStage invokes a prepared stage, verifies its output set, and parses
// the result. The caller must already have transitioned to the stage's
// RUNNING state; runStage owns the transition to parseState.
func (o *Orchestrator) runStage(ctx context.Context, r *run, adapter solver.Adapter, spec *solver.CommandSpec, in *solver.Inputs, parseState State) (solver.Result, error) {
	inv, err := solver.Invoke(ctx, spec, o.cfg.StageTimeout)
	if inv != nil {
		r.trail = append(r.trail, inv)
		o.recordInvocation(ctx, r, inv)
	}
	if err != nil {
		return nil, o.fail(r, err)
	}

	o.transition(ctx, r, parseState)
	if _, err := o.manager.CollectOutput(ctx, r.ws, adapter.ExpectedOutputs()); err != nil {
		return nil, o.fail(r, err)
	}
	result, err := adapter.Parse(ctx, r.ws, in)
	if err != nil {
		return nil, o.fail(r, err)
	}
	return result, nil
}

// deriveInitialPressure converts fluence to the acoustic source term:
// p0 = mua * phi, scaled to Pascal via the Grueneisen parameter and laser
// pulse energy when both are available, otherwise left in arbitrary units.
func (o *Orchestrator) deriveInitialPressure(ctx context.Context, r *run, vol *volume.SimulationVolume, optical *solver.OpticalResult) (*field.Scalar, error) {
	p0 := field.NewScalar(vol.NX, vol.NY, vol.NZ, vol.SpacingMM)
	floats.MulTo(p0.Values, vol.AbsorptionPerCM, optical.Fluence.Values)

	if vol.Grueneisen != nil && o.cfg.PulseEnergyMJ > 0 {
		floats.Mul(p0.Values, vol.Grueneisen)
		// 1 J/cm^3 = 1e6 Pa; pulse energy arrives in millijoule.
		floats.Scale(1e6*o.cfg.PulseEnergyMJ/1000, p0.Values)
	}

	path := r.ws.Path(initialPressureRel())
	if err := field.WriteScalar(path, p0); err != nil {
		return nil, fmt.Errorf("failed to write initial pressure artifact: %w", err)
	}

	s := field.Summarize(p0.Values)
	ctxlog.FromContext(ctx).Info("Initial pressure derived.", "min", s.Min, "max", s.Max, "mean", s.Mean)
	return p0, nil
}

// finish assembles the terminal artifact set and moves the machine to DONE.
func (o *Orchestrator) finish(ctx context.Context, r *run) error {
	expected := []string{
		o.optical.ExpectedOutputs()[0],
		initialPressureRel(),
		o.acoustic.ExpectedOutputs()[0],
	}
	artifacts, err := o.manager.CollectOutput(ctx, r.ws, expected)
	if err != nil {
		return o.fail(r, err)
	}
	r.result.Artifacts = artifacts

	if o.archiver != nil {
		if err := o.archiver.Upload(ctx, r.id, artifacts); err != nil {
			ctxlog.FromContext(ctx).Warn("Artifact archive upload failed.", "error", err)
		}
	}

	o.transition(ctx, r, StateDone)
	return nil
}

func initialPressureRel() string {
	return workspace.IntermediateDir + "/" + initialPressureFile
}

func (o *Orchestrator) transition(ctx context.Context, r *run, next State) {
	ctxlog.FromContext(ctx).Debug("Pipeline state transition.", "from", r.state, "to", next)
	r.state = next
}

// fail moves the machine to FAILED, preserving the stage it was in as the
// failure site.
func (o *Orchestrator) fail(r *run, cause error) error {
	failure := &Failure{Stage: r.state, Cause: cause}
	r.state = StateFailed
	r.result.State = StateFailed
	return failure
}

func (o *Orchestrator) recordStart(ctx context.Context, r *run) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordRunStart(ctx, r.id); err != nil {
		ctxlog.FromContext(ctx).Warn("Ledger write failed.", "error", err)
	}
}

func (o *Orchestrator) recordInvocation(ctx context.Context, r *run, inv *solver.StageInvocation) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordInvocation(ctx, r.id, inv); err != nil {
		ctxlog.FromContext(ctx).Warn("Ledger write failed.", "error", err)
	}
}

func (o *Orchestrator) recordEnd(ctx context.Context, r *run, runErr error) {
	if o.recorder == nil {
		return
	}
	var failedStage, cause string
	if f, ok := runErr.(*Failure); ok {
		failedStage = f.Stage.String()
		cause = f.Cause.Error()
	}
	if err := o.recorder.RecordRunEnd(ctx, r.id, r.state.String(), failedStage, cause); err != nil {
		ctxlog.FromContext(ctx).Warn("Ledger write failed.", "error", err)
	}
}
