package solver

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/vk/photopipe/internal/ctxlog"
)

// Invoke launches the external process described by spec synchronously and
// records the outcome. It does not parse output.
//
// The invocation is bounded by timeout; on expiry or caller cancellation
// the process is killed and the returned error is a *ProcessError whose
// invocation record carries the captured stdout/stderr. A nonzero exit is
// likewise a *ProcessError. The StageInvocation is returned in every case
// so the orchestrator can keep a full trail regardless of outcome.
func Invoke(ctx context.Context, spec *CommandSpec, timeout time.Duration) (*StageInvocation, error) {
	logger := ctxlog.FromContext(ctx).With("stage", spec.Stage)

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, spec.Binary, spec.Args...)
	cmd.Dir = spec.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// A solver that ignores SIGKILL's warning shot should not stall
	// teardown forever.
	cmd.WaitDelay = 10 * time.Second

	inv := &StageInvocation{
		Stage:       spec.Stage,
		CommandLine: spec.CommandLine(),
		Dir:         spec.Dir,
		DeviceIDs:   spec.Binding.IDs(),
		Start:       time.Now(),
	}
	logger.Info("Invoking solver.", "command", inv.CommandLine, "devices", inv.DeviceIDs, "timeout", timeout)

	err := cmd.Run()

	inv.End = time.Now()
	inv.Stdout = stdout.String()
	inv.Stderr = stderr.String()
	inv.TimedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)
	if cmd.ProcessState != nil {
		inv.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil || inv.TimedOut {
		logger.Error("Solver invocation failed.",
			"exit_code", inv.ExitCode,
			"timed_out", inv.TimedOut,
			"duration", inv.Duration().Round(time.Millisecond),
		)
		return inv, &ProcessError{Invocation: inv, Err: err}
	}

	logger.Info("Solver finished.", "duration", inv.Duration().Round(time.Millisecond))
	return inv, nil
}
