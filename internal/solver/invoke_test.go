package solver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/photopipe/internal/testutil"
)

func TestInvokeCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	binary := testutil.WriteScript(t, dir, "ok", `echo "to stdout"
echo "to stderr" >&2`)

	spec := &CommandSpec{Stage: "optical", Binary: binary, Dir: dir}
	inv, err := Invoke(context.Background(), spec, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, inv.ExitCode)
	assert.Contains(t, inv.Stdout, "to stdout")
	assert.Contains(t, inv.Stderr, "to stderr")
	assert.False(t, inv.TimedOut)
	assert.False(t, inv.End.Before(inv.Start))
}

func TestInvokeNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	binary := testutil.WriteScript(t, dir, "fail", `echo "boom" >&2
exit 3`)

	spec := &CommandSpec{Stage: "acoustic", Binary: binary, Dir: dir}
	inv, err := Invoke(context.Background(), spec, time.Minute)
	require.NotNil(t, inv)

	var procErr *ProcessError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, 3, procErr.Invocation.ExitCode)
	assert.False(t, procErr.Invocation.TimedOut)
	assert.Contains(t, procErr.Error(), "exit code 3")
	assert.Contains(t, procErr.Error(), "boom")
	assert.Contains(t, procErr.Error(), binary)
}

func TestInvokeKillsOnTimeout(t *testing.T) {
	dir := t.TempDir()
	binary := testutil.HangingBinary(t, dir)

	spec := &CommandSpec{Stage: "acoustic", Binary: binary, Dir: dir}
	start := time.Now()
	inv, err := Invoke(context.Background(), spec, 100*time.Millisecond)
	require.NotNil(t, inv)
	assert.Less(t, time.Since(start), 30*time.Second)

	var procErr *ProcessError
	require.ErrorAs(t, err, &procErr)
	assert.True(t, procErr.Invocation.TimedOut)
	assert.Contains(t, procErr.Error(), "timed out")
}

func TestInvokeHonorsCancellation(t *testing.T) {
	dir := t.TempDir()
	binary := testutil.HangingBinary(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	spec := &CommandSpec{Stage: "optical", Binary: binary, Dir: dir}
	inv, err := Invoke(ctx, spec, time.Minute)
	require.NotNil(t, inv)

	var procErr *ProcessError
	require.ErrorAs(t, err, &procErr)
	assert.False(t, procErr.Invocation.TimedOut)
}

func TestCommandSpecCommandLine(t *testing.T) {
	spec := &CommandSpec{Binary: "/opt/mcx/mcx", Args: []string{"-f", "session.json", "--gpu", "1"}}
	assert.Equal(t, "/opt/mcx/mcx -f session.json --gpu 1", spec.CommandLine())
}
