package gateway

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/sbasso/xnet/codec"
	"github.com/sbasso/xnet/transport"
)

// TestBootstrapChdirChangesWorkingDirectory exercises the built-in
// "bootstrap.chdir" task a Group sends right after opening a fresh peer
// gateway (spec.md S6): the peer's working directory ends up the directory
// named in the (chdir, nice) tuple.
func TestBootstrapChdirChangesWorkingDirectory(t *testing.T) {
	start, err := os.Getwd()
	assert.NilError(t, err)
	t.Cleanup(func() { _ = os.Chdir(start) })

	target := t.TempDir()

	a, b := transport.Pipe()
	server := New("server", b, 2, codec.Options{}, NewExecutor())
	go func() { _ = server.Serve(context.Background()) }()

	client := New("client", a, 1, codec.Options{}, nil)
	client.Start()
	t.Cleanup(func() { _ = client.Exit(context.Background()) })

	ch, err := client.RemoteExec("bootstrap.chdir")
	assert.NilError(t, err)
	assert.NilError(t, ch.Send(codec.Tuple{target, int32(0)}))
	assert.NilError(t, ch.WaitClose(2*time.Second))

	got, err := os.Getwd()
	assert.NilError(t, err)
	want, err := filepath.EvalSymlinks(target)
	assert.NilError(t, err)
	gotResolved, err := filepath.EvalSymlinks(got)
	assert.NilError(t, err)
	assert.Equal(t, gotResolved, want)
}

func TestRegisterReplacesExistingTask(t *testing.T) {
	exec := NewExecutor()
	calls := 0
	exec.Register("bump", func(context.Context, *Channel, string) error {
		calls++
		return nil
	})
	exec.Register("bump", func(context.Context, *Channel, string) error {
		calls += 10
		return nil
	})
	fn, _, ok := exec.lookup("bump")
	assert.Assert(t, ok)
	assert.NilError(t, fn(context.Background(), nil, ""))
	assert.Equal(t, calls, 10)
}

func TestLookupSplitsNameAndArg(t *testing.T) {
	exec := NewExecutor()
	exec.Register("greet", func(context.Context, *Channel, string) error { return nil })
	fn, arg, ok := exec.lookup("greet world")
	assert.Assert(t, ok)
	assert.Assert(t, fn != nil)
	assert.Equal(t, arg, "world")
}
