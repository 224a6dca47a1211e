package gateway

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/sbasso/xnet/codec"
)

// TaskFunc implements one named remote task. It receives the Channel the
// peer opened and the argument text, if any, carried after the task name.
// Returning a non-nil error closes the channel with CHANNEL_CLOSE_ERROR;
// returning nil closes it with a plain CHANNEL_CLOSE.
type TaskFunc func(ctx context.Context, ch *Channel, arg string) error

// Executor is a registry of named remote tasks a peer-side Gateway can run
// on behalf of CHANNEL_OPEN requests. execnet's peer interprets the
// CHANNEL_OPEN payload as Python source and compiles it on the spot
// (_examples/original_source/execnet/gateway_base.py's executetask); this
// module has no source interpreter to reach for, so the payload is instead
// treated as "name" or "name arg", looked up in this registry.
type Executor struct {
	mu    sync.Mutex
	tasks map[string]TaskFunc
}

// NewExecutor returns an Executor preloaded with the built-in bootstrap
// tasks every peer gateway needs (e.g. honoring xspec's chdir option).
func NewExecutor() *Executor {
	e := &Executor{tasks: map[string]TaskFunc{}}
	e.Register("bootstrap.chdir", bootstrapChdir)
	return e
}

// Register adds or replaces the task named name.
func (e *Executor) Register(name string, fn TaskFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks[name] = fn
}

func (e *Executor) lookup(spec string) (TaskFunc, string, bool) {
	name, arg, _ := strings.Cut(spec, " ")
	e.mu.Lock()
	fn, ok := e.tasks[name]
	e.mu.Unlock()
	return fn, arg, ok
}

// bootstrapChdir receives the (chdir, nice) tuple a Group sends immediately
// after opening a fresh peer gateway and changes into the chdir directory
// (creating it if needed). The nice value is not applied.
func bootstrapChdir(_ context.Context, ch *Channel, _ string) error {
	item, err := ch.Receive()
	if err != nil {
		return err
	}
	tup, ok := item.(codec.Tuple)
	if !ok || len(tup) != 2 {
		return errors.New("bootstrap.chdir: expected a (chdir, nice) tuple")
	}
	if dir, _ := tup[0].(string); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WithStack(err)
		}
		if err := os.Chdir(dir); err != nil {
			return errors.WithStack(err)
		}
	}
	// tup[1] (nice) is received and ignored: the process's niceness is left
	// unchanged.
	return nil
}
