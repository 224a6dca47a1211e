// Package group manages a collection of gateways as a unit: spawning them
// from xspec exec-specs, looking them up by id, and tearing all of them
// down together.
//
// Grounded on execnet's Group/HostManager
// (_examples/original_source/execnet/multi.py), generalized past its
// popen/ssh/socket trio the same way execnet's own gateway_io dispatch does.
package group

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/sbasso/xnet/codec"
	"github.com/sbasso/xnet/gateway"
	"github.com/sbasso/xnet/transport"
	"github.com/sbasso/xnet/xspec"
)

// gatewayEntry tracks a Group-managed Gateway alongside the subprocess (if
// any) that backs its transport, so Terminate can escalate to a kill when a
// graceful Exit doesn't land in time.
type gatewayEntry struct {
	gw   *gateway.Gateway
	cmd  *exec.Cmd
	spec *xspec.Spec
}

// Group owns a set of Gateways identified by the "id" xspec attribute (or
// an auto-assigned name when none is given), and coordinates their
// lifecycle as a unit.
type Group struct {
	mu         sync.Mutex
	gateways   map[string]*gatewayEntry
	nextAnonID int

	exec *gateway.Executor
	opts codec.Options
	log  *logrus.Entry
}

// New returns an empty Group. exec is installed on every peer-capable
// gateway the Group creates with MakeServingGateway; gateways created with
// MakeGateway (the client role) are built without one.
func New(exec *gateway.Executor, opts codec.Options) *Group {
	g := &Group{
		gateways: map[string]*gatewayEntry{},
		exec:     exec,
		opts:     opts,
		log:      logrus.WithField("component", "group"),
	}
	register(g)
	return g
}

// MakeGateway parses specText, spawns the transport it describes (a local
// subprocess for "popen", the local ssh binary for "ssh", or a TCP dial for
// "socket"), and returns a running client-role Gateway bound into the
// Group under its xspec id (or an auto-assigned one).
func (g *Group) MakeGateway(ctx context.Context, specText string) (*gateway.Gateway, error) {
	spec, err := xspec.Parse(specText)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	kind, err := spec.Kind()
	if err != nil {
		return nil, err
	}

	var (
		t   transport.Transport
		cmd *exec.Cmd
	)
	switch kind {
	case "popen":
		name, args := spec.PopenArgs()
		t, cmd, err = transport.Subprocess(ctx, name, args, envSlice(spec.Env))
	case "ssh":
		t, cmd, err = transport.SSH(ctx, spec.SSHArgs())
	case "socket":
		t, err = transport.TCPDial(ctx, spec.Socket)
	default:
		err = errors.Errorf("group: unsupported gateway kind %q", kind)
	}
	if err != nil {
		return nil, err
	}

	id, err := g.reserveID(spec.ID)
	if err != nil {
		return nil, err
	}

	gw := gateway.New(id, t, 1, g.opts, nil)
	gw.Start()

	if spec.Chdir != "" || spec.Nice != "" {
		if err := bootstrapRemote(gw, spec); err != nil {
			_ = gw.Exit(ctx)
			g.release(id)
			return nil, err
		}
	}

	g.mu.Lock()
	g.gateways[id] = &gatewayEntry{gw: gw, cmd: cmd, spec: spec}
	g.mu.Unlock()
	return gw, nil
}

// MakeServingGateway is MakeGateway's counterpart for the peer side: the
// returned Gateway is built with the Group's Executor and ready for
// Serve(ctx) rather than RemoteExec.
func (g *Group) MakeServingGateway(t transport.Transport, idHint string) (*gateway.Gateway, error) {
	if g.exec == nil {
		return nil, errors.New("group: MakeServingGateway requires a Group built with an Executor")
	}
	id, err := g.reserveID(idHint)
	if err != nil {
		return nil, err
	}
	gw := gateway.New(id, t, 2, g.opts, g.exec)
	g.mu.Lock()
	g.gateways[id] = &gatewayEntry{gw: gw, spec: &xspec.Spec{ID: id}}
	g.mu.Unlock()
	return gw, nil
}

func (g *Group) reserveID(want string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := want
	if id == "" {
		g.nextAnonID++
		id = fmt.Sprintf("gw%d", g.nextAnonID)
	}
	if _, exists := g.gateways[id]; exists {
		return "", errors.Errorf("group: duplicate gateway id %q", id)
	}
	g.gateways[id] = nil
	return id, nil
}

func (g *Group) release(id string) {
	g.mu.Lock()
	delete(g.gateways, id)
	g.mu.Unlock()
}

// Gateway looks up a Group-managed gateway by id.
func (g *Group) Gateway(id string) (*gateway.Gateway, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.gateways[id]
	if !ok || e == nil {
		return nil, false
	}
	return e.gw, true
}

// All returns every gateway currently in the Group, in no particular
// order, for building a MultiChannel across all of them.
func (g *Group) All() []*gateway.Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*gateway.Gateway, 0, len(g.gateways))
	for _, e := range g.gateways {
		if e != nil {
			out = append(out, e.gw)
		}
	}
	return out
}

// RemoteExec looks up the gateway named id and runs taskSpec on it.
func (g *Group) RemoteExec(id, taskSpec string) (*gateway.Channel, error) {
	gw, ok := g.Gateway(id)
	if !ok {
		return nil, errors.Errorf("group: no such gateway %q", id)
	}
	return gw.RemoteExec(taskSpec)
}

// Terminate asks every gateway to Exit gracefully, waiting up to timeout.
// Any gateway backed by a still-running subprocess at the deadline is sent
// SIGTERM and given a short grace period, then SIGKILL, mirroring
// execnet's Group.terminate escalation from a clean exchange to a forced
// kill.
func (g *Group) Terminate(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	g.mu.Lock()
	entries := make([]*gatewayEntry, 0, len(g.gateways))
	for _, e := range g.gateways {
		if e != nil {
			entries = append(entries, e)
		}
	}
	g.mu.Unlock()

	eg, egCtx := errgroup.WithContext(ctx)
	for _, e := range entries {
		e := e
		eg.Go(func() error {
			return e.gw.Exit(egCtx)
		})
	}
	waitErr := eg.Wait()

	var killErrs []error
	for _, e := range entries {
		if e.cmd == nil || e.cmd.Process == nil {
			continue
		}
		select {
		case <-e.gw.Done():
			continue
		default:
		}
		if err := killSubprocess(e.cmd); err != nil {
			killErrs = append(killErrs, err)
		}
	}

	g.mu.Lock()
	g.gateways = map[string]*gatewayEntry{}
	g.mu.Unlock()

	if waitErr != nil {
		return waitErr
	}
	if len(killErrs) > 0 {
		return errors.Errorf("group: %d gateway(s) required a forced kill: %v", len(killErrs), killErrs)
	}
	return nil
}

func killSubprocess(cmd *exec.Cmd) error {
	if err := cmd.Process.Signal(unix.SIGTERM); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
		return nil
	case <-time.After(2 * time.Second):
		if err := cmd.Process.Kill(); err != nil {
			return err
		}
		<-done
		return nil
	}
}

func bootstrapRemote(gw *gateway.Gateway, spec *xspec.Spec) error {
	ch, err := gw.RemoteExec("bootstrap.chdir")
	if err != nil {
		return err
	}
	var nice int32
	if spec.Nice != "" {
		fmt.Sscanf(spec.Nice, "%d", &nice)
	}
	if err := ch.Send(codec.Tuple{spec.Chdir, nice}); err != nil {
		return err
	}
	return ch.WaitClose(10 * time.Second)
}

// envSlice merges the spec's env: overrides on top of the parent process's
// own environment, so a popen gateway that sets one variable doesn't lose
// PATH and friends in the process.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := append([]string(nil), os.Environ()...)
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
