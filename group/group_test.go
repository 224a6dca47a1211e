package group

import (
	"context"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/sbasso/xnet/codec"
	"github.com/sbasso/xnet/gateway"
	"github.com/sbasso/xnet/transport"
)

func newLinkedGroups(t *testing.T) (client *Group, clientGW *gateway.Gateway) {
	t.Helper()
	a, b := transport.Pipe()

	exec := gateway.NewExecutor()
	exec.Register("echo", func(_ context.Context, ch *gateway.Channel, _ string) error {
		for {
			item, err := ch.Receive()
			if err != nil {
				if err == gateway.ErrEndOfStream {
					return nil
				}
				return err
			}
			if err := ch.Send(item); err != nil {
				return err
			}
		}
	})
	server := New(exec, codec.Options{})
	serverGW, err := server.MakeServingGateway(b, "peer")
	assert.NilError(t, err)
	go func() { _ = serverGW.Serve(context.Background()) }()

	client = New(nil, codec.Options{})
	id, _ := client.reserveID("peer")
	clientGW = gatewayNewForTest(id, a)
	client.mu.Lock()
	client.gateways[id] = &gatewayEntry{gw: clientGW}
	client.mu.Unlock()

	t.Cleanup(func() { _ = clientGW.Exit(context.Background()) })
	return client, clientGW
}

// gatewayNewForTest starts a plain client-role gateway, avoiding the need
// for a real subprocess/ssh/socket transport in these tests.
func gatewayNewForTest(id string, t transport.Transport) *gateway.Gateway {
	gw := gateway.New(id, t, 1, codec.Options{}, nil)
	gw.Start()
	return gw
}

func TestGroupRemoteExecByID(t *testing.T) {
	client, _ := newLinkedGroups(t)

	ch, err := client.RemoteExec("peer", "echo")
	assert.NilError(t, err)
	assert.NilError(t, ch.Send(int32(42)))
	item, err := ch.Receive()
	assert.NilError(t, err)
	assert.Equal(t, item, int32(42))
	assert.NilError(t, ch.Close(nil))
}

func TestGroupRemoteExecUnknownGateway(t *testing.T) {
	client, _ := newLinkedGroups(t)
	_, err := client.RemoteExec("no-such-gateway", "echo")
	assert.ErrorContains(t, err, "no such gateway")
}

func TestGroupDuplicateIDRejected(t *testing.T) {
	g := New(nil, codec.Options{})
	_, err := g.reserveID("x")
	assert.NilError(t, err)
	_, err = g.reserveID("x")
	assert.ErrorContains(t, err, "duplicate gateway id")
}

func TestGroupTerminateWaitsForExit(t *testing.T) {
	client, _ := newLinkedGroups(t)
	err := client.Terminate(2 * time.Second)
	assert.NilError(t, err)
	assert.Equal(t, len(client.All()), 0)
}
