package gateway

import (
	"context"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/sbasso/xnet/codec"
	"github.com/sbasso/xnet/transport"
)

func echoTask(_ context.Context, ch *Channel, _ string) error {
	for {
		item, err := ch.Receive()
		if err != nil {
			if err == ErrEndOfStream {
				return nil
			}
			return err
		}
		if err := ch.Send(item); err != nil {
			return err
		}
	}
}

func failTask(_ context.Context, _ *Channel, arg string) error {
	return assertError(arg)
}

type assertError string

func (e assertError) Error() string { return string(e) }

func newPipeGateways(t *testing.T) (client, server *Gateway) {
	t.Helper()
	a, b := transport.Pipe()
	exec := NewExecutor()
	exec.Register("echo", echoTask)
	exec.Register("fail", failTask)

	client = New("client", a, 1, codec.Options{}, nil)
	server = New("server", b, 2, codec.Options{}, exec)
	client.Start()
	go func() {
		_ = server.Serve(context.Background())
	}()
	t.Cleanup(func() {
		_ = client.Exit(context.Background())
	})
	return client, server
}

func TestRemoteExecEchoRoundTrip(t *testing.T) {
	client, _ := newPipeGateways(t)

	ch, err := client.RemoteExec("echo")
	assert.NilError(t, err)

	assert.NilError(t, ch.Send([]byte("hello")))
	item, err := ch.Receive()
	assert.NilError(t, err)
	assert.DeepEqual(t, item, []byte("hello"))

	assert.NilError(t, ch.Close(nil))
	assert.NilError(t, ch.WaitClose(2*time.Second))
}

func TestReceiveFIFOOrdering(t *testing.T) {
	client, _ := newPipeGateways(t)
	ch, err := client.RemoteExec("echo")
	assert.NilError(t, err)

	for i := 0; i < 5; i++ {
		assert.NilError(t, ch.Send(int32(i)))
	}
	for i := 0; i < 5; i++ {
		item, err := ch.Receive()
		assert.NilError(t, err)
		assert.Equal(t, item, int32(i))
	}
	assert.NilError(t, ch.Close(nil))
}

func TestRemoteTaskErrorClosesChannelWithRemoteError(t *testing.T) {
	client, _ := newPipeGateways(t)
	ch, err := client.RemoteExec("fail boom")
	assert.NilError(t, err)

	_, rerr := ch.Receive()
	assert.ErrorContains(t, rerr, "boom")
	var re *RemoteError
	assert.Assert(t, as(rerr, &re))
}

func as(err error, target **RemoteError) bool {
	re, ok := err.(*RemoteError)
	if !ok {
		return false
	}
	*target = re
	return true
}

func TestUnknownTaskClosesWithError(t *testing.T) {
	client, _ := newPipeGateways(t)
	ch, err := client.RemoteExec("no-such-task")
	assert.NilError(t, err)

	_, rerr := ch.Receive()
	assert.ErrorContains(t, rerr, "no such remote task")
}

func TestSetCallbackDrainsQueuedThenDeliversNew(t *testing.T) {
	client, _ := newPipeGateways(t)
	ch, err := client.RemoteExec("echo")
	assert.NilError(t, err)

	assert.NilError(t, ch.Send(int32(1)))
	assert.NilError(t, ch.Send(int32(2)))

	time.Sleep(50 * time.Millisecond) // let both round-trip before installing the callback

	var mu = make(chan any, 16)
	err = ch.SetCallback(func(item any) { mu <- item }, endmarkerValue, true)
	assert.NilError(t, err)

	got1 := <-mu
	got2 := <-mu
	assert.Equal(t, got1, int32(1))
	assert.Equal(t, got2, int32(2))

	assert.NilError(t, ch.Close(nil))
	last := <-mu
	_, isEnd := last.(endmarkerType)
	assert.Assert(t, isEnd)
}

func TestReceiveAfterCallbackInstalledFails(t *testing.T) {
	client, _ := newPipeGateways(t)
	ch, err := client.RemoteExec("echo")
	assert.NilError(t, err)

	assert.NilError(t, ch.SetCallback(func(any) {}, nil, false))
	_, err = ch.Receive()
	assert.Assert(t, err == errReceiveWithCallback)
}

func TestWaitCloseTimesOut(t *testing.T) {
	client, _ := newPipeGateways(t)
	ch, err := client.RemoteExec("echo")
	assert.NilError(t, err)

	err = ch.WaitClose(10 * time.Millisecond)
	var te *TimeoutError
	assert.Assert(t, errorsAsTimeout(err, &te))
}

func errorsAsTimeout(err error, target **TimeoutError) bool {
	te, ok := err.(*TimeoutError)
	if !ok {
		return false
	}
	*target = te
	return true
}

func TestNonServingGatewayRejectsChannelOpen(t *testing.T) {
	a, b := transport.Pipe()
	left := New("left", a, 1, codec.Options{}, nil)
	right := New("right", b, 2, codec.Options{}, nil)
	left.Start()
	right.Start()
	t.Cleanup(func() { _ = left.Exit(context.Background()) })

	ch, err := left.RemoteExec("echo")
	assert.NilError(t, err)
	_, rerr := ch.Receive()
	assert.ErrorContains(t, rerr, "does not serve remote tasks")
}

func TestExitUnblocksServe(t *testing.T) {
	a, b := transport.Pipe()
	exec := NewExecutor()
	client := New("client", a, 1, codec.Options{}, nil)
	server := New("server", b, 2, codec.Options{}, exec)
	client.Start()

	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Serve(context.Background()) }()

	assert.NilError(t, client.Exit(context.Background()))

	select {
	case err := <-serveDone:
		assert.NilError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Exit")
	}
}
