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

func echoPair(t *testing.T) *gateway.Channel {
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
	server := gateway.New("server", b, 2, codec.Options{}, exec)
	client := gateway.New("client", a, 1, codec.Options{}, nil)
	client.Start()
	go func() { _ = server.Serve(context.Background()) }()
	t.Cleanup(func() { _ = client.Exit(context.Background()) })

	ch, err := client.RemoteExec("echo")
	assert.NilError(t, err)
	return ch
}

func TestMultiChannelSendAndReceiveEach(t *testing.T) {
	ch1 := echoPair(t)
	ch2 := echoPair(t)
	mc := NewMultiChannel(ch1, ch2)

	assert.NilError(t, mc.SendEach(int32(7)))
	results := mc.ReceiveEach()
	assert.Equal(t, len(results), 2)
	for _, r := range results {
		assert.NilError(t, r.Err)
		assert.Equal(t, r.Item, int32(7))
	}
}

func TestMultiChannelReceiveQueue(t *testing.T) {
	ch1 := echoPair(t)
	ch2 := echoPair(t)
	mc := NewMultiChannel(ch1, ch2)

	queue, err := mc.MakeReceiveQueue(8)
	assert.NilError(t, err)

	assert.NilError(t, ch1.Send("a"))
	assert.NilError(t, ch2.Send("b"))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		r := <-queue
		s, ok := r.Item.(string)
		assert.Assert(t, ok)
		seen[s] = true
	}
	assert.Assert(t, seen["a"] && seen["b"])

	assert.NilError(t, ch1.Close(nil))
	r := <-queue
	_, isEnd := r.Item.(EndOfChannel)
	assert.Assert(t, isEnd)
}

func TestMultiChannelWaitClose(t *testing.T) {
	ch1 := echoPair(t)
	ch2 := echoPair(t)
	mc := NewMultiChannel(ch1, ch2)

	assert.NilError(t, ch1.Close(nil))
	assert.NilError(t, ch2.Close(nil))
	assert.NilError(t, mc.WaitClose(2*time.Second))
}
