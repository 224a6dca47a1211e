package gateway

import (
	"context"
	"io"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/sbasso/xnet/codec"
	"github.com/sbasso/xnet/transport"
)

func TestMakeFileWriteSendsOneItemPerWrite(t *testing.T) {
	client, _ := newPipeGateways(t)
	ch, err := client.RemoteExec("echo")
	assert.NilError(t, err)

	f, err := ch.MakeFile("w")
	assert.NilError(t, err)
	n, err := f.Write([]byte("hello"))
	assert.NilError(t, err)
	assert.Equal(t, n, 5)

	item, err := ch.Receive()
	assert.NilError(t, err)
	assert.DeepEqual(t, item.([]byte), []byte("hello"))
	assert.NilError(t, ch.Close(nil))
}

func TestMakeFileReadAccumulatesItems(t *testing.T) {
	a, b := transport.Pipe()
	client := New("client", a, 1, codec.Options{}, nil)
	client.Start()
	t.Cleanup(func() { _ = client.Exit(context.Background()) })

	exec := NewExecutor()
	exec.Register("lines", func(_ context.Context, ch *Channel, _ string) error {
		if err := ch.Send([]byte("ab")); err != nil {
			return err
		}
		return ch.Send([]byte("cde"))
	})
	server := New("server", b, 2, codec.Options{}, exec)
	go func() { _ = server.Serve(context.Background()) }()

	ch, err := client.RemoteExec("lines")
	assert.NilError(t, err)

	// Read is a plain io.Reader: a single call may return fewer bytes than
	// requested (here, whatever the first queued item holds). io.ReadFull
	// is what accumulates across items to fill the buffer exactly, matching
	// the "read(n) accumulates items" contract in Go idiom.
	f, err := ch.MakeFile("r")
	assert.NilError(t, err)
	buf := make([]byte, 4)
	n, err := io.ReadFull(f, buf)
	assert.NilError(t, err)
	assert.Equal(t, n, 4)
	assert.Equal(t, string(buf), "abcd")
}

func TestMakeFileReadLineSplitsOnNewline(t *testing.T) {
	a, b := transport.Pipe()
	client := New("client", a, 1, codec.Options{}, nil)
	client.Start()
	t.Cleanup(func() { _ = client.Exit(context.Background()) })

	exec := NewExecutor()
	exec.Register("lines", func(_ context.Context, ch *Channel, _ string) error {
		return ch.Send([]byte("first\nsecond\nthird"))
	})
	server := New("server", b, 2, codec.Options{}, exec)
	go func() { _ = server.Serve(context.Background()) }()

	ch, err := client.RemoteExec("lines")
	assert.NilError(t, err)

	f, err := ch.MakeFile("r")
	assert.NilError(t, err)
	line1, err := f.ReadLine()
	assert.NilError(t, err)
	assert.Equal(t, line1, "first")
	line2, err := f.ReadLine()
	assert.NilError(t, err)
	assert.Equal(t, line2, "second")
	line3, err := f.ReadLine()
	assert.NilError(t, err)
	assert.Equal(t, line3, "third")
}

func TestMakeFileUnknownModeFails(t *testing.T) {
	client, _ := newPipeGateways(t)
	ch, err := client.RemoteExec("echo")
	assert.NilError(t, err)
	_, err = ch.MakeFile("x")
	assert.ErrorContains(t, err, "unknown makefile mode")
}
