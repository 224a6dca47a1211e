// Package transport provides the duplex byte-stream implementations a
// Gateway binds to. The core protocol in the gateway package only ever sees
// the Transport interface; spawning subprocesses, dialing sockets, and
// shelling out to ssh are external concerns kept here.
package transport

import "io"

// Transport is a full-duplex byte stream with independent half-close.
// Implementations must make WriteAll atomic with respect to other
// goroutines calling WriteAll concurrently (the gateway package additionally
// serializes whole frames with one gateway-wide write mutex).
type Transport interface {
	// ReadExact reads exactly n bytes, or returns io.EOF if the stream ends
	// first (including partway through the n bytes).
	ReadExact(n int) ([]byte, error)
	// WriteAll writes all of b, or returns an error. Implementations must
	// not interleave a partial write from one call with another.
	WriteAll(b []byte) error
	// CloseRead half-closes the read side. Idempotent.
	CloseRead() error
	// CloseWrite half-closes the write side. Idempotent.
	CloseWrite() error
}

// reader adapts a Transport's ReadExact to io.Reader, for use with
// codec.Decode and wire.Read, which only need io.Reader.
type reader struct{ t Transport }

// Reader returns an io.Reader view of t suitable for wire.Read.
func Reader(t Transport) io.Reader { return reader{t} }

func (r reader) Read(p []byte) (int, error) {
	b, err := r.t.ReadExact(len(p))
	n := copy(p, b)
	return n, err
}

// writer adapts a Transport's WriteAll to io.Writer, for use with
// codec.Encode and wire.Message.Write.
type writer struct{ t Transport }

// Writer returns an io.Writer view of t suitable for wire.Message.Write.
func Writer(t Transport) io.Writer { return writer{t} }

func (w writer) Write(p []byte) (int, error) {
	if err := w.t.WriteAll(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
