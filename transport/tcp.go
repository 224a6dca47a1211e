package transport

import (
	"context"
	"io"
	"net"
)

// tcpTransport adapts a *net.TCPConn, using its native CloseRead/CloseWrite
// for true independent half-close (unlike the in-memory pipe transport).
type tcpTransport struct {
	conn *net.TCPConn
}

func (t *tcpTransport) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.conn, buf); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return buf, nil
}

func (t *tcpTransport) WriteAll(b []byte) error {
	_, err := t.conn.Write(b)
	return err
}

func (t *tcpTransport) CloseRead() error  { return t.conn.CloseRead() }
func (t *tcpTransport) CloseWrite() error { return t.conn.CloseWrite() }

// TCPDial connects to addr and returns the connection as a Transport, for
// the "socket=host:port" exec-spec gateway kind.
func TCPDial(ctx context.Context, addr string) (Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return &connTransport{conn: conn}, nil
	}
	return &tcpTransport{conn: tcpConn}, nil
}

// TCPListenOnce listens on addr, accepts exactly one connection, and returns
// it as a Transport. This is the peer-side counterpart used when a group
// member is configured to accept a socket gateway rather than dial one.
func TCPListenOnce(ctx context.Context, addr string) (Transport, error) {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()

	type result struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		accepted <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-accepted:
		if r.err != nil {
			return nil, r.err
		}
		if tcpConn, ok := r.conn.(*net.TCPConn); ok {
			return &tcpTransport{conn: tcpConn}, nil
		}
		return &connTransport{conn: r.conn}, nil
	}
}
