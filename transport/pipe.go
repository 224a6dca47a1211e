package transport

import (
	"io"
	"net"
	"sync"
)

// Pipe returns two Transports connected to each other in memory, for tests
// and for driving an Executor without spawning a real peer process.
func Pipe() (a, b Transport) {
	ca, cb := net.Pipe()
	return &connTransport{conn: ca}, &connTransport{conn: cb}
}

// connTransport adapts a net.Conn to Transport. net.Pipe's Conn has no
// independent half-close, so CloseRead/CloseWrite on a pipe-backed
// connTransport close the whole connection the first time either is called;
// full half-close semantics are available on tcpTransport (TCPDial,
// TCPListenOnce) instead.
type connTransport struct {
	conn net.Conn

	mu          sync.Mutex
	readClosed  bool
	writeClosed bool
}

func (c *connTransport) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return buf, nil
}

func (c *connTransport) WriteAll(b []byte) error {
	_, err := c.conn.Write(b)
	return err
}

func (c *connTransport) CloseRead() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readClosed {
		return nil
	}
	c.readClosed = true
	return c.conn.Close()
}

func (c *connTransport) CloseWrite() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeClosed {
		return nil
	}
	c.writeClosed = true
	return c.conn.Close()
}
