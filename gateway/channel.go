package gateway

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/sbasso/xnet/wire"
)

type channelState int32

const (
	stateOpened channelState = iota
	stateSendonly
	stateClosed
	stateDeleted
)

// endmarkerType is the sentinel pushed into a Channel's item queue to mark
// its end, mirroring execnet's module-level ENDMARKER.
type endmarkerType struct{}

var endmarkerValue = endmarkerType{}

// Channel is a bidirectional, ordered byte/value pipe multiplexed over a
// single Gateway's transport. Grounded on execnet's Channel
// (_examples/original_source/execnet/gateway_base.py).
//
// There is no Go equivalent of CPython's weakref-backed channel cache and
// __del__ finalizer, so callers that want RemoteExec's "forget a channel
// whose result nobody reads" behavior must call Release explicitly.
type Channel struct {
	id      int32
	gw      *Gateway
	factory *channelFactory

	mu                sync.Mutex
	cond              *sync.Cond
	items             []any
	state             channelState
	callbackInstalled bool
	remoteErrors      []*RemoteError

	closeOnce   sync.Once
	closeSignal chan struct{}
}

func newChannel(id int32, f *channelFactory, gw *Gateway) *Channel {
	c := &Channel{
		id:          id,
		gw:          gw,
		factory:     f,
		closeSignal: make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// ID returns the channel's id, odd or even depending on which side of the
// gateway allocated it.
func (c *Channel) ID() int32 { return c.id }

// Closed reports whether the channel has been locally or remotely closed.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateClosed
}

// Send transmits item to the peer's end of the channel. Sending another
// Channel transmits a reference the peer can receive as a new local
// Channel, matching execnet's "send a channel over a channel" support.
func (c *Channel) Send(item any) error {
	c.mu.Lock()
	closed := c.state == stateClosed
	c.mu.Unlock()
	if closed {
		return errSendOnClosed
	}
	if other, ok := item.(*Channel); ok {
		return c.gw.sendMessage(wire.Message{Kind: wire.ChannelNew, ChannelID: c.id, Payload: other.id})
	}
	return c.gw.sendMessage(wire.Message{Kind: wire.ChannelData, ChannelID: c.id, Payload: item})
}

// Receive blocks for the next queued item. It returns ErrEndOfStream once
// the channel is closed and drained, or the RemoteError that closed it if
// one was sent. Receive and SetCallback are mutually exclusive.
func (c *Channel) Receive() (any, error) {
	c.mu.Lock()
	if c.callbackInstalled {
		c.mu.Unlock()
		return nil, errReceiveWithCallback
	}
	for len(c.items) == 0 {
		c.cond.Wait()
	}
	item := c.items[0]
	if _, ok := item.(endmarkerType); ok {
		c.mu.Unlock()
		if err := c.popRemoteError(); err != nil {
			return nil, err
		}
		return nil, ErrEndOfStream
	}
	c.items = c.items[1:]
	c.mu.Unlock()
	return item, nil
}

func (c *Channel) popRemoteError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.remoteErrors) == 0 {
		return nil
	}
	err := c.remoteErrors[0]
	c.remoteErrors = c.remoteErrors[1:]
	return err
}

// SetCallback installs cb to be invoked (instead of queuing) for every item
// the channel receives from now on. Any items already queued are delivered
// to cb first, under the gateway's receive lock so no concurrent dispatch
// can interleave a queued item and a freshly-arrived one. If endmarker is
// set, cb receives it exactly once when the channel closes.
//
// cb runs synchronously on the gateway's single receiver task. It must not
// block for long or call back into this channel's Receive.
func (c *Channel) SetCallback(cb func(any), endmarker any, hasEndmarker bool) error {
	c.gw.receiveLock.Lock()
	defer c.gw.receiveLock.Unlock()

	c.mu.Lock()
	if c.callbackInstalled {
		c.mu.Unlock()
		return errCallbackAlreadyInstalled
	}
	for len(c.items) > 0 {
		item := c.items[0]
		c.items = c.items[1:]
		if _, ok := item.(endmarkerType); ok {
			c.items = append([]any{item}, c.items...)
			c.mu.Unlock()
			if hasEndmarker {
				cb(endmarker)
			}
			return nil
		}
		c.mu.Unlock()
		cb(item)
		c.mu.Lock()
	}
	if c.state == stateClosed || c.state == stateSendonly {
		c.mu.Unlock()
		return nil
	}
	c.callbackInstalled = true
	c.mu.Unlock()

	c.factory.installCallback(c.id, cb, endmarker, hasEndmarker)
	return nil
}

// Close closes the channel locally. If err is non-nil its text is sent to
// the peer as a CHANNEL_CLOSE_ERROR; otherwise a plain CHANNEL_CLOSE is
// sent. Close is idempotent.
func (c *Channel) Close(err error) error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosed
	c.items = append(c.items, endmarkerValue)
	c.cond.Broadcast()
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closeSignal) })

	var sendErr error
	if err != nil {
		sendErr = c.gw.sendMessage(wire.Message{Kind: wire.ChannelCloseError, ChannelID: c.id, Payload: err.Error()})
	} else {
		sendErr = c.gw.sendMessage(wire.Message{Kind: wire.ChannelClose, ChannelID: c.id})
	}
	c.factory.forget(c.id)
	return sendErr
}

// Release lets go of a channel handle without necessarily having read
// everything sent over it, standing in for execnet's __del__-time channel
// cleanup. An opened channel with no callback installed sends CHANNEL_CLOSE
// to the peer; one with a callback installed sends CHANNEL_LAST_MESSAGE so
// the peer can finish streaming without expecting an ack. A closed channel
// with unconsumed remote errors logs them instead of dropping them
// silently.
func (c *Channel) Release() {
	c.mu.Lock()
	state := c.state
	hasCallback := c.callbackInstalled
	remoteErrs := c.remoteErrors
	c.remoteErrors = nil
	c.mu.Unlock()

	switch state {
	case stateClosed:
		for _, e := range remoteErrs {
			e.warn()
		}
	case stateOpened:
		if hasCallback {
			_ = c.gw.sendMessage(wire.Message{Kind: wire.ChannelLastMessage, ChannelID: c.id})
		} else {
			_ = c.gw.sendMessage(wire.Message{Kind: wire.ChannelClose, ChannelID: c.id})
		}
	case stateSendonly:
		// peer already knows this side is done sending.
	}

	c.mu.Lock()
	c.state = stateDeleted
	c.mu.Unlock()
	c.factory.forget(c.id)
}

// WaitClose blocks until the channel closes, returning any RemoteError that
// closed it. A zero timeout waits indefinitely.
func (c *Channel) WaitClose(timeout time.Duration) error {
	if timeout <= 0 {
		<-c.closeSignal
	} else {
		select {
		case <-c.closeSignal:
		case <-time.After(timeout):
			return &TimeoutError{msg: "gateway: channel did not close before timeout"}
		}
	}
	return c.popRemoteError()
}

func (c *Channel) pushItem(item any) {
	c.mu.Lock()
	c.items = append(c.items, item)
	c.cond.Signal()
	c.mu.Unlock()
}

func (c *Channel) applyRemoteClose(remoteErr *RemoteError, sendonly bool) {
	c.mu.Lock()
	if remoteErr != nil {
		c.remoteErrors = append(c.remoteErrors, remoteErr)
	}
	if !sendonly {
		c.state = stateClosed
	} else if c.state == stateOpened {
		c.state = stateSendonly
	}
	c.items = append(c.items, endmarkerValue)
	c.cond.Broadcast()
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closeSignal) })
}

// ChannelFile is what Channel.MakeFile returns: an io.ReadWriter that, in
// read mode, also offers ReadLine for consumers that want text a line at a
// time (execnet's ChannelFileRead.readline).
type ChannelFile interface {
	io.ReadWriter
	ReadLine() (string, error)
}

// MakeFile returns a ChannelFile backed by the channel, for code that wants
// to stream bytes/text rather than discrete items (execnet's
// Channel.makefile). In "w" mode, each Write sends one item; ReadLine
// returns an error since a write-mode file is never read. In "r" mode, Read
// accumulates inbound byte/text items into a buffer.
func (c *Channel) MakeFile(mode string) (ChannelFile, error) {
	switch mode {
	case "w":
		return &channelWriter{ch: c}, nil
	case "r":
		return &channelReader{ch: c}, nil
	default:
		return nil, errors.Errorf("gateway: unknown makefile mode %q", mode)
	}
}

type channelWriter struct{ ch *Channel }

func (w *channelWriter) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	if err := w.ch.Send(cp); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *channelWriter) Read([]byte) (int, error) {
	return 0, errors.New("gateway: channel file opened write-only")
}

func (w *channelWriter) ReadLine() (string, error) {
	return "", errors.New("gateway: channel file opened write-only")
}

type channelReader struct {
	ch  *Channel
	buf []byte
	eof bool
}

func (r *channelReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		item, err := r.ch.Receive()
		if err != nil {
			if errors.Is(err, ErrEndOfStream) {
				r.eof = true
				continue
			}
			return 0, err
		}
		switch v := item.(type) {
		case []byte:
			r.buf = v
		case string:
			r.buf = []byte(v)
		default:
			return 0, errors.New("gateway: non-byte/text item received on a file-mode channel")
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *channelReader) Write([]byte) (int, error) {
	return 0, errors.New("gateway: channel file opened read-only")
}

// ReadLine reads one '\n'-terminated line (the newline is stripped), or
// whatever remains at end-of-stream if no further newline ever arrives.
func (r *channelReader) ReadLine() (string, error) {
	var line []byte
	for {
		for i, b := range r.buf {
			if b == '\n' {
				line = append(line, r.buf[:i]...)
				r.buf = r.buf[i+1:]
				return string(line), nil
			}
		}
		line = append(line, r.buf...)
		r.buf = nil
		if r.eof {
			if len(line) == 0 {
				return "", io.EOF
			}
			return string(line), nil
		}
		item, err := r.ch.Receive()
		if err != nil {
			if errors.Is(err, ErrEndOfStream) {
				r.eof = true
				continue
			}
			return "", err
		}
		switch v := item.(type) {
		case []byte:
			r.buf = v
		case string:
			r.buf = []byte(v)
		default:
			return "", errors.New("gateway: non-byte/text item received on a file-mode channel")
		}
	}
}
