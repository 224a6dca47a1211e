package group

import (
	"sync"
	"time"

	"github.com/sbasso/xnet/gateway"
)

// EndOfChannel is the sentinel value a MultiChannel receive queue delivers
// once a particular channel has closed, so a single consumer loop over the
// shared queue can tell which gateways are still live.
type EndOfChannel struct{}

// Result pairs a received item (or error) with the Channel it came from,
// for APIs that fan results back in from many channels at once.
type Result struct {
	Channel *gateway.Channel
	Item    any
	Err     error
}

// MultiChannel groups several Channels (typically one per gateway in a
// Group) so they can be driven together: send the same item to all of
// them, or collect whatever each next has to say. Grounded on execnet's
// MultiChannel (_examples/original_source/execnet/multi.py).
type MultiChannel struct {
	channels []*gateway.Channel
}

// NewMultiChannel wraps an existing set of channels.
func NewMultiChannel(channels ...*gateway.Channel) *MultiChannel {
	return &MultiChannel{channels: append([]*gateway.Channel(nil), channels...)}
}

// Channels returns the underlying channels in the order given to
// NewMultiChannel.
func (m *MultiChannel) Channels() []*gateway.Channel { return m.channels }

// SendEach sends item to every channel, returning the first error
// encountered (after attempting every send).
func (m *MultiChannel) SendEach(item any) error {
	var firstErr error
	for _, ch := range m.channels {
		if err := ch.Send(item); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReceiveEach blocks until every channel has produced its next item (or
// error), receiving from all of them concurrently so one slow channel
// doesn't hold up the others.
func (m *MultiChannel) ReceiveEach() []Result {
	results := make([]Result, len(m.channels))
	var wg sync.WaitGroup
	for i, ch := range m.channels {
		wg.Add(1)
		go func(i int, ch *gateway.Channel) {
			defer wg.Done()
			item, err := ch.Receive()
			results[i] = Result{Channel: ch, Item: item, Err: err}
		}(i, ch)
	}
	wg.Wait()
	return results
}

// MakeReceiveQueue installs a callback on every channel that forwards each
// item (and, on close, an EndOfChannel) into a single shared queue,
// letting one goroutine consume results from many channels as they
// arrive rather than polling each in turn.
func (m *MultiChannel) MakeReceiveQueue(bufferSize int) (<-chan Result, error) {
	out := make(chan Result, bufferSize)
	for _, ch := range m.channels {
		ch := ch
		err := ch.SetCallback(func(item any) {
			out <- Result{Channel: ch, Item: item}
		}, EndOfChannel{}, true)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// WaitClose blocks until every channel has closed, or timeout elapses for
// any one of them, returning the first error encountered.
func (m *MultiChannel) WaitClose(timeout time.Duration) error {
	errs := make(chan error, len(m.channels))
	for _, ch := range m.channels {
		ch := ch
		go func() { errs <- ch.WaitClose(timeout) }()
	}
	var firstErr error
	for range m.channels {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
