// Package gateway implements the channel-multiplexed message protocol
// execnet calls a Gateway: a single bidirectional transport carrying many
// independent Channels, plus (on the peer/serve side) dispatch of
// CHANNEL_OPEN requests to named remote tasks.
//
// Grounded throughout on
// _examples/original_source/execnet/gateway_base.py's BaseGateway/
// SlaveGateway/WorkerGateway and the receiver-thread/receive-lock design it
// uses to serialize dispatch.
package gateway

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sbasso/xnet/codec"
	"github.com/sbasso/xnet/transport"
	"github.com/sbasso/xnet/wire"
)

type execItem struct {
	ch       *Channel
	taskSpec string
}

// execQueueCapacity bounds how many un-started CHANNEL_OPEN requests a
// Serve loop may have queued at once before the receiver loop blocks
// accepting more. Generous rather than tight: remote task dispatch is
// expected to be fast to hand off, not to run inline.
const execQueueCapacity = 256

// Gateway multiplexes Channels over a single Transport. One side calls
// RemoteExec/NewChannel to drive the conversation; the other calls Serve to
// answer it, if it was built with an Executor.
type Gateway struct {
	Name string

	transport transport.Transport
	opts      codec.Options
	exec      *Executor

	writeMu     sync.Mutex
	receiveLock sync.Mutex
	factory     *channelFactory
	execQueue   chan execItem
	doneCh      chan struct{}

	log *logrus.Entry
}

// New returns a Gateway driving t. startCount seeds local channel id
// allocation (conventionally 1 for the side that calls RemoteExec and 2 for
// the side that calls Serve, matching execnet's odd/even split so the two
// sides never allocate the same id). exec may be nil for a gateway that
// only ever originates requests and never answers CHANNEL_OPEN itself.
func New(name string, t transport.Transport, startCount int32, opts codec.Options, exec *Executor) *Gateway {
	gw := &Gateway{
		Name:      name,
		transport: t,
		opts:      opts,
		exec:      exec,
		doneCh:    make(chan struct{}),
		log:       logrus.WithField("gateway", name),
	}
	gw.factory = newChannelFactory(gw, startCount)
	if exec != nil {
		gw.execQueue = make(chan execItem, execQueueCapacity)
	}
	return gw
}

// Start launches the gateway's single receiver task. It must be called
// exactly once, before any Channel method is used.
func (gw *Gateway) Start() {
	go gw.receiveLoop()
}

// NewChannel allocates a fresh local Channel without telling the peer
// anything yet; the caller is expected to Send a reference to it over an
// already-open channel, or use RemoteExec instead.
func (gw *Gateway) NewChannel() (*Channel, error) {
	return gw.factory.new(nil)
}

// RemoteExec opens a channel and asks the peer to run the named remote
// task against it, returning the channel immediately so the caller can
// start sending/receiving without waiting for the peer to accept.
func (gw *Gateway) RemoteExec(taskSpec string) (*Channel, error) {
	ch, err := gw.factory.new(nil)
	if err != nil {
		return nil, err
	}
	if err := gw.sendMessage(wire.Message{Kind: wire.ChannelOpen, ChannelID: ch.id, Payload: taskSpec}); err != nil {
		return nil, err
	}
	return ch, nil
}

func (gw *Gateway) sendMessage(msg wire.Message) error {
	gw.writeMu.Lock()
	defer gw.writeMu.Unlock()
	return msg.Write(transport.Writer(gw.transport))
}

// receiveLoop is the gateway's single reader/dispatcher task. Exactly one
// goroutine runs it per Gateway, so gw.receiveLock never contends with a
// second dispatch - only with Channel.SetCallback's drain-and-install step.
func (gw *Gateway) receiveLoop() {
	defer close(gw.doneCh)
	r := transport.Reader(gw.transport)
	for {
		msg, err := wire.Read(r, gw.opts)
		if err != nil {
			gw.log.WithError(err).Debug("gateway: receiver stopping")
			break
		}
		gw.receiveLock.Lock()
		gw.dispatch(msg)
		gw.receiveLock.Unlock()
	}
	_ = gw.transport.CloseWrite()
	gw.factory.finishedReceiving()
	if gw.execQueue != nil {
		close(gw.execQueue)
	}
}

func (gw *Gateway) dispatch(msg wire.Message) {
	switch msg.Kind {
	case wire.ChannelOpen:
		ch, err := gw.factory.new(&msg.ChannelID)
		if err != nil {
			gw.log.WithError(err).Warn("gateway: dropping CHANNEL_OPEN, factory closed")
			return
		}
		if gw.exec == nil {
			_ = ch.Close(errors.New("gateway: this gateway does not serve remote tasks"))
			return
		}
		taskSpec, _ := msg.Payload.(string)
		gw.execQueue <- execItem{ch: ch, taskSpec: taskSpec}

	case wire.ChannelNew:
		newID, _ := msg.Payload.(int32)
		newCh, err := gw.factory.new(&newID)
		if err != nil {
			gw.log.WithError(err).Warn("gateway: dropping CHANNEL_NEW, factory closed")
			return
		}
		gw.factory.localReceive(msg.ChannelID, newCh)

	case wire.ChannelData:
		gw.factory.localReceive(msg.ChannelID, msg.Payload)

	case wire.ChannelClose:
		gw.factory.localClose(msg.ChannelID, nil, false)

	case wire.ChannelCloseError:
		text, _ := msg.Payload.(string)
		gw.factory.localClose(msg.ChannelID, &RemoteError{formatted: text}, false)

	case wire.ChannelLastMessage:
		gw.factory.localClose(msg.ChannelID, nil, true)

	default:
		gw.log.Warnf("gateway: unknown message kind %d", msg.Kind)
	}
}

// Exit signals the peer that no more data is coming (a half-close on the
// transport) and waits for the receiver loop to notice the peer has done
// the same, or for ctx to be done.
func (gw *Gateway) Exit(ctx context.Context) error {
	_ = gw.transport.CloseWrite()
	select {
	case <-gw.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed once the receiver loop has exited.
func (gw *Gateway) Done() <-chan struct{} { return gw.doneCh }

// Serve runs this gateway's peer side: it starts the receiver loop and
// then executes every CHANNEL_OPEN request as it arrives, returning once
// the transport has gone away and every already-queued task has finished.
// Serve requires a Gateway built with a non-nil Executor.
func (gw *Gateway) Serve(ctx context.Context) error {
	if gw.exec == nil {
		return errors.New("gateway: Serve requires a Gateway built with an Executor")
	}
	gw.Start()
	for item := range gw.execQueue {
		gw.runTask(ctx, item)
	}
	return nil
}

func (gw *Gateway) runTask(ctx context.Context, item execItem) {
	fn, arg, ok := gw.exec.lookup(item.taskSpec)
	if !ok {
		_ = item.ch.Close(errors.Errorf("gateway: no such remote task %q", item.taskSpec))
		return
	}
	err := gw.invokeTask(ctx, fn, item.ch, arg)
	_ = item.ch.Close(err)
}

func (gw *Gateway) invokeTask(ctx context.Context, fn TaskFunc, ch *Channel, arg string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("gateway: remote task panicked: %v", r)
		}
	}()
	return fn(ctx, ch, arg)
}
