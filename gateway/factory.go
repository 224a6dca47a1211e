package gateway

import "sync"

type callbackEntry struct {
	cb           func(any)
	endmarker    any
	hasEndmarker bool
}

// channelFactory allocates channel ids and tracks every channel currently
// live on a Gateway, playing the role of execnet's ChannelFactory. Python's
// version backs this with a weakref.WeakValueDictionary so forgotten
// channels vanish on garbage collection; Go has no equivalent, so channels
// are removed explicitly by Channel.Close/Release and by
// finishedReceiving.
type channelFactory struct {
	gw *Gateway

	mu        sync.Mutex
	channels  map[int32]*Channel
	callbacks map[int32]callbackEntry
	next      int32
	finished  bool
}

func newChannelFactory(gw *Gateway, startCount int32) *channelFactory {
	return &channelFactory{
		gw:        gw,
		channels:  map[int32]*Channel{},
		callbacks: map[int32]callbackEntry{},
		next:      startCount,
	}
}

// new allocates a fresh Channel. If id is nil, the factory assigns the next
// id from its own parity sequence (even on one side of a gateway, odd on
// the other, so the two sides never collide); otherwise it registers a
// channel under a peer-assigned id.
func (f *channelFactory) new(id *int32) (*Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finished {
		return nil, errFactoryFinished
	}
	var cid int32
	if id != nil {
		cid = *id
	} else {
		cid = f.next
		f.next += 2
	}
	ch := newChannel(cid, f, f.gw)
	f.channels[cid] = ch
	return ch, nil
}

// localReceive dispatches an incoming CHANNEL_DATA/CHANNEL_NEW payload to
// whichever of a queue or an installed callback the channel currently has.
// Called from the receiver loop, already holding gw.receiveLock.
func (f *channelFactory) localReceive(id int32, data any) {
	f.mu.Lock()
	entry, hasCB := f.callbacks[id]
	var ch *Channel
	if !hasCB {
		ch = f.channels[id]
	}
	f.mu.Unlock()

	if hasCB {
		entry.cb(data)
		return
	}
	if ch != nil {
		ch.pushItem(data)
	}
}

// localClose applies an incoming CHANNEL_CLOSE/CHANNEL_CLOSE_ERROR/
// CHANNEL_LAST_MESSAGE to the named channel and forgets it.
func (f *channelFactory) localClose(id int32, remoteErr *RemoteError, sendonly bool) {
	f.mu.Lock()
	ch := f.channels[id]
	f.mu.Unlock()

	if ch != nil {
		ch.applyRemoteClose(remoteErr, sendonly)
	} else if remoteErr != nil {
		remoteErr.warn()
	}
	f.forget(id)
}

// forget removes a channel's bookkeeping entries once it's fully closed,
// delivering a pending callback endmarker exactly once.
func (f *channelFactory) forget(id int32) {
	f.mu.Lock()
	delete(f.channels, id)
	entry, hadCB := f.callbacks[id]
	if hadCB {
		delete(f.callbacks, id)
	}
	f.mu.Unlock()

	if hadCB && entry.hasEndmarker {
		entry.cb(entry.endmarker)
	}
}

func (f *channelFactory) installCallback(id int32, cb func(any), endmarker any, hasEndmarker bool) {
	f.mu.Lock()
	f.callbacks[id] = callbackEntry{cb: cb, endmarker: endmarker, hasEndmarker: hasEndmarker}
	f.mu.Unlock()
}

// finishedReceiving marks the factory as done once the transport has gone
// away, force-closing every channel still open (sendonly, since nothing
// more will ever arrive) and delivering any callbacks their endmarker.
func (f *channelFactory) finishedReceiving() {
	f.mu.Lock()
	f.finished = true
	ids := make([]int32, 0, len(f.channels))
	for id := range f.channels {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	for _, id := range ids {
		f.localClose(id, nil, true)
	}

	f.mu.Lock()
	remaining := make([]int32, 0, len(f.callbacks))
	for id := range f.callbacks {
		remaining = append(remaining, id)
	}
	f.mu.Unlock()
	for _, id := range remaining {
		f.forget(id)
	}
}
