// Package wire implements message framing: the five (six) frame kinds
// multiplexed over a single Transport, each carrying a channel id and a
// payload, serialized with the codec package.
package wire

import (
	"io"

	"github.com/pkg/errors"

	"github.com/sbasso/xnet/codec"
)

// Kind identifies the frame's purpose. The numeric value is part of the wire
// protocol and must not be renumbered.
type Kind int32

const (
	// ChannelOpen carries the name of a registered remote task (see
	// gateway.Executor) to run against a freshly created channel.
	ChannelOpen Kind = 0
	// ChannelNew carries the integer id of a channel the sender just
	// created, handing a reference to it to the peer.
	ChannelNew Kind = 1
	// ChannelData carries one arbitrary codec value sent on the channel.
	ChannelData Kind = 2
	// ChannelClose carries no payload; it closes the channel cleanly.
	ChannelClose Kind = 3
	// ChannelCloseError carries the formatted text of a remote failure.
	ChannelCloseError Kind = 4
	// ChannelLastMessage carries no payload; it signals that the sender is
	// done sending but the receiver may still have data for the sender.
	ChannelLastMessage Kind = 5
)

// Message is one frame: (kind, channel id, payload). There is no length
// prefix outside the codec; the frame ends wherever the codec's STOP falls.
type Message struct {
	Kind      Kind
	ChannelID int32
	Payload   any
}

// Write encodes m as a codec.Tuple{kind, channelID, payload} to w.
func (m Message) Write(w io.Writer) error {
	return codec.Encode(w, codec.Tuple{int32(m.Kind), m.ChannelID, m.Payload})
}

// Read decodes the next frame from r using opts for legacy-dialect strings.
func Read(r io.Reader, opts codec.Options) (Message, error) {
	v, err := codec.Decode(r, opts)
	if err != nil {
		return Message{}, err
	}
	tup, ok := v.(codec.Tuple)
	if !ok || len(tup) != 3 {
		return Message{}, errors.New("wire: decoded value is not a 3-tuple frame")
	}
	kind, ok := tup[0].(int32)
	if !ok {
		return Message{}, errors.New("wire: frame kind is not an int")
	}
	channelID, ok := tup[1].(int32)
	if !ok {
		return Message{}, errors.New("wire: frame channel id is not an int")
	}
	return Message{Kind: Kind(kind), ChannelID: channelID, Payload: tup[2]}, nil
}
