package gateway

import (
	stderrors "errors"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RemoteError carries a peer-side failure across as formatted text. It is
// raised to the caller by Channel.Receive and Channel.WaitClose.
type RemoteError struct {
	formatted string
}

func (e *RemoteError) Error() string { return e.formatted }

// warn reports an error that closed a channel whose handle was released
// before any caller consumed it, standing in for the original's
// __del__-time stderr warning.
func (e *RemoteError) warn() {
	logrus.WithField("component", "gateway").Warnf("unconsumed remote error: %s", e.formatted)
}

// ErrEndOfStream is returned by Channel.Receive once the channel has closed
// cleanly and its queue has drained.
var ErrEndOfStream = stderrors.New("gateway: end of stream")

// TimeoutError is returned by Channel.WaitClose when its timeout elapses
// before the channel closed. Group.Terminate does not return it; on timeout
// it returns the context's deadline error instead.
type TimeoutError struct {
	msg string
}

func (e *TimeoutError) Error() string { return e.msg }

var (
	errFactoryFinished          = errors.New("gateway: channel factory already finished")
	errCallbackAlreadyInstalled = errors.New("gateway: channel already has a callback installed")
	errReceiveWithCallback      = errors.New("gateway: cannot call Receive on a channel with a callback installed")
	errSendOnClosed             = errors.New("gateway: cannot send on a closed channel")
)
