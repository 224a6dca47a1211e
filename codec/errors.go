package codec

import "github.com/pkg/errors"

// SerializationError reports that Encode was asked to write a value it
// cannot represent: an unsupported Go type, or a value exceeding the
// protocol's signed-32-bit length/integer limits.
type SerializationError struct {
	msg string
}

func (e *SerializationError) Error() string { return "codec: " + e.msg }

func newSerializationError(msg string) error {
	return errors.WithStack(&SerializationError{msg: msg})
}

// UnserializationError reports a malformed or truncated opcode stream: a bad
// version byte, an unknown opcode, an empty or residue-laden stack at STOP,
// or a SETITEM with too little on the stack.
type UnserializationError struct {
	msg string
}

func (e *UnserializationError) Error() string { return "codec: " + e.msg }

func newUnserializationError(msg string) error {
	return errors.WithStack(&UnserializationError{msg: msg})
}
