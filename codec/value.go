// Package codec implements the value serializer shared by every gateway in
// a group. It encodes a closed set of value shapes to and from a stack-based
// opcode stream, the same grammar the peer side must speak no matter what
// language or dialect it runs.
package codec

// LegacyA is a string tagged with the first of the two legacy string
// dialects the wire format distinguishes (opcode 's'). Which side decodes it
// as raw bytes versus latin-1 text is controlled by Options.
type LegacyA string

// LegacyB is a string tagged with the second legacy dialect (opcode 't').
// Which side decodes it as raw bytes versus UTF-8 text is controlled by
// Options.
type LegacyB string

// Tuple is a fixed-length ordered sequence of values (opcode 'T').
type Tuple []any

// List is a variable-length ordered sequence of values (opcode 'l').
type List []any

// MapEntry is one key/value pair of a Map, in insertion order.
type MapEntry struct {
	Key   any
	Value any
}

// Map is an ordered mapping from value to value (opcode 'd'). It is a slice
// rather than a Go map because keys may be of any encodable shape, including
// ones Go cannot use as map keys (byte slices, other maps, tuples of them).
type Map []MapEntry

// Options controls how the two legacy-dialect opcodes are delivered to the
// caller on decode, letting two mismatched interpreter dialects agree on
// string semantics at the boundary.
type Options struct {
	// LegacyAAsText decodes 's' payloads as latin-1 text (string) instead
	// of raw bytes ([]byte).
	LegacyAAsText bool
	// LegacyBAsText decodes 't' payloads as UTF-8 text (string) instead of
	// raw bytes ([]byte).
	LegacyBAsText bool
}
