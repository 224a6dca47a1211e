package codec

import (
	"encoding/binary"
	"io"
	"math"
	"unicode/utf8"
)

// Protocol opcodes, one ASCII byte each.
const (
	opNone       = 'n'
	opTrue       = '1'
	opFalse      = '0'
	opInt        = 'i'
	opFloat      = 'f'
	opBytes      = 'b'
	opUnicode    = 'u'
	opLegacyA    = 's'
	opLegacyB    = 't'
	opNewList    = 'l'
	opSetItem    = 'm'
	opNewMap     = 'd'
	opBuildTuple = 'T'
	opStop       = 'S'
)

// version is the single version byte every encoded stream begins with.
const version = 1

// maxInt32 is the largest value the wire format's 4-byte signed integer
// fields (lengths and Int payloads) can carry.
const maxInt32 = math.MaxInt32

// Encode writes the version byte, v's opcode encoding, and STOP to w.
func Encode(w io.Writer, v any) error {
	bw := &byteWriter{w: w}
	bw.writeByte(version)
	if err := encodeValue(bw, v); err != nil {
		return err
	}
	bw.writeByte(opStop)
	return bw.err
}

// byteWriter accumulates the first error encountered so call sites don't
// need to check err after every single write.
type byteWriter struct {
	w   io.Writer
	err error
}

func (bw *byteWriter) writeByte(b byte) {
	if bw.err != nil {
		return
	}
	_, bw.err = bw.w.Write([]byte{b})
}

func (bw *byteWriter) write(b []byte) {
	if bw.err != nil {
		return
	}
	_, bw.err = bw.w.Write(b)
}

func (bw *byteWriter) writeInt4(i int, overflowMsg string) {
	if bw.err != nil {
		return
	}
	if i > maxInt32 || i < -maxInt32-1 {
		bw.err = newSerializationError(overflowMsg)
		return
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(int32(i)))
	bw.write(buf[:])
}

func encodeValue(bw *byteWriter, v any) error {
	switch x := v.(type) {
	case nil:
		bw.writeByte(opNone)
	case bool:
		if x {
			bw.writeByte(opTrue)
		} else {
			bw.writeByte(opFalse)
		}
	case int32:
		bw.writeByte(opInt)
		bw.writeInt4(int(x), "int out of range")
	case int:
		bw.writeByte(opInt)
		bw.writeInt4(x, "int must fit in 32 bits")
	case float64:
		bw.writeByte(opFloat)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(x))
		bw.write(buf[:])
	case []byte:
		bw.writeByte(opBytes)
		writeByteSequence(bw, x, "byte string is too long")
	case string:
		bw.writeByte(opUnicode)
		if !utf8.ValidString(x) {
			return newSerializationError("strings must be utf-8 encodable")
		}
		writeByteSequence(bw, []byte(x), "string is too long")
	case LegacyA:
		bw.writeByte(opLegacyA)
		writeByteSequence(bw, []byte(x), "string is too long")
	case LegacyB:
		bw.writeByte(opLegacyB)
		if !utf8.ValidString(string(x)) {
			return newSerializationError("strings must be utf-8 encodable")
		}
		writeByteSequence(bw, []byte(x), "string is too long")
	case Tuple:
		for _, item := range x {
			if err := encodeValue(bw, item); err != nil {
				return err
			}
		}
		bw.writeByte(opBuildTuple)
		bw.writeInt4(len(x), "tuple is too long")
	case List:
		bw.writeByte(opNewList)
		bw.writeInt4(len(x), "list is too long")
		for i, item := range x {
			if err := encodeValue(bw, int32(i)); err != nil {
				return err
			}
			if err := encodeValue(bw, item); err != nil {
				return err
			}
			bw.writeByte(opSetItem)
		}
	case Map:
		bw.writeByte(opNewMap)
		for _, e := range x {
			if err := encodeValue(bw, e.Key); err != nil {
				return err
			}
			if err := encodeValue(bw, e.Value); err != nil {
				return err
			}
			bw.writeByte(opSetItem)
		}
	default:
		return newSerializationError("can't serialize value of this type")
	}
	return bw.err
}

func writeByteSequence(bw *byteWriter, b []byte, overflowMsg string) {
	bw.writeInt4(len(b), overflowMsg)
	bw.write(b)
}

// Decode reads one version-tagged, STOP-terminated value from r.
func Decode(r io.Reader, opts Options) (any, error) {
	br := &byteReader{r: r}
	vb, err := br.readByte()
	if err != nil {
		return nil, newUnserializationError("truncated stream: missing version byte")
	}
	if vb != version {
		return nil, newUnserializationError("version mismatch")
	}
	stack := make([]any, 0, 8)
	for {
		op, err := br.readByte()
		if err != nil {
			return nil, newUnserializationError("truncated stream: missing STOP")
		}
		if op == opStop {
			if len(stack) != 1 {
				return nil, newUnserializationError("internal unserialization error: stack not singleton at STOP")
			}
			return stack[0], nil
		}
		stack, err = decodeOp(br, stack, op, opts)
		if err != nil {
			return nil, err
		}
	}
}

type byteReader struct {
	r io.Reader
}

func (br *byteReader) readByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(br.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (br *byteReader) readExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(br.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (br *byteReader) readInt4() (int32, error) {
	buf, err := br.readExact(4)
	if err != nil {
		return 0, newUnserializationError("truncated stream: expected 4-byte int")
	}
	return int32(binary.BigEndian.Uint32(buf)), nil
}

func (br *byteReader) readByteSequence() ([]byte, error) {
	n, err := br.readInt4()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, newUnserializationError("negative length prefix")
	}
	b, err := br.readExact(int(n))
	if err != nil {
		return nil, newUnserializationError("truncated stream: expected byte sequence")
	}
	return b, nil
}

func decodeOp(br *byteReader, stack []any, op byte, opts Options) ([]any, error) {
	switch op {
	case opNone:
		return append(stack, nil), nil
	case opTrue:
		return append(stack, true), nil
	case opFalse:
		return append(stack, false), nil
	case opInt:
		i, err := br.readInt4()
		if err != nil {
			return nil, err
		}
		return append(stack, i), nil
	case opFloat:
		buf, err := br.readExact(8)
		if err != nil {
			return nil, newUnserializationError("truncated stream: expected 8-byte float")
		}
		return append(stack, math.Float64frombits(binary.BigEndian.Uint64(buf))), nil
	case opBytes:
		b, err := br.readByteSequence()
		if err != nil {
			return nil, err
		}
		return append(stack, b), nil
	case opUnicode:
		b, err := br.readByteSequence()
		if err != nil {
			return nil, err
		}
		return append(stack, string(b)), nil
	case opLegacyA:
		b, err := br.readByteSequence()
		if err != nil {
			return nil, err
		}
		if opts.LegacyAAsText {
			return append(stack, decodeLatin1(b)), nil
		}
		return append(stack, b), nil
	case opLegacyB:
		b, err := br.readByteSequence()
		if err != nil {
			return nil, err
		}
		if opts.LegacyBAsText {
			return append(stack, string(b)), nil
		}
		return append(stack, b), nil
	case opNewList:
		n, err := br.readInt4()
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, newUnserializationError("negative list length")
		}
		return append(stack, List(make([]any, n))), nil
	case opSetItem:
		if len(stack) < 3 {
			return nil, newUnserializationError("not enough items for setitem")
		}
		value := stack[len(stack)-1]
		key := stack[len(stack)-2]
		stack = stack[:len(stack)-2]
		top := stack[len(stack)-1]
		switch container := top.(type) {
		case List:
			idx, ok := key.(int32)
			if !ok || idx < 0 || int(idx) >= len(container) {
				return nil, newUnserializationError("setitem index out of range")
			}
			container[idx] = value
		case Map:
			stack[len(stack)-1] = append(container, MapEntry{Key: key, Value: value})
		default:
			return nil, newUnserializationError("setitem on non-container")
		}
		return stack, nil
	case opNewMap:
		return append(stack, Map(nil)), nil
	case opBuildTuple:
		n, err := br.readInt4()
		if err != nil {
			return nil, err
		}
		if n < 0 || int(n) > len(stack) {
			return nil, newUnserializationError("invalid tuple length")
		}
		items := make(Tuple, n)
		copy(items, stack[len(stack)-int(n):])
		stack = stack[:len(stack)-int(n)]
		return append(stack, items), nil
	default:
		return nil, newUnserializationError("unknown opcode")
	}
}

// decodeLatin1 decodes bytes as latin-1 (ISO-8859-1), where every byte value
// maps directly to the Unicode code point of the same number.
func decodeLatin1(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}
