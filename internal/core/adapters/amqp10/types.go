package amqp10

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ottermq/otterlane/internal/core/message"
)

// AMQP 1.0 primitive type codes (OASIS AMQP 1.0 part 1, section 1.6).
const (
	codeDescribed  = 0x00
	codeNull       = 0x40
	codeTrue       = 0x41
	codeFalse      = 0x42
	codeUint0      = 0x43
	codeUlong0     = 0x44
	codeList0      = 0x45
	codeUbyte      = 0x50
	codeByte       = 0x51
	codeSmallUint  = 0x52
	codeSmallUlong = 0x53
	codeSmallInt   = 0x54
	codeSmallLong  = 0x55
	codeBool       = 0x56
	codeUshort     = 0x60
	codeShort      = 0x61
	codeUint       = 0x70
	codeInt        = 0x71
	codeFloat      = 0x72
	codeUlong      = 0x80
	codeLong       = 0x81
	codeDouble     = 0x82
	codeTimestamp  = 0x83
	codeUUID       = 0x98
	codeVbin8      = 0xa0
	codeStr8       = 0xa1
	codeSym8       = 0xa3
	codeVbin32     = 0xb0
	codeStr32      = 0xb1
	codeSym32      = 0xb3
	codeList8      = 0xc0
	codeMap8       = 0xc1
	codeList32     = 0xd0
	codeMap32      = 0xd1
)

var errShort = errors.New("unexpected end of data")

// symbol is an AMQP symbol. It never leaves this package: symbols found in
// application data are kept as raw values.
type symbol string

type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errShort
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) next(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, errShort
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// payloadSize returns the number of bytes that follow a constructor. For
// variable width and compound encodings the size prefix is consumed.
func (r *reader) payloadSize(code byte) (int, error) {
	switch code >> 4 {
	case 0x4:
		return 0, nil
	case 0x5:
		return 1, nil
	case 0x6:
		return 2, nil
	case 0x7:
		return 4, nil
	case 0x8:
		return 8, nil
	case 0x9:
		return 16, nil
	case 0xa, 0xc, 0xe:
		b, err := r.readByte()
		return int(b), err
	case 0xb, 0xd, 0xf:
		b, err := r.next(4)
		if err != nil {
			return 0, err
		}
		return int(binary.BigEndian.Uint32(b)), nil
	}
	return 0, fmt.Errorf("invalid type code 0x%02x", code)
}

// skipValue advances past one complete value, described or not.
func (r *reader) skipValue() error {
	code, err := r.readByte()
	if err != nil {
		return err
	}
	if code == codeDescribed {
		if err := r.skipValue(); err != nil {
			return err
		}
		return r.skipValue()
	}
	n, err := r.payloadSize(code)
	if err != nil {
		return err
	}
	_, err = r.next(n)
	return err
}

// readRaw returns the encoded bytes of the next value unchanged.
func (r *reader) readRaw() (message.RawValue, error) {
	start := r.pos
	if err := r.skipValue(); err != nil {
		return message.RawValue{}, err
	}
	return message.RawValue{Protocol: message.ProtocolAMQP, Data: bytes.Clone(r.buf[start:r.pos])}, nil
}

// readValue decodes the next value into a Go value. Types without a Go
// counterpart (described types, arrays, decimals, char) come back raw.
func (r *reader) readValue() (any, error) {
	start := r.pos
	code, err := r.readByte()
	if err != nil {
		return nil, err
	}
	switch code {
	case codeNull:
		return nil, nil
	case codeTrue:
		return true, nil
	case codeFalse:
		return false, nil
	case codeBool:
		b, err := r.readByte()
		return b != 0, err
	case codeUbyte:
		return r.readByte()
	case codeByte:
		b, err := r.readByte()
		return int8(b), err
	case codeUshort:
		b, err := r.next(2)
		if err != nil {
			return nil, err
		}
		return binary.BigEndian.Uint16(b), nil
	case codeShort:
		b, err := r.next(2)
		if err != nil {
			return nil, err
		}
		return int16(binary.BigEndian.Uint16(b)), nil
	case codeUint0:
		return uint32(0), nil
	case codeSmallUint:
		b, err := r.readByte()
		return uint32(b), err
	case codeUint:
		b, err := r.next(4)
		if err != nil {
			return nil, err
		}
		return binary.BigEndian.Uint32(b), nil
	case codeUlong0:
		return uint64(0), nil
	case codeSmallUlong:
		b, err := r.readByte()
		return uint64(b), err
	case codeUlong:
		b, err := r.next(8)
		if err != nil {
			return nil, err
		}
		return binary.BigEndian.Uint64(b), nil
	case codeSmallInt:
		b, err := r.readByte()
		return int32(int8(b)), err
	case codeInt:
		b, err := r.next(4)
		if err != nil {
			return nil, err
		}
		return int32(binary.BigEndian.Uint32(b)), nil
	case codeSmallLong:
		b, err := r.readByte()
		return int64(int8(b)), err
	case codeLong:
		b, err := r.next(8)
		if err != nil {
			return nil, err
		}
		return int64(binary.BigEndian.Uint64(b)), nil
	case codeFloat:
		b, err := r.next(4)
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
	case codeDouble:
		b, err := r.next(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case codeTimestamp:
		b, err := r.next(8)
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(int64(binary.BigEndian.Uint64(b))), nil
	case codeUUID:
		b, err := r.next(16)
		if err != nil {
			return nil, err
		}
		return uuid.FromBytes(b)
	case codeVbin8, codeVbin32, codeStr8, codeStr32, codeSym8, codeSym32:
		n, err := r.payloadSize(code)
		if err != nil {
			return nil, err
		}
		b, err := r.next(n)
		if err != nil {
			return nil, err
		}
		switch code {
		case codeVbin8, codeVbin32:
			return bytes.Clone(b), nil
		case codeStr8, codeStr32:
			return string(b), nil
		default:
			return symbol(b), nil
		}
	case codeList0:
		return []any{}, nil
	case codeList8, codeList32:
		return r.readList(code)
	case codeMap8, codeMap32:
		return r.readMap(start, code)
	default:
		r.pos = start
		return r.readRaw()
	}
}

// compoundHeader reads the size and count of a list or map and returns the
// offset where its content ends.
func (r *reader) compoundHeader(code byte) (end, count int, err error) {
	size, err := r.payloadSize(code)
	if err != nil {
		return 0, 0, err
	}
	end = r.pos + size
	if end > len(r.buf) {
		return 0, 0, errShort
	}
	if code>>4 == 0xc {
		b, err := r.readByte()
		return end, int(b), err
	}
	b, err := r.next(4)
	if err != nil {
		return 0, 0, err
	}
	return end, int(binary.BigEndian.Uint32(b)), nil
}

func (r *reader) readList(code byte) (any, error) {
	end, count, err := r.compoundHeader(code)
	if err != nil {
		return nil, err
	}
	if count > end-r.pos {
		return nil, fmt.Errorf("list count %d exceeds size", count)
	}
	items := make([]any, 0, count)
	for range count {
		v, err := r.readValue()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	if r.pos != end {
		return nil, fmt.Errorf("list size mismatch")
	}
	return items, nil
}

// readMap returns a map when every key is a string or symbol, and the raw
// encoding otherwise.
func (r *reader) readMap(start int, code byte) (any, error) {
	end, count, err := r.compoundHeader(code)
	if err != nil {
		return nil, err
	}
	if count%2 != 0 {
		return nil, fmt.Errorf("map with odd element count %d", count)
	}
	if count > end-r.pos {
		return nil, fmt.Errorf("map count %d exceeds size", count)
	}
	m := make(map[string]any, count/2)
	stringKeys := true
	for i := 0; i < count; i += 2 {
		k, err := r.readValue()
		if err != nil {
			return nil, err
		}
		v, err := r.readValue()
		if err != nil {
			return nil, err
		}
		switch key := k.(type) {
		case string:
			m[key] = v
		case symbol:
			m[string(key)] = v
		default:
			stringKeys = false
		}
	}
	if r.pos != end {
		return nil, fmt.Errorf("map size mismatch")
	}
	if !stringKeys {
		return message.RawValue{Protocol: message.ProtocolAMQP, Data: bytes.Clone(r.buf[start:r.pos])}, nil
	}
	return m, nil
}

// normalize turns decoded values into the types an envelope can hold.
func normalize(v any) any {
	switch x := v.(type) {
	case symbol:
		var buf bytes.Buffer
		writeSymbol(&buf, string(x))
		return message.RawValue{Protocol: message.ProtocolAMQP, Data: buf.Bytes()}
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
	case map[string]any:
		for k := range x {
			x[k] = normalize(x[k])
		}
	}
	return v
}

/* ---- encoding ---- */

func writeVariable(buf *bytes.Buffer, code8, code32 byte, data []byte) {
	if len(data) <= math.MaxUint8 {
		buf.WriteByte(code8)
		buf.WriteByte(byte(len(data)))
	} else {
		buf.WriteByte(code32)
		_ = binary.Write(buf, binary.BigEndian, uint32(len(data)))
	}
	buf.Write(data)
}

func writeSymbol(buf *bytes.Buffer, s string) {
	writeVariable(buf, codeSym8, codeSym32, []byte(s))
}

func writeCompound(buf *bytes.Buffer, code8, code32 byte, count int, content []byte) {
	if len(content)+1 <= math.MaxUint8 && count <= math.MaxUint8 {
		buf.WriteByte(code8)
		buf.WriteByte(byte(len(content) + 1))
		buf.WriteByte(byte(count))
	} else {
		buf.WriteByte(code32)
		_ = binary.Write(buf, binary.BigEndian, uint32(len(content)+4))
		_ = binary.Write(buf, binary.BigEndian, uint32(count))
	}
	buf.Write(content)
}

func writeList(buf *bytes.Buffer, items []any) error {
	if len(items) == 0 {
		buf.WriteByte(codeList0)
		return nil
	}
	var content bytes.Buffer
	for _, item := range items {
		if err := writeValue(&content, item); err != nil {
			return err
		}
	}
	writeCompound(buf, codeList8, codeList32, len(items), content.Bytes())
	return nil
}

// writeMap encodes keys in sorted order so equal maps encode equally.
func writeMap(buf *bytes.Buffer, m map[string]any, symbolKeys bool) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var content bytes.Buffer
	for _, k := range keys {
		if symbolKeys {
			writeSymbol(&content, k)
		} else {
			writeVariable(&content, codeStr8, codeStr32, []byte(k))
		}
		if err := writeValue(&content, m[k]); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
	}
	writeCompound(buf, codeMap8, codeMap32, 2*len(keys), content.Bytes())
	return nil
}

func writeDescribed(buf *bytes.Buffer, descriptor uint64, value any) error {
	buf.WriteByte(codeDescribed)
	buf.WriteByte(codeSmallUlong)
	buf.WriteByte(byte(descriptor))
	return writeValue(buf, value)
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteByte(codeNull)
	case bool:
		if x {
			buf.WriteByte(codeTrue)
		} else {
			buf.WriteByte(codeFalse)
		}
	case uint8:
		buf.WriteByte(codeUbyte)
		buf.WriteByte(x)
	case int8:
		buf.WriteByte(codeByte)
		buf.WriteByte(byte(x))
	case uint16:
		buf.WriteByte(codeUshort)
		_ = binary.Write(buf, binary.BigEndian, x)
	case int16:
		buf.WriteByte(codeShort)
		_ = binary.Write(buf, binary.BigEndian, x)
	case uint32:
		switch {
		case x == 0:
			buf.WriteByte(codeUint0)
		case x <= math.MaxUint8:
			buf.WriteByte(codeSmallUint)
			buf.WriteByte(byte(x))
		default:
			buf.WriteByte(codeUint)
			_ = binary.Write(buf, binary.BigEndian, x)
		}
	case uint64:
		switch {
		case x == 0:
			buf.WriteByte(codeUlong0)
		case x <= math.MaxUint8:
			buf.WriteByte(codeSmallUlong)
			buf.WriteByte(byte(x))
		default:
			buf.WriteByte(codeUlong)
			_ = binary.Write(buf, binary.BigEndian, x)
		}
	case int32:
		if x >= math.MinInt8 && x <= math.MaxInt8 {
			buf.WriteByte(codeSmallInt)
			buf.WriteByte(byte(int8(x)))
		} else {
			buf.WriteByte(codeInt)
			_ = binary.Write(buf, binary.BigEndian, x)
		}
	case int64:
		if x >= math.MinInt8 && x <= math.MaxInt8 {
			buf.WriteByte(codeSmallLong)
			buf.WriteByte(byte(int8(x)))
		} else {
			buf.WriteByte(codeLong)
			_ = binary.Write(buf, binary.BigEndian, x)
		}
	case int:
		return writeValue(buf, int64(x))
	case float32:
		buf.WriteByte(codeFloat)
		_ = binary.Write(buf, binary.BigEndian, math.Float32bits(x))
	case float64:
		buf.WriteByte(codeDouble)
		_ = binary.Write(buf, binary.BigEndian, math.Float64bits(x))
	case time.Time:
		buf.WriteByte(codeTimestamp)
		_ = binary.Write(buf, binary.BigEndian, x.UnixMilli())
	case uuid.UUID:
		buf.WriteByte(codeUUID)
		buf.Write(x[:])
	case []byte:
		writeVariable(buf, codeVbin8, codeVbin32, x)
	case string:
		writeVariable(buf, codeStr8, codeStr32, []byte(x))
	case symbol:
		writeSymbol(buf, string(x))
	case message.RawValue:
		if x.Protocol == message.ProtocolAMQP {
			buf.Write(x.Data)
		} else {
			writeVariable(buf, codeVbin8, codeVbin32, x.Data)
		}
	case map[string]any:
		return writeMap(buf, x, false)
	case message.Annotations:
		return writeMap(buf, x, true)
	case []any:
		return writeList(buf, x)
	default:
		return fmt.Errorf("%w: %T", message.ErrUnsupportedValue, v)
	}
	return nil
}
