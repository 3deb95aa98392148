package amqp091

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ottermq/otterlane/internal/core/message"
)

var errShort = errors.New("unexpected end of data")

// Field value types. Signed 16 and 64 bit integers use the 's' and 'l' codes
// RabbitMQ clients write; 'U' and 'L' are still read.
const (
	fieldBool      = 't'
	fieldInt8      = 'b'
	fieldUint8     = 'B'
	fieldInt16     = 's'
	fieldInt16Alt  = 'U'
	fieldUint16    = 'u'
	fieldInt32     = 'I'
	fieldUint32    = 'i'
	fieldInt64     = 'l'
	fieldUint64    = 'L'
	fieldFloat     = 'f'
	fieldDouble    = 'd'
	fieldDecimal   = 'D'
	fieldLongStr   = 'S'
	fieldBytes     = 'x'
	fieldArray     = 'A'
	fieldTimestamp = 'T'
	fieldTable     = 'F'
	fieldVoid      = 'V'
)

// EncodeTable encodes a field table with its keys in sorted order.
func EncodeTable(table map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var buf bytes.Buffer
	for _, key := range keys {
		if err := encodeShortStr(&buf, key); err != nil {
			return nil, err
		}
		if err := encodeValue(&buf, table[key]); err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
	}
	return buf.Bytes(), nil
}

func encodeArray(buf *bytes.Buffer, items []any) error {
	var content bytes.Buffer
	for _, item := range items {
		if err := encodeValue(&content, item); err != nil {
			return err
		}
	}
	encodeLongStr(buf, content.Bytes())
	return nil
}

func encodeValue(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteByte(fieldVoid)
	case bool:
		buf.WriteByte(fieldBool)
		if v {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case int8:
		buf.WriteByte(fieldInt8)
		buf.WriteByte(byte(v))
	case uint8:
		buf.WriteByte(fieldUint8)
		buf.WriteByte(v)
	case int16:
		buf.WriteByte(fieldInt16)
		_ = binary.Write(buf, binary.BigEndian, v)
	case uint16:
		buf.WriteByte(fieldUint16)
		_ = binary.Write(buf, binary.BigEndian, v)
	case int32:
		buf.WriteByte(fieldInt32)
		_ = binary.Write(buf, binary.BigEndian, v)
	case uint32:
		buf.WriteByte(fieldUint32)
		_ = binary.Write(buf, binary.BigEndian, v)
	case int:
		return encodeValue(buf, int64(v))
	case int64:
		buf.WriteByte(fieldInt64)
		_ = binary.Write(buf, binary.BigEndian, v)
	case uint64:
		buf.WriteByte(fieldUint64)
		_ = binary.Write(buf, binary.BigEndian, v)
	case float32:
		buf.WriteByte(fieldFloat)
		_ = binary.Write(buf, binary.BigEndian, math.Float32bits(v))
	case float64:
		buf.WriteByte(fieldDouble)
		_ = binary.Write(buf, binary.BigEndian, math.Float64bits(v))
	case amqp.Decimal:
		buf.WriteByte(fieldDecimal)
		buf.WriteByte(v.Scale)
		_ = binary.Write(buf, binary.BigEndian, v.Value)
	case string:
		buf.WriteByte(fieldLongStr)
		encodeLongStr(buf, []byte(v))
	case []byte:
		buf.WriteByte(fieldBytes)
		encodeLongStr(buf, v)
	case uuid.UUID:
		buf.WriteByte(fieldLongStr)
		encodeLongStr(buf, []byte(v.String()))
	case time.Time:
		buf.WriteByte(fieldTimestamp)
		_ = binary.Write(buf, binary.BigEndian, uint64(v.Unix()))
	case message.RawValue:
		if d, ok := rawDecimal(v); ok {
			return encodeValue(buf, d)
		}
		buf.WriteByte(fieldBytes)
		encodeLongStr(buf, v.Data)
	case []any:
		buf.WriteByte(fieldArray)
		return encodeArray(buf, v)
	case map[string]any:
		return encodeNestedTable(buf, v)
	case message.Annotations:
		return encodeNestedTable(buf, v)
	case amqp.Table:
		return encodeNestedTable(buf, v)
	default:
		return fmt.Errorf("%w: %T", message.ErrUnsupportedValue, value)
	}
	return nil
}

func encodeNestedTable(buf *bytes.Buffer, m map[string]any) error {
	data, err := EncodeTable(m)
	if err != nil {
		return err
	}
	buf.WriteByte(fieldTable)
	encodeLongStr(buf, data)
	return nil
}

func encodeLongStr(buf *bytes.Buffer, data []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.Write(data)
}

func encodeShortStr(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint8 {
		return fmt.Errorf("short string too long (%d bytes)", len(s))
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
	return nil
}

// Decimals have no envelope counterpart and travel as raw values.
func decimalRaw(d amqp.Decimal) message.RawValue {
	data := make([]byte, 5)
	data[0] = d.Scale
	binary.BigEndian.PutUint32(data[1:], uint32(d.Value))
	return message.RawValue{Protocol: message.ProtocolAMQP091, Data: data}
}

func rawDecimal(v message.RawValue) (amqp.Decimal, bool) {
	if v.Protocol != message.ProtocolAMQP091 || len(v.Data) != 5 {
		return amqp.Decimal{}, false
	}
	return amqp.Decimal{Scale: v.Data[0], Value: int32(binary.BigEndian.Uint32(v.Data[1:]))}, true
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) next(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, errShort
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) readByte() (byte, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) readUint16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) readUint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) readUint64() (uint64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) readShortStr() (string, error) {
	n, err := r.readByte()
	if err != nil {
		return "", err
	}
	b, err := r.next(int(n))
	return string(b), err
}

func (r *reader) readLongStr() ([]byte, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if int64(n) > int64(r.remaining()) {
		return nil, errShort
	}
	return r.next(int(n))
}

// DecodeTable decodes a field table.
func DecodeTable(data []byte) (map[string]any, error) {
	r := &reader{buf: data}
	table := make(map[string]any)
	for r.remaining() > 0 {
		name, err := r.readShortStr()
		if err != nil {
			return nil, err
		}
		v, err := r.readValue()
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		table[name] = v
	}
	return table, nil
}

func decodeArray(data []byte) ([]any, error) {
	r := &reader{buf: data}
	items := []any{}
	for r.remaining() > 0 {
		v, err := r.readValue()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

func (r *reader) readValue() (any, error) {
	kind, err := r.readByte()
	if err != nil {
		return nil, err
	}
	switch kind {
	case fieldVoid:
		return nil, nil
	case fieldBool:
		b, err := r.readByte()
		return b != 0, err
	case fieldInt8:
		b, err := r.readByte()
		return int8(b), err
	case fieldUint8:
		return r.readByte()
	case fieldInt16, fieldInt16Alt:
		v, err := r.readUint16()
		return int16(v), err
	case fieldUint16:
		return r.readUint16()
	case fieldInt32:
		v, err := r.readUint32()
		return int32(v), err
	case fieldUint32:
		return r.readUint32()
	case fieldInt64:
		v, err := r.readUint64()
		return int64(v), err
	case fieldUint64:
		return r.readUint64()
	case fieldFloat:
		v, err := r.readUint32()
		return math.Float32frombits(v), err
	case fieldDouble:
		v, err := r.readUint64()
		return math.Float64frombits(v), err
	case fieldDecimal:
		scale, err := r.readByte()
		if err != nil {
			return nil, err
		}
		v, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		return decimalRaw(amqp.Decimal{Scale: scale, Value: int32(v)}), nil
	case fieldLongStr:
		b, err := r.readLongStr()
		return string(b), err
	case fieldBytes:
		b, err := r.readLongStr()
		return bytes.Clone(b), err
	case fieldTimestamp:
		v, err := r.readUint64()
		return time.Unix(int64(v), 0), err
	case fieldArray:
		b, err := r.readLongStr()
		if err != nil {
			return nil, err
		}
		return decodeArray(b)
	case fieldTable:
		b, err := r.readLongStr()
		if err != nil {
			return nil, err
		}
		return DecodeTable(b)
	}
	return nil, fmt.Errorf("unknown field type %q", kind)
}
