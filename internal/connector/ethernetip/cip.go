package ethernetip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sensormine/edge-connectors/internal/domain"
)

// CIP service codes. A reply echoes the request service with the high bit
// set.
const (
	svcReadTag  byte = 0x4C
	svcWriteTag byte = 0x4D
	replyBit    byte = 0x80
)

// CIP elementary type codes.
const (
	typeBOOL   uint16 = 0x00C1
	typeSINT   uint16 = 0x00C2
	typeINT    uint16 = 0x00C3
	typeDINT   uint16 = 0x00C4
	typeLINT   uint16 = 0x00C5
	typeUSINT  uint16 = 0x00C6
	typeUINT   uint16 = 0x00C7
	typeUDINT  uint16 = 0x00C8
	typeULINT  uint16 = 0x00C9
	typeREAL   uint16 = 0x00CA
	typeLREAL  uint16 = 0x00CB
	typeSTRING uint16 = 0x00D0
)

const maxSymbolLen = 255

// symbolicPath encodes an ANSI extended symbolic segment for a tag name:
// segment type 0x91, name length, ASCII bytes, padded to a word boundary.
func symbolicPath(tag string) ([]byte, error) {
	if len(tag) == 0 || len(tag) > maxSymbolLen {
		return nil, domain.ErrCIPTagNameTooLong
	}
	path := make([]byte, 0, 2+len(tag)+1)
	path = append(path, 0x91, byte(len(tag)))
	path = append(path, tag...)
	if len(path)%2 != 0 {
		path = append(path, 0x00)
	}
	return path, nil
}

// buildReadRequest assembles a CIP Read Tag Service request for a symbolic
// tag name and element count.
func buildReadRequest(tag string, elements uint16) ([]byte, error) {
	path, err := symbolicPath(tag)
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(make([]byte, 0, 2+len(path)+2))
	buf.WriteByte(svcReadTag)
	buf.WriteByte(byte(len(path) / 2)) // path size in words
	buf.Write(path)

	var e [2]byte
	binary.LittleEndian.PutUint16(e[:], elements)
	buf.Write(e[:])
	return buf.Bytes(), nil
}

// buildWriteRequest assembles a CIP Write Tag Service request: the symbolic
// path followed by the elementary type code, element count, and the raw
// little-endian value bytes.
func buildWriteRequest(tag string, typeCode uint16, elements uint16, value []byte) ([]byte, error) {
	path, err := symbolicPath(tag)
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(make([]byte, 0, 2+len(path)+4+len(value)))
	buf.WriteByte(svcWriteTag)
	buf.WriteByte(byte(len(path) / 2))
	buf.Write(path)

	var w [2]byte
	binary.LittleEndian.PutUint16(w[:], typeCode)
	buf.Write(w[:])
	binary.LittleEndian.PutUint16(w[:], elements)
	buf.Write(w[:])
	buf.Write(value)
	return buf.Bytes(), nil
}

// cipReply is the fixed-layout head of a CIP response: reply service,
// reserved byte, general status, and additional status words.
type cipReply struct {
	Service       byte
	GeneralStatus byte
	Payload       []byte
}

// parseReply validates the fixed reply layout and strips the additional
// status words. wantService is the request service code (without the reply
// bit).
func parseReply(data []byte, wantService byte) (cipReply, error) {
	if len(data) < 4 {
		return cipReply{}, fmt.Errorf("%w: reply is %d bytes", domain.ErrCIPTruncatedReply, len(data))
	}
	if data[0] != wantService|replyBit {
		return cipReply{}, fmt.Errorf("%w: got 0x%02X, want 0x%02X",
			domain.ErrCIPBadReplyService, data[0], wantService|replyBit)
	}
	status := data[2]
	extraWords := int(data[3])
	off := 4 + 2*extraWords
	if off > len(data) {
		return cipReply{}, fmt.Errorf("%w: additional status", domain.ErrCIPTruncatedReply)
	}
	r := cipReply{Service: data[0], GeneralStatus: status, Payload: data[off:]}
	if status != 0 {
		return r, fmt.Errorf("%w: general status 0x%02X (%s)",
			domain.ErrCIPServiceFault, status, cipStatusText(status))
	}
	return r, nil
}

// decodeValue converts a Read Tag reply payload (type code + data) into a
// Go value and its normalized data type.
func decodeValue(payload []byte) (interface{}, domain.DataType, error) {
	if len(payload) < 2 {
		return nil, domain.DataTypeUnknown, fmt.Errorf("%w: value payload", domain.ErrCIPTruncatedReply)
	}
	typeCode := binary.LittleEndian.Uint16(payload[0:2])
	data := payload[2:]

	need := func(n int) error {
		if len(data) < n {
			return fmt.Errorf("%w: %d bytes for type 0x%04X", domain.ErrCIPTruncatedReply, len(data), typeCode)
		}
		return nil
	}

	switch typeCode {
	case typeBOOL:
		if err := need(1); err != nil {
			return nil, domain.DataTypeUnknown, err
		}
		return data[0] != 0, domain.DataTypeBool, nil
	case typeSINT:
		if err := need(1); err != nil {
			return nil, domain.DataTypeUnknown, err
		}
		return int16(int8(data[0])), domain.DataTypeInt16, nil
	case typeUSINT:
		if err := need(1); err != nil {
			return nil, domain.DataTypeUnknown, err
		}
		return uint16(data[0]), domain.DataTypeUInt16, nil
	case typeINT:
		if err := need(2); err != nil {
			return nil, domain.DataTypeUnknown, err
		}
		return int16(binary.LittleEndian.Uint16(data)), domain.DataTypeInt16, nil
	case typeUINT:
		if err := need(2); err != nil {
			return nil, domain.DataTypeUnknown, err
		}
		return binary.LittleEndian.Uint16(data), domain.DataTypeUInt16, nil
	case typeDINT:
		if err := need(4); err != nil {
			return nil, domain.DataTypeUnknown, err
		}
		return int32(binary.LittleEndian.Uint32(data)), domain.DataTypeInt32, nil
	case typeUDINT:
		if err := need(4); err != nil {
			return nil, domain.DataTypeUnknown, err
		}
		return binary.LittleEndian.Uint32(data), domain.DataTypeUInt32, nil
	case typeLINT:
		if err := need(8); err != nil {
			return nil, domain.DataTypeUnknown, err
		}
		return int64(binary.LittleEndian.Uint64(data)), domain.DataTypeInt64, nil
	case typeULINT:
		if err := need(8); err != nil {
			return nil, domain.DataTypeUnknown, err
		}
		return binary.LittleEndian.Uint64(data), domain.DataTypeUInt64, nil
	case typeREAL:
		if err := need(4); err != nil {
			return nil, domain.DataTypeUnknown, err
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(data)), domain.DataTypeFloat32, nil
	case typeLREAL:
		if err := need(8); err != nil {
			return nil, domain.DataTypeUnknown, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), domain.DataTypeFloat64, nil
	case typeSTRING:
		// Logix STRING: 4-byte length prefix then character data.
		if err := need(4); err != nil {
			return nil, domain.DataTypeUnknown, err
		}
		n := int(binary.LittleEndian.Uint32(data[0:4]))
		if n < 0 || 4+n > len(data) {
			return nil, domain.DataTypeUnknown, fmt.Errorf("%w: string length %d", domain.ErrCIPTruncatedReply, n)
		}
		return string(data[4 : 4+n]), domain.DataTypeString, nil
	default:
		return nil, domain.DataTypeUnknown, fmt.Errorf("%w: 0x%04X", domain.ErrCIPUnsupportedType, typeCode)
	}
}

// encodeValue converts a Go value into the CIP type code and little-endian
// bytes for a Write Tag request, guided by the tag's configured data type.
func encodeValue(dataType domain.DataType, value interface{}) (uint16, []byte, error) {
	switch dataType {
	case domain.DataTypeBool:
		v, ok := toBool(value)
		if !ok {
			return 0, nil, fmt.Errorf("%w: %T for BOOL", domain.ErrInvalidDataType, value)
		}
		b := byte(0)
		if v {
			b = 0xFF
		}
		return typeBOOL, []byte{b}, nil

	case domain.DataTypeInt16:
		v, ok := toInt64(value)
		if !ok || v < math.MinInt16 || v > math.MaxInt16 {
			return 0, nil, fmt.Errorf("%w: %v for INT", domain.ErrCIPWriteValueBounds, value)
		}
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(int16(v)))
		return typeINT, b, nil

	case domain.DataTypeUInt16:
		v, ok := toInt64(value)
		if !ok || v < 0 || v > math.MaxUint16 {
			return 0, nil, fmt.Errorf("%w: %v for UINT", domain.ErrCIPWriteValueBounds, value)
		}
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(v))
		return typeUINT, b, nil

	case domain.DataTypeInt32:
		v, ok := toInt64(value)
		if !ok || v < math.MinInt32 || v > math.MaxInt32 {
			return 0, nil, fmt.Errorf("%w: %v for DINT", domain.ErrCIPWriteValueBounds, value)
		}
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
		return typeDINT, b, nil

	case domain.DataTypeUInt32:
		v, ok := toInt64(value)
		if !ok || v < 0 || v > math.MaxUint32 {
			return 0, nil, fmt.Errorf("%w: %v for UDINT", domain.ErrCIPWriteValueBounds, value)
		}
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v))
		return typeUDINT, b, nil

	case domain.DataTypeInt64:
		v, ok := toInt64(value)
		if !ok {
			return 0, nil, fmt.Errorf("%w: %T for LINT", domain.ErrInvalidDataType, value)
		}
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(v))
		return typeLINT, b, nil

	case domain.DataTypeUInt64:
		v, ok := toUint64(value)
		if !ok {
			return 0, nil, fmt.Errorf("%w: %T for ULINT", domain.ErrInvalidDataType, value)
		}
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, v)
		return typeULINT, b, nil

	case domain.DataTypeFloat32:
		v, ok := toFloat64(value)
		if !ok {
			return 0, nil, fmt.Errorf("%w: %T for REAL", domain.ErrInvalidDataType, value)
		}
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
		return typeREAL, b, nil

	case domain.DataTypeFloat64:
		v, ok := toFloat64(value)
		if !ok {
			return 0, nil, fmt.Errorf("%w: %T for LREAL", domain.ErrInvalidDataType, value)
		}
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		return typeLREAL, b, nil

	case domain.DataTypeString:
		s, ok := value.(string)
		if !ok {
			return 0, nil, fmt.Errorf("%w: %T for STRING", domain.ErrInvalidDataType, value)
		}
		b := make([]byte, 4+len(s))
		binary.LittleEndian.PutUint32(b[0:4], uint32(len(s)))
		copy(b[4:], s)
		return typeSTRING, b, nil

	default:
		return 0, nil, fmt.Errorf("%w: %s", domain.ErrInvalidDataType, dataType)
	}
}

func toBool(v interface{}) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case int:
		return x != 0, true
	case float64:
		return x != 0, true
	default:
		return false, false
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case float32:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func toUint64(v interface{}) (uint64, bool) {
	switch x := v.(type) {
	case uint:
		return uint64(x), true
	case uint8:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	default:
		i, ok := toInt64(v)
		if !ok || i < 0 {
			return 0, false
		}
		return uint64(i), true
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case uint64:
		return float64(x), true
	default:
		i, ok := toInt64(v)
		if !ok {
			return 0, false
		}
		return float64(i), true
	}
}

// cipStatusText maps the common CIP general status codes to text.
func cipStatusText(status byte) string {
	switch status {
	case 0x00:
		return "success"
	case 0x04:
		return "path segment error"
	case 0x05:
		return "path destination unknown"
	case 0x08:
		return "service not supported"
	case 0x0A:
		return "attribute list error"
	case 0x13:
		return "not enough data"
	case 0x1A:
		return "bridge request too large"
	case 0x1C:
		return "attribute list shortage"
	case 0x26:
		return "invalid path size"
	default:
		return fmt.Sprintf("status 0x%02X", status)
	}
}
