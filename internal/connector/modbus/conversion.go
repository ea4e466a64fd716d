package modbus

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sensormine/edge-connectors/internal/config"
	"github.com/sensormine/edge-connectors/internal/domain"
)

// registerType is the Modbus data table a tag lives in.
type registerType string

const (
	registerCoil          registerType = "coil"
	registerDiscreteInput registerType = "discrete_input"
	registerHolding       registerType = "holding"
	registerInput         registerType = "input"
)

// byteOrder controls how multi-register values are assembled.
type byteOrder string

const (
	orderBigEndian    byteOrder = "big"    // ABCD
	orderLittleEndian byteOrder = "little" // DCBA
	orderMidBig       byteOrder = "badc"   // byte swap within words
	orderMidLittle    byteOrder = "cdab"   // word swap
)

// parseRegisterType maps the tag's register_type field; holding registers
// are the default.
func parseRegisterType(s string) (registerType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "holding", "holding_register":
		return registerHolding, nil
	case "input", "input_register":
		return registerInput, nil
	case "coil":
		return registerCoil, nil
	case "discrete", "discrete_input":
		return registerDiscreteInput, nil
	default:
		return "", fmt.Errorf("%w: unknown register type %q", domain.ErrInvalidConfig, s)
	}
}

func parseByteOrder(s string) byteOrder {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "little", "dcba":
		return orderLittleEndian
	case "badc":
		return orderMidBig
	case "cdab":
		return orderMidLittle
	default:
		return orderBigEndian
	}
}

// parseAddress resolves a tag address to a zero-based register offset.
// Plain offsets ("100") and conventional data-table numbering ("40101" for
// holding register 100) are both accepted.
func parseAddress(addr string, rt registerType) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(addr), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidAddress, addr)
	}

	// Conventional 5/6-digit numbering encodes the table in the leading
	// digit: 0xxxx coils, 1xxxx discrete inputs, 3xxxx input registers,
	// 4xxxx holding registers, offset by one.
	if n >= 10001 {
		var base uint64
		switch rt {
		case registerDiscreteInput:
			base = 10001
		case registerInput:
			base = 30001
		case registerHolding:
			base = 40001
		}
		if base != 0 && n >= base && n < base+65536 {
			n -= base
		}
	}

	if n > 0xFFFF {
		return 0, fmt.Errorf("%w: %q exceeds register space", domain.ErrInvalidAddress, addr)
	}
	return uint16(n), nil
}

// registerCount returns how many 16-bit registers a tag occupies.
func registerCount(t *config.TagMapping) uint16 {
	var per uint16
	switch t.DataType {
	case domain.DataTypeBool, domain.DataTypeInt16, domain.DataTypeUInt16:
		per = 1
	case domain.DataTypeInt32, domain.DataTypeUInt32, domain.DataTypeFloat32:
		per = 2
	case domain.DataTypeInt64, domain.DataTypeUInt64, domain.DataTypeFloat64:
		per = 4
	default:
		per = 1
	}
	count := t.ElementCount
	if count == 0 {
		count = 1
	}
	return per * count
}

// parseValue converts raw response bytes to a typed value.
func parseValue(data []byte, rt registerType, t *config.TagMapping) (interface{}, domain.DataType, error) {
	if len(data) == 0 {
		return nil, domain.DataTypeUnknown, domain.ErrInvalidDataLength
	}

	// Coils and discrete inputs arrive bit-packed.
	if rt == registerCoil || rt == registerDiscreteInput {
		return data[0]&0x01 != 0, domain.DataTypeBool, nil
	}

	expected := int(registerCount(t)) * 2
	if len(data) < expected {
		return nil, domain.DataTypeUnknown, domain.ErrInvalidDataLength
	}

	ordered := reorderBytes(data[:expected], parseByteOrder(t.ByteOrder))

	switch t.DataType {
	case domain.DataTypeBool:
		return ordered[0] != 0 || ordered[1] != 0, domain.DataTypeBool, nil
	case domain.DataTypeInt16:
		return int16(binary.BigEndian.Uint16(ordered)), domain.DataTypeInt16, nil
	case domain.DataTypeUInt16, domain.DataTypeUnknown:
		return binary.BigEndian.Uint16(ordered), domain.DataTypeUInt16, nil
	case domain.DataTypeInt32:
		return int32(binary.BigEndian.Uint32(ordered)), domain.DataTypeInt32, nil
	case domain.DataTypeUInt32:
		return binary.BigEndian.Uint32(ordered), domain.DataTypeUInt32, nil
	case domain.DataTypeInt64:
		return int64(binary.BigEndian.Uint64(ordered)), domain.DataTypeInt64, nil
	case domain.DataTypeUInt64:
		return binary.BigEndian.Uint64(ordered), domain.DataTypeUInt64, nil
	case domain.DataTypeFloat32:
		return math.Float32frombits(binary.BigEndian.Uint32(ordered)), domain.DataTypeFloat32, nil
	case domain.DataTypeFloat64:
		return math.Float64frombits(binary.BigEndian.Uint64(ordered)), domain.DataTypeFloat64, nil
	default:
		return nil, domain.DataTypeUnknown, fmt.Errorf("%w: %s", domain.ErrInvalidDataType, t.DataType)
	}
}

// reorderBytes rearranges register bytes into big-endian order according to
// the device's word/byte ordering.
func reorderBytes(data []byte, order byteOrder) []byte {
	if len(data) <= 1 {
		return data
	}
	if len(data) == 2 {
		if order == orderLittleEndian {
			return []byte{data[1], data[0]}
		}
		return data
	}

	result := make([]byte, len(data))
	switch order {
	case orderLittleEndian:
		for i := range data {
			result[i] = data[len(data)-1-i]
		}
	case orderMidBig:
		for i := 0; i+1 < len(data); i += 2 {
			result[i] = data[i+1]
			result[i+1] = data[i]
		}
		if len(data)%2 == 1 {
			result[len(data)-1] = data[len(data)-1]
		}
	case orderMidLittle:
		for i := 0; i+3 < len(data); i += 4 {
			result[i] = data[i+2]
			result[i+1] = data[i+3]
			result[i+2] = data[i]
			result[i+3] = data[i+1]
		}
		if rem := len(data) % 4; rem > 0 {
			copy(result[len(data)-rem:], data[len(data)-rem:])
		}
	default:
		copy(result, data)
	}
	return result
}

// valueToBytes encodes a write value into big-endian register bytes, undoing
// the tag's scale factor first.
func valueToBytes(value interface{}, t *config.TagMapping) ([]byte, error) {
	actual := reverseScale(value, t)

	var raw []byte
	switch t.DataType {
	case domain.DataTypeBool:
		raw = make([]byte, 2)
		if b, ok := toBool(actual); ok && b {
			binary.BigEndian.PutUint16(raw, 1)
		}
	case domain.DataTypeInt16:
		raw = make([]byte, 2)
		v, ok := toInt64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to int16", domain.ErrInvalidDataType, value)
		}
		binary.BigEndian.PutUint16(raw, uint16(int16(v)))
	case domain.DataTypeUInt16:
		raw = make([]byte, 2)
		v, ok := toInt64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to uint16", domain.ErrInvalidDataType, value)
		}
		binary.BigEndian.PutUint16(raw, uint16(v))
	case domain.DataTypeInt32:
		raw = make([]byte, 4)
		v, ok := toInt64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to int32", domain.ErrInvalidDataType, value)
		}
		binary.BigEndian.PutUint32(raw, uint32(int32(v)))
	case domain.DataTypeUInt32:
		raw = make([]byte, 4)
		v, ok := toInt64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to uint32", domain.ErrInvalidDataType, value)
		}
		binary.BigEndian.PutUint32(raw, uint32(v))
	case domain.DataTypeInt64:
		raw = make([]byte, 8)
		v, ok := toInt64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to int64", domain.ErrInvalidDataType, value)
		}
		binary.BigEndian.PutUint64(raw, uint64(v))
	case domain.DataTypeUInt64:
		raw = make([]byte, 8)
		v, ok := toUint64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to uint64", domain.ErrInvalidDataType, value)
		}
		binary.BigEndian.PutUint64(raw, v)
	case domain.DataTypeFloat32:
		raw = make([]byte, 4)
		v, ok := toFloat64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to float32", domain.ErrInvalidDataType, value)
		}
		binary.BigEndian.PutUint32(raw, math.Float32bits(float32(v)))
	case domain.DataTypeFloat64:
		raw = make([]byte, 8)
		v, ok := toFloat64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to float64", domain.ErrInvalidDataType, value)
		}
		binary.BigEndian.PutUint64(raw, math.Float64bits(v))
	default:
		return nil, fmt.Errorf("%w: unsupported data type %s", domain.ErrInvalidDataType, t.DataType)
	}

	// The reorder transforms used here are their own inverse.
	return reorderBytes(raw, parseByteOrder(t.ByteOrder)), nil
}

// applyScale multiplies numeric values by the tag's scale factor.
func applyScale(value interface{}, t *config.TagMapping) interface{} {
	if t.ScaleFactor == 0 || t.ScaleFactor == 1.0 {
		return value
	}
	f, ok := toFloat64(value)
	if !ok {
		return value
	}
	if _, isBool := value.(bool); isBool {
		return value
	}
	return f * t.ScaleFactor
}

// reverseScale undoes the scale factor before a write.
func reverseScale(value interface{}, t *config.TagMapping) interface{} {
	if t.ScaleFactor == 0 || t.ScaleFactor == 1.0 {
		return value
	}
	if _, isBool := value.(bool); isBool {
		return value
	}
	f, ok := toFloat64(value)
	if !ok {
		return value
	}
	return f / t.ScaleFactor
}

func toBool(v interface{}) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case int:
		return val != 0, true
	case int16:
		return val != 0, true
	case int32:
		return val != 0, true
	case int64:
		return val != 0, true
	case uint16:
		return val != 0, true
	case uint32:
		return val != 0, true
	case uint64:
		return val != 0, true
	case float32:
		return val != 0, true
	case float64:
		return val != 0, true
	default:
		return false, false
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		return int64(val), true
	case float32:
		return int64(val), true
	case float64:
		return int64(val), true
	default:
		return 0, false
	}
}

func toUint64(v interface{}) (uint64, bool) {
	switch val := v.(type) {
	case int:
		return uint64(val), true
	case int16:
		return uint64(val), true
	case int32:
		return uint64(val), true
	case int64:
		return uint64(val), true
	case uint16:
		return uint64(val), true
	case uint32:
		return uint64(val), true
	case uint64:
		return val, true
	case float32:
		return uint64(val), true
	case float64:
		return uint64(val), true
	default:
		return 0, false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	default:
		return 0, false
	}
}
