package s7

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sensormine/edge-connectors/internal/config"
	"github.com/sensormine/edge-connectors/internal/domain"
)

// decodeValue interprets raw PLC bytes as the tag's data type. S7 data is
// big-endian on the wire.
func decodeValue(raw []byte, a address, dt domain.DataType) (interface{}, domain.DataType, error) {
	if a.isBit {
		if len(raw) < 1 {
			return nil, domain.DataTypeUnknown, domain.ErrInvalidDataLength
		}
		return raw[0]&(1<<a.bit) != 0, domain.DataTypeBool, nil
	}

	switch dt {
	case domain.DataTypeBool:
		if len(raw) < 1 {
			return nil, domain.DataTypeUnknown, domain.ErrInvalidDataLength
		}
		return raw[0] != 0, domain.DataTypeBool, nil
	case domain.DataTypeInt16:
		if len(raw) < 2 {
			return nil, domain.DataTypeUnknown, domain.ErrInvalidDataLength
		}
		return int16(binary.BigEndian.Uint16(raw)), domain.DataTypeInt16, nil
	case domain.DataTypeUInt16, domain.DataTypeUnknown:
		if len(raw) < 2 {
			return nil, domain.DataTypeUnknown, domain.ErrInvalidDataLength
		}
		return binary.BigEndian.Uint16(raw), domain.DataTypeUInt16, nil
	case domain.DataTypeInt32:
		if len(raw) < 4 {
			return nil, domain.DataTypeUnknown, domain.ErrInvalidDataLength
		}
		return int32(binary.BigEndian.Uint32(raw)), domain.DataTypeInt32, nil
	case domain.DataTypeUInt32:
		if len(raw) < 4 {
			return nil, domain.DataTypeUnknown, domain.ErrInvalidDataLength
		}
		return binary.BigEndian.Uint32(raw), domain.DataTypeUInt32, nil
	case domain.DataTypeInt64:
		if len(raw) < 8 {
			return nil, domain.DataTypeUnknown, domain.ErrInvalidDataLength
		}
		return int64(binary.BigEndian.Uint64(raw)), domain.DataTypeInt64, nil
	case domain.DataTypeUInt64:
		if len(raw) < 8 {
			return nil, domain.DataTypeUnknown, domain.ErrInvalidDataLength
		}
		return binary.BigEndian.Uint64(raw), domain.DataTypeUInt64, nil
	case domain.DataTypeFloat32:
		if len(raw) < 4 {
			return nil, domain.DataTypeUnknown, domain.ErrInvalidDataLength
		}
		return math.Float32frombits(binary.BigEndian.Uint32(raw)), domain.DataTypeFloat32, nil
	case domain.DataTypeFloat64:
		if len(raw) < 8 {
			return nil, domain.DataTypeUnknown, domain.ErrInvalidDataLength
		}
		return math.Float64frombits(binary.BigEndian.Uint64(raw)), domain.DataTypeFloat64, nil
	default:
		return nil, domain.DataTypeUnknown, fmt.Errorf("%w: %s", domain.ErrInvalidDataType, dt)
	}
}

// encodeValue converts a write value to big-endian PLC bytes, undoing the
// tag's scale factor. Bit operands are handled by the caller via
// read-modify-write.
func encodeValue(value interface{}, t *config.TagMapping) ([]byte, error) {
	actual := reverseScale(value, t)

	switch t.DataType {
	case domain.DataTypeBool:
		b, ok := toBool(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to bool", domain.ErrInvalidDataType, value)
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case domain.DataTypeInt16:
		v, ok := toInt64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to int16", domain.ErrInvalidDataType, value)
		}
		return binary.BigEndian.AppendUint16(nil, uint16(int16(v))), nil
	case domain.DataTypeUInt16:
		v, ok := toInt64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to uint16", domain.ErrInvalidDataType, value)
		}
		return binary.BigEndian.AppendUint16(nil, uint16(v)), nil
	case domain.DataTypeInt32:
		v, ok := toInt64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to int32", domain.ErrInvalidDataType, value)
		}
		return binary.BigEndian.AppendUint32(nil, uint32(int32(v))), nil
	case domain.DataTypeUInt32:
		v, ok := toInt64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to uint32", domain.ErrInvalidDataType, value)
		}
		return binary.BigEndian.AppendUint32(nil, uint32(v)), nil
	case domain.DataTypeInt64:
		v, ok := toInt64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to int64", domain.ErrInvalidDataType, value)
		}
		return binary.BigEndian.AppendUint64(nil, uint64(v)), nil
	case domain.DataTypeUInt64:
		v, ok := toUint64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to uint64", domain.ErrInvalidDataType, value)
		}
		return binary.BigEndian.AppendUint64(nil, v), nil
	case domain.DataTypeFloat32:
		v, ok := toFloat64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to float32", domain.ErrInvalidDataType, value)
		}
		return binary.BigEndian.AppendUint32(nil, math.Float32bits(float32(v))), nil
	case domain.DataTypeFloat64:
		v, ok := toFloat64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to float64", domain.ErrInvalidDataType, value)
		}
		return binary.BigEndian.AppendUint64(nil, math.Float64bits(v)), nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidDataType, t.DataType)
	}
}

// applyScale multiplies numeric values by the tag's scale factor.
func applyScale(value interface{}, t *config.TagMapping) interface{} {
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
	case int64:
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
	case int64:
		return uint64(val), true
	case uint32:
		return uint64(val), true
	case uint64:
		return val, true
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
