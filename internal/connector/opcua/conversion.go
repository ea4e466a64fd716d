package opcua

import (
	"fmt"

	"github.com/gopcua/opcua/ua"
	"github.com/sensormine/edge-connectors/internal/config"
	"github.com/sensormine/edge-connectors/internal/domain"
)

// statusToQuality maps an OPC UA status code onto the normalized quality
// scale. Bad status codes have bit 31 set, uncertain ones bit 30.
func statusToQuality(status ua.StatusCode) domain.Quality {
	switch {
	case status == ua.StatusOK || status == ua.StatusGood:
		return domain.QualityGood
	case status&0x80000000 != 0:
		return domain.QualityBad
	case status&0x40000000 != 0:
		return domain.QualityUncertain
	default:
		return domain.QualityGood
	}
}

// variantValue unwraps a variant into a Go value and its normalized type.
func variantValue(v *ua.Variant) (interface{}, domain.DataType) {
	if v == nil {
		return nil, domain.DataTypeUnknown
	}
	val := v.Value()
	switch val.(type) {
	case bool:
		return val, domain.DataTypeBool
	case int16:
		return val, domain.DataTypeInt16
	case uint16:
		return val, domain.DataTypeUInt16
	case int32:
		return val, domain.DataTypeInt32
	case uint32:
		return val, domain.DataTypeUInt32
	case int64:
		return val, domain.DataTypeInt64
	case uint64:
		return val, domain.DataTypeUInt64
	case float32:
		return val, domain.DataTypeFloat32
	case float64:
		return val, domain.DataTypeFloat64
	case string:
		return val, domain.DataTypeString
	case []byte:
		return val, domain.DataTypeByteArray
	default:
		return val, domain.DataTypeUnknown
	}
}

// valueToVariant converts a write value to a variant matching the tag's
// declared type.
func valueToVariant(value interface{}, t *config.TagMapping) (*ua.Variant, error) {
	actual := value
	if t.ScaleFactor != 0 && t.ScaleFactor != 1.0 {
		if f, ok := toFloat64(value); ok {
			actual = f / t.ScaleFactor
		}
	}

	switch t.DataType {
	case domain.DataTypeBool:
		b, ok := toBool(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to bool", domain.ErrInvalidDataType, value)
		}
		return ua.NewVariant(b)
	case domain.DataTypeInt16:
		i, ok := toInt64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to int16", domain.ErrInvalidDataType, value)
		}
		return ua.NewVariant(int16(i))
	case domain.DataTypeUInt16:
		i, ok := toInt64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to uint16", domain.ErrInvalidDataType, value)
		}
		return ua.NewVariant(uint16(i))
	case domain.DataTypeInt32:
		i, ok := toInt64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to int32", domain.ErrInvalidDataType, value)
		}
		return ua.NewVariant(int32(i))
	case domain.DataTypeUInt32:
		i, ok := toInt64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to uint32", domain.ErrInvalidDataType, value)
		}
		return ua.NewVariant(uint32(i))
	case domain.DataTypeInt64:
		i, ok := toInt64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to int64", domain.ErrInvalidDataType, value)
		}
		return ua.NewVariant(i)
	case domain.DataTypeUInt64:
		u, ok := toUint64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to uint64", domain.ErrInvalidDataType, value)
		}
		return ua.NewVariant(u)
	case domain.DataTypeFloat32:
		f, ok := toFloat64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to float32", domain.ErrInvalidDataType, value)
		}
		return ua.NewVariant(float32(f))
	case domain.DataTypeFloat64:
		f, ok := toFloat64(actual)
		if !ok {
			return nil, fmt.Errorf("%w: cannot convert %T to float64", domain.ErrInvalidDataType, value)
		}
		return ua.NewVariant(f)
	case domain.DataTypeString:
		s, ok := actual.(string)
		if !ok {
			s = fmt.Sprintf("%v", actual)
		}
		return ua.NewVariant(s)
	default:
		return ua.NewVariant(actual)
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
