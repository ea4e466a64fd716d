package s7

import (
	"errors"
	"testing"

	"github.com/sensormine/edge-connectors/internal/config"
	"github.com/sensormine/edge-connectors/internal/domain"
)

func TestDecodeValue(t *testing.T) {
	word := address{area: areaMerker, offset: 0, width: 2}
	dword := address{area: areaDB, dbNumber: 1, offset: 0, width: 4}

	tests := []struct {
		name string
		raw  []byte
		addr address
		dt   domain.DataType
		want interface{}
	}{
		{
			name: "bit set",
			raw:  []byte{0x08},
			addr: address{area: areaMerker, offset: 0, bit: 3, isBit: true},
			dt:   domain.DataTypeBool,
			want: true,
		},
		{
			name: "bit clear",
			raw:  []byte{0xF7},
			addr: address{area: areaMerker, offset: 0, bit: 3, isBit: true},
			dt:   domain.DataTypeBool,
			want: false,
		},
		{
			name: "int16 negative",
			raw:  []byte{0xFF, 0x9C},
			addr: word,
			dt:   domain.DataTypeInt16,
			want: int16(-100),
		},
		{
			name: "uint16",
			raw:  []byte{0x04, 0xD2},
			addr: word,
			dt:   domain.DataTypeUInt16,
			want: uint16(1234),
		},
		{
			name: "unknown defaults to uint16",
			raw:  []byte{0x00, 0x2A},
			addr: word,
			dt:   domain.DataTypeUnknown,
			want: uint16(42),
		},
		{
			name: "float32",
			raw:  []byte{0x42, 0x28, 0x00, 0x00},
			addr: dword,
			dt:   domain.DataTypeFloat32,
			want: float32(42.0),
		},
		{
			name: "int32",
			raw:  []byte{0xFF, 0xFF, 0xFF, 0xFE},
			addr: dword,
			dt:   domain.DataTypeInt32,
			want: int32(-2),
		},
		{
			name: "byte as bool",
			raw:  []byte{0x01},
			addr: address{area: areaOutput, offset: 2, width: 1},
			dt:   domain.DataTypeBool,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := decodeValue(tt.raw, tt.addr, tt.dt)
			if err != nil {
				t.Fatalf("decodeValue unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("decodeValue = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestDecodeValue_ShortData(t *testing.T) {
	addr := address{area: areaDB, dbNumber: 1, offset: 0, width: 4}
	if _, _, err := decodeValue([]byte{0x00, 0x01}, addr, domain.DataTypeFloat32); !errors.Is(err, domain.ErrInvalidDataLength) {
		t.Errorf("decodeValue short data error = %v, want ErrInvalidDataLength", err)
	}
	bitAddr := address{isBit: true, bit: 0}
	if _, _, err := decodeValue(nil, bitAddr, domain.DataTypeBool); !errors.Is(err, domain.ErrInvalidDataLength) {
		t.Errorf("decodeValue empty bit data error = %v, want ErrInvalidDataLength", err)
	}
}

func TestEncodeValue(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		tag   config.TagMapping
		want  []byte
	}{
		{
			name:  "bool true",
			value: true,
			tag:   config.TagMapping{DataType: domain.DataTypeBool, ScaleFactor: 1.0},
			want:  []byte{0x01},
		},
		{
			name:  "int16",
			value: -100,
			tag:   config.TagMapping{DataType: domain.DataTypeInt16, ScaleFactor: 1.0},
			want:  []byte{0xFF, 0x9C},
		},
		{
			name:  "uint16",
			value: float64(1234),
			tag:   config.TagMapping{DataType: domain.DataTypeUInt16, ScaleFactor: 1.0},
			want:  []byte{0x04, 0xD2},
		},
		{
			name:  "float32 with scale undone",
			value: 4.2, // scale 0.1 -> raw 42.0
			tag:   config.TagMapping{DataType: domain.DataTypeFloat32, ScaleFactor: 0.1},
			want:  []byte{0x42, 0x28, 0x00, 0x00},
		},
		{
			name:  "int32",
			value: -2,
			tag:   config.TagMapping{DataType: domain.DataTypeInt32, ScaleFactor: 1.0},
			want:  []byte{0xFF, 0xFF, 0xFF, 0xFE},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeValue(tt.value, &tt.tag)
			if err != nil {
				t.Fatalf("encodeValue unexpected error: %v", err)
			}
			if string(got) != string(tt.want) {
				t.Errorf("encodeValue = %x, want %x", got, tt.want)
			}
		})
	}
}

func TestEncodeValue_BadInput(t *testing.T) {
	tag := config.TagMapping{DataType: domain.DataTypeInt16, ScaleFactor: 1.0}
	if _, err := encodeValue("nope", &tag); !errors.Is(err, domain.ErrInvalidDataType) {
		t.Errorf("encodeValue error = %v, want ErrInvalidDataType", err)
	}
	tag.DataType = domain.DataTypeArray
	if _, err := encodeValue(1, &tag); !errors.Is(err, domain.ErrInvalidDataType) {
		t.Errorf("encodeValue unsupported type error = %v, want ErrInvalidDataType", err)
	}
}

func TestScaleRoundTrip(t *testing.T) {
	tag := config.TagMapping{DataType: domain.DataTypeUInt16, ScaleFactor: 0.5}
	scaled := applyScale(uint16(100), &tag)
	f, ok := scaled.(float64)
	if !ok || f != 50.0 {
		t.Fatalf("applyScale(100, 0.5) = %v, want 50.0", scaled)
	}
	back := reverseScale(f, &tag)
	if back.(float64) != 100.0 {
		t.Errorf("reverseScale(%v) = %v, want 100.0", f, back)
	}
}
