package modbus

import (
	"errors"
	"testing"

	"github.com/sensormine/edge-connectors/internal/config"
	"github.com/sensormine/edge-connectors/internal/domain"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		rt      registerType
		want    uint16
		wantErr bool
	}{
		{name: "plain offset", addr: "100", rt: registerHolding, want: 100},
		{name: "zero offset", addr: "0", rt: registerHolding, want: 0},
		{name: "conventional holding", addr: "40001", rt: registerHolding, want: 0},
		{name: "conventional holding offset", addr: "40101", rt: registerHolding, want: 100},
		{name: "conventional input register", addr: "30011", rt: registerInput, want: 10},
		{name: "conventional discrete input", addr: "10005", rt: registerDiscreteInput, want: 4},
		{name: "coil keeps plain numbering", addr: "17", rt: registerCoil, want: 17},
		{name: "whitespace tolerated", addr: " 42 ", rt: registerHolding, want: 42},
		{name: "not a number", addr: "forty", rt: registerHolding, wantErr: true},
		{name: "negative", addr: "-1", rt: registerHolding, wantErr: true},
		{name: "beyond register space", addr: "400000", rt: registerHolding, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAddress(tt.addr, tt.rt)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseAddress(%q) expected error, got %d", tt.addr, got)
				}
				if !errors.Is(err, domain.ErrInvalidAddress) {
					t.Errorf("parseAddress(%q) error = %v, want ErrInvalidAddress", tt.addr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseAddress(%q) unexpected error: %v", tt.addr, err)
			}
			if got != tt.want {
				t.Errorf("parseAddress(%q) = %d, want %d", tt.addr, got, tt.want)
			}
		})
	}
}

func TestParseRegisterType(t *testing.T) {
	tests := []struct {
		in      string
		want    registerType
		wantErr bool
	}{
		{in: "", want: registerHolding},
		{in: "holding", want: registerHolding},
		{in: "Holding_Register", want: registerHolding},
		{in: "input", want: registerInput},
		{in: "coil", want: registerCoil},
		{in: "discrete_input", want: registerDiscreteInput},
		{in: "bogus", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseRegisterType(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseRegisterType(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseRegisterType(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseRegisterType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReorderBytes(t *testing.T) {
	in := []byte{0x0A, 0x0B, 0x0C, 0x0D}
	tests := []struct {
		name  string
		order byteOrder
		want  []byte
	}{
		{name: "big is identity", order: orderBigEndian, want: []byte{0x0A, 0x0B, 0x0C, 0x0D}},
		{name: "little reverses all", order: orderLittleEndian, want: []byte{0x0D, 0x0C, 0x0B, 0x0A}},
		{name: "badc swaps within words", order: orderMidBig, want: []byte{0x0B, 0x0A, 0x0D, 0x0C}},
		{name: "cdab swaps words", order: orderMidLittle, want: []byte{0x0C, 0x0D, 0x0A, 0x0B}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reorderBytes(in, tt.order)
			if string(got) != string(tt.want) {
				t.Errorf("reorderBytes(%x, %s) = %x, want %x", in, tt.order, got, tt.want)
			}
			// Each transform is its own inverse.
			back := reorderBytes(got, tt.order)
			if string(back) != string(in) {
				t.Errorf("reorderBytes twice with %s = %x, want original %x", tt.order, back, in)
			}
		})
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		rt   registerType
		tag  config.TagMapping
		want interface{}
	}{
		{
			name: "coil set",
			data: []byte{0x01},
			rt:   registerCoil,
			tag:  config.TagMapping{DataType: domain.DataTypeBool},
			want: true,
		},
		{
			name: "discrete input clear",
			data: []byte{0x00},
			rt:   registerDiscreteInput,
			tag:  config.TagMapping{DataType: domain.DataTypeBool},
			want: false,
		},
		{
			name: "uint16",
			data: []byte{0x12, 0x34},
			rt:   registerHolding,
			tag:  config.TagMapping{DataType: domain.DataTypeUInt16},
			want: uint16(0x1234),
		},
		{
			name: "int16 negative",
			data: []byte{0xFF, 0xFE},
			rt:   registerHolding,
			tag:  config.TagMapping{DataType: domain.DataTypeInt16},
			want: int16(-2),
		},
		{
			name: "unknown defaults to uint16",
			data: []byte{0x00, 0x2A},
			rt:   registerHolding,
			tag:  config.TagMapping{DataType: domain.DataTypeUnknown},
			want: uint16(42),
		},
		{
			name: "float32 big endian",
			data: []byte{0x42, 0x28, 0x00, 0x00}, // 42.0
			rt:   registerHolding,
			tag:  config.TagMapping{DataType: domain.DataTypeFloat32},
			want: float32(42.0),
		},
		{
			name: "float32 cdab word swapped",
			data: []byte{0x00, 0x00, 0x42, 0x28},
			rt:   registerHolding,
			tag:  config.TagMapping{DataType: domain.DataTypeFloat32, ByteOrder: "cdab"},
			want: float32(42.0),
		},
		{
			name: "uint32 little endian",
			data: []byte{0x78, 0x56, 0x34, 0x12},
			rt:   registerHolding,
			tag:  config.TagMapping{DataType: domain.DataTypeUInt32, ByteOrder: "little"},
			want: uint32(0x12345678),
		},
		{
			name: "int64",
			data: []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
			rt:   registerHolding,
			tag:  config.TagMapping{DataType: domain.DataTypeInt64},
			want: int64(-1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := parseValue(tt.data, tt.rt, &tt.tag)
			if err != nil {
				t.Fatalf("parseValue unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseValue = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestParseValue_ShortData(t *testing.T) {
	tag := config.TagMapping{DataType: domain.DataTypeFloat32}
	if _, _, err := parseValue([]byte{0x00, 0x01}, registerHolding, &tag); !errors.Is(err, domain.ErrInvalidDataLength) {
		t.Errorf("parseValue short data error = %v, want ErrInvalidDataLength", err)
	}
	if _, _, err := parseValue(nil, registerHolding, &tag); !errors.Is(err, domain.ErrInvalidDataLength) {
		t.Errorf("parseValue empty data error = %v, want ErrInvalidDataLength", err)
	}
}

func TestValueToBytes(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		tag   config.TagMapping
		want  []byte
	}{
		{
			name:  "uint16",
			value: 4660,
			tag:   config.TagMapping{DataType: domain.DataTypeUInt16, ScaleFactor: 1.0},
			want:  []byte{0x12, 0x34},
		},
		{
			name:  "bool true",
			value: true,
			tag:   config.TagMapping{DataType: domain.DataTypeBool, ScaleFactor: 1.0},
			want:  []byte{0x00, 0x01},
		},
		{
			name:  "int32 negative",
			value: -2,
			tag:   config.TagMapping{DataType: domain.DataTypeInt32, ScaleFactor: 1.0},
			want:  []byte{0xFF, 0xFF, 0xFF, 0xFE},
		},
		{
			name:  "float32 with scale undone",
			value: 420.0, // scale 10 -> raw 42.0
			tag:   config.TagMapping{DataType: domain.DataTypeFloat32, ScaleFactor: 10.0},
			want:  []byte{0x42, 0x28, 0x00, 0x00},
		},
		{
			name:  "uint32 cdab",
			value: uint32(0x12345678),
			tag:   config.TagMapping{DataType: domain.DataTypeUInt32, ScaleFactor: 1.0, ByteOrder: "cdab"},
			want:  []byte{0x56, 0x78, 0x12, 0x34},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := valueToBytes(tt.value, &tt.tag)
			if err != nil {
				t.Fatalf("valueToBytes unexpected error: %v", err)
			}
			if string(got) != string(tt.want) {
				t.Errorf("valueToBytes = %x, want %x", got, tt.want)
			}
		})
	}
}

func TestValueToBytes_UnsupportedValue(t *testing.T) {
	tag := config.TagMapping{DataType: domain.DataTypeInt16, ScaleFactor: 1.0}
	if _, err := valueToBytes("not a number", &tag); !errors.Is(err, domain.ErrInvalidDataType) {
		t.Errorf("valueToBytes error = %v, want ErrInvalidDataType", err)
	}
}

func TestApplyScale(t *testing.T) {
	tag := config.TagMapping{DataType: domain.DataTypeUInt16, ScaleFactor: 0.1}
	got := applyScale(uint16(250), &tag)
	f, ok := got.(float64)
	if !ok || f < 24.99 || f > 25.01 {
		t.Errorf("applyScale(250, 0.1) = %v, want 25.0", got)
	}

	// Identity scale leaves the original type alone.
	tag.ScaleFactor = 1.0
	if got := applyScale(uint16(250), &tag); got != uint16(250) {
		t.Errorf("applyScale with factor 1 = %v (%T), want uint16 250", got, got)
	}

	// Booleans are never scaled.
	tag.ScaleFactor = 2.0
	if got := applyScale(true, &tag); got != true {
		t.Errorf("applyScale(bool) = %v, want true", got)
	}
}

func TestRegisterCount(t *testing.T) {
	tests := []struct {
		dt    domain.DataType
		count uint16
		want  uint16
	}{
		{dt: domain.DataTypeUInt16, count: 1, want: 1},
		{dt: domain.DataTypeFloat32, count: 1, want: 2},
		{dt: domain.DataTypeFloat64, count: 1, want: 4},
		{dt: domain.DataTypeUInt16, count: 10, want: 10},
		{dt: domain.DataTypeUInt32, count: 3, want: 6},
		{dt: domain.DataTypeUnknown, count: 0, want: 1},
	}
	for _, tt := range tests {
		tag := config.TagMapping{DataType: tt.dt, ElementCount: tt.count}
		if got := registerCount(&tag); got != tt.want {
			t.Errorf("registerCount(%s x%d) = %d, want %d", tt.dt, tt.count, got, tt.want)
		}
	}
}
