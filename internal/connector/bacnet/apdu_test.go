package bacnet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/sensormine/edge-connectors/internal/domain"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    objectRef
		wantErr bool
	}{
		{
			name: "symbolic type defaults to present-value",
			in:   "analog-input:5",
			want: objectRef{objectType: 0, instance: 5, property: 85},
		},
		{
			name: "symbolic type and property",
			in:   "analog-value:12:object-name",
			want: objectRef{objectType: 2, instance: 12, property: 77},
		},
		{
			name: "numeric type and property",
			in:   "8:100:28",
			want: objectRef{objectType: 8, instance: 100, property: 28},
		},
		{
			name: "binary input",
			in:   "binary-input:3",
			want: objectRef{objectType: 3, instance: 3, property: 85},
		},
		{
			name: "case insensitive",
			in:   "Analog-Input:1:Present-Value",
			want: objectRef{objectType: 0, instance: 1, property: 85},
		},
		{name: "missing instance", in: "analog-input", wantErr: true},
		{name: "too many parts", in: "analog-input:1:85:9", wantErr: true},
		{name: "unknown type name", in: "fan-coil:1", wantErr: true},
		{name: "object type beyond 10 bits", in: "1024:1", wantErr: true},
		{name: "instance beyond 22 bits", in: "analog-input:4194304", wantErr: true},
		{name: "bad property", in: "analog-input:1:shiny", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAddress(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseAddress(%q) expected error, got %+v", tt.in, got)
				}
				if !errors.Is(err, domain.ErrInvalidAddress) {
					t.Errorf("parseAddress(%q) error = %v, want ErrInvalidAddress", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseAddress(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("parseAddress(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestObjectID(t *testing.T) {
	ref := objectRef{objectType: 2, instance: 17}
	if got := ref.objectID(); got != 2<<22|17 {
		t.Errorf("objectID = 0x%08X, want 0x%08X", got, uint32(2<<22|17))
	}
}

func TestEncodeReadProperty(t *testing.T) {
	ref := objectRef{objectType: 0, instance: 5, property: 85}
	frame := encodeReadProperty(7, ref)

	want := []byte{
		0x81, 0x0A, 0x00, 0x11, // BVLC, original unicast, length 17
		0x01, 0x04, // NPDU version, expecting reply
		0x00, 0x05, 0x07, 0x0C, // confirmed request, max APDU, invoke 7, ReadProperty
		0x0C, 0x00, 0x00, 0x00, 0x05, // context 0: object id analog-input:5
		0x19, 0x55, // context 1: property 85
	}
	if !bytes.Equal(frame, want) {
		t.Errorf("encodeReadProperty =\n%x\nwant\n%x", frame, want)
	}
	if int(binary.BigEndian.Uint16(frame[2:4])) != len(frame) {
		t.Errorf("BVLC length field %d does not match frame length %d",
			binary.BigEndian.Uint16(frame[2:4]), len(frame))
	}
}

func TestEncodeContextUnsigned(t *testing.T) {
	tests := []struct {
		tag  byte
		v    uint32
		want []byte
	}{
		{tag: 1, v: 85, want: []byte{0x19, 0x55}},
		{tag: 1, v: 0x1234, want: []byte{0x1A, 0x12, 0x34}},
		{tag: 2, v: 0x123456, want: []byte{0x2B, 0x12, 0x34, 0x56}},
		{tag: 1, v: 0x12345678, want: []byte{0x1C, 0x12, 0x34, 0x56, 0x78}},
	}
	for _, tt := range tests {
		if got := encodeContextUnsigned(tt.tag, tt.v); !bytes.Equal(got, tt.want) {
			t.Errorf("encodeContextUnsigned(%d, 0x%X) = %x, want %x", tt.tag, tt.v, got, tt.want)
		}
	}
}

// ackFrame assembles a ComplexAck response carrying the given application-
// tagged value bytes.
func ackFrame(invokeID byte, value []byte) []byte {
	apdu := []byte{pduComplexAck, invokeID, serviceReadProperty}
	apdu = append(apdu, 0x0C, 0x00, 0x00, 0x00, 0x05) // object id
	apdu = append(apdu, 0x19, 0x55)                   // property id
	apdu = append(apdu, 0x3E)                         // opening tag 3
	apdu = append(apdu, value...)
	apdu = append(apdu, 0x3F) // closing tag 3

	frame := []byte{bvlcType, bvlcOriginalUnicast}
	frame = binary.BigEndian.AppendUint16(frame, uint16(4+2+len(apdu)))
	frame = append(frame, npduVersion, 0x00)
	return append(frame, apdu...)
}

func TestDecodeReadPropertyAck(t *testing.T) {
	tests := []struct {
		name     string
		value    []byte
		want     interface{}
		wantType domain.DataType
	}{
		{
			name:     "real",
			value:    []byte{0x44, 0x42, 0x28, 0x00, 0x00},
			want:     float32(42.0),
			wantType: domain.DataTypeFloat32,
		},
		{
			name:     "boolean true",
			value:    []byte{0x11},
			want:     true,
			wantType: domain.DataTypeBool,
		},
		{
			name:     "unsigned",
			value:    []byte{0x22, 0x04, 0xD2},
			want:     uint32(1234),
			wantType: domain.DataTypeUInt32,
		},
		{
			name:     "enumerated",
			value:    []byte{0x91, 0x01},
			want:     uint32(1),
			wantType: domain.DataTypeUInt32,
		},
		{
			name:     "signed negative",
			value:    []byte{0x31, 0x9C},
			want:     int32(-100),
			wantType: domain.DataTypeInt32,
		},
		{
			name:     "character string",
			value:    append([]byte{0x75, 0x06, 0x00}, []byte("Pump1")...),
			want:     "Pump1",
			wantType: domain.DataTypeString,
		},
		{
			name:     "null",
			value:    []byte{0x00},
			want:     nil,
			wantType: domain.DataTypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dt, err := decodeReadPropertyAck(ackFrame(9, tt.value), 9)
			if err != nil {
				t.Fatalf("decodeReadPropertyAck unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("value = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
			if dt != tt.wantType {
				t.Errorf("data type = %s, want %s", dt, tt.wantType)
			}
		})
	}
}

func TestDecodeReadPropertyAck_Faults(t *testing.T) {
	okFrame := ackFrame(9, []byte{0x44, 0x42, 0x28, 0x00, 0x00})

	t.Run("invoke mismatch", func(t *testing.T) {
		_, _, err := decodeReadPropertyAck(okFrame, 10)
		if !errors.Is(err, domain.ErrBACnetInvokeMismatch) {
			t.Errorf("error = %v, want ErrBACnetInvokeMismatch", err)
		}
	})

	t.Run("error PDU carries class and code", func(t *testing.T) {
		apdu := []byte{pduError, 9, serviceReadProperty, 0x91, 0x05, 0x91, 0x20}
		frame := []byte{bvlcType, bvlcOriginalUnicast}
		frame = binary.BigEndian.AppendUint16(frame, uint16(4+2+len(apdu)))
		frame = append(frame, npduVersion, 0x00)
		frame = append(frame, apdu...)

		_, _, err := decodeReadPropertyAck(frame, 9)
		if !errors.Is(err, domain.ErrBACnetErrorPDU) {
			t.Errorf("error = %v, want ErrBACnetErrorPDU", err)
		}
	})

	t.Run("reject PDU", func(t *testing.T) {
		apdu := []byte{pduReject, 9, 0x02}
		frame := []byte{bvlcType, bvlcOriginalUnicast}
		frame = binary.BigEndian.AppendUint16(frame, uint16(4+2+len(apdu)))
		frame = append(frame, npduVersion, 0x00)
		frame = append(frame, apdu...)

		_, _, err := decodeReadPropertyAck(frame, 9)
		if !errors.Is(err, domain.ErrBACnetReject) {
			t.Errorf("error = %v, want ErrBACnetReject", err)
		}
	})

	t.Run("truncated frame", func(t *testing.T) {
		_, _, err := decodeReadPropertyAck(okFrame[:3], 9)
		if !errors.Is(err, domain.ErrBACnetMalformedAPDU) {
			t.Errorf("error = %v, want ErrBACnetMalformedAPDU", err)
		}
	})

	t.Run("length field mismatch", func(t *testing.T) {
		bad := append([]byte(nil), okFrame...)
		bad[3]++
		_, _, err := decodeReadPropertyAck(bad, 9)
		if !errors.Is(err, domain.ErrBACnetMalformedAPDU) {
			t.Errorf("error = %v, want ErrBACnetMalformedAPDU", err)
		}
	})

	t.Run("wrong BVLC type", func(t *testing.T) {
		bad := append([]byte(nil), okFrame...)
		bad[0] = 0x55
		_, _, err := decodeReadPropertyAck(bad, 9)
		if !errors.Is(err, domain.ErrBACnetMalformedAPDU) {
			t.Errorf("error = %v, want ErrBACnetMalformedAPDU", err)
		}
	})
}

func TestDecodeReadPropertyAck_RoutedNPDU(t *testing.T) {
	// Response relayed through a router carries a source address block.
	apdu := []byte{pduComplexAck, 4, serviceReadProperty,
		0x0C, 0x00, 0x00, 0x00, 0x05,
		0x19, 0x55,
		0x3E, 0x22, 0x00, 0x2A, 0x3F,
	}
	npdu := []byte{npduVersion, 0x08, // source present
		0x00, 0x0A, 0x01, 0x42, // SNET 10, SLEN 1, SADR 0x42
	}
	frame := []byte{bvlcType, bvlcOriginalUnicast}
	frame = binary.BigEndian.AppendUint16(frame, uint16(4+len(npdu)+len(apdu)))
	frame = append(frame, npdu...)
	frame = append(frame, apdu...)

	got, dt, err := decodeReadPropertyAck(frame, 4)
	if err != nil {
		t.Fatalf("decodeReadPropertyAck unexpected error: %v", err)
	}
	if got != uint32(42) || dt != domain.DataTypeUInt32 {
		t.Errorf("value = %v (%s), want 42 (uint32)", got, dt)
	}
}

func TestDecodeUnsignedTag(t *testing.T) {
	v, n, ok := decodeUnsignedTag([]byte{0x22, 0x04, 0xD2}, tagUnsignedInt)
	if !ok || v != 1234 || n != 3 {
		t.Errorf("decodeUnsignedTag = (%d, %d, %v), want (1234, 3, true)", v, n, ok)
	}
	if _, _, ok := decodeUnsignedTag([]byte{0x22, 0x04, 0xD2}, tagEnumerated); ok {
		t.Error("decodeUnsignedTag accepted mismatched tag number")
	}
	if _, _, ok := decodeUnsignedTag([]byte{0x19, 0x55}, tagUnsignedInt); ok {
		t.Error("decodeUnsignedTag accepted a context tag")
	}
}
