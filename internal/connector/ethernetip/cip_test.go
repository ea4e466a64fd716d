package ethernetip

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/sensormine/edge-connectors/internal/domain"
)

func TestSymbolicPath(t *testing.T) {
	tests := []struct {
		name    string
		tag     string
		want    []byte
		wantErr bool
	}{
		{
			name: "even length needs no pad",
			tag:  "Pump",
			want: []byte{0x91, 0x04, 'P', 'u', 'm', 'p'},
		},
		{
			name: "odd length gets a pad byte",
			tag:  "Tag1A",
			want: []byte{0x91, 0x05, 'T', 'a', 'g', '1', 'A', 0x00},
		},
		{name: "empty tag", tag: "", wantErr: true},
		{name: "too long", tag: strings.Repeat("x", 256), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := symbolicPath(tt.tag)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrCIPTagNameTooLong) {
					t.Errorf("symbolicPath(%q) error = %v, want ErrCIPTagNameTooLong", tt.tag, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("symbolicPath(%q) unexpected error: %v", tt.tag, err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("symbolicPath(%q) = %x, want %x", tt.tag, got, tt.want)
			}
			if len(got)%2 != 0 {
				t.Errorf("symbolicPath(%q) has odd length %d", tt.tag, len(got))
			}
		})
	}
}

func TestBuildReadRequest(t *testing.T) {
	req, err := buildReadRequest("Pump", 1)
	if err != nil {
		t.Fatalf("buildReadRequest: %v", err)
	}
	want := []byte{
		0x4C,                         // Read Tag service
		0x03,                         // path size in words
		0x91, 0x04, 'P', 'u', 'm', 'p', // symbolic segment
		0x01, 0x00, // element count, little-endian
	}
	if !bytes.Equal(req, want) {
		t.Errorf("buildReadRequest =\n%x\nwant\n%x", req, want)
	}
}

func TestBuildWriteRequest(t *testing.T) {
	req, err := buildWriteRequest("Sp", typeDINT, 1, []byte{0x39, 0x30, 0x00, 0x00})
	if err != nil {
		t.Fatalf("buildWriteRequest: %v", err)
	}
	want := []byte{
		0x4D,                   // Write Tag service
		0x02,                   // path size in words
		0x91, 0x02, 'S', 'p',   // symbolic segment
		0xC4, 0x00,             // DINT type code
		0x01, 0x00,             // element count
		0x39, 0x30, 0x00, 0x00, // 12345
	}
	if !bytes.Equal(req, want) {
		t.Errorf("buildWriteRequest =\n%x\nwant\n%x", req, want)
	}
}

func TestParseReply(t *testing.T) {
	t.Run("success strips status words", func(t *testing.T) {
		data := []byte{0xCC, 0x00, 0x00, 0x00, 0xC4, 0x00, 0x2A, 0x00, 0x00, 0x00}
		r, err := parseReply(data, svcReadTag)
		if err != nil {
			t.Fatalf("parseReply: %v", err)
		}
		if !bytes.Equal(r.Payload, data[4:]) {
			t.Errorf("payload = %x, want %x", r.Payload, data[4:])
		}
	})

	t.Run("service fault", func(t *testing.T) {
		data := []byte{0xCC, 0x00, 0x05, 0x00}
		_, err := parseReply(data, svcReadTag)
		if !errors.Is(err, domain.ErrCIPServiceFault) {
			t.Errorf("error = %v, want ErrCIPServiceFault", err)
		}
	})

	t.Run("wrong reply service", func(t *testing.T) {
		data := []byte{0xCD, 0x00, 0x00, 0x00}
		_, err := parseReply(data, svcReadTag)
		if !errors.Is(err, domain.ErrCIPBadReplyService) {
			t.Errorf("error = %v, want ErrCIPBadReplyService", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := parseReply([]byte{0xCC, 0x00}, svcReadTag)
		if !errors.Is(err, domain.ErrCIPTruncatedReply) {
			t.Errorf("error = %v, want ErrCIPTruncatedReply", err)
		}
	})

	t.Run("additional status words skipped", func(t *testing.T) {
		data := []byte{0xCC, 0x00, 0x00, 0x01, 0xFF, 0xFF, 0xC1, 0x00, 0x01}
		r, err := parseReply(data, svcReadTag)
		if err != nil {
			t.Fatalf("parseReply: %v", err)
		}
		if !bytes.Equal(r.Payload, data[6:]) {
			t.Errorf("payload = %x, want %x", r.Payload, data[6:])
		}
	})
}

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		name     string
		payload  []byte
		want     interface{}
		wantType domain.DataType
	}{
		{
			name:     "BOOL",
			payload:  []byte{0xC1, 0x00, 0xFF},
			want:     true,
			wantType: domain.DataTypeBool,
		},
		{
			name:     "INT negative",
			payload:  []byte{0xC3, 0x00, 0x9C, 0xFF},
			want:     int16(-100),
			wantType: domain.DataTypeInt16,
		},
		{
			name:     "DINT",
			payload:  []byte{0xC4, 0x00, 0x39, 0x30, 0x00, 0x00},
			want:     int32(12345),
			wantType: domain.DataTypeInt32,
		},
		{
			name:     "REAL",
			payload:  []byte{0xCA, 0x00, 0x00, 0x00, 0x28, 0x42},
			want:     float32(42.0),
			wantType: domain.DataTypeFloat32,
		},
		{
			name:     "SINT widens to int16",
			payload:  []byte{0xC2, 0x00, 0x80},
			want:     int16(-128),
			wantType: domain.DataTypeInt16,
		},
		{
			name:     "STRING with length prefix",
			payload:  append([]byte{0xD0, 0x00, 0x05, 0x00, 0x00, 0x00}, []byte("Motor")...),
			want:     "Motor",
			wantType: domain.DataTypeString,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dt, err := decodeValue(tt.payload)
			if err != nil {
				t.Fatalf("decodeValue unexpected error: %v", err)
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

func TestDecodeValue_Faults(t *testing.T) {
	if _, _, err := decodeValue([]byte{0xC4}); !errors.Is(err, domain.ErrCIPTruncatedReply) {
		t.Errorf("short payload error = %v, want ErrCIPTruncatedReply", err)
	}
	if _, _, err := decodeValue([]byte{0xC4, 0x00, 0x01, 0x02}); !errors.Is(err, domain.ErrCIPTruncatedReply) {
		t.Errorf("short DINT error = %v, want ErrCIPTruncatedReply", err)
	}
	if _, _, err := decodeValue([]byte{0xA0, 0x02, 0x00}); !errors.Is(err, domain.ErrCIPUnsupportedType) {
		t.Errorf("structure type error = %v, want ErrCIPUnsupportedType", err)
	}
}

func TestEncodeValue(t *testing.T) {
	tests := []struct {
		name     string
		dt       domain.DataType
		value    interface{}
		wantCode uint16
		wantData []byte
		wantErr  error
	}{
		{name: "bool true", dt: domain.DataTypeBool, value: true, wantCode: typeBOOL, wantData: []byte{0xFF}},
		{name: "bool false", dt: domain.DataTypeBool, value: false, wantCode: typeBOOL, wantData: []byte{0x00}},
		{name: "dint", dt: domain.DataTypeInt32, value: 12345, wantCode: typeDINT, wantData: []byte{0x39, 0x30, 0x00, 0x00}},
		{name: "real", dt: domain.DataTypeFloat32, value: 42.0, wantCode: typeREAL, wantData: []byte{0x00, 0x00, 0x28, 0x42}},
		{name: "int out of INT bounds", dt: domain.DataTypeInt16, value: 70000, wantErr: domain.ErrCIPWriteValueBounds},
		{name: "negative for UINT", dt: domain.DataTypeUInt16, value: -1, wantErr: domain.ErrCIPWriteValueBounds},
		{name: "string for DINT", dt: domain.DataTypeInt32, value: "nope", wantErr: domain.ErrCIPWriteValueBounds},
		{name: "unsupported type", dt: domain.DataTypeArray, value: 1, wantErr: domain.ErrInvalidDataType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, data, err := encodeValue(tt.dt, tt.value)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("encodeValue unexpected error: %v", err)
			}
			if code != tt.wantCode {
				t.Errorf("type code = 0x%04X, want 0x%04X", code, tt.wantCode)
			}
			if !bytes.Equal(data, tt.wantData) {
				t.Errorf("data = %x, want %x", data, tt.wantData)
			}
		})
	}
}
