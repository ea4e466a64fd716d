// Package bacnet implements a minimal BACnet/IP polling connector: confirmed
// ReadProperty requests over the Annex J UDP transport.
package bacnet

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sensormine/edge-connectors/internal/domain"
)

const (
	bvlcType            = 0x81 // BACnet/IP
	bvlcOriginalUnicast = 0x0A

	npduVersion        = 0x01
	npduExpectingReply = 0x04

	pduConfirmedRequest = 0x00
	pduComplexAck       = 0x30
	pduSimpleAck        = 0x20
	pduError            = 0x50
	pduReject           = 0x60
	pduAbort            = 0x70

	serviceReadProperty = 12

	// max-segments 0 / max-APDU 1476 octets
	maxAPDUOctets = 0x05

	propPresentValue = 85
)

// Application tag numbers for primitive values.
const (
	tagNull        = 0
	tagBoolean     = 1
	tagUnsignedInt = 2
	tagSignedInt   = 3
	tagReal        = 4
	tagDouble      = 5
	tagCharString  = 7
	tagEnumerated  = 9
)

// objectRef identifies one property of one object on the remote device.
type objectRef struct {
	objectType uint16
	instance   uint32
	property   uint32
}

var objectTypeNames = map[string]uint16{
	"analog-input":      0,
	"analog-output":     1,
	"analog-value":      2,
	"binary-input":      3,
	"binary-output":     4,
	"binary-value":      5,
	"device":            8,
	"multi-state-input": 13,
	"multi-state-value": 19,
}

var propertyNames = map[string]uint32{
	"present-value": 85,
	"object-name":   77,
	"description":   28,
	"units":         117,
	"status-flags":  111,
}

// parseAddress parses "objectType:instance[:property]". Object type and
// property accept both symbolic names and raw numbers; the property defaults
// to present-value.
func parseAddress(addr string) (objectRef, error) {
	parts := strings.Split(strings.TrimSpace(addr), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return objectRef{}, fmt.Errorf("%w: %q", domain.ErrInvalidAddress, addr)
	}

	ref := objectRef{property: propPresentValue}

	if ot, ok := objectTypeNames[strings.ToLower(parts[0])]; ok {
		ref.objectType = ot
	} else {
		n, err := strconv.ParseUint(parts[0], 10, 10)
		if err != nil {
			return objectRef{}, fmt.Errorf("%w: unknown object type %q", domain.ErrInvalidAddress, parts[0])
		}
		ref.objectType = uint16(n)
	}

	inst, err := strconv.ParseUint(parts[1], 10, 22)
	if err != nil {
		return objectRef{}, fmt.Errorf("%w: invalid instance %q", domain.ErrInvalidAddress, parts[1])
	}
	ref.instance = uint32(inst)

	if len(parts) == 3 {
		if p, ok := propertyNames[strings.ToLower(parts[2])]; ok {
			ref.property = p
		} else {
			n, err := strconv.ParseUint(parts[2], 10, 32)
			if err != nil {
				return objectRef{}, fmt.Errorf("%w: unknown property %q", domain.ErrInvalidAddress, parts[2])
			}
			ref.property = uint32(n)
		}
	}
	return ref, nil
}

// objectID packs type and instance into the 32-bit object identifier:
// 10 bits of type, 22 bits of instance.
func (r objectRef) objectID() uint32 {
	return uint32(r.objectType)<<22 | (r.instance & 0x3FFFFF)
}

// encodeReadProperty builds the full BVLC+NPDU+APDU frame for a confirmed
// ReadProperty request.
func encodeReadProperty(invokeID byte, ref objectRef) []byte {
	apdu := []byte{
		pduConfirmedRequest,
		maxAPDUOctets,
		invokeID,
		serviceReadProperty,
	}

	// context tag 0: object identifier
	apdu = append(apdu, 0x0C)
	apdu = binary.BigEndian.AppendUint32(apdu, ref.objectID())

	// context tag 1: property identifier
	apdu = append(apdu, encodeContextUnsigned(1, ref.property)...)

	npdu := []byte{npduVersion, npduExpectingReply}

	frame := make([]byte, 0, 4+len(npdu)+len(apdu))
	frame = append(frame, bvlcType, bvlcOriginalUnicast)
	frame = binary.BigEndian.AppendUint16(frame, uint16(4+len(npdu)+len(apdu)))
	frame = append(frame, npdu...)
	frame = append(frame, apdu...)
	return frame
}

// encodeContextUnsigned encodes an unsigned value with a context tag, using
// the minimal byte length.
func encodeContextUnsigned(tagNumber byte, v uint32) []byte {
	var data []byte
	switch {
	case v < 0x100:
		data = []byte{byte(v)}
	case v < 0x10000:
		data = binary.BigEndian.AppendUint16(nil, uint16(v))
	case v < 0x1000000:
		data = []byte{byte(v >> 16), byte(v >> 8), byte(v)}
	default:
		data = binary.BigEndian.AppendUint32(nil, v)
	}
	tag := tagNumber<<4 | 0x08 | byte(len(data))
	return append([]byte{tag}, data...)
}

// decodeReadPropertyAck validates a response frame and extracts the decoded
// property value with its normalized data type.
func decodeReadPropertyAck(frame []byte, invokeID byte) (interface{}, domain.DataType, error) {
	if len(frame) < 4 || frame[0] != bvlcType {
		return nil, domain.DataTypeUnknown, domain.ErrBACnetMalformedAPDU
	}
	if int(binary.BigEndian.Uint16(frame[2:4])) != len(frame) {
		return nil, domain.DataTypeUnknown, fmt.Errorf("%w: length mismatch", domain.ErrBACnetMalformedAPDU)
	}

	// Skip NPDU: version, control, then optional routing fields. Responses
	// from simple devices carry no routing, but tolerate a DNET/DADR block.
	p := 4
	if len(frame) < p+2 {
		return nil, domain.DataTypeUnknown, domain.ErrBACnetMalformedAPDU
	}
	control := frame[p+1]
	p += 2
	if control&0x20 != 0 { // destination present
		if len(frame) < p+3 {
			return nil, domain.DataTypeUnknown, domain.ErrBACnetMalformedAPDU
		}
		dlen := int(frame[p+2])
		p += 3 + dlen
	}
	if control&0x08 != 0 { // source present
		if len(frame) < p+3 {
			return nil, domain.DataTypeUnknown, domain.ErrBACnetMalformedAPDU
		}
		slen := int(frame[p+2])
		p += 3 + slen
	}
	if control&0x20 != 0 {
		p++ // hop count
	}
	if len(frame) <= p {
		return nil, domain.DataTypeUnknown, domain.ErrBACnetMalformedAPDU
	}

	apdu := frame[p:]
	switch apdu[0] & 0xF0 {
	case pduComplexAck:
	case pduError:
		return nil, domain.DataTypeUnknown, decodeErrorPDU(apdu)
	case pduReject:
		if len(apdu) >= 3 {
			return nil, domain.DataTypeUnknown, fmt.Errorf("%w: reason %d", domain.ErrBACnetReject, apdu[2])
		}
		return nil, domain.DataTypeUnknown, domain.ErrBACnetReject
	case pduAbort:
		if len(apdu) >= 3 {
			return nil, domain.DataTypeUnknown, fmt.Errorf("%w: reason %d", domain.ErrBACnetAbort, apdu[2])
		}
		return nil, domain.DataTypeUnknown, domain.ErrBACnetAbort
	default:
		return nil, domain.DataTypeUnknown, fmt.Errorf("%w: pdu type 0x%02X", domain.ErrBACnetMalformedAPDU, apdu[0])
	}

	if len(apdu) < 3 {
		return nil, domain.DataTypeUnknown, domain.ErrBACnetMalformedAPDU
	}
	if apdu[1] != invokeID {
		return nil, domain.DataTypeUnknown,
			fmt.Errorf("%w: got %d want %d", domain.ErrBACnetInvokeMismatch, apdu[1], invokeID)
	}
	if apdu[2] != serviceReadProperty {
		return nil, domain.DataTypeUnknown, fmt.Errorf("%w: service %d", domain.ErrBACnetMalformedAPDU, apdu[2])
	}

	// Walk the service ack: object id (context 0), property id (context 1),
	// optional array index (context 2), then the value between opening tag
	// 3E and closing tag 3F.
	q := 3
	for q < len(apdu) {
		if apdu[q] == 0x3E { // opening tag 3
			return decodeApplicationValue(apdu[q+1:])
		}
		tagLen := int(apdu[q] & 0x07)
		q += 1 + tagLen
	}
	return nil, domain.DataTypeUnknown, fmt.Errorf("%w: no value tag", domain.ErrBACnetMalformedAPDU)
}

// decodeErrorPDU extracts the error class/code enumerations.
func decodeErrorPDU(apdu []byte) error {
	// error PDU: type, invoke id, service, then two application-tagged
	// enumerated values (class, code).
	if len(apdu) < 7 {
		return domain.ErrBACnetErrorPDU
	}
	rest := apdu[3:]
	class, n1, ok1 := decodeUnsignedTag(rest, tagEnumerated)
	if !ok1 {
		return domain.ErrBACnetErrorPDU
	}
	code, _, ok2 := decodeUnsignedTag(rest[n1:], tagEnumerated)
	if !ok2 {
		return domain.ErrBACnetErrorPDU
	}
	return fmt.Errorf("%w: class %d code %d", domain.ErrBACnetErrorPDU, class, code)
}

// decodeApplicationValue decodes the first application-tagged primitive.
func decodeApplicationValue(data []byte) (interface{}, domain.DataType, error) {
	if len(data) == 0 {
		return nil, domain.DataTypeUnknown, domain.ErrBACnetMalformedAPDU
	}

	tag := data[0] >> 4
	length := int(data[0] & 0x07)

	switch tag {
	case tagNull:
		return nil, domain.DataTypeUnknown, nil

	case tagBoolean:
		// value lives in the length field
		return length != 0, domain.DataTypeBool, nil

	case tagUnsignedInt, tagEnumerated:
		v, _, ok := decodeUnsignedTag(data, tag)
		if !ok {
			return nil, domain.DataTypeUnknown, domain.ErrBACnetMalformedAPDU
		}
		return v, domain.DataTypeUInt32, nil

	case tagSignedInt:
		if length == 0 || len(data) < 1+length {
			return nil, domain.DataTypeUnknown, domain.ErrBACnetMalformedAPDU
		}
		v := int32(int8(data[1])) // sign-extend from the first byte
		for _, b := range data[2 : 1+length] {
			v = v<<8 | int32(b)
		}
		return v, domain.DataTypeInt32, nil

	case tagReal:
		if len(data) < 5 {
			return nil, domain.DataTypeUnknown, domain.ErrBACnetMalformedAPDU
		}
		return math.Float32frombits(binary.BigEndian.Uint32(data[1:5])), domain.DataTypeFloat32, nil

	case tagDouble:
		if len(data) < 10 {
			return nil, domain.DataTypeUnknown, domain.ErrBACnetMalformedAPDU
		}
		// extended length byte (8) precedes the payload
		return math.Float64frombits(binary.BigEndian.Uint64(data[2:10])), domain.DataTypeFloat64, nil

	case tagCharString:
		payload, ok := tagPayload(data)
		if !ok || len(payload) < 1 {
			return nil, domain.DataTypeUnknown, domain.ErrBACnetMalformedAPDU
		}
		// first payload byte is the character set; 0 is UTF-8/ANSI
		return string(payload[1:]), domain.DataTypeString, nil

	default:
		return nil, domain.DataTypeUnknown,
			fmt.Errorf("%w: tag %d", domain.ErrBACnetUnsupportedTag, tag)
	}
}

// decodeUnsignedTag decodes an application-tagged unsigned value of the
// expected tag number, returning the value and bytes consumed.
func decodeUnsignedTag(data []byte, want byte) (uint32, int, bool) {
	if len(data) == 0 || data[0]>>4 != want || data[0]&0x08 != 0 {
		return 0, 0, false
	}
	length := int(data[0] & 0x07)
	if length == 0 || length > 4 || len(data) < 1+length {
		return 0, 0, false
	}
	var v uint32
	for _, b := range data[1 : 1+length] {
		v = v<<8 | uint32(b)
	}
	return v, 1 + length, true
}

// tagPayload returns the payload of a tag, handling the extended-length
// encoding (length 5 means a following length byte).
func tagPayload(data []byte) ([]byte, bool) {
	length := int(data[0] & 0x07)
	start := 1
	if length == 5 {
		if len(data) < 2 {
			return nil, false
		}
		length = int(data[1])
		start = 2
	}
	if len(data) < start+length {
		return nil, false
	}
	return data[start : start+length], true
}
