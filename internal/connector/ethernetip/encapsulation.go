// Package ethernetip implements an EtherNet/IP connector for Allen-Bradley
// class controllers: the encapsulation session layer over TCP port 44818 and
// the CIP Read/Write Tag services carried inside it.
package ethernetip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sensormine/edge-connectors/internal/domain"
)

// Encapsulation command codes.
const (
	cmdRegisterSession   uint16 = 0x0065
	cmdUnregisterSession uint16 = 0x0066
	cmdSendRRData        uint16 = 0x006F
)

// Common Packet Format item types.
const (
	cpfItemNullAddress     uint16 = 0x0000
	cpfItemUnconnectedData uint16 = 0x00B2
)

const (
	headerSize     = 24
	protocolVer    = 1
	maxPayloadSize = 65511 // encapsulation length field bound
)

// header is the fixed 24-byte encapsulation header preceding every
// EtherNet/IP packet. All fields are little-endian on the wire.
type header struct {
	Command       uint16
	Length        uint16
	SessionHandle uint32
	Status        uint32
	SenderContext [8]byte
	Options       uint32
}

func (h *header) encode(buf *bytes.Buffer) {
	var b [headerSize]byte
	binary.LittleEndian.PutUint16(b[0:2], h.Command)
	binary.LittleEndian.PutUint16(b[2:4], h.Length)
	binary.LittleEndian.PutUint32(b[4:8], h.SessionHandle)
	binary.LittleEndian.PutUint32(b[8:12], h.Status)
	copy(b[12:20], h.SenderContext[:])
	binary.LittleEndian.PutUint32(b[20:24], h.Options)
	buf.Write(b[:])
}

func decodeHeader(b []byte) (header, error) {
	if len(b) < headerSize {
		return header{}, fmt.Errorf("%w: header is %d bytes", domain.ErrCIPMalformedPacket, len(b))
	}
	var h header
	h.Command = binary.LittleEndian.Uint16(b[0:2])
	h.Length = binary.LittleEndian.Uint16(b[2:4])
	h.SessionHandle = binary.LittleEndian.Uint32(b[4:8])
	h.Status = binary.LittleEndian.Uint32(b[8:12])
	copy(h.SenderContext[:], b[12:20])
	h.Options = binary.LittleEndian.Uint32(b[20:24])
	return h, nil
}

// encodePacket assembles a full encapsulation packet: header plus command
// data.
func encodePacket(command uint16, sessionHandle uint32, senderContext uint64, data []byte) ([]byte, error) {
	if len(data) > maxPayloadSize {
		return nil, fmt.Errorf("%w: payload is %d bytes", domain.ErrCIPMalformedPacket, len(data))
	}
	h := header{
		Command:       command,
		Length:        uint16(len(data)),
		SessionHandle: sessionHandle,
	}
	binary.LittleEndian.PutUint64(h.SenderContext[:], senderContext)

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(data)))
	h.encode(buf)
	buf.Write(data)
	return buf.Bytes(), nil
}

// readPacket reads one complete encapsulation packet from the transport.
func readPacket(r io.Reader) (header, []byte, error) {
	var hb [headerSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return header{}, nil, err
	}
	h, err := decodeHeader(hb[:])
	if err != nil {
		return header{}, nil, err
	}
	if h.Length == 0 {
		return h, nil, nil
	}
	data := make([]byte, h.Length)
	if _, err := io.ReadFull(r, data); err != nil {
		return header{}, nil, err
	}
	return h, data, nil
}

// registerSessionData is the 4-byte RegisterSession command body: requested
// protocol version and an options flags word, both zero-extended.
func registerSessionData() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:2], protocolVer)
	return b
}

// sendRRData wraps a CIP request in the SendRRData command body: interface
// handle 0 (CIP), a timeout word, and a two-item Common Packet Format — a
// null address item followed by an unconnected data item carrying the CIP
// payload.
func sendRRData(cip []byte, timeoutSecs uint16) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 16+len(cip)))

	var iface [4]byte // interface handle 0 = CIP
	buf.Write(iface[:])

	var w [2]byte
	binary.LittleEndian.PutUint16(w[:], timeoutSecs)
	buf.Write(w[:])

	binary.LittleEndian.PutUint16(w[:], 2) // item count
	buf.Write(w[:])

	binary.LittleEndian.PutUint16(w[:], cpfItemNullAddress)
	buf.Write(w[:])
	binary.LittleEndian.PutUint16(w[:], 0) // null address item length
	buf.Write(w[:])

	binary.LittleEndian.PutUint16(w[:], cpfItemUnconnectedData)
	buf.Write(w[:])
	binary.LittleEndian.PutUint16(w[:], uint16(len(cip)))
	buf.Write(w[:])
	buf.Write(cip)

	return buf.Bytes()
}

// parseRRData extracts the CIP payload from a SendRRData reply body by
// walking the Common Packet Format items until the unconnected data item.
func parseRRData(data []byte) ([]byte, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: SendRRData body is %d bytes", domain.ErrCIPTruncatedReply, len(data))
	}
	// Skip interface handle (4) and timeout (2).
	itemCount := int(binary.LittleEndian.Uint16(data[6:8]))
	off := 8
	for i := 0; i < itemCount; i++ {
		if off+4 > len(data) {
			return nil, fmt.Errorf("%w: CPF item %d header", domain.ErrCIPTruncatedReply, i)
		}
		itemType := binary.LittleEndian.Uint16(data[off : off+2])
		itemLen := int(binary.LittleEndian.Uint16(data[off+2 : off+4]))
		off += 4
		if off+itemLen > len(data) {
			return nil, fmt.Errorf("%w: CPF item %d body", domain.ErrCIPTruncatedReply, i)
		}
		if itemType == cpfItemUnconnectedData {
			return data[off : off+itemLen], nil
		}
		off += itemLen
	}
	return nil, fmt.Errorf("%w: no unconnected data item", domain.ErrCIPMalformedPacket)
}

// encapStatusText maps the common encapsulation status codes to text.
func encapStatusText(status uint32) string {
	switch status {
	case 0x0000:
		return "success"
	case 0x0001:
		return "invalid or unsupported command"
	case 0x0002:
		return "insufficient memory"
	case 0x0003:
		return "incorrectly formed data"
	case 0x0064:
		return "invalid session handle"
	case 0x0065:
		return "invalid length"
	case 0x0069:
		return "unsupported protocol version"
	default:
		return fmt.Sprintf("status 0x%04X", status)
	}
}
