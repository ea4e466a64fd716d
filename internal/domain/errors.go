// Package domain contains core business entities.
package domain

import "errors"

// Configuration errors.
var (
	ErrConnectorIDRequired   = errors.New("connector ID is required")
	ErrConnectorNameRequired = errors.New("connector name is required")
	ErrConnectorTypeRequired = errors.New("connector type is required")
	ErrNoTagsDefined         = errors.New("at least one tag mapping must be defined")
	ErrNoSubscriptions       = errors.New("at least one subscription must be defined")
	ErrPollIntervalTooShort  = errors.New("poll interval must be at least 100ms")
	ErrHostRequired          = errors.New("host is required")
	ErrInvalidConfig         = errors.New("invalid configuration")
)

// Connection errors.
var (
	ErrConnectionFailed  = errors.New("connection failed")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrNotConnected      = errors.New("not connected")
	ErrCircuitOpen       = errors.New("circuit breaker is open")
)

// Read/Write errors.
var (
	ErrReadFailed        = errors.New("read operation failed")
	ErrWriteFailed       = errors.New("write operation failed")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrInvalidDataLength = errors.New("invalid data length")
	ErrInvalidDataType   = errors.New("invalid data type")
	ErrTagNotFound       = errors.New("tag not found")
	ErrTagNotWritable    = errors.New("tag is not writable")
)

// EtherNet/IP (CIP) errors.
var (
	ErrCIPSessionRejected  = errors.New("cip: session registration rejected")
	ErrCIPNoSession        = errors.New("cip: no registered session")
	ErrCIPBadReplyService  = errors.New("cip: unexpected reply service code")
	ErrCIPTruncatedReply   = errors.New("cip: truncated reply")
	ErrCIPServiceFault     = errors.New("cip: service returned error status")
	ErrCIPUnsupportedType  = errors.New("cip: unsupported elementary type")
	ErrCIPTagNameTooLong   = errors.New("cip: tag name exceeds symbolic segment limit")
	ErrCIPEncapStatus      = errors.New("cip: encapsulation error status")
	ErrCIPMalformedPacket  = errors.New("cip: malformed encapsulation packet")
	ErrCIPWriteValueBounds = errors.New("cip: write value out of range for type")
)

// MQTT errors.
var (
	ErrMQTTConnectTimeout  = errors.New("mqtt: connect timed out")
	ErrMQTTNotConnected    = errors.New("mqtt: client not connected")
	ErrMQTTSubscribeFailed = errors.New("mqtt: subscribe failed")
	ErrMQTTPublishFailed   = errors.New("mqtt: publish failed")
)

// BACnet errors.
var (
	ErrBACnetReject          = errors.New("bacnet: request rejected")
	ErrBACnetAbort           = errors.New("bacnet: request aborted")
	ErrBACnetErrorPDU        = errors.New("bacnet: error response")
	ErrBACnetInvokeMismatch  = errors.New("bacnet: invoke id mismatch")
	ErrBACnetMalformedAPDU   = errors.New("bacnet: malformed APDU")
	ErrBACnetUnsupportedTag  = errors.New("bacnet: unsupported application tag")
	ErrBACnetInvalidObjectID = errors.New("bacnet: invalid object identifier")
)

// OPC UA errors.
var (
	ErrOPCUAInvalidNodeID = errors.New("opcua: invalid node ID")
	ErrOPCUABadStatus     = errors.New("opcua: bad status code")
	ErrOPCUABrowseFailed  = errors.New("opcua: browse failed")
)

// S7 errors.
var (
	ErrS7InvalidAddress = errors.New("s7: invalid address format")
	ErrS7ReadFailed     = errors.New("s7: read operation failed")
	ErrS7WriteFailed    = errors.New("s7: write operation failed")
)

// Registry/manager errors.
var (
	ErrConnectorExists       = errors.New("connector already registered")
	ErrConnectorNotFound     = errors.New("connector not found")
	ErrManagerClosed         = errors.New("connector manager is closed")
	ErrProtocolNotSupported  = errors.New("protocol not supported")
	ErrBrowseNotSupported    = errors.New("connector does not support browsing")
	ErrWriteNotSupported     = errors.New("connector does not support writes")
	ErrSubscribeNotSupported = errors.New("connector does not support subscriptions")
)
