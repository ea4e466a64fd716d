// Package domain contains core business entities.
package domain

import (
	"time"
)

// Quality represents the quality/reliability of a data point.
type Quality string

const (
	QualityGood      Quality = "good"
	QualityBad       Quality = "bad"
	QualityUncertain Quality = "uncertain"
)

// DataType describes the shape of a DataPoint value.
type DataType string

const (
	DataTypeBool      DataType = "bool"
	DataTypeInt16     DataType = "int16"
	DataTypeUInt16    DataType = "uint16"
	DataTypeInt32     DataType = "int32"
	DataTypeUInt32    DataType = "uint32"
	DataTypeInt64     DataType = "int64"
	DataTypeUInt64    DataType = "uint64"
	DataTypeFloat32   DataType = "float32"
	DataTypeFloat64   DataType = "float64"
	DataTypeString    DataType = "string"
	DataTypeByteArray DataType = "bytearray"
	DataTypeArray     DataType = "array"
	DataTypeUnknown   DataType = "unknown"
)

// DataPoint represents a single normalized reading from a connector.
// Every connector emits DataPoints regardless of source protocol.
type DataPoint struct {
	// SourceID identifies the owning connector instance
	SourceID string `json:"source_id"`

	// TagID is the protocol-specific identifier (register name, node id,
	// MQTT topic plus field)
	TagID string `json:"tag_id"`

	// Name is the human-readable label for the tag
	Name string `json:"name"`

	// Value is the decoded payload. Nil when Quality is bad.
	Value interface{} `json:"v"`

	// DataType describes the shape of Value
	DataType DataType `json:"data_type"`

	// Quality indicates whether this reading should be trusted
	Quality Quality `json:"q"`

	// SourceTimestamp is when the device produced the value
	SourceTimestamp time.Time `json:"source_ts"`

	// ReceivedTimestamp is when the connector observed the value
	ReceivedTimestamp time.Time `json:"received_ts"`

	// Unit is the engineering unit
	Unit string `json:"u,omitempty"`

	// Metadata carries protocol-specific provenance (originating topic,
	// schema id, raw CIP type code, ...)
	Metadata map[string]string `json:"meta,omitempty"`
}

// Batch is one connector emission: the points produced by a single poll
// cycle or a single pushed message.
type Batch struct {
	SourceID string       `json:"source_id"`
	Points   []*DataPoint `json:"points"`
}

// NewDataPoint creates a good-quality DataPoint. Both timestamps are set to
// now; use WithSourceTimestamp when the device supplies its own.
func NewDataPoint(sourceID, tagID, name string, value interface{}, dataType DataType, unit string) *DataPoint {
	now := time.Now()
	return &DataPoint{
		SourceID:          sourceID,
		TagID:             tagID,
		Name:              name,
		Value:             value,
		DataType:          dataType,
		Quality:           QualityGood,
		SourceTimestamp:   now,
		ReceivedTimestamp: now,
		Unit:              unit,
	}
}

// NewBadDataPoint creates the DataPoint emitted for a failed read. The value
// is nil and the failure reason is retained in metadata, so one point per
// configured tag is still produced each cycle.
func NewBadDataPoint(sourceID, tagID, name string, readErr error) *DataPoint {
	now := time.Now()
	dp := &DataPoint{
		SourceID:          sourceID,
		TagID:             tagID,
		Name:              name,
		Value:             nil,
		DataType:          DataTypeUnknown,
		Quality:           QualityBad,
		SourceTimestamp:   now,
		ReceivedTimestamp: now,
	}
	if readErr != nil {
		dp.Metadata = map[string]string{"error": readErr.Error()}
	}
	return dp
}

// NewUncertainDataPoint creates a DataPoint for a reading that arrived but
// could not be fully decoded. The raw payload is preserved as the value.
func NewUncertainDataPoint(sourceID, tagID, name string, rawValue interface{}, dataType DataType) *DataPoint {
	now := time.Now()
	return &DataPoint{
		SourceID:          sourceID,
		TagID:             tagID,
		Name:              name,
		Value:             rawValue,
		DataType:          dataType,
		Quality:           QualityUncertain,
		SourceTimestamp:   now,
		ReceivedTimestamp: now,
	}
}

// WithSourceTimestamp sets the device-provided timestamp and returns the
// DataPoint for chaining.
func (dp *DataPoint) WithSourceTimestamp(ts time.Time) *DataPoint {
	dp.SourceTimestamp = ts
	return dp
}

// WithUnit sets the engineering unit and returns the DataPoint for chaining.
func (dp *DataPoint) WithUnit(unit string) *DataPoint {
	dp.Unit = unit
	return dp
}

// WithMetadata merges the given entries into the DataPoint metadata and
// returns it for chaining.
func (dp *DataPoint) WithMetadata(meta map[string]string) *DataPoint {
	if len(meta) == 0 {
		return dp
	}
	if dp.Metadata == nil {
		dp.Metadata = make(map[string]string, len(meta))
	}
	for k, v := range meta {
		dp.Metadata[k] = v
	}
	return dp
}

// SetMeta sets a single metadata entry, allocating the map on first use.
func (dp *DataPoint) SetMeta(key, value string) *DataPoint {
	if dp.Metadata == nil {
		dp.Metadata = make(map[string]string, 4)
	}
	dp.Metadata[key] = value
	return dp
}
