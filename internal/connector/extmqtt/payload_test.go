package extmqtt

import (
	"testing"
	"time"

	"github.com/sensormine/edge-connectors/internal/config"
	"github.com/sensormine/edge-connectors/internal/domain"
)

func jsonSub() *config.SubscriptionMapping {
	return &config.SubscriptionMapping{
		ID:     "sub-1",
		Topic:  "sensors/#",
		Format: config.PayloadFormatJSON,
	}
}

func pointByTag(t *testing.T, points []*domain.DataPoint, tagID string) *domain.DataPoint {
	t.Helper()
	for _, p := range points {
		if p.TagID == tagID {
			return p
		}
	}
	t.Fatalf("no point with tag %q in %d points", tagID, len(points))
	return nil
}

func TestParseJSONPayload_ObjectFanOut(t *testing.T) {
	payload := []byte(`{"temperature": 21.5, "humidity": 40}`)
	points := parsePayload("conn-1", jsonSub(), "sensors/42/data", payload)

	if len(points) != 2 {
		t.Fatalf("got %d points, want 2", len(points))
	}

	temp := pointByTag(t, points, "sensors/42/data/temperature")
	if temp.Value != 21.5 || temp.DataType != domain.DataTypeFloat64 {
		t.Errorf("temperature = %v (%s), want 21.5 (float64)", temp.Value, temp.DataType)
	}
	if temp.Quality != domain.QualityGood {
		t.Errorf("temperature quality = %s, want good", temp.Quality)
	}
	if temp.Metadata["topic"] != "sensors/42/data" {
		t.Errorf("topic metadata = %q", temp.Metadata["topic"])
	}
	if temp.Metadata["subscription_id"] != "sub-1" {
		t.Errorf("subscription_id metadata = %q", temp.Metadata["subscription_id"])
	}

	hum := pointByTag(t, points, "sensors/42/data/humidity")
	if hum.Value != int64(40) || hum.DataType != domain.DataTypeInt64 {
		t.Errorf("humidity = %v (%T), want int64 40", hum.Value, hum.Value)
	}
}

func TestParseJSONPayload_Malformed(t *testing.T) {
	payload := []byte(`{"temp":`)
	points := parsePayload("conn-1", jsonSub(), "sensors/42/data", payload)

	if len(points) != 1 {
		t.Fatalf("got %d points, want 1", len(points))
	}
	dp := points[0]
	if dp.Quality != domain.QualityUncertain {
		t.Errorf("quality = %s, want uncertain", dp.Quality)
	}
	if dp.Value != `{"temp":` {
		t.Errorf("raw payload not preserved: %v", dp.Value)
	}
	if dp.DataType != domain.DataTypeString {
		t.Errorf("data type = %s, want string", dp.DataType)
	}
}

func TestParseJSONPayload_ScalarRoot(t *testing.T) {
	points := parsePayload("conn-1", jsonSub(), "sensors/1/raw", []byte(`3.14`))
	if len(points) != 1 {
		t.Fatalf("got %d points, want 1", len(points))
	}
	if points[0].Value != 3.14 || points[0].DataType != domain.DataTypeFloat64 {
		t.Errorf("value = %v (%s)", points[0].Value, points[0].DataType)
	}
	if points[0].TagID != "sensors/1/raw" {
		t.Errorf("tag id = %q, want topic", points[0].TagID)
	}
}

func TestParseJSONPayload_DeviceIDAndTimestamp(t *testing.T) {
	sub := jsonSub()
	sub.DeviceIDPath = "meta.device"
	sub.TimestampPath = "ts"

	payload := []byte(`{"meta": {"device": "plc-7"}, "ts": "2026-03-01T12:00:00Z", "level": 8}`)
	points := parsePayload("conn-1", sub, "tanks/3", payload)

	if len(points) != 1 {
		t.Fatalf("got %d points, want 1 (meta and ts keys consumed)", len(points))
	}
	dp := points[0]
	if dp.TagID != "tanks/3/level" {
		t.Errorf("tag id = %q", dp.TagID)
	}
	if dp.Metadata["device_id"] != "plc-7" {
		t.Errorf("device_id metadata = %q, want plc-7", dp.Metadata["device_id"])
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !dp.SourceTimestamp.Equal(want) {
		t.Errorf("source timestamp = %v, want %v", dp.SourceTimestamp, want)
	}
}

func TestParseJSONPayload_UnixMillisTimestamp(t *testing.T) {
	sub := jsonSub()
	sub.TimestampPath = "ts"

	payload := []byte(`{"ts": 1767225600000, "value": 1}`)
	points := parsePayload("conn-1", sub, "a/b", payload)
	dp := pointByTag(t, points, "a/b/value")
	if !dp.SourceTimestamp.Equal(time.UnixMilli(1767225600000)) {
		t.Errorf("source timestamp = %v", dp.SourceTimestamp)
	}
}

func TestParseJSONPayload_UnderscoreKeysSkipped(t *testing.T) {
	payload := []byte(`{"_internal": 1, "flow": 2}`)
	points := parsePayload("conn-1", jsonSub(), "a/b", payload)
	if len(points) != 1 {
		t.Fatalf("got %d points, want 1", len(points))
	}
	if points[0].TagID != "a/b/flow" {
		t.Errorf("tag id = %q, want a/b/flow", points[0].TagID)
	}
}

func TestParsePayload_StringFormat(t *testing.T) {
	sub := jsonSub()
	sub.Format = config.PayloadFormatString
	sub.Unit = "state"

	points := parsePayload("conn-1", sub, "machine/1/mode", []byte("RUNNING"))
	if len(points) != 1 {
		t.Fatalf("got %d points, want 1", len(points))
	}
	dp := points[0]
	if dp.Value != "RUNNING" || dp.DataType != domain.DataTypeString {
		t.Errorf("value = %v (%s)", dp.Value, dp.DataType)
	}
	if dp.Unit != "state" {
		t.Errorf("unit = %q", dp.Unit)
	}
}

func TestParsePayload_Base64Format(t *testing.T) {
	sub := jsonSub()
	sub.Format = config.PayloadFormatBase64

	points := parsePayload("conn-1", sub, "blob/1", []byte("aGVsbG8=")) // "hello"
	if len(points) != 1 {
		t.Fatalf("got %d points, want 1", len(points))
	}
	raw, ok := points[0].Value.([]byte)
	if !ok || string(raw) != "hello" {
		t.Errorf("value = %v, want decoded bytes", points[0].Value)
	}
	if points[0].DataType != domain.DataTypeByteArray {
		t.Errorf("data type = %s, want bytearray", points[0].DataType)
	}

	// Undecodable base64 degrades to an uncertain point.
	points = parsePayload("conn-1", sub, "blob/1", []byte("%%%not-base64%%%"))
	if len(points) != 1 || points[0].Quality != domain.QualityUncertain {
		t.Errorf("bad base64: got %d points, quality %s", len(points), points[0].Quality)
	}
}

func TestCoerceJSON_NestedStructures(t *testing.T) {
	points := parsePayload("conn-1", jsonSub(), "a/b", []byte(`{"tags": [1, 2, 3]}`))
	if len(points) != 1 {
		t.Fatalf("got %d points, want 1", len(points))
	}
	if points[0].DataType != domain.DataTypeArray {
		t.Errorf("data type = %s, want array", points[0].DataType)
	}
	if points[0].Value != "[1,2,3]" {
		t.Errorf("value = %v, want serialized array", points[0].Value)
	}
}

func TestDisplayName(t *testing.T) {
	sub := &config.SubscriptionMapping{ID: "s", Topic: "x/#"}
	if got := displayName(sub, "plant/line1/temp"); got != "temp" {
		t.Errorf("displayName = %q, want temp", got)
	}
	sub.Name = "Line Temp"
	if got := displayName(sub, "plant/line1/temp"); got != "Line Temp" {
		t.Errorf("displayName = %q, want configured name", got)
	}
}
