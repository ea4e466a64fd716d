package extmqtt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/sensormine/edge-connectors/internal/config"
	"github.com/sensormine/edge-connectors/internal/domain"
)

// parsePayload converts one broker message into data points according to
// the subscription's configured payload format. It never returns zero
// points for a non-empty message: undecodable payloads degrade to a single
// uncertain-quality point carrying the raw string.
func parsePayload(sourceID string, sub *config.SubscriptionMapping, topic string, payload []byte) []*domain.DataPoint {
	switch sub.Format {
	case config.PayloadFormatString:
		dp := domain.NewDataPoint(sourceID, topic, displayName(sub, topic), string(payload), domain.DataTypeString, sub.Unit)
		annotate(dp, sub, topic)
		return []*domain.DataPoint{dp}

	case config.PayloadFormatBase64:
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(payload)))
		if err != nil {
			dp := domain.NewUncertainDataPoint(sourceID, topic, displayName(sub, topic), string(payload), domain.DataTypeString)
			annotate(dp, sub, topic)
			return []*domain.DataPoint{dp}
		}
		dp := domain.NewDataPoint(sourceID, topic, displayName(sub, topic), raw, domain.DataTypeByteArray, sub.Unit)
		annotate(dp, sub, topic)
		return []*domain.DataPoint{dp}

	default: // JSON
		return parseJSONPayload(sourceID, sub, topic, payload)
	}
}

func parseJSONPayload(sourceID string, sub *config.SubscriptionMapping, topic string, payload []byte) []*domain.DataPoint {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var root interface{}
	if err := dec.Decode(&root); err != nil {
		// Malformed JSON degrades to a single uncertain point with the
		// raw payload preserved; the message is never dropped.
		dp := domain.NewUncertainDataPoint(sourceID, topic, displayName(sub, topic), string(payload), domain.DataTypeString)
		annotate(dp, sub, topic)
		return []*domain.DataPoint{dp}
	}

	obj, isObject := root.(map[string]interface{})
	if !isObject {
		// Scalar (or array) root: exactly one point for the whole message.
		value, dataType := coerceJSON(root)
		dp := domain.NewDataPoint(sourceID, topic, displayName(sub, topic), value, dataType, sub.Unit)
		annotate(dp, sub, topic)
		return []*domain.DataPoint{dp}
	}

	deviceID := lookupString(obj, sub.DeviceIDPath)
	sourceTS, tsOK := lookupTimestamp(obj, sub.TimestampPath)

	deviceIDRoot := pathRoot(sub.DeviceIDPath)
	timestampRoot := pathRoot(sub.TimestampPath)

	points := make([]*domain.DataPoint, 0, len(obj))
	for key, raw := range obj {
		if strings.HasPrefix(key, "_") {
			continue
		}
		if key == deviceIDRoot || key == timestampRoot {
			continue
		}

		value, dataType := coerceJSON(raw)
		dp := domain.NewDataPoint(sourceID, topic+"/"+key, key, value, dataType, sub.Unit)
		if tsOK {
			dp.WithSourceTimestamp(sourceTS)
		}
		if deviceID != "" {
			dp.SetMeta("device_id", deviceID)
		}
		annotate(dp, sub, topic)
		points = append(points, dp)
	}

	if len(points) == 0 {
		// Object with only skipped keys still produces one point so the
		// message is observable downstream.
		value, dataType := coerceJSON(root)
		dp := domain.NewDataPoint(sourceID, topic, displayName(sub, topic), value, dataType, sub.Unit)
		annotate(dp, sub, topic)
		points = append(points, dp)
	}
	return points
}

// coerceJSON maps a decoded JSON value to the nearest DataType, preferring
// integers over floats for whole numbers. Nested arrays and objects are
// serialized back to text.
func coerceJSON(v interface{}) (interface{}, domain.DataType) {
	switch x := v.(type) {
	case nil:
		return nil, domain.DataTypeUnknown
	case bool:
		return x, domain.DataTypeBool
	case string:
		return x, domain.DataTypeString
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, domain.DataTypeInt64
		}
		if f, err := x.Float64(); err == nil {
			return f, domain.DataTypeFloat64
		}
		return x.String(), domain.DataTypeString
	case []interface{}:
		text, err := json.Marshal(x)
		if err != nil {
			return "[]", domain.DataTypeArray
		}
		return string(text), domain.DataTypeArray
	case map[string]interface{}:
		text, err := json.Marshal(x)
		if err != nil {
			return "{}", domain.DataTypeString
		}
		return string(text), domain.DataTypeString
	default:
		return x, domain.DataTypeUnknown
	}
}

// lookupPath walks a dotted JSON path through nested objects.
func lookupPath(obj map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var cur interface{} = obj
	for _, seg := range segments {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func lookupString(obj map[string]interface{}, path string) string {
	v, ok := lookupPath(obj, path)
	if !ok {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return ""
	}
}

// lookupTimestamp extracts a source timestamp from a dotted path: RFC3339
// strings or Unix milliseconds. Unparsable timestamps fall back to receipt
// time (by returning not-ok).
func lookupTimestamp(obj map[string]interface{}, path string) (time.Time, bool) {
	v, ok := lookupPath(obj, path)
	if !ok {
		return time.Time{}, false
	}
	switch x := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339, x); err == nil {
			return ts, true
		}
		if ts, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return ts, true
		}
		if ms, err := strconv.ParseInt(x, 10, 64); err == nil {
			return time.UnixMilli(ms), true
		}
		return time.Time{}, false
	case json.Number:
		if ms, err := x.Int64(); err == nil {
			return time.UnixMilli(ms), true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

func pathRoot(path string) string {
	if path == "" {
		return ""
	}
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

func displayName(sub *config.SubscriptionMapping, topic string) string {
	if sub.Name != "" {
		return sub.Name
	}
	if i := strings.LastIndexByte(topic, '/'); i >= 0 && i < len(topic)-1 {
		return topic[i+1:]
	}
	return topic
}

// annotate stamps the provenance metadata every point from this
// subscription carries.
func annotate(dp *domain.DataPoint, sub *config.SubscriptionMapping, topic string) {
	dp.SetMeta("topic", topic)
	dp.SetMeta("subscription_id", sub.ID)
	if sub.SchemaID != "" {
		dp.SetMeta("schema_id", sub.SchemaID)
	}
}
