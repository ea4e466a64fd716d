// Package extmqtt implements the external MQTT broker connector: a
// subscription connector mapping broker topics to normalized data points.
package extmqtt

import (
	"strings"
)

// topicMatches evaluates MQTT topic filter semantics segment by segment:
// "+" matches exactly one level, "#" matches the remainder of the topic
// regardless of depth.
func topicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}

	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")

	for i, f := range fs {
		if f == "#" {
			// "#" must be the last filter segment and matches any
			// remaining depth, including zero.
			return i == len(fs)-1
		}
		if i >= len(ts) {
			return false
		}
		if f == "+" {
			continue
		}
		if f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}

// bestFilter picks the filter that should handle a topic: an exact match
// wins outright; otherwise the longest (most segments, then most bytes)
// matching wildcard filter applies.
func bestFilter(filters []string, topic string) (string, bool) {
	best := ""
	bestSegs := -1
	found := false

	for _, f := range filters {
		if f == topic {
			return f, true
		}
		if !topicMatches(f, topic) {
			continue
		}
		segs := strings.Count(f, "/")
		if segs > bestSegs || (segs == bestSegs && len(f) > len(best)) {
			best = f
			bestSegs = segs
			found = true
		}
	}
	return best, found
}
