package extmqtt

import "testing"

func TestTopicMatches(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{filter: "sensors/42/temp", topic: "sensors/42/temp", want: true},
		{filter: "sensors/42/temp", topic: "sensors/42/humidity", want: false},
		{filter: "sensors/+/temp", topic: "sensors/42/temp", want: true},
		{filter: "sensors/+/temp", topic: "sensors/42/sub/temp", want: false},
		{filter: "sensors/+/temp", topic: "sensors/temp", want: false},
		{filter: "sensors/#", topic: "sensors/42/temp", want: true},
		{filter: "sensors/#", topic: "sensors/42/sub/temp", want: true},
		{filter: "sensors/#", topic: "sensors", want: true},
		{filter: "#", topic: "anything/at/all", want: true},
		{filter: "+/+", topic: "a/b", want: true},
		{filter: "+/+", topic: "a/b/c", want: false},
		{filter: "sensors/#/temp", topic: "sensors/42/temp", want: false},
		{filter: "sensors/42", topic: "sensors/42/temp", want: false},
	}

	for _, tt := range tests {
		if got := topicMatches(tt.filter, tt.topic); got != tt.want {
			t.Errorf("topicMatches(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}

func TestBestFilter(t *testing.T) {
	filters := []string{"sensors/#", "sensors/+/temp", "sensors/42/temp", "plant/#"}

	tests := []struct {
		name  string
		topic string
		want  string
		found bool
	}{
		{name: "exact match wins", topic: "sensors/42/temp", want: "sensors/42/temp", found: true},
		{name: "deepest wildcard wins", topic: "sensors/7/temp", want: "sensors/+/temp", found: true},
		{name: "catch-all as fallback", topic: "sensors/7/pressure", want: "sensors/#", found: true},
		{name: "different branch", topic: "plant/boiler/state", want: "plant/#", found: true},
		{name: "no match", topic: "actuators/1", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := bestFilter(filters, tt.topic)
			if found != tt.found {
				t.Fatalf("bestFilter(%q) found = %v, want %v", tt.topic, found, tt.found)
			}
			if found && got != tt.want {
				t.Errorf("bestFilter(%q) = %q, want %q", tt.topic, got, tt.want)
			}
		})
	}
}
