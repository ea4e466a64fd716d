package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/sensormine/edge-connectors/internal/domain"
)

func TestNewDataPoint(t *testing.T) {
	before := time.Now()
	dp := domain.NewDataPoint("conn-1", "tag-1", "Temperature", 21.5, domain.DataTypeFloat64, "°C")
	after := time.Now()

	if dp.SourceID != "conn-1" || dp.TagID != "tag-1" || dp.Name != "Temperature" {
		t.Errorf("identity fields = %s/%s/%s", dp.SourceID, dp.TagID, dp.Name)
	}
	if dp.Value != 21.5 || dp.DataType != domain.DataTypeFloat64 || dp.Unit != "°C" {
		t.Errorf("value fields = %v/%s/%s", dp.Value, dp.DataType, dp.Unit)
	}
	if dp.Quality != domain.QualityGood {
		t.Errorf("quality = %s, want good", dp.Quality)
	}
	if dp.ReceivedTimestamp.Before(before) || dp.ReceivedTimestamp.After(after) {
		t.Errorf("received timestamp %v outside [%v, %v]", dp.ReceivedTimestamp, before, after)
	}
	if !dp.SourceTimestamp.Equal(dp.ReceivedTimestamp) {
		t.Error("source timestamp should default to receipt time")
	}
}

func TestNewBadDataPoint(t *testing.T) {
	readErr := errors.New("device unreachable")
	dp := domain.NewBadDataPoint("conn-1", "tag-1", "Temperature", readErr)

	if dp.Quality != domain.QualityBad {
		t.Errorf("quality = %s, want bad", dp.Quality)
	}
	if dp.Value != nil {
		t.Errorf("bad point carries value %v, want nil", dp.Value)
	}
	if dp.Metadata["error"] != "device unreachable" {
		t.Errorf("error metadata = %q", dp.Metadata["error"])
	}

	// A nil error still produces a valid bad point.
	dp = domain.NewBadDataPoint("conn-1", "tag-1", "Temperature", nil)
	if dp.Quality != domain.QualityBad || dp.Metadata != nil {
		t.Errorf("nil-error bad point = quality %s, metadata %v", dp.Quality, dp.Metadata)
	}
}

func TestNewUncertainDataPoint(t *testing.T) {
	dp := domain.NewUncertainDataPoint("conn-1", "tag-1", "Raw", "garbled", domain.DataTypeString)
	if dp.Quality != domain.QualityUncertain {
		t.Errorf("quality = %s, want uncertain", dp.Quality)
	}
	if dp.Value != "garbled" {
		t.Errorf("raw value not preserved: %v", dp.Value)
	}
}

func TestDataPointChaining(t *testing.T) {
	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	dp := domain.NewDataPoint("c", "t", "n", 1, domain.DataTypeInt64, "").
		WithSourceTimestamp(ts).
		WithUnit("rpm").
		WithMetadata(map[string]string{"a": "1", "b": "2"}).
		SetMeta("c", "3")

	if !dp.SourceTimestamp.Equal(ts) {
		t.Errorf("source timestamp = %v, want %v", dp.SourceTimestamp, ts)
	}
	if dp.Unit != "rpm" {
		t.Errorf("unit = %q", dp.Unit)
	}
	for k, want := range map[string]string{"a": "1", "b": "2", "c": "3"} {
		if dp.Metadata[k] != want {
			t.Errorf("metadata[%s] = %q, want %q", k, dp.Metadata[k], want)
		}
	}

	// Empty merge keeps metadata untouched and is allocation-free.
	fresh := domain.NewDataPoint("c", "t", "n", 1, domain.DataTypeInt64, "")
	fresh.WithMetadata(nil)
	if fresh.Metadata != nil {
		t.Error("WithMetadata(nil) allocated a map")
	}
}
