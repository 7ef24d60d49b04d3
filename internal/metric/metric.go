// Package metric defines the gauge point type submitted to the metrics API.
package metric

import (
	"time"

	"golang.org/x/text/unicode/norm"
)

// TypeGauge is the only metric type this tool submits.
const TypeGauge = "gauge"

// Point is a single gauge measurement.
//
// Points are immutable once constructed; NewPoint copies and normalizes
// the tag slice so callers cannot mutate a point after the fact.
type Point struct {
	Name      string
	Value     float64
	Unit      string
	Timestamp time.Time
	Tags      []string
}

// NewPoint constructs a Point with NFC-normalized tags.
//
// Tag strings arrive from warehouse exports which do not guarantee a
// Unicode normal form. Normalizing here means two visually identical
// tags always render identically in the audit log and the API payload.
func NewPoint(name string, value float64, unit string, ts time.Time, tags []string) Point {
	normalized := make([]string, len(tags))
	for i, tag := range tags {
		normalized[i] = norm.NFC.String(tag)
	}
	return Point{
		Name:      name,
		Value:     value,
		Unit:      unit,
		Timestamp: ts,
		Tags:      normalized,
	}
}

// Type returns the metric type for API encoding.
func (p Point) Type() string {
	return TypeGauge
}
