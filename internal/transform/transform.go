// Package transform converts warehouse export records into metric points.
//
// The warehouse exports one JSON object per workflow run. Transformation
// is a pure function: a record either yields exactly one gauge point plus
// the run key used for delivery dedup, or a typed rejection. Rejected
// records are omitted entirely - the caller builds parallel points/keys
// slices with no gaps, which is what makes the coordinator's length
// precondition meaningful.
package transform

import (
	"bytes"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/roach88/runship/internal/metric"
)

// MetricName is the gauge every workflow run is reported under.
const MetricName = "ci.workflow.run.duration"

// MetricUnit is the unit of the reported gauge value.
const MetricUnit = "second"

// Rejection reason codes.
const (
	ErrCodeMissingField = "MISSING_FIELD"
	ErrCodeBadTimestamp = "BAD_TIMESTAMP"
	ErrCodeBadDuration  = "BAD_DURATION"
)

// RejectError explains why a record produced no metric point.
type RejectError struct {
	Code    string
	Field   string
	Message string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s: field %q: %s", e.Code, e.Field, e.Message)
}

// Result pairs a transformed point with its stable run key.
type Result struct {
	Point  metric.Point
	RunKey string
}

// Record transforms one raw warehouse record.
//
// Required fields: run_id, workflow, status, branch, duration_seconds,
// finished_at (RFC 3339). The run key is the warehouse run_id verbatim -
// opaque here, stable across re-exports of the same run.
func Record(raw []byte) (Result, error) {
	required := []string{"run_id", "workflow", "status", "branch", "duration_seconds", "finished_at"}
	for _, field := range required {
		if !gjson.GetBytes(raw, field).Exists() {
			return Result{}, &RejectError{Code: ErrCodeMissingField, Field: field, Message: "not present"}
		}
	}

	runKey := gjson.GetBytes(raw, "run_id").String()
	if runKey == "" {
		return Result{}, &RejectError{Code: ErrCodeMissingField, Field: "run_id", Message: "empty"}
	}
	workflow := gjson.GetBytes(raw, "workflow").String()
	if workflow == "" {
		return Result{}, &RejectError{Code: ErrCodeMissingField, Field: "workflow", Message: "empty"}
	}

	duration := gjson.GetBytes(raw, "duration_seconds")
	if duration.Type != gjson.Number {
		return Result{}, &RejectError{Code: ErrCodeBadDuration, Field: "duration_seconds", Message: "not a number"}
	}

	finishedAt, err := time.Parse(time.RFC3339, gjson.GetBytes(raw, "finished_at").String())
	if err != nil {
		return Result{}, &RejectError{Code: ErrCodeBadTimestamp, Field: "finished_at", Message: err.Error()}
	}

	tags := []string{
		"workflow:" + workflow,
		"status:" + statusTag(gjson.GetBytes(raw, "status").String()),
		"branch:" + branchTag(gjson.GetBytes(raw, "branch").String()),
	}

	point := metric.NewPoint(MetricName, duration.Float(), MetricUnit, finishedAt, tags)
	return Result{Point: point, RunKey: runKey}, nil
}

// statusTag buckets warehouse status values into a closed tag set so a
// new upstream status cannot explode tag cardinality.
func statusTag(status string) string {
	switch status {
	case "success", "succeeded":
		return "ok"
	case "failure", "failed":
		return "failed"
	default:
		return "other"
	}
}

// branchTag distinguishes the default branch from topic branches.
// Per-branch tags are deliberately avoided (unbounded cardinality).
func branchTag(branch string) string {
	switch branch {
	case "main", "master":
		return "default"
	default:
		return "topic"
	}
}

// ExportRecords splits a raw export file into individual record payloads.
//
// Exports come in two shapes: a single JSON array, or newline-delimited
// JSON objects. Blank lines are skipped. Individual record validity is
// not checked here; Record rejects malformed entries one at a time.
func ExportRecords(data []byte) [][]byte {
	parsed := gjson.ParseBytes(data)
	if parsed.IsArray() {
		var records [][]byte
		parsed.ForEach(func(_, value gjson.Result) bool {
			records = append(records, []byte(value.Raw))
			return true
		})
		return records
	}

	var records [][]byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			records = append(records, line)
		}
	}
	return records
}
