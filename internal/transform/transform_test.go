package transform

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validRecord = `{
	"run_id": "wf-run-8841",
	"workflow": "build",
	"status": "success",
	"branch": "main",
	"duration_seconds": 127.5,
	"finished_at": "2026-08-30T14:05:00Z"
}`

func TestRecord_Valid(t *testing.T) {
	result, err := Record([]byte(validRecord))
	require.NoError(t, err)

	assert.Equal(t, "wf-run-8841", result.RunKey)
	assert.Equal(t, MetricName, result.Point.Name)
	assert.Equal(t, MetricUnit, result.Point.Unit)
	assert.Equal(t, 127.5, result.Point.Value)
	assert.Equal(t, time.Date(2026, 8, 30, 14, 5, 0, 0, time.UTC), result.Point.Timestamp.UTC())
	assert.Equal(t, []string{"workflow:build", "status:ok", "branch:default"}, result.Point.Tags)
}

func TestRecord_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		record   string
		wantCode string
	}{
		{
			name:     "missing run_id",
			record:   `{"workflow":"build","status":"success","branch":"main","duration_seconds":1,"finished_at":"2026-08-30T14:05:00Z"}`,
			wantCode: ErrCodeMissingField,
		},
		{
			name:     "empty run_id",
			record:   `{"run_id":"","workflow":"build","status":"success","branch":"main","duration_seconds":1,"finished_at":"2026-08-30T14:05:00Z"}`,
			wantCode: ErrCodeMissingField,
		},
		{
			name:     "missing workflow",
			record:   `{"run_id":"r1","status":"success","branch":"main","duration_seconds":1,"finished_at":"2026-08-30T14:05:00Z"}`,
			wantCode: ErrCodeMissingField,
		},
		{
			name:     "non-numeric duration",
			record:   `{"run_id":"r1","workflow":"build","status":"success","branch":"main","duration_seconds":"soon","finished_at":"2026-08-30T14:05:00Z"}`,
			wantCode: ErrCodeBadDuration,
		},
		{
			name:     "unparsable timestamp",
			record:   `{"run_id":"r1","workflow":"build","status":"success","branch":"main","duration_seconds":1,"finished_at":"yesterday"}`,
			wantCode: ErrCodeBadTimestamp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Record([]byte(tt.record))
			require.Error(t, err)

			var reject *RejectError
			require.True(t, errors.As(err, &reject), "want *RejectError, got %T", err)
			assert.Equal(t, tt.wantCode, reject.Code)
		})
	}
}

func TestRecord_StatusBucketing(t *testing.T) {
	tests := []struct {
		status string
		want   string
	}{
		{"success", "status:ok"},
		{"succeeded", "status:ok"},
		{"failure", "status:failed"},
		{"failed", "status:failed"},
		{"cancelled", "status:other"},
		{"timed_out", "status:other"},
	}

	for _, tt := range tests {
		record := `{"run_id":"r1","workflow":"build","status":"` + tt.status +
			`","branch":"main","duration_seconds":1,"finished_at":"2026-08-30T14:05:00Z"}`
		result, err := Record([]byte(record))
		require.NoError(t, err)
		assert.Contains(t, result.Point.Tags, tt.want, "status %q", tt.status)
	}
}

func TestRecord_BranchBucketing(t *testing.T) {
	tests := []struct {
		branch string
		want   string
	}{
		{"main", "branch:default"},
		{"master", "branch:default"},
		{"feature/ledger", "branch:topic"},
	}

	for _, tt := range tests {
		record := `{"run_id":"r1","workflow":"build","status":"success","branch":"` + tt.branch +
			`","duration_seconds":1,"finished_at":"2026-08-30T14:05:00Z"}`
		result, err := Record([]byte(record))
		require.NoError(t, err)
		assert.Contains(t, result.Point.Tags, tt.want, "branch %q", tt.branch)
	}
}

func TestExportRecords_JSONArray(t *testing.T) {
	data := `[{"run_id":"r1"},{"run_id":"r2"}]`

	records := ExportRecords([]byte(data))

	require.Len(t, records, 2)
	assert.JSONEq(t, `{"run_id":"r1"}`, string(records[0]))
	assert.JSONEq(t, `{"run_id":"r2"}`, string(records[1]))
}

func TestExportRecords_NewlineDelimited(t *testing.T) {
	data := "{\"run_id\":\"r1\"}\n\n  \n{\"run_id\":\"r2\"}\n"

	records := ExportRecords([]byte(data))

	require.Len(t, records, 2)
	assert.JSONEq(t, `{"run_id":"r1"}`, string(records[0]))
	assert.JSONEq(t, `{"run_id":"r2"}`, string(records[1]))
}
