// Package testutil provides deterministic fakes shared across test suites.
package testutil

import (
	"context"
	"sync"

	"github.com/roach88/runship/internal/metric"
)

// FakeTransport records every submitted batch and can be scripted to fail.
//
// Thread-safety: all methods are safe for concurrent use via internal
// mutex, matching the real transport's safety even though the shipper
// never calls it concurrently.
type FakeTransport struct {
	mu      sync.Mutex
	batches [][]metric.Point

	// Err, when set, is returned by every SubmitBatch call.
	Err error

	// FailAt, when > 0, makes the FailAt-th call (1-based) return Err.
	// Earlier calls succeed.
	FailAt int
}

// SubmitBatch records the batch unless this call is scripted to fail.
func (f *FakeTransport) SubmitBatch(_ context.Context, points []metric.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := len(f.batches) + 1
	if f.Err != nil && (f.FailAt == 0 || f.FailAt == call) {
		return f.Err
	}

	copied := make([]metric.Point, len(points))
	copy(copied, points)
	f.batches = append(f.batches, copied)
	return nil
}

// Calls returns the number of successful SubmitBatch invocations.
func (f *FakeTransport) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

// Batches returns the recorded batches in submission order.
func (f *FakeTransport) Batches() [][]metric.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches
}

// AuditedBatch is one recorded audit write.
type AuditedBatch struct {
	DryRun bool
	Points []metric.Point
}

// RecordingAudit captures audit writes in memory.
type RecordingAudit struct {
	mu      sync.Mutex
	batches []AuditedBatch

	// Err, when set, is returned by every WriteBatch call.
	Err error
}

// WriteBatch records the batch.
func (a *RecordingAudit) WriteBatch(dryRun bool, points []metric.Point) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	copied := make([]metric.Point, len(points))
	copy(copied, points)
	a.batches = append(a.batches, AuditedBatch{DryRun: dryRun, Points: copied})
	return a.Err
}

// Batches returns the recorded audit writes in order.
func (a *RecordingAudit) Batches() []AuditedBatch {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.batches
}
