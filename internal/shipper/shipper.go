// Package shipper drives batched, deduplicated delivery of metric points.
//
// The shipper owns the at-most-once-per-confirmed-delivery guarantee:
// each run key is submitted to the transport at most once for the life of
// the ledger backing store, and a key is recorded as delivered strictly
// after the transport confirms the batch containing it. Batches are
// processed sequentially - batch N+1's dedup correctness depends on batch
// N's ledger write having completed.
package shipper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/runship/internal/metric"
)

// DefaultBatchSize is used when Options.BatchSize is zero.
const DefaultBatchSize = 10

// Ledger is the durable set of delivered run keys.
type Ledger interface {
	FilterUndelivered(ctx context.Context, keys []string) ([]string, error)
	MarkDelivered(ctx context.Context, keys []string) error
}

// Transport performs the remote submission of one batch of points.
type Transport interface {
	SubmitBatch(ctx context.Context, points []metric.Point) error
}

// Audit records human-readable detail of each non-empty sub-batch.
// Audit failures never affect delivery control flow; they are logged
// and processing continues.
type Audit interface {
	WriteBatch(dryRun bool, points []metric.Point) error
}

// Options configures a Shipper.
type Options struct {
	// DryRun skips the transport call and marks deliveries in the
	// dry-run ledger the caller supplied.
	DryRun bool

	// BatchSize is the maximum number of pairs per transport call.
	// Zero means DefaultBatchSize.
	BatchSize int
}

// Result summarizes a completed Submit call.
type Result struct {
	BatchesSent int // transport calls made (or audited batches in dry-run)
	PointsSent  int // points across those batches
	Skipped     int // pairs filtered out as already delivered
}

// Shipper pairs points with run keys, filters against the ledger, and
// delivers undelivered pairs in bounded batches.
//
// A Shipper holds no internal queue and no locks: callers must serialize
// Submit calls within a process.
type Shipper struct {
	ledger    Ledger
	transport Transport
	audit     Audit
	opts      Options
	log       *slog.Logger
}

// New creates a Shipper. BatchSize must be non-negative; zero selects
// DefaultBatchSize.
func New(ledger Ledger, transport Transport, audit Audit, opts Options, log *slog.Logger) (*Shipper, error) {
	if opts.BatchSize < 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Shipper{
		ledger:    ledger,
		transport: transport,
		audit:     audit,
		opts:      opts,
		log:       log,
	}, nil
}

// pair binds one point to its run key. Pairs are formed index-wise
// before any filtering and are never re-indexed afterwards.
type pair struct {
	point metric.Point
	key   string
}

// Submit delivers the given points, each correlated index-wise with the
// run key at the same position.
//
// Already-delivered keys are skipped. The remaining pairs are processed
// in consecutive windows of at most BatchSize, in input order. For each
// non-empty sub-batch an audit record is written, then either the dry-run
// ledger is marked (dry-run mode) or the transport is called and the live
// ledger marked on success. The first transport or ledger-write failure
// aborts the call; no later window is processed.
//
// Retrying a failed Submit with the same arguments is safe: confirmed
// keys are filtered out again on the next call.
func (s *Shipper) Submit(ctx context.Context, points []metric.Point, keys []string) (Result, error) {
	if len(points) != len(keys) {
		return Result{}, &ShipError{
			Code:    ErrCodePairingMismatch,
			Message: fmt.Sprintf("%d points vs %d run keys", len(points), len(keys)),
			Batch:   -1,
		}
	}

	pairs := make([]pair, len(points))
	for i := range points {
		pairs[i] = pair{point: points[i], key: keys[i]}
	}

	var result Result
	for start, batch := 0, 0; start < len(pairs); start, batch = start+s.opts.BatchSize, batch+1 {
		end := min(start+s.opts.BatchSize, len(pairs))
		window := pairs[start:end]

		sub := s.undelivered(ctx, window, batch)
		result.Skipped += len(window) - len(sub)
		if len(sub) == 0 {
			s.log.Debug("batch already delivered", "batch", batch, "size", len(window))
			continue
		}

		subPoints := make([]metric.Point, len(sub))
		subKeys := make([]string, len(sub))
		for i, p := range sub {
			subPoints[i] = p.point
			subKeys[i] = p.key
		}

		if err := s.audit.WriteBatch(s.opts.DryRun, subPoints); err != nil {
			s.log.Warn("audit write failed", "batch", batch, "error", err)
		}

		if s.opts.DryRun {
			s.log.Info("dry run: skipping transport", "batch", batch, "points", len(subPoints))
			if err := s.ledger.MarkDelivered(ctx, subKeys); err != nil {
				return result, &ShipError{Code: ErrCodeLedgerIO, Message: "recording dry-run delivery", Batch: batch, Err: err}
			}
		} else {
			if err := s.transport.SubmitBatch(ctx, subPoints); err != nil {
				return result, transportError(err, batch)
			}
			if err := s.ledger.MarkDelivered(ctx, subKeys); err != nil {
				return result, &ShipError{Code: ErrCodeLedgerIO, Message: "recording confirmed delivery", Batch: batch, Err: err}
			}
		}

		result.BatchesSent++
		result.PointsSent += len(subPoints)
		s.log.Info("batch delivered", "batch", batch, "points", len(subPoints), "dry_run", s.opts.DryRun)
	}

	return result, nil
}

// undelivered returns the window's pairs whose key the ledger has not
// confirmed, preserving window order.
//
// A ledger read failure is handled fail-open: the whole window is treated
// as undelivered and a warning is logged. Redundant delivery is the
// accepted cost; silently dropping a run is not.
func (s *Shipper) undelivered(ctx context.Context, window []pair, batch int) []pair {
	keys := make([]string, len(window))
	for i, p := range window {
		keys[i] = p.key
	}

	remaining, err := s.ledger.FilterUndelivered(ctx, keys)
	if err != nil {
		s.log.Warn("ledger read failed, treating batch as undelivered", "batch", batch, "error", err)
		return window
	}

	keep := make(map[string]bool, len(remaining))
	for _, key := range remaining {
		keep[key] = true
	}

	var sub []pair
	for _, p := range window {
		if keep[p.key] {
			sub = append(sub, p)
		}
	}
	return sub
}

// transportError classifies a transport failure. Errors implementing
// TransportError keep their message; anything else is normalized so the
// caller never depends on an arbitrary error shape.
func transportError(err error, batch int) *ShipError {
	var te TransportError
	if errors.As(err, &te) {
		return &ShipError{Code: ErrCodeTransportFailed, Message: te.Error(), Batch: batch, Err: err}
	}
	return &ShipError{Code: ErrCodeTransportUnknown, Message: "unexpected transport failure", Batch: batch, Err: err}
}
