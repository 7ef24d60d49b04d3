// Package audit writes human-readable records of every delivered batch.
//
// One artifact is written per non-empty sub-batch, in both live and dry
// run modes, so operators can inspect exactly what was (or would have
// been) sent. Artifact names carry a nanosecond UTC timestamp, which
// keeps concurrent invocations from colliding on a shared audit dir.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/runship/internal/metric"
)

// Writer writes one file per audited batch under Dir.
type Writer struct {
	dir string

	// now is the clock used for artifact naming and the header line.
	// Overridable for deterministic tests.
	now func() time.Time
}

// NewWriter creates the audit directory if absent and returns a Writer.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	return &Writer{dir: dir, now: time.Now}, nil
}

// WithClock returns a copy of the writer using the given clock.
func (w *Writer) WithClock(now func() time.Time) *Writer {
	return &Writer{dir: w.dir, now: now}
}

// WriteBatch renders the batch to a new timestamped artifact.
func (w *Writer) WriteBatch(dryRun bool, points []metric.Point) error {
	ts := w.now().UTC()
	name := "batch-" + ts.Format("20060102T150405.000000000Z") + ".log"
	path := filepath.Join(w.dir, name)

	content := Render(ts, dryRun, points)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write audit artifact: %w", err)
	}
	return nil
}

// Render produces the artifact text. Split from WriteBatch so tests can
// golden-compare content without touching the filesystem clock.
func Render(ts time.Time, dryRun bool, points []metric.Point) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# metrics batch %s\n", ts.UTC().Format(time.RFC3339Nano))
	if dryRun {
		b.WriteString("# DRY RUN - nothing was sent\n")
	}
	b.WriteString("\n")

	for _, p := range points {
		fmt.Fprintf(&b, "metric: %s\n", p.Name)
		fmt.Fprintf(&b, "  type: %s\n", p.Type())
		fmt.Fprintf(&b, "  unit: %s\n", p.Unit)
		fmt.Fprintf(&b, "  timestamp: %d (%s)\n", p.Timestamp.Unix(), p.Timestamp.UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "  value: %s\n", strconv.FormatFloat(p.Value, 'g', -1, 64))
		fmt.Fprintf(&b, "  tags: %s\n", strings.Join(p.Tags, ", "))
	}

	return b.String()
}
