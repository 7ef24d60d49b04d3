package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNamespace(t *testing.T) {
	if got := Namespace(false, ""); got != "live.db" {
		t.Errorf("Namespace(false, \"\") = %q, want live.db", got)
	}
	if got := Namespace(true, ""); got != "dryrun.db" {
		t.Errorf("Namespace(true, \"\") = %q, want dryrun.db", got)
	}
	if got := Namespace(false, "t42"); got != "live-t42.db" {
		t.Errorf("Namespace(false, t42) = %q, want live-t42.db", got)
	}
	if got := Namespace(true, "t42"); got != "dryrun-t42.db" {
		t.Errorf("Namespace(true, t42) = %q, want dryrun-t42.db", got)
	}
}

func TestOpen_CreatesDirectoryAndDatabase(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ledger")

	l, err := Open(dir, Namespace(false, ""))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer l.Close()

	if _, err := os.Stat(filepath.Join(dir, "live.db")); os.IsNotExist(err) {
		t.Error("ledger database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	dir := t.TempDir()

	for i := 0; i < 3; i++ {
		l, err := Open(dir, Namespace(false, ""))
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		l.Close()
	}
}

func TestMarkDelivered_ThenContains(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)

	if err := l.MarkDelivered(ctx, []string{"wf-1", "wf-2"}); err != nil {
		t.Fatalf("MarkDelivered() failed: %v", err)
	}

	for _, key := range []string{"wf-1", "wf-2"} {
		delivered, err := l.Contains(ctx, key)
		if err != nil {
			t.Fatalf("Contains(%q) failed: %v", key, err)
		}
		if !delivered {
			t.Errorf("Contains(%q) = false, want true", key)
		}
	}

	delivered, err := l.Contains(ctx, "wf-3")
	if err != nil {
		t.Fatalf("Contains(wf-3) failed: %v", err)
	}
	if delivered {
		t.Error("Contains(wf-3) = true for never-delivered key")
	}
}

func TestMarkDelivered_Idempotent(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)

	for i := 0; i < 3; i++ {
		if err := l.MarkDelivered(ctx, []string{"wf-1"}); err != nil {
			t.Fatalf("MarkDelivered() iteration %d failed: %v", i, err)
		}
	}

	count, err := l.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d after repeated inserts of one key, want 1", count)
	}
}

func TestMarkDelivered_EmptyIsNoOp(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)

	if err := l.MarkDelivered(ctx, nil); err != nil {
		t.Fatalf("MarkDelivered(nil) failed: %v", err)
	}
}

func TestFilterUndelivered_PreservesOrder(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)

	if err := l.MarkDelivered(ctx, []string{"wf-2", "wf-4"}); err != nil {
		t.Fatalf("MarkDelivered() failed: %v", err)
	}

	got, err := l.FilterUndelivered(ctx, []string{"wf-1", "wf-2", "wf-3", "wf-4", "wf-5"})
	if err != nil {
		t.Fatalf("FilterUndelivered() failed: %v", err)
	}

	want := []string{"wf-1", "wf-3", "wf-5"}
	if len(got) != len(want) {
		t.Fatalf("FilterUndelivered() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("FilterUndelivered()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReopen_SeesPriorDeliveries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	l1, err := Open(dir, Namespace(false, ""))
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	if err := l1.MarkDelivered(ctx, []string{"wf-1"}); err != nil {
		t.Fatalf("MarkDelivered() failed: %v", err)
	}
	l1.Close()

	l2, err := Open(dir, Namespace(false, ""))
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer l2.Close()

	delivered, err := l2.Contains(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Contains() failed: %v", err)
	}
	if !delivered {
		t.Error("delivery not visible after reopen")
	}
}

func TestNamespaces_AreIsolated(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	live, err := Open(dir, Namespace(false, ""))
	if err != nil {
		t.Fatalf("Open(live) failed: %v", err)
	}
	defer live.Close()

	dry, err := Open(dir, Namespace(true, ""))
	if err != nil {
		t.Fatalf("Open(dryrun) failed: %v", err)
	}
	defer dry.Close()

	if err := dry.MarkDelivered(ctx, []string{"wf-1"}); err != nil {
		t.Fatalf("MarkDelivered() failed: %v", err)
	}

	delivered, err := live.Contains(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Contains() failed: %v", err)
	}
	if delivered {
		t.Error("dry-run delivery leaked into live namespace")
	}
}

func TestKeys_SortedAndEmptyNotNil(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)

	keys, err := l.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	if keys == nil {
		t.Error("Keys() = nil for empty ledger, want empty slice")
	}

	if err := l.MarkDelivered(ctx, []string{"wf-b", "wf-a"}); err != nil {
		t.Fatalf("MarkDelivered() failed: %v", err)
	}

	keys, err = l.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "wf-a" || keys[1] != "wf-b" {
		t.Errorf("Keys() = %v, want [wf-a wf-b]", keys)
	}
}

func openTest(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(t.TempDir(), Namespace(false, ""))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}
