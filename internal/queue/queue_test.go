package queue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/CygnusNetworks/gonotifyd/internal/retry"
	"github.com/CygnusNetworks/gonotifyd/internal/testlib"
)

func mustPolicy(t *testing.T, tokens []string, providers ...string) retry.Policy {
	t.Helper()
	known := map[string]bool{}
	for _, p := range providers {
		known[p] = true
	}
	p, err := retry.Parse(tokens, func(name string) bool { return known[name] })
	if err != nil {
		t.Fatalf("retry.Parse(%v): %v", tokens, err)
	}
	return p
}

func TestEnqueueAndFindNext(t *testing.T) {
	dir := testlib.MustTempDir(t)
	defer testlib.RemoveIfOk(t, dir)

	q, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	policy := mustPolicy(t, []string{"mock1"}, "mock1")
	e, err := q.Enqueue("alice", "hi", policy)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if e.Step != 0 {
		t.Errorf("Step = %d, want 0", e.Step)
	}

	got, ok, err := q.FindNext()
	if err != nil || !ok {
		t.Fatalf("FindNext: ok=%v err=%v", ok, err)
	}
	if !got.Equal(e) {
		t.Errorf("FindNext returned %v, want %v", got, e)
	}

	contact, body, err := q.GetContents(got)
	if err != nil {
		t.Fatalf("GetContents: %v", err)
	}
	if contact != "alice" || body != "hi" {
		t.Errorf("GetContents = (%q, %q), want (alice, hi)", contact, body)
	}
}

func TestEnqueueSkipsLeadingWait(t *testing.T) {
	dir := testlib.MustTempDir(t)
	defer testlib.RemoveIfOk(t, dir)

	q, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	policy := mustPolicy(t, []string{"3600", "mock1"}, "mock1")
	e, err := q.Enqueue("alice", "hi", policy)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if e.Step != 1 {
		t.Errorf("Step = %d, want 1 (past the leading wait)", e.Step)
	}
	if e.Deadline <= 0 {
		t.Errorf("Deadline not set")
	}
}

func TestFindNextEarliestDeadlineWins(t *testing.T) {
	dir := testlib.MustTempDir(t)
	defer testlib.RemoveIfOk(t, dir)

	q, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	later := Entry{Deadline: 2000000000, Step: 0, UID: "later"}
	earlier := Entry{Deadline: 1000000000, Step: 0, UID: "earlier"}
	for _, e := range []Entry{later, earlier} {
		if err := q.write(e, []byte("c\nb")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	got, ok, err := q.FindNext()
	if err != nil || !ok {
		t.Fatalf("FindNext: ok=%v err=%v", ok, err)
	}
	if !got.Equal(earlier) {
		t.Errorf("FindNext = %v, want the earlier entry", got)
	}
}

func TestFindNextIgnoresTmpAndLock(t *testing.T) {
	dir := testlib.MustTempDir(t)
	defer testlib.RemoveIfOk(t, dir)

	q, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	committed := Entry{Deadline: 1, Step: 0, UID: "abc"}
	if err := q.write(committed, []byte("c\nb")); err != nil {
		t.Fatal(err)
	}

	leftover := Entry{Deadline: 2, Step: 0, UID: "leftover", Temporary: true}
	if err := os.WriteFile(filepath.Join(dir, leftover.Filename()), []byte("c\nb"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("12345", q.LockPath()); err != nil {
		t.Fatal(err)
	}

	entries, err := q.IterEntries()
	if err != nil {
		t.Fatalf("IterEntries: %v", err)
	}
	if len(entries) != 1 || !entries[0].Equal(committed) {
		t.Errorf("IterEntries = %v, want just the committed entry", entries)
	}
}

func TestAdvanceFastSkipsWait(t *testing.T) {
	dir := testlib.MustTempDir(t)
	defer testlib.RemoveIfOk(t, dir)

	q, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	policy := mustPolicy(t, []string{"perm", "3600", "mock1"}, "perm", "mock1")
	noWaitPolicy := mustPolicy(t, []string{"perm"}, "perm")
	e, err := q.Enqueue("alice", "hi", noWaitPolicy)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	next, err := q.Advance(e, policy, true)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if next.Step != 2 {
		t.Errorf("Step = %d, want 2 (fast skip past the wait)", next.Step)
	}
	if next.Deadline != e.Deadline {
		t.Errorf("Deadline = %d, want unchanged %d (fast skip)", next.Deadline, e.Deadline)
	}
	want := retry.Step{Kind: retry.Provider, ProviderName: "mock1"}
	if diff := cmp.Diff(want, policy.Resolve(next.Step)); diff != "" {
		t.Errorf("policy.Resolve(%d) mismatch (-want +got):\n%s", next.Step, diff)
	}
}

func TestAdvanceHonorsWaitWhenNotFast(t *testing.T) {
	dir := testlib.MustTempDir(t)
	defer testlib.RemoveIfOk(t, dir)

	q, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	policy := mustPolicy(t, []string{"temp", "60", "mock1"}, "temp", "mock1")
	e, err := q.Enqueue("alice", "hi", policy)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	next, err := q.Advance(e, policy, false)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if next.Step != 2 {
		t.Errorf("Step = %d, want 2", next.Step)
	}
	if next.Deadline < e.Deadline+60 {
		t.Errorf("Deadline = %d, want at least %d (60s wait honored)", next.Deadline, e.Deadline+60)
	}
}

func TestAdvanceReachesGiveUp(t *testing.T) {
	dir := testlib.MustTempDir(t)
	defer testlib.RemoveIfOk(t, dir)

	q, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	policy := mustPolicy(t, []string{"temp"}, "temp")
	e, err := q.Enqueue("alice", "hi", policy)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	next, err := q.Advance(e, policy, false)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if diff := cmp.Diff(retry.Step{Kind: retry.GiveUp}, policy.Resolve(next.Step)); diff != "" {
		t.Errorf("policy.Resolve(%d) mismatch (-want +got):\n%s", next.Step, diff)
	}

	// The entry is still on disk at this point: the delivery loop, not
	// Advance, is responsible for noticing GiveUp and calling Done.
	entries, err := q.IterEntries()
	if err != nil {
		t.Fatalf("IterEntries: %v", err)
	}
	if len(entries) != 1 || !entries[0].Equal(next) {
		t.Errorf("entries = %v, want the advanced entry still present", entries)
	}

	if err := q.Done(next); err != nil {
		t.Fatalf("Done: %v", err)
	}
	entries, err = q.IterEntries()
	if err != nil {
		t.Fatalf("IterEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %v, want empty after Done", entries)
	}
}

func TestClearLeavesTmpFiles(t *testing.T) {
	dir := testlib.MustTempDir(t)
	defer testlib.RemoveIfOk(t, dir)

	q, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	policy := mustPolicy(t, []string{"mock1"}, "mock1")
	if _, err := q.Enqueue("alice", "hi", policy); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	tmp := Entry{Deadline: 1, Step: 0, UID: "leftover", Temporary: true}
	if err := os.WriteFile(filepath.Join(dir, tmp.Filename()), []byte("c\nb"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := q.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	entries, err := q.IterEntries()
	if err != nil {
		t.Fatalf("IterEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Clear left committed entries: %v", entries)
	}
	if _, err := os.Stat(filepath.Join(dir, tmp.Filename())); err != nil {
		t.Errorf("Clear removed the in-progress .tmp file: %v", err)
	}
}
