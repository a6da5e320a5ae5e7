package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/connor15mcc/patchpal/internal/protocol"
)

func testHunks(n int, seed string) []protocol.HunkContent {
	hunks := make([]protocol.HunkContent, 0, n)
	for i := 0; i < n; i++ {
		hunks = append(hunks, protocol.HunkContent{
			Path:    fmt.Sprintf("pkg/%s/file%d.go", seed, i),
			Header:  fmt.Sprintf("@@ -%d,3 +%d,4 @@", i+1, i+1),
			Content: fmt.Sprintf("+line %s %d\n", seed, i),
		})
	}
	return hunks
}

func mustSubmit(t *testing.T, r *Registry, session, seed string, n int) SubmitResult {
	t.Helper()
	res, err := r.Submit(session, "github.com/example/"+seed, "", testHunks(n, seed))
	if err != nil {
		t.Fatalf("Submit(%s): %v", seed, err)
	}
	return res
}

func TestSubmitAssignsMonotonicIDs(t *testing.T) {
	r := NewRegistry()

	a := mustSubmit(t, r, "s1", "a", 2)
	b := mustSubmit(t, r, "s1", "b", 3)

	if a.PatchID >= b.PatchID {
		t.Errorf("patch ids not increasing: %d then %d", a.PatchID, b.PatchID)
	}
	var prev uint64
	for _, id := range append(a.HunkIDs, b.HunkIDs...) {
		if id <= prev {
			t.Errorf("hunk ids not strictly increasing: %d after %d", id, prev)
		}
		prev = id
	}
}

func TestConcurrentSubmitsGetDistinctIDs(t *testing.T) {
	r := NewRegistry()

	const n = 32
	results := make([]SubmitResult, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			res, err := r.Submit(fmt.Sprintf("s%d", i), "repo", "", testHunks(2, fmt.Sprintf("c%d", i)))
			if err != nil {
				t.Errorf("Submit %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	seenPatch := make(map[uint64]bool)
	seenHunk := make(map[uint64]bool)
	for _, res := range results {
		if seenPatch[res.PatchID] {
			t.Errorf("patch id %d reused", res.PatchID)
		}
		seenPatch[res.PatchID] = true
		for _, id := range res.HunkIDs {
			if seenHunk[id] {
				t.Errorf("hunk id %d reused", id)
			}
			seenHunk[id] = true
		}
	}
}

func TestDuplicateSubmissionRejected(t *testing.T) {
	r := NewRegistry()

	first := mustSubmit(t, r, "s1", "same", 2)

	// Same content from a different session while the first is outstanding
	_, err := r.Submit("s2", "github.com/example/same", "", testHunks(2, "same"))
	if err == nil {
		t.Fatal("expected DuplicateSubmission, got nil")
	}
	var dup *DuplicateSubmissionError
	if !errors.As(err, &dup) {
		t.Fatalf("expected *DuplicateSubmissionError, got %T: %v", err, err)
	}
	if dup.ExistingPatchID != first.PatchID {
		t.Errorf("duplicate error references patch %d, want %d", dup.ExistingPatchID, first.PatchID)
	}
}

func TestDuplicateAllowedAfterFirstSettles(t *testing.T) {
	r := NewRegistry()

	first := mustSubmit(t, r, "s1", "same", 1)
	h := r.Next()
	if h == nil || h.ID != first.HunkIDs[0] {
		t.Fatalf("Next returned %+v, want hunk %d", h, first.HunkIDs[0])
	}
	if _, err := r.RecordDecision(h.ID, protocol.OutcomeAccepted, "console"); err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}

	// All hunks of the first patch are terminal, so the fingerprint is free
	if _, err := r.Submit("s2", "github.com/example/same", "", testHunks(1, "same")); err != nil {
		t.Errorf("resubmission after settle should succeed: %v", err)
	}
}

func TestSingleActiveReview(t *testing.T) {
	r := NewRegistry()
	mustSubmit(t, r, "s1", "a", 3)

	h1 := r.Next()
	if h1 == nil {
		t.Fatal("Next returned nil for non-empty queue")
	}
	if h1.Status != StatusUnderReview {
		t.Errorf("active hunk status %s, want %s", h1.Status, StatusUnderReview)
	}

	// A second Next while one hunk is active must return nothing
	if h2 := r.Next(); h2 != nil {
		t.Errorf("Next returned hunk %d while %d is under review", h2.ID, h1.ID)
	}

	if _, err := r.RecordDecision(h1.ID, protocol.OutcomeAccepted, "console"); err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}
	if h3 := r.Next(); h3 == nil {
		t.Error("Next should yield the next hunk after a decision")
	}
}

func TestQueuePreservesSubmissionOrder(t *testing.T) {
	r := NewRegistry()
	a := mustSubmit(t, r, "s1", "a", 2)
	b := mustSubmit(t, r, "s2", "b", 2)

	want := append(append([]uint64{}, a.HunkIDs...), b.HunkIDs...)
	for i, id := range want {
		h := r.Next()
		if h == nil {
			t.Fatalf("Next %d returned nil", i)
		}
		if h.ID != id {
			t.Errorf("position %d: got hunk %d, want %d", i, h.ID, id)
		}
		if _, err := r.RecordDecision(h.ID, protocol.OutcomeAccepted, "console"); err != nil {
			t.Fatalf("RecordDecision: %v", err)
		}
	}
}

func TestRecordDecisionGuards(t *testing.T) {
	r := NewRegistry()
	res := mustSubmit(t, r, "s1", "a", 2)

	// Unknown hunk
	if _, err := r.RecordDecision(9999, protocol.OutcomeAccepted, "console"); !errors.Is(err, ErrUnknownHunk) {
		t.Errorf("expected ErrUnknownHunk, got %v", err)
	}

	// Pending but not under review
	if _, err := r.RecordDecision(res.HunkIDs[0], protocol.OutcomeAccepted, "console"); !errors.Is(err, ErrAlreadyDecided) {
		t.Errorf("expected ErrAlreadyDecided for pending hunk, got %v", err)
	}

	h := r.Next()
	if _, err := r.RecordDecision(h.ID, protocol.OutcomeRejected, "console"); err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}

	// Double fire on a terminal hunk
	if _, err := r.RecordDecision(h.ID, protocol.OutcomeAccepted, "console"); !errors.Is(err, ErrAlreadyDecided) {
		t.Errorf("expected ErrAlreadyDecided for decided hunk, got %v", err)
	}

	// Terminal state survives the double fire
	st, err := r.GetStatus(res.PatchID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.Hunks[0].Status != StatusRejected {
		t.Errorf("terminal state changed: %s", st.Hunks[0].Status)
	}
}

func TestDeferRequeuesAtTail(t *testing.T) {
	r := NewRegistry()
	res := mustSubmit(t, r, "s1", "a", 3)

	h := r.Next()
	if h.ID != res.HunkIDs[0] {
		t.Fatalf("expected first hunk %d, got %d", res.HunkIDs[0], h.ID)
	}

	if err := r.Defer(h.ID); err != nil {
		t.Fatalf("Defer: %v", err)
	}

	// Deferred hunk goes back to Pending and the next hunk comes up
	st, _ := r.GetStatus(res.PatchID)
	if st.Hunks[0].Status != StatusPending {
		t.Errorf("deferred hunk status %s, want %s", st.Hunks[0].Status, StatusPending)
	}

	order := []uint64{res.HunkIDs[1], res.HunkIDs[2], res.HunkIDs[0]}
	for i, want := range order {
		got := r.Next()
		if got == nil || got.ID != want {
			t.Fatalf("position %d after defer: got %v, want %d", i, got, want)
		}
		if _, err := r.RecordDecision(got.ID, protocol.OutcomeAccepted, "console"); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDeferGuards(t *testing.T) {
	r := NewRegistry()
	res := mustSubmit(t, r, "s1", "a", 2)

	if err := r.Defer(9999); !errors.Is(err, ErrUnknownHunk) {
		t.Errorf("expected ErrUnknownHunk, got %v", err)
	}
	if err := r.Defer(res.HunkIDs[0]); !errors.Is(err, ErrNotActive) {
		t.Errorf("expected ErrNotActive for pending hunk, got %v", err)
	}
}

func TestCancelSessionScope(t *testing.T) {
	r := NewRegistry()
	mine := mustSubmit(t, r, "s1", "mine", 3)
	other := mustSubmit(t, r, "s2", "other", 2)

	// Put one of s1's hunks under review
	h := r.Next()
	if h.ID != mine.HunkIDs[0] {
		t.Fatalf("unexpected active hunk %d", h.ID)
	}

	cancelled := r.CancelSession("s1")
	if len(cancelled) != 3 {
		t.Fatalf("expected 3 cancelled hunks, got %d", len(cancelled))
	}

	st, _ := r.GetStatus(mine.PatchID)
	for _, e := range st.Hunks {
		if e.Status != StatusCancelled {
			t.Errorf("hunk %d status %s, want cancelled", e.HunkID, e.Status)
		}
	}

	// Other session untouched and next review comes from it
	ost, _ := r.GetStatus(other.PatchID)
	for _, e := range ost.Hunks {
		if e.Status != StatusPending {
			t.Errorf("other session hunk %d status %s, want pending", e.HunkID, e.Status)
		}
	}
	next := r.Next()
	if next == nil || next.PatchID != other.PatchID {
		t.Errorf("Next after cancel should serve the other session, got %+v", next)
	}
}

func TestCancelSessionReleasesFingerprint(t *testing.T) {
	r := NewRegistry()
	mustSubmit(t, r, "s1", "same", 2)

	r.CancelSession("s1")

	if _, err := r.Submit("s2", "github.com/example/same", "", testHunks(2, "same")); err != nil {
		t.Errorf("fingerprint should be released after cancellation: %v", err)
	}
}

func TestCancelSessionNoLiveHunks(t *testing.T) {
	r := NewRegistry()
	if got := r.CancelSession("ghost"); got != nil {
		t.Errorf("expected nil for unknown session, got %v", got)
	}
}

func TestGetStatusUnknownPatch(t *testing.T) {
	r := NewRegistry()
	if _, err := r.GetStatus(123); !errors.Is(err, ErrUnknownPatch) {
		t.Errorf("expected ErrUnknownPatch, got %v", err)
	}
}

func TestSeedIDs(t *testing.T) {
	r := NewRegistry()
	r.SeedIDs(100, 500)

	res := mustSubmit(t, r, "s1", "a", 1)
	if res.PatchID != 100 {
		t.Errorf("expected seeded patch id 100, got %d", res.PatchID)
	}
	if res.HunkIDs[0] != 500 {
		t.Errorf("expected seeded hunk id 500, got %d", res.HunkIDs[0])
	}

	// Lower seeds must not rewind the counters
	r.SeedIDs(1, 1)
	res2 := mustSubmit(t, r, "s1", "b", 1)
	if res2.PatchID <= res.PatchID {
		t.Errorf("patch counter rewound: %d after %d", res2.PatchID, res.PatchID)
	}
}

func TestWakeSignalOnSubmit(t *testing.T) {
	r := NewRegistry()

	select {
	case <-r.Wake():
		t.Fatal("wake should be empty before any submission")
	default:
	}

	mustSubmit(t, r, "s1", "a", 1)

	select {
	case <-r.Wake():
	default:
		t.Error("submit should signal the wake channel")
	}
}

func TestSnapshotCounts(t *testing.T) {
	r := NewRegistry()
	res := mustSubmit(t, r, "s1", "a", 3)

	snap := r.Snapshot()
	if snap.Pending != 3 || snap.Active != nil {
		t.Errorf("fresh snapshot: %+v", snap)
	}

	h := r.Next()
	snap = r.Snapshot()
	if snap.Active == nil || snap.Active.ID != h.ID {
		t.Fatalf("snapshot active mismatch: %+v", snap.Active)
	}
	if snap.ActivePatch == nil || snap.ActivePatch.PatchID != res.PatchID {
		t.Errorf("snapshot active patch mismatch: %+v", snap.ActivePatch)
	}
	if snap.Pending != 2 {
		t.Errorf("snapshot pending %d, want 2", snap.Pending)
	}

	r.RecordDecision(h.ID, protocol.OutcomeAccepted, "console")
	snap = r.Snapshot()
	if snap.Decided != 1 {
		t.Errorf("snapshot decided %d, want 1", snap.Decided)
	}
	if len(snap.Recent) != 1 || snap.Recent[0].HunkID != h.ID {
		t.Errorf("snapshot recent: %+v", snap.Recent)
	}
}

func TestSnapshotRecentTailBoundedOldestFirst(t *testing.T) {
	r := NewRegistry()
	mustSubmit(t, r, "s1", "a", recentKeep+5)

	var decided []uint64
	for i := 0; i < recentKeep+5; i++ {
		h := r.Next()
		if _, err := r.RecordDecision(h.ID, protocol.OutcomeAccepted, "console"); err != nil {
			t.Fatal(err)
		}
		decided = append(decided, h.ID)
	}

	snap := r.Snapshot()
	if len(snap.Recent) != recentKeep {
		t.Fatalf("recent length %d, want %d", len(snap.Recent), recentKeep)
	}
	want := decided[len(decided)-recentKeep:]
	for i, d := range snap.Recent {
		if d.HunkID != want[i] {
			t.Errorf("recent[%d] = hunk %d, want %d", i, d.HunkID, want[i])
		}
	}
}

// notifierRecorder captures dispatcher calls for ordering assertions
type notifierRecorder struct {
	mu    sync.Mutex
	calls []Decision
}

func (n *notifierRecorder) NotifyDecision(sessionID string, hunkID uint64, outcome protocol.Outcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, Decision{HunkID: hunkID, Outcome: outcome, Reviewer: sessionID})
}

func TestNotifierReceivesDecisionsInOrder(t *testing.T) {
	r := NewRegistry()
	rec := &notifierRecorder{}
	r.SetNotifier(rec)

	res := mustSubmit(t, r, "s1", "a", 2)
	for _, outcome := range []protocol.Outcome{protocol.OutcomeAccepted, protocol.OutcomeRejected} {
		h := r.Next()
		if _, err := r.RecordDecision(h.ID, outcome, "console"); err != nil {
			t.Fatal(err)
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.calls) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(rec.calls))
	}
	if rec.calls[0].HunkID != res.HunkIDs[0] || rec.calls[0].Outcome != protocol.OutcomeAccepted {
		t.Errorf("first notification: %+v", rec.calls[0])
	}
	if rec.calls[1].HunkID != res.HunkIDs[1] || rec.calls[1].Outcome != protocol.OutcomeRejected {
		t.Errorf("second notification: %+v", rec.calls[1])
	}
	if rec.calls[0].Reviewer != "s1" {
		t.Errorf("notification routed to session %q, want s1", rec.calls[0].Reviewer)
	}
}

func TestCancelSessionProducesNoNotifications(t *testing.T) {
	r := NewRegistry()
	rec := &notifierRecorder{}
	r.SetNotifier(rec)

	mustSubmit(t, r, "s1", "a", 2)
	r.CancelSession("s1")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.calls) != 0 {
		t.Errorf("cancellation must not notify, got %d calls", len(rec.calls))
	}
}
