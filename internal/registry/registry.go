// Package registry owns all patch and hunk state: the authoritative store,
// the review state machine, and the FIFO review queue. Every mutating
// operation runs under one mutex with a minimal critical section; sinks and
// notifiers are invoked only after the lock is released.
package registry

import (
	"log"
	"sync"
	"time"

	"github.com/connor15mcc/patchpal/internal/protocol"
)

// DecisionSink receives durable writes after registry state commits.
// Implemented by the storage layer; a nil sink disables persistence.
type DecisionSink interface {
	SavePatch(p *Patch) error
	SaveDecision(d Decision) error
	UpdateHunkStatus(hunkID uint64, status HunkStatus) error
}

// Notifier routes a recorded decision back toward the owning session.
// Implemented by the daemon's dispatcher.
type Notifier interface {
	NotifyDecision(sessionID string, hunkID uint64, outcome protocol.Outcome)
}

// Registry is the single serialization point for patches, hunks, and the
// review queue.
type Registry struct {
	mu          sync.Mutex
	patches     map[uint64]*Patch
	hunks       map[uint64]*Hunk
	outstanding map[string]uint64 // fingerprint -> patch id with live hunks
	queue       *reviewQueue
	active      uint64 // hunk id under review; 0 means none
	nextPatchID uint64
	nextHunkID  uint64
	decided     int
	cancelled   int
	recent      []RecentDecision

	wake   chan struct{}
	events *Broadcaster

	sink     DecisionSink
	notifier Notifier
	now      func() time.Time
}

// NewRegistry creates an empty registry. IDs start at 1.
func NewRegistry() *Registry {
	return &Registry{
		patches:     make(map[uint64]*Patch),
		hunks:       make(map[uint64]*Hunk),
		outstanding: make(map[string]uint64),
		queue:       newReviewQueue(),
		nextPatchID: 1,
		nextHunkID:  1,
		wake:        make(chan struct{}, 1),
		events:      NewBroadcaster(),
		now:         time.Now,
	}
}

// SetSink attaches the durable decision log. Must be called before serving.
func (r *Registry) SetSink(s DecisionSink) { r.sink = s }

// SetNotifier attaches the decision dispatcher. Must be called before serving.
func (r *Registry) SetNotifier(n Notifier) { r.notifier = n }

// SeedIDs raises the id counters so a restarted server never reuses an id
// handed out by a previous run. Lower seeds are ignored.
func (r *Registry) SeedIDs(nextPatchID, nextHunkID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if nextPatchID > r.nextPatchID {
		r.nextPatchID = nextPatchID
	}
	if nextHunkID > r.nextHunkID {
		r.nextHunkID = nextHunkID
	}
}

// Events returns the registry's event broadcaster
func (r *Registry) Events() *Broadcaster { return r.events }

// Wake returns the signal channel the console blocks on. It receives a
// token whenever a hunk may have become available for review.
func (r *Registry) Wake() <-chan struct{} { return r.wake }

func (r *Registry) signalWake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Submit registers one patch. It either fully commits (patch id allocated,
// hunks Pending and enqueued in submission order) or fails with no state
// change. A fingerprint matching a still-outstanding patch fails with
// *DuplicateSubmissionError.
func (r *Registry) Submit(sessionID, repoRef, metadata string, hunks []protocol.HunkContent) (SubmitResult, error) {
	fp := Fingerprint(hunks)

	r.mu.Lock()
	if existing, ok := r.outstanding[fp]; ok {
		r.mu.Unlock()
		return SubmitResult{}, &DuplicateSubmissionError{ExistingPatchID: existing}
	}

	patch := &Patch{
		ID:          r.nextPatchID,
		SessionID:   sessionID,
		RepoRef:     repoRef,
		Metadata:    metadata,
		Fingerprint: fp,
		SubmittedAt: r.now(),
		Hunks:       make([]*Hunk, 0, len(hunks)),
		outstanding: len(hunks),
	}
	r.nextPatchID++

	hunkIDs := make([]uint64, 0, len(hunks))
	for _, hc := range hunks {
		h := &Hunk{
			ID:      r.nextHunkID,
			PatchID: patch.ID,
			Path:    hc.Path,
			Header:  hc.Header,
			Content: hc.Content,
			Status:  StatusPending,
		}
		r.nextHunkID++
		patch.Hunks = append(patch.Hunks, h)
		r.hunks[h.ID] = h
		r.queue.push(h.ID)
		hunkIDs = append(hunkIDs, h.ID)
	}

	r.patches[patch.ID] = patch
	r.outstanding[fp] = patch.ID
	snapshot := copyPatch(patch)
	r.mu.Unlock()

	r.signalWake()
	if r.sink != nil {
		if err := r.sink.SavePatch(snapshot); err != nil {
			log.Printf("Warning: failed to archive patch %d: %v", snapshot.ID, err)
		}
	}
	r.events.Broadcast(Event{
		Type:      EventSubmitted,
		TS:        snapshot.SubmittedAt,
		PatchID:   snapshot.ID,
		SessionID: sessionID,
		RepoRef:   repoRef,
	})

	return SubmitResult{
		PatchID:     snapshot.ID,
		HunkIDs:     hunkIDs,
		Fingerprint: fp,
		SubmittedAt: snapshot.SubmittedAt,
	}, nil
}

// RecordDecision transitions the active hunk to Accepted or Rejected,
// appends the immutable decision record, and hands it to the dispatcher.
// Fails with ErrUnknownHunk for unrecognized ids and ErrAlreadyDecided when
// the hunk is not currently under review; neither mutates state.
func (r *Registry) RecordDecision(hunkID uint64, outcome protocol.Outcome, reviewer string) (Decision, error) {
	r.mu.Lock()
	h, ok := r.hunks[hunkID]
	if !ok {
		r.mu.Unlock()
		return Decision{}, ErrUnknownHunk
	}
	if h.Status != StatusUnderReview {
		r.mu.Unlock()
		return Decision{}, ErrAlreadyDecided
	}

	switch outcome {
	case protocol.OutcomeAccepted:
		h.Status = StatusAccepted
	case protocol.OutcomeRejected:
		h.Status = StatusRejected
	default:
		r.mu.Unlock()
		return Decision{}, &protocol.ProtocolError{Detail: "unknown outcome " + string(outcome)}
	}

	d := Decision{
		HunkID:    hunkID,
		Outcome:   outcome,
		Reviewer:  reviewer,
		DecidedAt: r.now(),
	}
	r.decided++
	r.active = 0
	r.recent = append(r.recent, RecentDecision{HunkID: hunkID, Path: h.Path, Outcome: outcome})
	if len(r.recent) > recentKeep {
		r.recent = r.recent[len(r.recent)-recentKeep:]
	}

	patch := r.patches[h.PatchID]
	patchID := h.PatchID
	sessionID := patch.SessionID
	repoRef := patch.RepoRef
	final := h.Status
	r.settleHunk(patch)
	r.mu.Unlock()

	r.signalWake()
	if r.sink != nil {
		if err := r.sink.SaveDecision(d); err != nil {
			log.Printf("Warning: failed to log decision for hunk %d: %v", hunkID, err)
		}
		if err := r.sink.UpdateHunkStatus(hunkID, final); err != nil {
			log.Printf("Warning: failed to update archived hunk %d: %v", hunkID, err)
		}
	}
	if r.notifier != nil {
		r.notifier.NotifyDecision(sessionID, hunkID, outcome)
	}
	r.events.Broadcast(Event{
		Type:      EventDecided,
		TS:        d.DecidedAt,
		PatchID:   patchID,
		HunkID:    hunkID,
		SessionID: sessionID,
		RepoRef:   repoRef,
		Outcome:   string(outcome),
	})
	return d, nil
}

// settleHunk decrements the patch's live-hunk count and releases its
// fingerprint once every hunk is terminal. Caller holds the mutex.
func (r *Registry) settleHunk(p *Patch) {
	p.outstanding--
	if p.outstanding == 0 && r.outstanding[p.Fingerprint] == p.ID {
		delete(r.outstanding, p.Fingerprint)
	}
}

// CancelSession transitions every Pending or UnderReview hunk owned by the
// session to Cancelled and removes them from the queue. No notifications
// are produced: there is no recipient. Returns the cancelled hunk ids.
func (r *Registry) CancelSession(sessionID string) []uint64 {
	type cancelledHunk struct {
		id      uint64
		repoRef string
	}

	r.mu.Lock()
	var cancelled []cancelledHunk
	for _, p := range r.patches {
		if p.SessionID != sessionID {
			continue
		}
		for _, h := range p.Hunks {
			if h.Status.Terminal() {
				continue
			}
			if h.Status == StatusUnderReview && r.active == h.ID {
				r.active = 0
			} else {
				r.queue.remove(h.ID)
			}
			h.Status = StatusCancelled
			r.cancelled++
			r.settleHunk(p)
			cancelled = append(cancelled, cancelledHunk{id: h.ID, repoRef: p.RepoRef})
		}
	}
	ts := r.now()
	r.mu.Unlock()

	if len(cancelled) == 0 {
		return nil
	}

	r.signalWake()
	if r.sink != nil {
		for _, c := range cancelled {
			if err := r.sink.UpdateHunkStatus(c.id, StatusCancelled); err != nil {
				log.Printf("Warning: failed to update archived hunk %d: %v", c.id, err)
			}
		}
	}
	ids := make([]uint64, 0, len(cancelled))
	for _, c := range cancelled {
		r.events.Broadcast(Event{
			Type:      EventCancelled,
			TS:        ts,
			HunkID:    c.id,
			SessionID: sessionID,
			RepoRef:   c.repoRef,
		})
		ids = append(ids, c.id)
	}
	return ids
}

// GetStatus returns a snapshot of a patch and its hunk statuses.
// Never fails for a known id.
func (r *Registry) GetStatus(patchID uint64) (*PatchStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.patches[patchID]
	if !ok {
		return nil, ErrUnknownPatch
	}
	return patchStatusLocked(p), nil
}

// Next pops the head of the queue and marks it under review. Returns nil
// when the queue is empty or another hunk is already under review; the
// console waits on Wake and retries. A successful claim publishes a
// claimed event so snapshot subscribers see the new active hunk.
func (r *Registry) Next() *Hunk {
	r.mu.Lock()
	if r.active != 0 {
		r.mu.Unlock()
		return nil
	}
	id, ok := r.queue.pop()
	if !ok {
		r.mu.Unlock()
		return nil
	}

	h := r.hunks[id]
	h.Status = StatusUnderReview
	r.active = id
	out := *h
	p := r.patches[h.PatchID]
	sessionID := p.SessionID
	repoRef := p.RepoRef
	ts := r.now()
	r.mu.Unlock()

	r.events.Broadcast(Event{
		Type:      EventClaimed,
		TS:        ts,
		PatchID:   out.PatchID,
		HunkID:    out.ID,
		SessionID: sessionID,
		RepoRef:   repoRef,
	})
	return &out
}

// Defer moves the active hunk back to Pending at the tail of the queue
// without recording a decision. Fails with ErrUnknownHunk or ErrNotActive;
// neither mutates state.
func (r *Registry) Defer(hunkID uint64) error {
	r.mu.Lock()
	h, ok := r.hunks[hunkID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownHunk
	}
	if h.Status != StatusUnderReview || r.active != hunkID {
		r.mu.Unlock()
		return ErrNotActive
	}

	h.Status = StatusPending
	r.active = 0
	r.queue.push(hunkID)
	patchID := h.PatchID
	sessionID := r.patches[patchID].SessionID
	ts := r.now()
	r.mu.Unlock()

	r.signalWake()
	r.events.Broadcast(Event{
		Type:      EventDeferred,
		TS:        ts,
		PatchID:   patchID,
		HunkID:    hunkID,
		SessionID: sessionID,
	})
	return nil
}

// Snapshot returns the console's read-only view of the queue
func (r *Registry) Snapshot() QueueSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := QueueSnapshot{
		Pending:   r.queue.len(),
		Decided:   r.decided,
		Cancelled: r.cancelled,
	}
	if r.active != 0 {
		h := *r.hunks[r.active]
		snap.Active = &h
		snap.ActivePatch = patchStatusLocked(r.patches[h.PatchID])
	}
	snap.Recent = append([]RecentDecision(nil), r.recent...)
	return snap
}

func patchStatusLocked(p *Patch) *PatchStatus {
	st := &PatchStatus{
		PatchID:     p.ID,
		SessionID:   p.SessionID,
		RepoRef:     p.RepoRef,
		Fingerprint: p.Fingerprint,
		SubmittedAt: p.SubmittedAt,
		Hunks:       make([]HunkStatusEntry, 0, len(p.Hunks)),
	}
	for _, h := range p.Hunks {
		st.Hunks = append(st.Hunks, HunkStatusEntry{HunkID: h.ID, Path: h.Path, Status: h.Status})
	}
	return st
}

func copyPatch(p *Patch) *Patch {
	out := *p
	out.Hunks = make([]*Hunk, 0, len(p.Hunks))
	for _, h := range p.Hunks {
		hc := *h
		out.Hunks = append(out.Hunks, &hc)
	}
	return &out
}
