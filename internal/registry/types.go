package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/connor15mcc/patchpal/internal/protocol"
)

// HunkStatus tracks a hunk through the review state machine:
// Pending -> UnderReview -> Accepted | Rejected, or
// Pending | UnderReview -> Cancelled when the owning session goes away.
type HunkStatus string

const (
	StatusPending     HunkStatus = "pending"
	StatusUnderReview HunkStatus = "under_review"
	StatusAccepted    HunkStatus = "accepted"
	StatusRejected    HunkStatus = "rejected"
	StatusCancelled   HunkStatus = "cancelled"
)

// Terminal reports whether the status can never change again
func (s HunkStatus) Terminal() bool {
	switch s {
	case StatusAccepted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Hunk is the atomic reviewable unit of a patch
type Hunk struct {
	ID      uint64     `json:"id"`
	PatchID uint64     `json:"patch_id"`
	Path    string     `json:"path"`
	Header  string     `json:"header"`
	Content string     `json:"content"`
	Status  HunkStatus `json:"status"`
}

// Patch is one client submission
type Patch struct {
	ID          uint64    `json:"id"`
	SessionID   string    `json:"session_id"`
	RepoRef     string    `json:"repo_ref"`
	Metadata    string    `json:"metadata,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	SubmittedAt time.Time `json:"submitted_at"`
	Hunks       []*Hunk   `json:"hunks"`

	// Count of hunks not yet in a terminal state. The fingerprint index
	// entry is released when this reaches zero.
	outstanding int
}

// Decision is the immutable record of one review outcome
type Decision struct {
	HunkID    uint64           `json:"hunk_id"`
	Outcome   protocol.Outcome `json:"outcome"`
	Reviewer  string           `json:"reviewer"`
	DecidedAt time.Time        `json:"decided_at"`
}

// SubmitResult is returned from a committed submission
type SubmitResult struct {
	PatchID     uint64
	HunkIDs     []uint64
	Fingerprint string
	SubmittedAt time.Time
}

// PatchStatus is a read-only snapshot of a patch and its hunks
type PatchStatus struct {
	PatchID     uint64            `json:"patch_id"`
	SessionID   string            `json:"session_id"`
	RepoRef     string            `json:"repo_ref"`
	Fingerprint string            `json:"fingerprint"`
	SubmittedAt time.Time         `json:"submitted_at"`
	Hunks       []HunkStatusEntry `json:"hunks"`
}

// HunkStatusEntry is one hunk's status within a PatchStatus
type HunkStatusEntry struct {
	HunkID uint64     `json:"hunk_id"`
	Path   string     `json:"path"`
	Status HunkStatus `json:"status"`
}

// RecentDecision is one entry of the console's decision history tail
type RecentDecision struct {
	HunkID  uint64
	Path    string
	Outcome protocol.Outcome
}

// recentKeep bounds the decision history carried in snapshots
const recentKeep = 10

// QueueSnapshot is the read-only view the review console consumes
type QueueSnapshot struct {
	// Active is the hunk currently under review, nil if none
	Active *Hunk
	// ActivePatch describes the active hunk's patch, nil if none
	ActivePatch *PatchStatus
	// Pending is the number of hunks awaiting review
	Pending int
	// Decided is the number of recorded decisions
	Decided int
	// Cancelled is the number of hunks cancelled by session loss
	Cancelled int
	// Recent holds the last few decisions, oldest first
	Recent []RecentDecision
}

// Sentinel errors for internal consistency guards. These indicate caller
// bugs; they are logged by callers, never surfaced to clients.
var (
	ErrUnknownHunk    = errors.New("unknown hunk")
	ErrUnknownPatch   = errors.New("unknown patch")
	ErrAlreadyDecided = errors.New("hunk is not under review")
	ErrNotActive      = errors.New("hunk is not the active review")
)

// DuplicateSubmissionError rejects a patch whose fingerprint matches a
// still-outstanding patch. Recoverable: the connection stays open.
type DuplicateSubmissionError struct {
	ExistingPatchID uint64
}

func (e *DuplicateSubmissionError) Error() string {
	return fmt.Sprintf("duplicate submission: patch %d is still outstanding", e.ExistingPatchID)
}
