package daemon

import (
	"context"

	"github.com/connor15mcc/patchpal/internal/protocol"
	"github.com/connor15mcc/patchpal/internal/registry"
)

// Console is the boundary the review console drives. It exposes queue
// snapshots and the only two mutating entry points the reviewer has:
// Decide and Defer.
type Console struct {
	reg *registry.Registry
}

// NewConsole creates the console boundary over a registry
func NewConsole(reg *registry.Registry) *Console {
	return &Console{reg: reg}
}

// Subscribe emits a queue snapshot whenever registry state changes,
// starting from the current state. Consecutive changes coalesce: a slow
// consumer always sees the latest snapshot, never a backlog. The channel
// closes when ctx is done.
func (c *Console) Subscribe(ctx context.Context) <-chan registry.QueueSnapshot {
	out := make(chan registry.QueueSnapshot, 1)
	subID, events := c.reg.Events().Subscribe("")

	push := func(snap registry.QueueSnapshot) {
		for {
			select {
			case out <- snap:
				return
			default:
				// Replace the stale buffered snapshot
				select {
				case <-out:
				default:
				}
			}
		}
	}

	go func() {
		defer close(out)
		defer c.reg.Events().Unsubscribe(subID)

		push(c.reg.Snapshot())
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				// Coalesce any burst of events into one snapshot
				for {
					select {
					case <-events:
						continue
					default:
					}
					break
				}
				push(c.reg.Snapshot())
			}
		}
	}()
	return out
}

// Wait returns the channel that signals when a hunk may be available
func (c *Console) Wait() <-chan struct{} { return c.reg.Wake() }

// NextHunk pulls the next pending hunk and marks it under review.
// Nil when the queue is empty or a review is already active.
func (c *Console) NextHunk() *registry.Hunk { return c.reg.Next() }

// Decide records the reviewer's accept/reject for the active hunk
func (c *Console) Decide(hunkID uint64, outcome protocol.Outcome) error {
	_, err := c.reg.RecordDecision(hunkID, outcome, "console")
	return err
}

// Defer re-enqueues the active hunk at the tail without deciding it
func (c *Console) Defer(hunkID uint64) error {
	return c.reg.Defer(hunkID)
}

// Snapshot returns the current queue state
func (c *Console) Snapshot() registry.QueueSnapshot { return c.reg.Snapshot() }

// Status returns a read-only view of one patch
func (c *Console) Status(patchID uint64) (*registry.PatchStatus, error) {
	return c.reg.GetStatus(patchID)
}
