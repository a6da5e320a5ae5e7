package registry

// reviewQueue is the FIFO backlog of pending hunk ids. Removal on session
// cancellation is O(1): the entry is tombstoned via the position index and
// skipped when the head reaches it. Storage is compacted once the dead
// prefix outgrows the live tail. Callers hold the registry mutex.
type reviewQueue struct {
	ids  []uint64
	head int
	pos  map[uint64]int // hunk id -> index in ids; absent means not queued
	live int
}

func newReviewQueue() *reviewQueue {
	return &reviewQueue{pos: make(map[uint64]int)}
}

func (q *reviewQueue) push(id uint64) {
	q.pos[id] = len(q.ids)
	q.ids = append(q.ids, id)
	q.live++
}

// remove tombstones a queued hunk. Reports whether the id was queued.
func (q *reviewQueue) remove(id uint64) bool {
	i, ok := q.pos[id]
	if !ok {
		return false
	}
	delete(q.pos, id)
	q.ids[i] = 0
	q.live--
	return true
}

// pop returns the oldest live entry, skipping tombstones
func (q *reviewQueue) pop() (uint64, bool) {
	for q.head < len(q.ids) {
		id := q.ids[q.head]
		q.head++
		if id == 0 {
			continue
		}
		delete(q.pos, id)
		q.live--
		q.maybeCompact()
		return id, true
	}
	q.maybeCompact()
	return 0, false
}

func (q *reviewQueue) len() int {
	return q.live
}

// maybeCompact drops the consumed prefix once it dominates the slice
func (q *reviewQueue) maybeCompact() {
	if q.head < 64 || q.head <= len(q.ids)/2 {
		return
	}
	tail := q.ids[q.head:]
	q.ids = append(q.ids[:0], tail...)
	q.head = 0
	for i, id := range q.ids {
		if id != 0 {
			q.pos[id] = i
		}
	}
}
