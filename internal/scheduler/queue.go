package scheduler

import (
	"container/heap"
	"time"

	"github.com/pagevault/extractor/internal/extraction"
)

// queueItem wraps a job with the sequence number used as a stable tie-break.
type queueItem struct {
	job   extraction.Job
	seq   uint64
	index int
}

// jobQueue is a priority queue ordered by priority descending, then
// ScheduledAt ascending, then submission order. Not safe for concurrent use;
// the Scheduler serializes access under its own lock.
type jobQueue struct {
	items   []*queueItem
	byID    map[string]*queueItem
	nextSeq uint64
}

func newJobQueue() *jobQueue {
	return &jobQueue{byID: make(map[string]*queueItem)}
}

// Len implements heap.Interface.
func (q *jobQueue) Len() int { return len(q.items) }

// Less implements heap.Interface.
func (q *jobQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.job.Priority != b.job.Priority {
		return a.job.Priority > b.job.Priority
	}
	if !a.job.ScheduledAt.Equal(b.job.ScheduledAt) {
		return a.job.ScheduledAt.Before(b.job.ScheduledAt)
	}
	return a.seq < b.seq
}

// Swap implements heap.Interface.
func (q *jobQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

// Push implements heap.Interface.
func (q *jobQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(q.items)
	q.items = append(q.items, item)
	q.byID[item.job.ID] = item
}

// Pop implements heap.Interface.
func (q *jobQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	q.items = old[:n-1]
	delete(q.byID, item.job.ID)
	return item
}

// Add enqueues a job.
func (q *jobQueue) Add(job extraction.Job) {
	item := &queueItem{job: job, seq: q.nextSeq}
	q.nextSeq++
	heap.Push(q, item)
}

// PopEligible removes and returns the best job whose ScheduledAt has passed.
// The heap top can be a high-priority retry scheduled in the future, so this
// scans for the best eligible item rather than popping blindly.
func (q *jobQueue) PopEligible(now time.Time) (extraction.Job, bool) {
	best := -1
	for i, item := range q.items {
		if item.job.ScheduledAt.After(now) {
			continue
		}
		if best == -1 || q.Less(i, best) {
			best = i
		}
	}
	if best == -1 {
		return extraction.Job{}, false
	}
	item := heap.Remove(q, best).(*queueItem)
	return item.job, true
}

// Remove deletes a queued job by ID, returning it if present.
func (q *jobQueue) Remove(jobID string) (extraction.Job, bool) {
	item, ok := q.byID[jobID]
	if !ok {
		return extraction.Job{}, false
	}
	heap.Remove(q, item.index)
	return item.job, true
}

// Get returns a queued job by ID without removing it.
func (q *jobQueue) Get(jobID string) (extraction.Job, bool) {
	item, ok := q.byID[jobID]
	if !ok {
		return extraction.Job{}, false
	}
	return item.job, true
}
