package orchestrator

import (
	"container/heap"
	"sync"

	"github.com/mwhitby/drover/pkg/models"
)

// TaskQueue is the admission buffer between Submit and the dispatch loop.
// Pop returns the highest-priority task, ties broken FIFO. Pop never
// blocks; the second return reports whether a task was available.
type TaskQueue interface {
	Push(task *models.Task) error
	Pop() (*models.Task, bool, error)
	Len() int
	Close() error
}

// queueItem wraps a task with the sequence number used for FIFO ties.
type queueItem struct {
	task *models.Task
	seq  uint64
}

// taskHeap implements heap.Interface ordered by priority desc, seq asc.
type taskHeap []queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MemoryQueue is the default in-process TaskQueue.
type MemoryQueue struct {
	mu      sync.Mutex
	items   taskHeap
	nextSeq uint64
}

// NewMemoryQueue creates an empty in-memory priority queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Push implements TaskQueue. It never blocks; back-pressure is expressed
// only through the growing queue length.
func (q *MemoryQueue) Push(task *models.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.items, queueItem{task: task, seq: q.nextSeq})
	q.nextSeq++
	return nil
}

// Pop implements TaskQueue.
func (q *MemoryQueue) Pop() (*models.Task, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return nil, false, nil
	}
	item := heap.Pop(&q.items).(queueItem)
	return item.task, true, nil
}

// Len implements TaskQueue.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Close implements TaskQueue.
func (q *MemoryQueue) Close() error {
	return nil
}
