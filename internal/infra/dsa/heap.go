// Package dsa holds small data structures shared by the application layer.
package dsa

import "sync"

// ─── Priority Queue (Min-Heap) ──────────────────────────────────────────────
// Binary min-heap ordered by (Priority, Order).
//
// Operations:
//   Push:    O(log n), sift up
//   Pop:     O(log n), sift down (extract-min)
//   Peek:    O(1)
//   Len:     O(1)
//
// Ties on Priority are broken by Order, so callers that push items with
// their source position get a stable ordering back out. The planner pushes
// catalog actions with Priority = -points and Order = catalog index.

// HeapItem is an element in the priority queue.
type HeapItem struct {
	Key      string // Unique identifier (e.g. action key)
	Priority int64  // Lower = dequeued first
	Order    int    // Tie-break, lower first
	Value    any    // Payload (caller stores whatever they need)
}

// PriorityQueue is a thread-safe min-heap.
type PriorityQueue struct {
	mu   sync.Mutex
	heap []HeapItem
}

// NewPriorityQueue creates an empty priority queue with room for capacity items.
func NewPriorityQueue(capacity int) *PriorityQueue {
	return &PriorityQueue{heap: make([]HeapItem, 0, capacity)}
}

// Push adds an item to the queue. O(log n).
func (pq *PriorityQueue) Push(item HeapItem) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	pq.heap = append(pq.heap, item)
	pq.siftUp(len(pq.heap) - 1)
}

// Pop removes and returns the highest-priority item. O(log n).
// Returns the item and true, or zero-value and false if empty.
func (pq *PriorityQueue) Pop() (HeapItem, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if len(pq.heap) == 0 {
		return HeapItem{}, false
	}

	top := pq.heap[0]
	last := len(pq.heap) - 1
	pq.heap[0] = pq.heap[last]
	pq.heap = pq.heap[:last]
	if len(pq.heap) > 0 {
		pq.siftDown(0)
	}
	return top, true
}

// Peek returns the highest-priority item without removing it. O(1).
func (pq *PriorityQueue) Peek() (HeapItem, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if len(pq.heap) == 0 {
		return HeapItem{}, false
	}
	return pq.heap[0], true
}

// Len returns the number of items in the queue.
func (pq *PriorityQueue) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.heap)
}

// less returns true if item i should be dequeued before item j.
func (pq *PriorityQueue) less(i, j int) bool {
	a, b := &pq.heap[i], &pq.heap[j]
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Order < b.Order
}

// siftUp restores heap property after insertion.
func (pq *PriorityQueue) siftUp(idx int) {
	for idx > 0 {
		parent := (idx - 1) / 2
		if !pq.less(idx, parent) {
			break
		}
		pq.heap[idx], pq.heap[parent] = pq.heap[parent], pq.heap[idx]
		idx = parent
	}
}

// siftDown restores heap property after extraction.
func (pq *PriorityQueue) siftDown(idx int) {
	n := len(pq.heap)
	for {
		smallest := idx
		left := 2*idx + 1
		right := 2*idx + 2

		if left < n && pq.less(left, smallest) {
			smallest = left
		}
		if right < n && pq.less(right, smallest) {
			smallest = right
		}
		if smallest == idx {
			break
		}
		pq.heap[idx], pq.heap[smallest] = pq.heap[smallest], pq.heap[idx]
		idx = smallest
	}
}
