package dsa

import "testing"

func TestPriorityQueue_OrdersByPriority(t *testing.T) {
	pq := NewPriorityQueue(4)
	pq.Push(HeapItem{Key: "low", Priority: 5})
	pq.Push(HeapItem{Key: "high", Priority: -10})
	pq.Push(HeapItem{Key: "mid", Priority: 0})

	for _, want := range []string{"high", "mid", "low"} {
		got, ok := pq.Pop()
		if !ok {
			t.Fatalf("Pop() empty, want %s", want)
		}
		if got.Key != want {
			t.Errorf("Pop() = %s, want %s", got.Key, want)
		}
	}
	if _, ok := pq.Pop(); ok {
		t.Error("Pop() on empty queue should return false")
	}
}

func TestPriorityQueue_StableOnOrder(t *testing.T) {
	pq := NewPriorityQueue(0)
	// Pushed out of order; equal priority must come back by Order.
	for _, o := range []int{3, 0, 4, 1, 2} {
		pq.Push(HeapItem{Priority: -1, Order: o})
	}
	for want := 0; want < 5; want++ {
		got, _ := pq.Pop()
		if got.Order != want {
			t.Errorf("Pop().Order = %d, want %d", got.Order, want)
		}
	}
}

func TestPriorityQueue_Peek(t *testing.T) {
	pq := NewPriorityQueue(2)
	if _, ok := pq.Peek(); ok {
		t.Error("Peek() on empty queue should return false")
	}
	pq.Push(HeapItem{Key: "a", Priority: 2})
	pq.Push(HeapItem{Key: "b", Priority: 1})
	top, ok := pq.Peek()
	if !ok || top.Key != "b" {
		t.Errorf("Peek() = %v, want b", top)
	}
	if pq.Len() != 2 {
		t.Errorf("Len() = %d, want 2 after Peek", pq.Len())
	}
}
