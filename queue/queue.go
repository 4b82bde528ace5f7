package queue

import "container/heap"

// Compile time check to ensure PrefetchQueue satisfies the heap interface.
var _ heap.Interface = (*PrefetchQueue)(nil)

// Item is a pending prefetch request in the queue.
type Item struct {
	ID       string  // ID is the photo identity the request targets.
	Index    int     // Index is the photo's position in the collection.
	Priority float64 // Priority orders the queue; lower is served first.
	Slot     int     // Slot is maintained by the heap.Interface methods.
}

// PrefetchQueue implements heap.Interface over prefetch Items.
// The queue is a min-heap on Priority: the closest, most forward-biased
// request is always on top.
type PrefetchQueue struct {
	Items []*Item
}

// Len returns the number of queued items.
func (pq *PrefetchQueue) Len() int { return len(pq.Items) }

// Less reports whether the element with index i should sort before the element with index j.
// Ties are broken by collection index so that equal-priority requests keep a
// deterministic, ascending-index order.
func (pq *PrefetchQueue) Less(i, j int) bool {
	if pq.Items[i].Priority != pq.Items[j].Priority {
		return pq.Items[i].Priority < pq.Items[j].Priority
	}
	return pq.Items[i].Index < pq.Items[j].Index
}

// Swap swaps the elements with indexes i and j.
func (pq *PrefetchQueue) Swap(i, j int) {
	pq.Items[i], pq.Items[j] = pq.Items[j], pq.Items[i]
	pq.Items[i].Slot, pq.Items[j].Slot = i, j
}

// Push adds x to the queue.
func (pq *PrefetchQueue) Push(x any) {
	item, _ := x.(*Item)
	item.Slot = len(pq.Items)
	pq.Items = append(pq.Items, item)
}

// Pop removes and returns the lowest-priority-value element.
func (pq *PrefetchQueue) Pop() any {
	if len(pq.Items) == 0 {
		return nil
	}

	old := pq.Items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // Avoid memory leak
	item.Slot = -1  // For safety
	pq.Items = old[:n-1]

	return item
}

// Top returns the element that Pop would return next, without removing it.
func (pq *PrefetchQueue) Top() *Item {
	if len(pq.Items) == 0 {
		return nil
	}
	return pq.Items[0]
}
