package buffer

// DefaultMaxItems is used when a Ring is built with a non-positive cap
const DefaultMaxItems = 1000

// Ring is an append-only, size-bounded sequence. Once more than Max items
// have been appended the oldest items are evicted first. Items are never
// removed individually. Ring is not safe for concurrent use; owners guard it.
type Ring[T any] struct {
	items   []T
	max     int
	evicted int
}

// New returns a Ring retaining at most max items
func New[T any](max int) *Ring[T] {
	if max <= 0 {
		max = DefaultMaxItems
	}
	return &Ring[T]{max: max}
}

// Append adds items in order and evicts from the front past the cap
func (r *Ring[T]) Append(items ...T) {
	if len(items) == 0 {
		return
	}
	r.items = append(r.items, items...)
	if len(r.items) <= r.max {
		return
	}

	trim := len(r.items) - r.max
	r.evicted += trim
	r.items = r.items[trim:]

	// Reslicing keeps the evicted prefix reachable; compact once the
	// backing array has grown well past the cap.
	if cap(r.items) > 2*r.max {
		compact := make([]T, len(r.items), r.max)
		copy(compact, r.items)
		r.items = compact
	}
}

// Snapshot returns a copy of the retained items, oldest first
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// Len returns the number of retained items
func (r *Ring[T]) Len() int {
	return len(r.items)
}

// Max returns the retention cap
func (r *Ring[T]) Max() int {
	return r.max
}

// Evicted returns how many items have been dropped from the front
func (r *Ring[T]) Evicted() int {
	return r.evicted
}

// Reset discards all items and the eviction count
func (r *Ring[T]) Reset() {
	r.items = nil
	r.evicted = 0
}

// Capped returns the last max items of items as a new slice, applying the
// same eviction rule as Ring without allocating one.
func Capped[T any](items []T, max int) []T {
	if max <= 0 {
		max = DefaultMaxItems
	}
	if len(items) > max {
		items = items[len(items)-max:]
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}
