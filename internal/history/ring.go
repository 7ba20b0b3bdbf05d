// Package history holds the bounded per-symbol rolling stores the detectors
// read from.
package history

// Ring is a fixed-capacity FIFO over a preallocated arena. Push is O(1) and
// evicts the oldest item once the ring is full.
type Ring[T any] struct {
	buf  []T
	head int // index of the oldest item
	n    int
}

// NewRing returns a ring holding at most capacity items. Capacity below 1 is
// raised to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest item when full. It reports whether an
// item was evicted.
func (r *Ring[T]) Push(v T) bool {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = v
		r.n++
		return false
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	return true
}

// Len returns the number of stored items.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// At returns the i-th item, oldest first. It panics when i is out of range.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.n {
		panic("history: ring index out of range")
	}
	return r.buf[(r.head+i)%len(r.buf)]
}

// Last returns the newest item.
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	return r.At(r.n - 1), true
}

// Each calls fn on every item oldest first until fn returns false.
func (r *Ring[T]) Each(fn func(T) bool) {
	for i := 0; i < r.n; i++ {
		if !fn(r.buf[(r.head+i)%len(r.buf)]) {
			return
		}
	}
}

// Items copies the contents oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, 0, r.n)
	r.Each(func(v T) bool {
		out = append(out, v)
		return true
	})
	return out
}

// Tail copies the newest k items oldest first.
func (r *Ring[T]) Tail(k int) []T {
	if k > r.n {
		k = r.n
	}
	if k <= 0 {
		return nil
	}
	out := make([]T, 0, k)
	for i := r.n - k; i < r.n; i++ {
		out = append(out, r.At(i))
	}
	return out
}

// Resize changes the capacity, keeping the newest items that still fit.
func (r *Ring[T]) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	if capacity == len(r.buf) {
		return
	}
	keep := r.Tail(capacity)
	r.buf = make([]T, capacity)
	copy(r.buf, keep)
	r.head = 0
	r.n = len(keep)
}
