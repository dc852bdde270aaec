package mqtt

// bufferedMsg is a serialized publish kept for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a bounded FIFO. When full, the oldest entry is overwritten.
// Not safe for concurrent use.
type ringBuffer[T any] struct {
	items   []T
	next    int // slot written by the next push
	count   int
	dropped int // overwritten since the last drain
}

func newRingBuffer[T any](capacity int) *ringBuffer[T] {
	return &ringBuffer[T]{items: make([]T, max(capacity, 1))}
}

// push stores v and reports whether an older entry was lost to make room.
func (r *ringBuffer[T]) push(v T) bool {
	size := len(r.items)
	r.items[r.next] = v
	r.next = (r.next + 1) % size
	if r.count < size {
		r.count++
		return false
	}
	r.dropped++
	return true
}

// drainAll empties the ring and returns its entries oldest first.
func (r *ringBuffer[T]) drainAll() []T {
	if r.count == 0 {
		return nil
	}
	size := len(r.items)
	first := (r.next - r.count + size) % size
	out := make([]T, 0, r.count)
	for i := range r.count {
		out = append(out, r.items[(first+i)%size])
	}

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.next, r.count, r.dropped = 0, 0, 0
	return out
}

func (r *ringBuffer[T]) len() int {
	return r.count
}
