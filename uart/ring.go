package uart

// Ring is a fixed capacity byte queue with one producer (normal program flow)
// and one consumer (the transmit-ready interrupt handler). One slot is always
// kept free so that equal cursors mean empty, hence Cap() == capacity-1.
type Ring struct {
	buf   []byte
	start int // read cursor, advanced by the consumer
	end   int // write cursor, advanced by the producer
	mask  InterruptMask
}

// NewRing allocates the queue. capacity must be at least 2.
func NewRing(capacity int, mask InterruptMask) *Ring {
	if capacity < 2 {
		capacity = 2
	}
	return &Ring{
		buf:  make([]byte, capacity),
		mask: mask,
	}
}

// Cap returns the number of usable bytes.
func (r *Ring) Cap() int {
	return len(r.buf) - 1
}

// Len returns the number of queued bytes.
func (r *Ring) Len() int {
	r.mask.Disable()
	defer r.mask.Enable()
	return r.occupied()
}

// Push appends as much of p as the policy allows and returns the number of
// bytes queued:
//   - a full queue drops p entirely;
//   - a p larger than the free space is cut to the free space minus one byte.
func (r *Ring) Push(p []byte) int {
	r.mask.Disable()
	defer r.mask.Enable()
	free := r.Cap() - r.occupied()
	n := len(p)
	if n > free {
		if free == 0 {
			return 0
		}
		n = free - 1
	}
	first := copy(r.buf[r.end:], p[:n])
	copy(r.buf, p[first:n])
	r.end = (r.end + n) % len(r.buf)
	return n
}

// Pop removes the oldest byte. It belongs to the consumer and must run in
// interrupt context, i.e. with the mask already disabled.
func (r *Ring) Pop() (byte, bool) {
	if r.start == r.end {
		return 0, false
	}
	b := r.buf[r.start]
	r.start = (r.start + 1) % len(r.buf)
	return b, true
}

func (r *Ring) occupied() int {
	return (r.end - r.start + len(r.buf)) % len(r.buf)
}
