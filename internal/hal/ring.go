package hal

import (
	"context"
	"sync"
)

// Ring is a fixed-size byte ring used as the I2S DMA buffer.
//
// Indices are monotonic and wrap through mask; the size is always a power of
// two. Blocking calls park on edge channels that are signalled when data or
// space becomes available, and return early when ctx is done or the ring is
// closed.
type Ring struct {
	mu   sync.Mutex
	buf  []byte
	mask uint32
	rd   uint32
	wr   uint32

	readable chan struct{}
	writable chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewRing returns a ring holding at least size bytes, rounded up to the next
// power of two (minimum 2).
func NewRing(size int) *Ring {
	n := 2
	for n < size {
		n <<= 1
	}
	return &Ring{
		buf:      make([]byte, n),
		mask:     uint32(n - 1),
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Cap returns the ring capacity in bytes.
func (r *Ring) Cap() int { return len(r.buf) }

// Available returns the number of bytes waiting to be read.
func (r *Ring) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.wr - r.rd)
}

// Space returns the number of bytes that can be written without blocking.
func (r *Ring) Space() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf) - int(r.wr-r.rd)
}

// TryWrite copies as much of src as fits and returns the count. It never
// blocks.
func (r *Ring) TryWrite(src []byte) int {
	if len(src) == 0 {
		return 0
	}
	r.mu.Lock()
	space := len(r.buf) - int(r.wr-r.rd)
	n := min(space, len(src))
	for i := 0; i < n; i++ {
		r.buf[(r.wr+uint32(i))&r.mask] = src[i]
	}
	r.wr += uint32(n)
	r.mu.Unlock()

	if n > 0 {
		signal(r.readable)
	}
	return n
}

// TryRead copies up to len(dst) buffered bytes into dst and returns the count.
// It never blocks.
func (r *Ring) TryRead(dst []byte) int {
	if len(dst) == 0 {
		return 0
	}
	r.mu.Lock()
	avail := int(r.wr - r.rd)
	n := min(avail, len(dst))
	for i := 0; i < n; i++ {
		dst[i] = r.buf[(r.rd+uint32(i))&r.mask]
	}
	r.rd += uint32(n)
	r.mu.Unlock()

	if n > 0 {
		signal(r.writable)
	}
	return n
}

// ReadFull blocks until len(dst) bytes have been read, ctx is done or the
// ring is closed. It returns the number of bytes read so far.
func (r *Ring) ReadFull(ctx context.Context, dst []byte) (int, error) {
	total := 0
	for total < len(dst) {
		total += r.TryRead(dst[total:])
		if total == len(dst) {
			break
		}
		select {
		case <-r.readable:
		case <-r.done:
			return total, ErrClosed
		case <-ctx.Done():
			return total, ctx.Err()
		}
	}
	return total, nil
}

// WriteAll blocks until all of src has been written, ctx is done or the ring
// is closed. It returns the number of bytes written so far.
func (r *Ring) WriteAll(ctx context.Context, src []byte) (int, error) {
	total := 0
	for total < len(src) {
		select {
		case <-r.done:
			return total, ErrClosed
		default:
		}
		total += r.TryWrite(src[total:])
		if total == len(src) {
			break
		}
		select {
		case <-r.writable:
		case <-r.done:
			return total, ErrClosed
		case <-ctx.Done():
			return total, ctx.Err()
		}
	}
	return total, nil
}

// Reset discards buffered data.
func (r *Ring) Reset() {
	r.mu.Lock()
	r.rd = r.wr
	r.mu.Unlock()
	signal(r.writable)
}

// Close wakes all blocked callers with ErrClosed. It is idempotent.
func (r *Ring) Close() {
	r.once.Do(func() { close(r.done) })
}

// signal performs a non-blocking edge notification.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
