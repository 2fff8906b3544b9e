// uartx/ringbuffer.go

//go:build !rp2040 && !rp2350

package uartx

import "sync"

// Choose a power-of-two size for efficient modulo.
const wireSize = 512

// wire is the FIFO between the TX and RX sides of the loopback shim. It plays
// the part of the PL011 RX FIFO: bytes land here whether or not a read is
// outstanding, and are dropped once it is full.
type wire struct {
	mu         sync.Mutex
	buf        [wireSize]byte
	head, tail uint32
	notify     chan struct{} // coalesced "bytes available" hint
}

func newWire() *wire {
	return &wire{notify: make(chan struct{}, 1)}
}

// Used returns how many bytes are waiting on the wire.
func (w *wire) Used() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int(w.head - w.tail)
}

// Put stores a byte. If the FIFO is already full it returns false.
func (w *wire) Put(b byte) bool {
	w.mu.Lock()
	if w.head-w.tail == wireSize {
		w.mu.Unlock()
		return false
	}
	w.buf[w.head%wireSize] = b
	w.head++
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
	return true
}

// Get returns a byte from the FIFO, or (0, false) if it is empty.
func (w *wire) Get() (byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.head == w.tail {
		return 0, false
	}
	b := w.buf[w.tail%wireSize]
	w.tail++
	return b, true
}

// Clear discards everything on the wire.
func (w *wire) Clear() {
	w.mu.Lock()
	w.head, w.tail = 0, 0
	w.mu.Unlock()
}
