//go:build !rp2040 && !rp2350

package uartx

import (
	"sync"
	"sync/atomic"
	"time"
)

// Host shim: a loopback UART with no device/rp or machine deps. The TX line is
// jumpered to the RX line through a bounded FIFO; a goroutine per transfer
// stands in for the DMA engine.

// Pin identifies a UART pin. The host shim accepts any value.
type Pin uint8

const NoPin Pin = 0xff

type UART struct {
	mu         sync.Mutex
	cfg        Config
	configured bool
	baud       uint32
	mode       AsyncMode
	cb         Callback
	events     Event
	tx, rx     *transfer

	line     *wire
	loopback atomic.Bool

	irq    sync.Mutex // serialises callbacks like a single-core IRQ
	closed chan struct{}
	once   sync.Once

	stats Stats
}

type transfer struct {
	buf   []byte
	abort chan struct{}
	done  chan struct{}
	once  sync.Once
}

func (t *transfer) cancel() { t.once.Do(func() { close(t.abort) }) }

// Public instances to mirror real build.
var (
	UART0 = NewLoopback()
	UART1 = NewLoopback()
)

// NewLoopback returns an unconfigured host UART with its TX wired to its RX.
func NewLoopback() *UART {
	u := &UART{
		line:   newWire(),
		closed: make(chan struct{}),
	}
	u.loopback.Store(true)
	return u
}

// Configure applies cfg and purges anything left on the RX line.
func (u *UART) Configure(cfg Config) error {
	if u.isClosed() {
		return ErrClosed
	}
	if err := cfg.Normalize(); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.tx != nil || u.rx != nil {
		return ErrBusy
	}
	u.cfg = cfg
	u.baud = cfg.BaudRate
	u.configured = true
	u.line.Clear()
	return nil
}

func (u *UART) SetBaudRate(br uint32) error {
	if br == 0 {
		return ErrInvalidBaud
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.configured {
		return ErrNotConfigured
	}
	u.baud = br
	u.cfg.BaudRate = br
	return nil
}

func (u *UART) SetFormat(databits, stopbits uint8, parity UARTParity) error {
	if err := checkFormat(databits, stopbits, parity); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.configured {
		return ErrNotConfigured
	}
	u.cfg.DataBits, u.cfg.StopBits, u.cfg.Parity = databits, stopbits, parity
	return nil
}

func (u *UART) SetAsyncMode(m AsyncMode) error {
	if m > AsyncDMA {
		return ErrUnsupportedMode
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.configured {
		return ErrNotConfigured
	}
	if m == AsyncOff && (u.tx != nil || u.rx != nil) {
		return ErrBusy
	}
	u.mode = m
	return nil
}

// RegisterCallback replaces the completion callback. A nil cb unregisters.
func (u *UART) RegisterCallback(cb Callback) error {
	u.mu.Lock()
	u.cb = cb
	u.mu.Unlock()
	return nil
}

// EnableEvents adds mask to the set of events delivered to the callback.
func (u *UART) EnableEvents(mask Event) error {
	u.mu.Lock()
	u.events |= mask
	u.mu.Unlock()
	return nil
}

// DisableEvents removes mask from the set of delivered events.
func (u *UART) DisableEvents(mask Event) error {
	u.mu.Lock()
	u.events &^= mask
	u.mu.Unlock()
	return nil
}

// WriteAsync starts transmitting p and returns immediately. EventTxDone fires
// once the last byte has left the line. p must not be modified until then.
func (u *UART) WriteAsync(p []byte) error {
	t, err := u.start(&u.tx, p)
	if err != nil {
		return err
	}
	u.dbgTxStart(len(p))
	go u.runTx(t, u.frameTime(len(p)))
	return nil
}

// ReadAsync starts receiving exactly len(p) bytes into p and returns
// immediately. EventRxDone fires once p is full.
func (u *UART) ReadAsync(p []byte) error {
	t, err := u.start(&u.rx, p)
	if err != nil {
		return err
	}
	u.dbgRxStart(len(p))
	go u.runRx(t)
	return nil
}

// AbortRead cancels an outstanding read. When it returns the transfer no
// longer writes into its buffer. EventRxAborted fires if a read was cancelled.
func (u *UART) AbortRead() error {
	u.mu.Lock()
	t := u.rx
	if t == nil {
		u.mu.Unlock()
		return nil
	}
	t.cancel()
	u.mu.Unlock()
	<-t.done
	return nil
}

// Clear discards bytes waiting on the RX line. It fails with ErrBusy while a
// read is outstanding.
func (u *UART) Clear() error {
	if u.isClosed() {
		return ErrClosed
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.configured {
		return ErrNotConfigured
	}
	if u.rx != nil {
		return ErrBusy
	}
	u.line.Clear()
	return nil
}

// Busy reports whether a transfer is outstanding in each direction.
func (u *UART) Busy() (tx, rx bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.tx != nil, u.rx != nil
}

// Buffered returns the number of bytes waiting on the RX line.
func (u *UART) Buffered() int { return u.line.Used() }

// SetLoopback connects (true) or disconnects (false) TX from RX.
func (u *UART) SetLoopback(on bool) { u.loopback.Store(on) }

// Inject places bytes on the RX line as if a remote end had sent them.
// It returns how many bytes fitted.
func (u *UART) Inject(p ...byte) int {
	n := 0
	for _, b := range p {
		if !u.line.Put(b) {
			u.dbgDrop()
			break
		}
		n++
	}
	return n
}

// Close stops outstanding transfers without raising events and waits until
// they have let go of their buffers.
func (u *UART) Close() error {
	u.once.Do(func() { close(u.closed) })
	u.mu.Lock()
	tx, rx := u.tx, u.rx
	u.mu.Unlock()
	for _, t := range [...]*transfer{tx, rx} {
		if t != nil {
			<-t.done
		}
	}
	return nil
}

// ------------------------------- Internals --------------------------------

func (u *UART) isClosed() bool {
	select {
	case <-u.closed:
		return true
	default:
		return false
	}
}

func (u *UART) start(slot **transfer, p []byte) (*transfer, error) {
	if u.isClosed() {
		return nil, ErrClosed
	}
	if len(p) == 0 {
		return nil, ErrEmptyBuffer
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	switch {
	case !u.configured:
		return nil, ErrNotConfigured
	case u.mode != AsyncDMA:
		return nil, ErrNotAsync
	case *slot != nil:
		return nil, ErrBusy
	}
	t := &transfer{buf: p, abort: make(chan struct{}), done: make(chan struct{})}
	*slot = t
	return t, nil
}

// frameTime is the time n frames occupy the line at the configured format.
func (u *UART) frameTime(n int) time.Duration {
	u.mu.Lock()
	baud := u.baud
	bits := 1 + int(u.cfg.DataBits) + int(u.cfg.StopBits)
	if u.cfg.Parity != ParityNone {
		bits++
	}
	u.mu.Unlock()
	if baud == 0 {
		return 0
	}
	return time.Duration(n*bits) * time.Second / time.Duration(baud)
}

func (u *UART) runTx(t *transfer, d time.Duration) {
	if d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-u.closed:
			timer.Stop()
			u.drop(&u.tx, t)
			return
		}
	}
	for _, b := range t.buf {
		if !u.loopback.Load() {
			continue
		}
		if !u.line.Put(b) {
			u.dbgDrop()
		}
	}
	u.mu.Lock()
	u.tx = nil
	u.mu.Unlock()
	close(t.done)
	u.dbgTxDone()
	u.raise(EventTxDone)
}

func (u *UART) runRx(t *transfer) {
	n := 0
	for n < len(t.buf) {
		if b, ok := u.line.Get(); ok {
			t.buf[n] = b
			n++
			continue
		}
		select {
		case <-u.line.notify:
		case <-t.abort:
			if u.isClosed() {
				u.drop(&u.rx, t)
			} else {
				u.finishRx(t, n)
			}
			return
		case <-u.closed:
			u.drop(&u.rx, t)
			return
		}
	}
	u.finishRx(t, n)
}

func (u *UART) finishRx(t *transfer, n int) {
	u.mu.Lock()
	aborted := false
	select {
	case <-t.abort:
		aborted = n < len(t.buf)
	default:
	}
	u.rx = nil
	u.mu.Unlock()

	if aborted {
		u.dbgRxAbort()
		u.raise(EventRxAborted)
	} else {
		u.dbgRxDone(n)
		u.raise(EventRxDone)
	}
	close(t.done)
}

// drop releases a transfer stopped by Close. No event is raised.
func (u *UART) drop(slot **transfer, t *transfer) {
	u.mu.Lock()
	if *slot == t {
		*slot = nil
	}
	u.mu.Unlock()
	close(t.done)
}

// raise plays the interrupt vector: one callback at a time, enabled events only.
func (u *UART) raise(ev Event) {
	u.irq.Lock()
	defer u.irq.Unlock()
	u.mu.Lock()
	cb, en := u.cb, u.events
	u.mu.Unlock()
	u.dbgCallback(ev & en)
	dispatch(cb, en, ev)
}
