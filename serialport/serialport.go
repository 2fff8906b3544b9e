//go:build !rp2040 && !rp2350

// Package serialport runs the asynchronous UART operations over an OS serial
// device, so the echo example can be driven from a PC through a USB-serial
// adapter with TX jumpered to RX. Transfers run on goroutines; completions are
// reported through the same uartx.Callback contract as the on-chip driver.
package serialport

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/jangala-dev/tinygo-uartdma/uartx"
)

var (
	ErrNoFlowControl = errors.New("serialport: hardware flow control not supported")
	ErrNotOpen       = errors.New("serialport: port not open")
)

// DefaultPollInterval bounds how long an aborted read may take to notice.
const DefaultPollInterval = 100 * time.Millisecond

// openPort is replaced in tests.
var openPort = func(c *serial.Config) (io.ReadWriteCloser, error) {
	return serial.OpenPort(c)
}

// Port is an OS serial device exposed through the uartx async operations.
// The device is opened when async mode is entered.
type Port struct {
	name string
	poll time.Duration

	mu         sync.Mutex
	cfg        uartx.Config
	configured bool
	mode       uartx.AsyncMode
	rw         io.ReadWriteCloser
	cb         uartx.Callback
	events     uartx.Event
	txBusy     bool
	rx         *readOp
	lastErr    error

	irq sync.Mutex // one callback at a time
}

type readOp struct {
	buf   []byte
	abort chan struct{}
	done  chan struct{}
	once  sync.Once
}

func (op *readOp) cancel() { op.once.Do(func() { close(op.abort) }) }

// flusher is implemented by *serial.Port.
type flusher interface {
	Flush() error
}

// New returns a port for the device at name, e.g. /dev/ttyUSB0 or COM3.
func New(name string) *Port {
	return &Port{name: name, poll: DefaultPollInterval}
}

// Configure records the frame format. Pins are meaningless here and ignored.
func (p *Port) Configure(cfg uartx.Config) error {
	if err := cfg.Normalize(); err != nil {
		return err
	}
	if cfg.FlowControl {
		return ErrNoFlowControl
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.txBusy || p.rx != nil {
		return uartx.ErrBusy
	}
	p.cfg = cfg
	p.configured = true
	return nil
}

// SetBaudRate changes the baud rate, reopening the device if it is open.
func (p *Port) SetBaudRate(br uint32) error {
	if br == 0 {
		return uartx.ErrInvalidBaud
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.configured {
		return uartx.ErrNotConfigured
	}
	p.cfg.BaudRate = br
	if p.rw == nil {
		return nil
	}
	if p.txBusy || p.rx != nil {
		return uartx.ErrBusy
	}
	_ = p.rw.Close()
	p.rw = nil
	return p.openLocked()
}

// SetAsyncMode opens (AsyncDMA) or closes (AsyncOff) the device.
func (p *Port) SetAsyncMode(m uartx.AsyncMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.configured {
		return uartx.ErrNotConfigured
	}
	switch m {
	case uartx.AsyncDMA:
		if p.rw == nil {
			if err := p.openLocked(); err != nil {
				return err
			}
		}
	case uartx.AsyncOff:
		if p.txBusy || p.rx != nil {
			return uartx.ErrBusy
		}
		if p.rw != nil {
			_ = p.rw.Close()
			p.rw = nil
		}
	default:
		return uartx.ErrUnsupportedMode
	}
	p.mode = m
	return nil
}

func (p *Port) RegisterCallback(cb uartx.Callback) error {
	p.mu.Lock()
	p.cb = cb
	p.mu.Unlock()
	return nil
}

func (p *Port) EnableEvents(mask uartx.Event) error {
	p.mu.Lock()
	p.events |= mask
	p.mu.Unlock()
	return nil
}

// WriteAsync writes buf on a goroutine and raises EventTxDone when the OS has
// accepted all of it.
func (p *Port) WriteAsync(buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.canStartLocked(buf, p.txBusy); err != nil {
		return err
	}
	p.txBusy = true
	go p.runTx(p.rw, buf)
	return nil
}

// ReadAsync fills buf on a goroutine and raises EventRxDone once it is full.
func (p *Port) ReadAsync(buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.canStartLocked(buf, p.rx != nil); err != nil {
		return err
	}
	op := &readOp{buf: buf, abort: make(chan struct{}), done: make(chan struct{})}
	p.rx = op
	go p.runRx(p.rw, op)
	return nil
}

// AbortRead cancels an outstanding read and waits until it has stopped
// writing into its buffer, at most one poll interval.
func (p *Port) AbortRead() error {
	p.mu.Lock()
	op := p.rx
	if op == nil {
		p.mu.Unlock()
		return nil
	}
	op.cancel()
	p.mu.Unlock()
	<-op.done
	return nil
}

// Clear discards input the OS has buffered but no read has consumed.
func (p *Port) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case !p.configured:
		return uartx.ErrNotConfigured
	case p.rw == nil:
		return ErrNotOpen
	case p.rx != nil:
		return uartx.ErrBusy
	}
	if f, ok := p.rw.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// Err returns the last I/O error seen by a transfer, if any.
func (p *Port) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Close aborts an outstanding read and closes the device.
func (p *Port) Close() error {
	_ = p.AbortRead()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = uartx.AsyncOff
	if p.rw == nil {
		return nil
	}
	err := p.rw.Close()
	p.rw = nil
	return err
}

// ------------------------------- Internals --------------------------------

func (p *Port) serialConfig() *serial.Config {
	c := &serial.Config{
		Name:        p.name,
		Baud:        int(p.cfg.BaudRate),
		ReadTimeout: p.poll,
		Size:        p.cfg.DataBits,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}
	switch p.cfg.Parity {
	case uartx.ParityEven:
		c.Parity = serial.ParityEven
	case uartx.ParityOdd:
		c.Parity = serial.ParityOdd
	}
	if p.cfg.StopBits == 2 {
		c.StopBits = serial.Stop2
	}
	return c
}

func (p *Port) openLocked() error {
	rw, err := openPort(p.serialConfig())
	if err != nil {
		return err
	}
	p.rw = rw
	return nil
}

func (p *Port) canStartLocked(buf []byte, busy bool) error {
	switch {
	case len(buf) == 0:
		return uartx.ErrEmptyBuffer
	case !p.configured:
		return uartx.ErrNotConfigured
	case p.mode != uartx.AsyncDMA:
		return uartx.ErrNotAsync
	case p.rw == nil:
		return ErrNotOpen
	case busy:
		return uartx.ErrBusy
	}
	return nil
}

func (p *Port) runTx(w io.Writer, buf []byte) {
	sent := 0
	for sent < len(buf) {
		n, err := w.Write(buf[sent:])
		sent += n
		if err != nil {
			p.setErr(err)
			break
		}
	}
	p.mu.Lock()
	p.txBusy = false
	p.mu.Unlock()
	p.raise(uartx.EventTxDone)
}

func (p *Port) runRx(r io.Reader, op *readOp) {
	n := 0
	for n < len(op.buf) {
		select {
		case <-op.abort:
			p.finishRx(op, false)
			return
		default:
		}
		k, err := r.Read(op.buf[n:])
		n += k
		if err != nil && !errors.Is(err, io.EOF) {
			// Device gone or misconfigured; back off until aborted.
			p.setErr(err)
			select {
			case <-op.abort:
			case <-time.After(p.poll):
			}
		}
		// k == 0 with io.EOF or nil is a read timeout: poll again.
	}
	p.finishRx(op, true)
}

func (p *Port) finishRx(op *readOp, complete bool) {
	p.mu.Lock()
	p.rx = nil
	p.mu.Unlock()
	if complete {
		p.raise(uartx.EventRxDone)
	} else {
		p.raise(uartx.EventRxAborted)
	}
	close(op.done)
}

func (p *Port) setErr(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

func (p *Port) raise(ev uartx.Event) {
	p.irq.Lock()
	defer p.irq.Unlock()
	p.mu.Lock()
	cb, en := p.cb, p.events
	p.mu.Unlock()
	if ev &= en; ev != 0 && cb != nil {
		cb(ev)
	}
}
