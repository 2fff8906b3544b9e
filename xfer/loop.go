package xfer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jangala-dev/tinygo-uartdma/uartx"
)

// Loop owns the transmit and receive buffers and the receive-complete flag.
// The buffers are only touched by the loop goroutine, except rx while a read
// is outstanding, which belongs to the port until the flag clears or the read
// is aborted.
type Loop struct {
	port Port
	out  io.Writer

	tx, rx [DataSize]byte
	flag   *Flag

	notices chan uartx.Event // callback → loop, never blocks the callback

	timing  Timing
	onState func(State)
	state   State
	cycles  int
}

// New returns a loop driving port and logging to out. The caller still has to
// register OnEvent with the port; Bringup does that.
func New(port Port, out io.Writer, opts ...Option) *Loop {
	l := &Loop{
		port:    port,
		out:     out,
		flag:    NewFlag(),
		notices: make(chan uartx.Event, 4),
		timing:  DefaultTiming(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// OnEvent is the completion callback. It runs in interrupt context: it clears
// the flag on receive completion and posts a notice, and never blocks.
func (l *Loop) OnEvent(ev uartx.Event) {
	if ev&uartx.EventRxDone != 0 {
		l.flag.Clear()
	}
	select {
	case l.notices <- ev:
	default:
	}
}

// Fill zeroes both buffers and writes 'A'+i into tx[i].
func (l *Loop) Fill() {
	l.rx = [DataSize]byte{}
	for i := range l.tx {
		l.tx[i] = byte('A' + i)
	}
}

// Run prints the banner and cycles until ctx is done. Cycle errors are
// reported on the console and do not stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.Banner()
	for {
		if err := l.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(l.out, "cycle %d: %v\r\n", l.cycles, err)
		}
		l.enter(StateDelay)
		if err := sleep(ctx, l.timing.CycleDelay); err != nil {
			return err
		}
	}
}

// Cycle performs one fill → write → read → wait → report pass. The port is
// cleared first so a stray byte cannot shift this cycle's echo.
func (l *Loop) Cycle(ctx context.Context) error {
	l.cycles++

	l.enter(StateFill)
	if err := l.port.Clear(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	l.Fill()
	l.flag.Arm()

	l.enter(StateTxIssued)
	if err := l.port.WriteAsync(l.tx[:]); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := sleep(ctx, l.timing.PreReadDelay); err != nil {
		return err
	}

	l.enter(StateRxIssued)
	if err := l.port.ReadAsync(l.rx[:]); err != nil {
		return fmt.Errorf("read: %w", err)
	}

	l.enter(StateWaitRx)
	if err := l.waitRx(ctx); err != nil {
		return err
	}

	l.enter(StateReport)
	l.report()
	l.flag.Arm()
	return nil
}

// waitRx blocks until the callback clears the flag, logging notices as they
// arrive. On timeout or cancellation the read is aborted before returning so
// the port no longer owns rx.
func (l *Loop) waitRx(ctx context.Context) error {
	wctx := ctx
	if l.timing.RxTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, l.timing.RxTimeout)
		defer cancel()
	}

	for l.flag.Pending() {
		select {
		case ev := <-l.notices:
			l.logEvent(ev)
		case <-l.flag.Ready():
		case <-wctx.Done():
			abortErr := l.port.AbortRead()
			if abortErr != nil {
				abortErr = fmt.Errorf("abort: %w", abortErr)
			}
			l.drainNotices()
			if ctx.Err() != nil {
				return errors.Join(ctx.Err(), abortErr)
			}
			if !l.flag.Pending() {
				// Completed while aborting.
				return abortErr
			}
			return errors.Join(fmt.Errorf("%w within %s", ErrRxTimeout, l.timing.RxTimeout), abortErr)
		}
	}
	l.drainNotices()
	return nil
}

func (l *Loop) drainNotices() {
	for {
		select {
		case ev := <-l.notices:
			l.logEvent(ev)
		default:
			return
		}
	}
}

func (l *Loop) logEvent(ev uartx.Event) {
	if ev&uartx.EventTxDone != 0 {
		fmt.Fprint(l.out, "tx done\r\n")
	}
	if ev&uartx.EventRxDone != 0 {
		fmt.Fprint(l.out, "rx done\r\n")
	}
	if ev&uartx.EventRxAborted != 0 {
		fmt.Fprint(l.out, "rx aborted\r\n")
	}
}

func (l *Loop) enter(s State) {
	l.state = s
	if l.onState != nil {
		l.onState(s)
	}
}

// Flag returns the receive-complete flag.
func (l *Loop) Flag() *Flag { return l.flag }

// State returns the state last entered.
func (l *Loop) State() State { return l.state }

// Cycles returns how many cycles have started.
func (l *Loop) Cycles() int { return l.cycles }

// TX returns a copy of the transmit buffer.
func (l *Loop) TX() []byte { b := l.tx; return b[:] }

// RX returns a copy of the receive buffer. Only meaningful while no read is
// outstanding.
func (l *Loop) RX() []byte { b := l.rx; return b[:] }
