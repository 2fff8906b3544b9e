// Package xfer runs the asynchronous UART echo cycle: fill a fixed pattern,
// start an async write and an async read, wait for the receive-complete
// callback, print both buffers and pause before the next cycle.
package xfer

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/jangala-dev/tinygo-uartdma/uartx"
)

// DataSize is the payload length of every cycle.
const DataSize = 26

const (
	DefaultPreReadDelay = 1 * time.Second
	DefaultCycleDelay   = 5000 * time.Millisecond
	DefaultRxTimeout    = 3 * time.Second

	DefaultIRQPriority = 0x80
	DefaultDMAPriority = uartx.DMAPriorityHigh
)

// ErrRxTimeout is reported when a read does not complete within RxTimeout.
var ErrRxTimeout = errors.New("xfer: receive did not complete")

// Port is the asynchronous UART capability the loop drives.
type Port interface {
	Configure(uartx.Config) error
	SetBaudRate(uint32) error
	SetAsyncMode(uartx.AsyncMode) error
	RegisterCallback(uartx.Callback) error
	EnableEvents(uartx.Event) error
	WriteAsync([]byte) error
	ReadAsync([]byte) error
	AbortRead() error
	Clear() error // discard received bytes no read has claimed
}

// Board brings up clocks and pins, then provides the console.
type Board interface {
	Init() error
	Console() (io.Writer, error)
}

// Timing paces a cycle. A zero RxTimeout waits for ever.
type Timing struct {
	PreReadDelay time.Duration // between issuing the write and the read
	CycleDelay   time.Duration // after each cycle
	RxTimeout    time.Duration // bound on the receive wait
}

func DefaultTiming() Timing {
	return Timing{
		PreReadDelay: DefaultPreReadDelay,
		CycleDelay:   DefaultCycleDelay,
		RxTimeout:    DefaultRxTimeout,
	}
}

// DefaultConfig is 115200 8N1 without flow control. Pins are left to the caller.
func DefaultConfig() uartx.Config {
	return uartx.Config{
		BaudRate:    uartx.DefaultBaudRate,
		DataBits:    8,
		StopBits:    1,
		Parity:      uartx.ParityNone,
		IRQPriority: DefaultIRQPriority,
		DMAPriority: DefaultDMAPriority,
	}
}

// State is a step of the transfer cycle.
type State uint8

const (
	StateIdle State = iota
	StateFill
	StateTxIssued
	StateRxIssued
	StateWaitRx
	StateReport
	StateDelay
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFill:
		return "fill"
	case StateTxIssued:
		return "tx-issued"
	case StateRxIssued:
		return "rx-issued"
	case StateWaitRx:
		return "wait-rx"
	case StateReport:
		return "report"
	case StateDelay:
		return "delay"
	}
	return "unknown"
}

// Option configures a Loop.
type Option func(*Loop)

// WithTiming replaces DefaultTiming.
func WithTiming(t Timing) Option { return func(l *Loop) { l.timing = t } }

// WithStateHook calls fn from the loop goroutine on every state entry.
func WithStateHook(fn func(State)) Option { return func(l *Loop) { l.onState = fn } }

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
