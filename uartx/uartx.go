// uartx/uartx.go

// Package uartx provides an asynchronous UART driver. Transfers are started
// with WriteAsync/ReadAsync, return immediately and complete later; the
// driver reports completion through a single registered Callback invoked from
// interrupt context. On RP2040/RP2350 the transfers are carried by DMA
// channels paced by the PL011; on other targets a loopback shim stands in for
// the hardware so the same code can be exercised by host tests.
package uartx

import "errors"

var (
	ErrNotConfigured   = errors.New("uartx: not configured")
	ErrNotAsync        = errors.New("uartx: async mode not enabled")
	ErrBusy            = errors.New("uartx: transfer already in progress")
	ErrEmptyBuffer     = errors.New("uartx: empty transfer buffer")
	ErrInvalidFormat   = errors.New("uartx: invalid frame format")
	ErrInvalidBaud     = errors.New("uartx: invalid baud rate")
	ErrClosed          = errors.New("uartx: closed")
	ErrUnsupportedMode = errors.New("uartx: unsupported async mode")
)

// UARTParity defines the parity setting used for UART communication.
type UARTParity uint8

const (
	// ParityNone disables parity generation and checking (the most common setting).
	ParityNone UARTParity = iota
	// ParityEven sets even parity (total number of 1 bits is even).
	ParityEven
	// ParityOdd sets odd parity (total number of 1 bits is odd).
	ParityOdd
)

// AsyncMode selects how asynchronous transfers are carried.
type AsyncMode uint8

const (
	AsyncOff AsyncMode = iota
	AsyncDMA
)

// DMAPriority is the bus arbitration priority of the transfer channels.
type DMAPriority uint8

const (
	DMAPriorityNormal DMAPriority = iota
	DMAPriorityHigh
)

// Event is a bitmask of completion events delivered to a Callback.
type Event uint8

const (
	EventTxDone Event = 1 << iota
	EventRxDone
	EventRxAborted
)

func (e Event) String() string {
	if e == 0 {
		return "none"
	}
	s := ""
	add := func(bit Event, name string) {
		if e&bit == 0 {
			return
		}
		if s != "" {
			s += "|"
		}
		s += name
	}
	add(EventTxDone, "tx-done")
	add(EventRxDone, "rx-done")
	add(EventRxAborted, "rx-aborted")
	if rest := e &^ (EventTxDone | EventRxDone | EventRxAborted); rest != 0 {
		add(rest, "unknown")
	}
	return s
}

// Callback is invoked from interrupt context with the events that fired.
// It must not block.
type Callback func(Event)

// Config is the static UART configuration applied by Configure.
type Config struct {
	BaudRate    uint32
	TX, RX      Pin
	DataBits    uint8 // 5..8, default 8
	StopBits    uint8 // 1..2, default 1
	Parity      UARTParity
	FlowControl bool

	IRQPriority uint8 // priority of the completion interrupt
	DMAPriority DMAPriority
}

// DefaultBaudRate is applied when Config.BaudRate is zero.
const DefaultBaudRate = 115200

// Normalize fills zero fields with 8N1 defaults and validates the frame.
func (c *Config) Normalize() error {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.DataBits == 0 {
		c.DataBits = 8
	}
	if c.StopBits == 0 {
		c.StopBits = 1
	}
	return checkFormat(c.DataBits, c.StopBits, c.Parity)
}

func checkFormat(databits, stopbits uint8, parity UARTParity) error {
	if databits < 5 || databits > 8 {
		return ErrInvalidFormat
	}
	if stopbits < 1 || stopbits > 2 {
		return ErrInvalidFormat
	}
	if parity > ParityOdd {
		return ErrInvalidFormat
	}
	return nil
}

// dispatch delivers ev to cb, filtered by the enabled mask.
func dispatch(cb Callback, enabled, ev Event) {
	ev &= enabled
	if ev == 0 || cb == nil {
		return
	}
	cb(ev)
}
