package xfer

import "github.com/jangala-dev/tinygo-uartdma/uartx"

// StepError names the bring-up step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return "init " + e.Step + ": " + e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

// Bringup runs the ordered initialisation: board, console, UART, baud rate,
// async DMA mode, callback, events. It stops at the first failure; nothing
// is rolled back and no transfer has been issued when it returns an error.
func Bringup(b Board, p Port, cfg uartx.Config, opts ...Option) (*Loop, error) {
	if err := b.Init(); err != nil {
		return nil, &StepError{Step: "board", Err: err}
	}
	out, err := b.Console()
	if err != nil {
		return nil, &StepError{Step: "console", Err: err}
	}

	l := New(p, out, opts...)

	baud := cfg.BaudRate
	if baud == 0 {
		baud = uartx.DefaultBaudRate
	}
	steps := []struct {
		name string
		fn   func() error
	}{
		{"uart", func() error { return p.Configure(cfg) }},
		{"baud", func() error { return p.SetBaudRate(baud) }},
		{"async", func() error { return p.SetAsyncMode(uartx.AsyncDMA) }},
		{"callback", func() error { return p.RegisterCallback(l.OnEvent) }},
		{"events", func() error {
			return p.EnableEvents(uartx.EventTxDone | uartx.EventRxDone | uartx.EventRxAborted)
		}},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return nil, &StepError{Step: s.name, Err: err}
		}
	}
	return l, nil
}
