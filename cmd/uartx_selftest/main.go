//go:build rp2040 || rp2350

// On-target self-test for the async DMA driver. Wire GP4 (TX) to GP5 (RX)
// before flashing. Build with -tags uartxdebug to print the driver counters.
package main

import (
	"time"

	"machine"

	"github.com/jangala-dev/tinygo-uartdma/uartx"
	"github.com/jangala-dev/tinygo-uartdma/xfer"
)

var (
	u     = uartx.UART1
	txPin = machine.GPIO4
	rxPin = machine.GPIO5
	baud  = uint32(921600)
)

// events is fed by the completion callback; sends never block.
var events = make(chan uartx.Event, 8)

func onEvent(ev uartx.Event) {
	select {
	case events <- ev:
	default:
	}
}

func clearEvents() {
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}

// waitFor collects events until all bits in want have been seen or d elapses.
func waitFor(want uartx.Event, d time.Duration) bool {
	var seen uartx.Event
	deadline := time.After(d)
	for seen&want != want {
		select {
		case ev := <-events:
			seen |= ev
		case <-deadline:
			return false
		}
	}
	return true
}

func ledBlink(times int, on time.Duration) {
	for i := 0; i < times; i++ {
		machine.LED.High()
		time.Sleep(on)
		machine.LED.Low()
		time.Sleep(on)
	}
}

func main() {
	// Give the monitor time to attach.
	time.Sleep(3 * time.Second)

	println("uartx async self-test starting")

	cfg := xfer.DefaultConfig()
	cfg.BaudRate = baud
	cfg.TX, cfg.RX = txPin, rxPin
	if err := u.Configure(cfg); err != nil {
		println("Configure failed:", err.Error())
		for {
			ledBlink(1, 500*time.Millisecond)
		}
	}
	_ = u.SetAsyncMode(uartx.AsyncDMA)
	_ = u.RegisterCallback(onEvent)
	_ = u.EnableEvents(uartx.EventTxDone | uartx.EventRxDone | uartx.EventRxAborted)

	machine.LED.Configure(machine.PinConfig{Mode: machine.PinOutput})
	u.DebugReset()

	pass, fail := 0, 0
	defer func() {
		println("")
		println("Summary")
		println("  passed =", pass)
		println("  failed =", fail)
		printStats(u)
		if fail == 0 {
			ledBlink(3, 120*time.Millisecond)
		} else {
			for {
				ledBlink(1, 600*time.Millisecond)
				time.Sleep(800 * time.Millisecond)
			}
		}
	}()

	run := func(name string, f func() string) {
		println("")
		println("[Test]", name)
		clearEvents()
		if msg := f(); msg == "" {
			println("  PASS")
			pass++
		} else {
			println("  FAIL:", msg)
			fail++
		}
	}

	run("echo: write then read (RX FIFO holds the echo)", func() string {
		tx := []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZ")
		rx := make([]byte, len(tx))
		if err := u.WriteAsync(tx); err != nil {
			return "write: " + err.Error()
		}
		if !waitFor(uartx.EventTxDone, 500*time.Millisecond) {
			return "no tx-done"
		}
		time.Sleep(5 * time.Millisecond)
		if err := u.ReadAsync(rx); err != nil {
			return "read: " + err.Error()
		}
		if !waitFor(uartx.EventRxDone, 500*time.Millisecond) {
			return "no rx-done"
		}
		if string(rx) != string(tx) {
			return "mismatch"
		}
		return ""
	})

	run("busy: second write rejected while first in flight", func() string {
		tx := make([]byte, 256)
		rx := make([]byte, len(tx))
		_ = u.ReadAsync(rx)
		if err := u.WriteAsync(tx); err != nil {
			return "write: " + err.Error()
		}
		if err := u.WriteAsync(tx[:1]); err != uartx.ErrBusy {
			return "second write accepted"
		}
		if !waitFor(uartx.EventTxDone|uartx.EventRxDone, time.Second) {
			return "transfers did not complete"
		}
		return ""
	})

	run("abort: read with nothing on the line", func() string {
		rx := make([]byte, 8)
		if err := u.ReadAsync(rx); err != nil {
			return "read: " + err.Error()
		}
		time.Sleep(50 * time.Millisecond)
		if _, busy := u.Busy(); !busy {
			return "read completed without data"
		}
		_ = u.AbortRead()
		if !waitFor(uartx.EventRxAborted, 200*time.Millisecond) {
			return "no rx-aborted"
		}
		if _, busy := u.Busy(); busy {
			return "still busy after abort"
		}
		return ""
	})

	run("mask: disabled events are not delivered", func() string {
		_ = u.DisableEvents(uartx.EventTxDone)
		defer u.EnableEvents(uartx.EventTxDone)
		rx := make([]byte, 4)
		_ = u.ReadAsync(rx)
		_ = u.WriteAsync([]byte("mask"))
		if !waitFor(uartx.EventRxDone, 500*time.Millisecond) {
			return "no rx-done"
		}
		select {
		case ev := <-events:
			if ev&uartx.EventTxDone != 0 {
				return "tx-done delivered while masked"
			}
		case <-time.After(20 * time.Millisecond):
		}
		return ""
	})

	run("binary: 4 KiB integrity (CRC-16)", func() string {
		n := 4 * 1024
		src := make([]byte, n)
		var x uint32 = 0x12345678
		for i := range src {
			x = 1664525*x + 1013904223
			src[i] = byte(x >> 24)
		}
		dst := make([]byte, n)

		start := time.Now()
		if err := u.ReadAsync(dst); err != nil {
			return "read: " + err.Error()
		}
		if err := u.WriteAsync(src); err != nil {
			return "write: " + err.Error()
		}
		if !waitFor(uartx.EventTxDone|uartx.EventRxDone, 3*time.Second) {
			_ = u.AbortRead()
			return "timeout"
		}
		if xfer.Checksum(dst) != xfer.Checksum(src) {
			return "crc mismatch"
		}

		ms := int(time.Since(start) / time.Millisecond)
		if ms <= 0 {
			ms = 1
		}
		kbpsX100 := (n*8*100 + ms/2) / ms
		println("  speed =", formatFixed2(kbpsX100), "kbps")
		return ""
	})

	run("format: SetFormat 8E1", func() string {
		if err := u.SetFormat(8, 1, uartx.ParityEven); err != nil {
			return err.Error()
		}
		defer u.SetFormat(8, 1, uartx.ParityNone)
		msg := []byte("format-ok")
		rx := make([]byte, len(msg))
		_ = u.ReadAsync(rx)
		_ = u.WriteAsync(msg)
		if !waitFor(uartx.EventRxDone, 500*time.Millisecond) {
			_ = u.AbortRead()
			return "timeout"
		}
		if string(rx) != string(msg) {
			return "mismatch"
		}
		return ""
	})

	println("")
	println("All tests completed")
}

// --- tiny helpers (no fmt) ---

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := false
	if n < 0 {
		neg = true
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + (n % 10))
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func formatFixed2(x int) string {
	sign := ""
	if x < 0 {
		sign = "-"
		x = -x
	}
	whole := x / 100
	frac := x % 100
	pad := ""
	if frac < 10 {
		pad = "0"
	}
	return sign + itoa(whole) + "." + pad + itoa(frac)
}
