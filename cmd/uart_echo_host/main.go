//go:build !rp2040 && !rp2350

// Command uart_echo_host runs the asynchronous echo cycle from a PC over a
// USB-serial adapter with TX jumpered to RX. The device is fixed at build
// time:
//
//	go build -ldflags "-X main.portName=/dev/ttyACM0" ./cmd/uart_echo_host
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/jangala-dev/tinygo-uartdma/board"
	"github.com/jangala-dev/tinygo-uartdma/serialport"
	"github.com/jangala-dev/tinygo-uartdma/xfer"
)

var portName = "/dev/ttyUSB0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	port := serialport.New(portName)
	defer port.Close()

	loop, err := xfer.Bringup(board.Default(), port, xfer.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", portName, err)
		board.Halt()
	}
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
	}
	if err := port.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "last I/O error: %v\n", err)
	}
}
