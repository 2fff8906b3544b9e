//go:build (rp2040 || rp2350) && !uartxdebug

package main

import "github.com/jangala-dev/tinygo-uartdma/uartx"

func printStats(*uartx.UART) {}
