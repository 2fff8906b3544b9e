// uartx/export.go

//go:build rp2040 || rp2350

package uartx

import "machine"

type Pin = machine.Pin

const (
	NoPin       = machine.NoPin
	UART_TX_PIN = machine.UART_TX_PIN
	UART_RX_PIN = machine.UART_RX_PIN
)
