//go:build rp2040

package uartx

// CTRL_TRIG layout and DREQ numbers for the RP2040 DMA block.
const (
	dmaCtrlEN           = 1 << 0
	dmaCtrlHighPriority = 1 << 1
	dmaCtrlIncrRead     = 1 << 4
	dmaCtrlIncrWrite    = 1 << 5
	dmaCtrlChainToPos   = 11
	dmaCtrlTreqSelPos   = 15
	dmaCtrlBusy         = 1 << 24

	dreqUART0TX = 20
	dreqUART0RX = 21
	dreqUART1TX = 22
	dreqUART1RX = 23
)
