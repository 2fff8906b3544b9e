//go:build rp2350

package uartx

// CTRL_TRIG layout and DREQ numbers for the RP2350 DMA block. The *_REV
// increment bits sit between INCR_READ and INCR_WRITE and stay zero.
const (
	dmaCtrlEN           = 1 << 0
	dmaCtrlHighPriority = 1 << 1
	dmaCtrlIncrRead     = 1 << 4
	dmaCtrlIncrWrite    = 1 << 6
	dmaCtrlChainToPos   = 13
	dmaCtrlTreqSelPos   = 17
	dmaCtrlBusy         = 1 << 26

	dreqUART0TX = 28
	dreqUART0RX = 29
	dreqUART1TX = 30
	dreqUART1RX = 31
)
