//go:build rp2040 || rp2350

package uartx

import (
	"device/rp"
	"machine"
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"
)

// UART represents a single PL011 instance on RP2040/RP2350 driven by two DMA
// channels. Invariants:
//   - PL011 interrupts stay masked; completion is signalled by DMA_IRQ_0.
//   - A channel is only (re)triggered by the foreground while its busy flag is
//     clear; the ISR is the only writer that clears it.
//   - txBuf/rxBuf keep the transfer buffers reachable while the DMA engine
//     owns them.
type UART struct {
	Bus *rp.UART0_Type // PL011 register block

	txCh, rxCh     uint8  // DMA channel numbers
	txDreq, rxDreq uint32 // DREQ sources pacing the channels

	cfg        Config
	configured bool
	baud       uint32
	mode       AsyncMode
	cb         Callback
	events     volatile.Register8

	txBusy, rxBusy volatile.Register8
	txBuf, rxBuf   []byte

	stats Stats
}

// dmaChannel overlays one channel's register block (16 words).
type dmaChannel struct {
	READ_ADDR   volatile.Register32
	WRITE_ADDR  volatile.Register32
	TRANS_COUNT volatile.Register32
	CTRL_TRIG   volatile.Register32
	_           [12]volatile.Register32 // alias views
}

func dmaChannelAt(n uint8) *dmaChannel {
	return (*dmaChannel)(unsafe.Add(unsafe.Pointer(rp.DMA), uintptr(n)*unsafe.Sizeof(dmaChannel{})))
}

// UART on the RP2040/RP2350. Channels 0-3 are reserved for these instances.
var (
	UART0  = &_UART0
	_UART0 = UART{
		Bus:  rp.UART0,
		txCh: 0, rxCh: 1,
		txDreq: dreqUART0TX, rxDreq: dreqUART0RX,
	}

	UART1  = &_UART1
	_UART1 = UART{
		Bus:  rp.UART1,
		txCh: 2, rxCh: 3,
		txDreq: dreqUART1TX, rxDreq: dreqUART1RX,
	}

	uarts = [...]*UART{&_UART0, &_UART1}

	dmaIRQ interrupt.Interrupt
)

func init() {
	dmaIRQ = interrupt.New(rp.IRQ_DMA_IRQ_0, handleDMA)
}

// Configure resets the PL011, muxes its pins and programs the frame format.
// The UART is left enabled with async mode off.
func (uart *UART) Configure(cfg Config) error {
	if err := cfg.Normalize(); err != nil {
		return err
	}
	if uart.txBusy.Get() != 0 || uart.rxBusy.Get() != 0 {
		return ErrBusy
	}
	resetUART(uart)

	if cfg.TX == machine.NoPin && cfg.RX == machine.NoPin {
		cfg.TX = machine.UART_TX_PIN
		cfg.RX = machine.UART_RX_PIN
	}

	// 1) Disable UART while configuring.
	uart.Bus.UARTCR.ClearBits(rp.UART0_UARTCR_UARTEN | rp.UART0_UARTCR_RXE | rp.UART0_UARTCR_TXE)

	// 2) Mux pins before touching baud/format.
	if cfg.TX != machine.NoPin {
		cfg.TX.Configure(machine.PinConfig{Mode: machine.PinUART})
	}
	if cfg.RX != machine.NoPin {
		cfg.RX.Configure(machine.PinConfig{Mode: machine.PinUART})
	}

	// 3) Baud and format.
	uart.setDivisors(cfg.BaudRate)
	uart.writeFormat(cfg.DataBits, cfg.StopBits, cfg.Parity)

	// 4) Clear pending IRQs, purge RX FIFO and sticky errors.
	uart.Bus.UARTICR.Set(0x7FF)
	uart.purgeRX()

	// 5) Enable. RTS/CTS pins are muxed by the board when FlowControl is set.
	settings := uint32(rp.UART0_UARTCR_UARTEN | rp.UART0_UARTCR_RXE | rp.UART0_UARTCR_TXE)
	if cfg.FlowControl {
		settings |= rp.UART0_UARTCR_RTSEN | rp.UART0_UARTCR_CTSEN
	}
	uart.Bus.UARTCR.Set(settings)

	// 6) No PL011 interrupts: every completion comes from the DMA block.
	uart.Bus.UARTIMSC.Set(0)
	uart.Bus.UARTDMACR.Set(0)

	uart.cfg = cfg
	uart.baud = cfg.BaudRate
	uart.mode = AsyncOff
	uart.configured = true
	return nil
}

// SetBaudRate programs the PL011 integer and fractional divisors.
func (uart *UART) SetBaudRate(br uint32) error {
	if br == 0 {
		return ErrInvalidBaud
	}
	if !uart.configured {
		return ErrNotConfigured
	}
	uart.setDivisors(br)
	uart.cfg.BaudRate = br
	return nil
}

// SetFormat sets data bits, stop bits and parity, and enables the FIFOs.
func (uart *UART) SetFormat(databits, stopbits uint8, parity UARTParity) error {
	if err := checkFormat(databits, stopbits, parity); err != nil {
		return err
	}
	if !uart.configured {
		return ErrNotConfigured
	}
	uart.writeFormat(databits, stopbits, parity)
	uart.cfg.DataBits, uart.cfg.StopBits, uart.cfg.Parity = databits, stopbits, parity
	return nil
}

// SetAsyncMode routes the PL011 DREQs to the DMA block and unmasks the
// completion interrupt for this UART's channels.
func (uart *UART) SetAsyncMode(m AsyncMode) error {
	if !uart.configured {
		return ErrNotConfigured
	}
	mask := uint32(1)<<uart.txCh | uint32(1)<<uart.rxCh
	switch m {
	case AsyncDMA:
		uart.Bus.UARTDMACR.Set(rp.UART0_UARTDMACR_TXDMAE | rp.UART0_UARTDMACR_RXDMAE)
		rp.DMA.INTS0.Set(mask)
		rp.DMA.INTE0.SetBits(mask)
		dmaIRQ.SetPriority(uart.cfg.IRQPriority)
		dmaIRQ.Enable()
	case AsyncOff:
		if uart.txBusy.Get() != 0 || uart.rxBusy.Get() != 0 {
			return ErrBusy
		}
		rp.DMA.INTE0.ClearBits(mask)
		uart.Bus.UARTDMACR.Set(0)
	default:
		return ErrUnsupportedMode
	}
	uart.mode = m
	return nil
}

// RegisterCallback replaces the completion callback. Call it before
// EnableEvents; the ISR reads it without locking.
func (uart *UART) RegisterCallback(cb Callback) error {
	uart.cb = cb
	return nil
}

func (uart *UART) EnableEvents(mask Event) error {
	uart.events.SetBits(uint8(mask))
	return nil
}

func (uart *UART) DisableEvents(mask Event) error {
	uart.events.ClearBits(uint8(mask))
	return nil
}

// WriteAsync starts a memory→UARTDR transfer of p. EventTxDone fires when the
// last byte has been handed to the TX FIFO.
func (uart *UART) WriteAsync(p []byte) error {
	if err := uart.canStart(p, &uart.txBusy); err != nil {
		return err
	}
	uart.txBusy.Set(1)
	uart.txBuf = p
	uart.dbgTxStart(len(p))

	ch := dmaChannelAt(uart.txCh)
	ch.READ_ADDR.Set(uint32(uintptr(unsafe.Pointer(&p[0]))))
	ch.WRITE_ADDR.Set(uint32(uintptr(unsafe.Pointer(&uart.Bus.UARTDR))))
	ch.TRANS_COUNT.Set(uint32(len(p)))
	ch.CTRL_TRIG.Set(uart.ctrl(uart.txCh, uart.txDreq, dmaCtrlIncrRead))
	return nil
}

// ReadAsync starts a UARTDR→memory transfer filling p. Bytes already waiting
// in the RX FIFO are consumed first. EventRxDone fires once p is full.
func (uart *UART) ReadAsync(p []byte) error {
	if err := uart.canStart(p, &uart.rxBusy); err != nil {
		return err
	}
	uart.rxBusy.Set(1)
	uart.rxBuf = p
	uart.dbgRxStart(len(p))

	ch := dmaChannelAt(uart.rxCh)
	ch.READ_ADDR.Set(uint32(uintptr(unsafe.Pointer(&uart.Bus.UARTDR))))
	ch.WRITE_ADDR.Set(uint32(uintptr(unsafe.Pointer(&p[0]))))
	ch.TRANS_COUNT.Set(uint32(len(p)))
	ch.CTRL_TRIG.Set(uart.ctrl(uart.rxCh, uart.rxDreq, dmaCtrlIncrWrite))
	return nil
}

// AbortRead stops an outstanding read. The channel interrupt is masked across
// the abort because an aborted channel may still raise its completion flag.
func (uart *UART) AbortRead() error {
	if uart.rxBusy.Get() == 0 {
		return nil
	}
	bit := uint32(1) << uart.rxCh
	rp.DMA.INTE0.ClearBits(bit)
	rp.DMA.CHAN_ABORT.Set(bit)
	for rp.DMA.CHAN_ABORT.HasBits(bit) {
	}
	rp.DMA.INTS0.Set(bit)
	rp.DMA.INTE0.SetBits(bit)

	if uart.rxBusy.Get() == 0 {
		// Completed while we were aborting.
		return nil
	}
	uart.rxBusy.Set(0)
	uart.rxBuf = nil
	uart.dbgRxAbort()
	dispatch(uart.cb, Event(uart.events.Get()), EventRxAborted)
	return nil
}

// Clear discards whatever is waiting in the RX FIFO and resets the sticky
// receive errors. It fails with ErrBusy while a read owns the FIFO.
func (uart *UART) Clear() error {
	if !uart.configured {
		return ErrNotConfigured
	}
	if uart.rxBusy.Get() != 0 {
		return ErrBusy
	}
	uart.purgeRX()
	return nil
}

// Busy reports whether a transfer is outstanding in each direction.
func (uart *UART) Busy() (tx, rx bool) {
	return uart.txBusy.Get() != 0, uart.rxBusy.Get() != 0
}

// Close aborts both channels and takes the UART out of async mode.
func (uart *UART) Close() error {
	mask := uint32(1)<<uart.txCh | uint32(1)<<uart.rxCh
	rp.DMA.INTE0.ClearBits(mask)
	rp.DMA.CHAN_ABORT.Set(mask)
	for rp.DMA.CHAN_ABORT.HasBits(mask) {
	}
	rp.DMA.INTS0.Set(mask)
	uart.txBusy.Set(0)
	uart.rxBusy.Set(0)
	uart.txBuf, uart.rxBuf = nil, nil
	uart.Bus.UARTDMACR.Set(0)
	uart.mode = AsyncOff
	return nil
}

// ------------------------------- Internals --------------------------------

func (uart *UART) purgeRX() {
	for !uart.Bus.UARTFR.HasBits(rp.UART0_UARTFR_RXFE) {
		_ = uart.Bus.UARTDR.Get()
	}
	uart.Bus.UARTRSR.Set(0)
}

func (uart *UART) canStart(p []byte, busy *volatile.Register8) error {
	switch {
	case len(p) == 0:
		return ErrEmptyBuffer
	case !uart.configured:
		return ErrNotConfigured
	case uart.mode != AsyncDMA:
		return ErrNotAsync
	case busy.Get() != 0:
		return ErrBusy
	}
	return nil
}

// ctrl builds a byte-wide CTRL_TRIG value. Chaining to itself disables chaining.
func (uart *UART) ctrl(ch uint8, dreq uint32, incr uint32) uint32 {
	v := uint32(dmaCtrlEN) | incr |
		uint32(ch)<<dmaCtrlChainToPos |
		dreq<<dmaCtrlTreqSelPos
	if uart.cfg.DMAPriority == DMAPriorityHigh {
		v |= dmaCtrlHighPriority
	}
	return v
}

func (uart *UART) setDivisors(br uint32) {
	uart.baud = br
	div := 8 * machine.CPUFrequency() / br

	ibrd := div >> 7
	var fbrd uint32
	switch {
	case ibrd == 0:
		ibrd = 1
		fbrd = 0
	case ibrd >= 65535:
		ibrd = 65535
		fbrd = 0
	default:
		fbrd = ((div & 0x7f) + 1) / 2
	}

	uart.Bus.UARTIBRD.Set(ibrd)
	uart.Bus.UARTFBRD.Set(fbrd)

	// PL011 requires an LCR_H write after changing divisors.
	uart.Bus.UARTLCR_H.Set(uart.Bus.UARTLCR_H.Get())
}

// writeFormat writes the full LCR_H value with FIFOs enabled. The RX FIFO is
// what holds an echo that arrives before the read is issued.
func (uart *UART) writeFormat(databits, stopbits uint8, parity UARTParity) {
	var pen, pev uint32
	if parity != ParityNone {
		pen = rp.UART0_UARTLCR_H_PEN
		if parity == ParityEven {
			pev = rp.UART0_UARTLCR_H_EPS
		}
	}
	const fen = rp.UART0_UARTLCR_H_FEN

	val := uint32((databits-5)<<rp.UART0_UARTLCR_H_WLEN_Pos|
		(stopbits-1)<<rp.UART0_UARTLCR_H_STP2_Pos) |
		pen | pev | fen

	uart.Bus.UARTLCR_H.Set(val)
}

// resetUART asserts and releases the peripheral reset for the selected PL011.
func resetUART(uart *UART) {
	var resetVal uint32
	switch {
	case uart.Bus == rp.UART0:
		resetVal = rp.RESETS_RESET_UART0
	case uart.Bus == rp.UART1:
		resetVal = rp.RESETS_RESET_UART1
	}

	rp.RESETS.RESET.SetBits(resetVal)
	rp.RESETS.RESET.ClearBits(resetVal)
	for !rp.RESETS.RESET_DONE.HasBits(resetVal) {
	}
}

// handleDMA acknowledges DMA_IRQ_0 and hands each UART its channel bits.
func handleDMA(interrupt.Interrupt) {
	ints := rp.DMA.INTS0.Get()
	rp.DMA.INTS0.Set(ints) // write-one-to-clear
	for _, u := range uarts {
		u.service(ints)
	}
}

func (uart *UART) service(ints uint32) {
	var ev Event
	if ints&(1<<uart.txCh) != 0 && uart.txBusy.Get() != 0 {
		uart.txBusy.Set(0)
		uart.txBuf = nil
		uart.dbgTxDone()
		ev |= EventTxDone
	}
	if ints&(1<<uart.rxCh) != 0 && uart.rxBusy.Get() != 0 {
		n := len(uart.rxBuf)
		uart.rxBusy.Set(0)
		uart.rxBuf = nil
		uart.dbgRxDone(n)
		ev |= EventRxDone
	}
	if ev == 0 {
		return
	}
	en := Event(uart.events.Get())
	uart.dbgCallback(ev & en)
	dispatch(uart.cb, en, ev)
}
