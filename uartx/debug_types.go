//go:build uartxdebug

package uartx

import "sync/atomic"

// Stats holds counters since the last reset.
type Stats struct {
	// Completion interrupt
	IRQCount uint32 // completion interrupts taken
	Masked   uint32 // interrupts whose events were all disabled

	// TX
	TxStarted uint32 // WriteAsync calls accepted
	TxDone    uint32 // TX transfers completed
	TxBytes   uint32 // bytes handed to TX transfers

	// RX
	RxStarted uint32 // ReadAsync calls accepted
	RxDone    uint32 // RX transfers completed
	RxAborted uint32 // RX transfers cancelled by AbortRead
	RxBytes   uint32 // bytes delivered by completed RX transfers
	Drops     uint32 // bytes lost to a full RX line
}

// DebugReset zeroes the counters field by field; transfers and the
// completion interrupt may be updating them concurrently.
func (u *UART) DebugReset() {
	for _, c := range [...]*uint32{
		&u.stats.IRQCount, &u.stats.Masked,
		&u.stats.TxStarted, &u.stats.TxDone, &u.stats.TxBytes,
		&u.stats.RxStarted, &u.stats.RxDone, &u.stats.RxAborted, &u.stats.RxBytes,
		&u.stats.Drops,
	} {
		atomic.StoreUint32(c, 0)
	}
}

func (u *UART) DebugStats() Stats {
	return Stats{
		IRQCount:  atomic.LoadUint32(&u.stats.IRQCount),
		Masked:    atomic.LoadUint32(&u.stats.Masked),
		TxStarted: atomic.LoadUint32(&u.stats.TxStarted),
		TxDone:    atomic.LoadUint32(&u.stats.TxDone),
		TxBytes:   atomic.LoadUint32(&u.stats.TxBytes),
		RxStarted: atomic.LoadUint32(&u.stats.RxStarted),
		RxDone:    atomic.LoadUint32(&u.stats.RxDone),
		RxAborted: atomic.LoadUint32(&u.stats.RxAborted),
		RxBytes:   atomic.LoadUint32(&u.stats.RxBytes),
		Drops:     atomic.LoadUint32(&u.stats.Drops),
	}
}
