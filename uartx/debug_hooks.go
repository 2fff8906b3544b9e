//go:build uartxdebug

package uartx

import "sync/atomic"

func (u *UART) dbgTxStart(n int) {
	atomic.AddUint32(&u.stats.TxStarted, 1)
	atomic.AddUint32(&u.stats.TxBytes, uint32(n))
}

func (u *UART) dbgTxDone() {
	atomic.AddUint32(&u.stats.TxDone, 1)
}

func (u *UART) dbgRxStart(int) {
	atomic.AddUint32(&u.stats.RxStarted, 1)
}

func (u *UART) dbgRxDone(n int) {
	atomic.AddUint32(&u.stats.RxDone, 1)
	atomic.AddUint32(&u.stats.RxBytes, uint32(n))
}

func (u *UART) dbgRxAbort() {
	atomic.AddUint32(&u.stats.RxAborted, 1)
}

// Called when a received byte had nowhere to go.
func (u *UART) dbgDrop() {
	atomic.AddUint32(&u.stats.Drops, 1)
}

// Called on every completion interrupt with the events actually delivered.
func (u *UART) dbgCallback(delivered Event) {
	atomic.AddUint32(&u.stats.IRQCount, 1)
	if delivered == 0 {
		atomic.AddUint32(&u.stats.Masked, 1)
	}
}
