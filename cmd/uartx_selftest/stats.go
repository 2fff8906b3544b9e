//go:build (rp2040 || rp2350) && uartxdebug

package main

import "github.com/jangala-dev/tinygo-uartdma/uartx"

func printStats(u *uartx.UART) {
	s := u.DebugStats()
	println("")
	println("Driver counters")
	println("  irq        =", s.IRQCount, " masked =", s.Masked)
	println("  tx started =", s.TxStarted, " done =", s.TxDone, " bytes =", s.TxBytes)
	println("  rx started =", s.RxStarted, " done =", s.RxDone, " aborted =", s.RxAborted, " bytes =", s.RxBytes)
	println("  drops      =", s.Drops)
}
