//go:build uartxdebug && !rp2040 && !rp2350

package uartx

import (
	"testing"
	"time"
)

func TestDebugStats_CountTransfers(t *testing.T) {
	u, events := newTestUART(t)
	u.DebugReset()

	tx := []byte("STATS")
	rx := make([]byte, len(tx))
	if err := u.WriteAsync(tx); err != nil {
		t.Fatalf("WriteAsync: %v", err)
	}
	waitEvent(t, events, EventTxDone)
	if err := u.ReadAsync(rx); err != nil {
		t.Fatalf("ReadAsync: %v", err)
	}
	waitEvent(t, events, EventRxDone)

	if err := u.ReadAsync(make([]byte, 4)); err != nil {
		t.Fatalf("ReadAsync: %v", err)
	}
	_ = u.AbortRead()
	waitEvent(t, events, EventRxAborted)

	if n := u.Inject(make([]byte, wireSize+1)...); n != wireSize {
		t.Fatalf("Inject accepted %d want %d", n, wireSize)
	}

	s := u.DebugStats()
	want := Stats{
		IRQCount:  3,
		TxStarted: 1, TxDone: 1, TxBytes: uint32(len(tx)),
		RxStarted: 2, RxDone: 1, RxAborted: 1, RxBytes: uint32(len(tx)),
		Drops: 1,
	}
	if s != want {
		t.Fatalf("stats=%+v want %+v", s, want)
	}

	u.DebugReset()
	if s := u.DebugStats(); s != (Stats{}) {
		t.Fatalf("stats after reset=%+v", s)
	}
}

func TestDebugStats_CountMaskedInterrupts(t *testing.T) {
	u, events := newTestUART(t)
	u.DebugReset()
	_ = u.DisableEvents(EventTxDone)

	rx := make([]byte, 1)
	_ = u.ReadAsync(rx)
	_ = u.WriteAsync([]byte{'m'})
	waitEvent(t, events, EventRxDone)

	// The masked TX completion may be delivered after RX.
	deadline := time.Now().Add(500 * time.Millisecond)
	s := u.DebugStats()
	for s.IRQCount < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
		s = u.DebugStats()
	}
	if s.IRQCount != 2 || s.Masked != 1 {
		t.Fatalf("IRQCount=%d Masked=%d want 2 and 1", s.IRQCount, s.Masked)
	}
}
