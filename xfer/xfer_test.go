//go:build !rp2040 && !rp2350

package xfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jangala-dev/tinygo-uartdma/uartx"
)

const pattern = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

var errInjected = errors.New("injected failure")

// fakePort records calls and, when echo is set, completes every read with
// the last written bytes from a separate goroutine.
type fakePort struct {
	mu     sync.Mutex
	failAt string
	echo   bool
	calls  []string
	cb     uartx.Callback

	lastTx    []byte
	txAtIssue [][]byte
	rxAtIssue [][]byte
	aborts    int
	abortErr  error
}

func (f *fakePort) step(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.failAt == name {
		return errInjected
	}
	return nil
}

func (f *fakePort) Configure(uartx.Config) error       { return f.step("configure") }
func (f *fakePort) SetBaudRate(uint32) error           { return f.step("baud") }
func (f *fakePort) SetAsyncMode(uartx.AsyncMode) error { return f.step("async") }
func (f *fakePort) EnableEvents(uartx.Event) error     { return f.step("events") }
func (f *fakePort) Clear() error                       { return f.step("clear") }
func (f *fakePort) RegisterCallback(cb uartx.Callback) error {
	if err := f.step("callback"); err != nil {
		return err
	}
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
	return nil
}

func (f *fakePort) WriteAsync(p []byte) error {
	if err := f.step("write"); err != nil {
		return err
	}
	f.mu.Lock()
	f.lastTx = append([]byte(nil), p...)
	f.txAtIssue = append(f.txAtIssue, append([]byte(nil), p...))
	f.mu.Unlock()
	return nil
}

func (f *fakePort) ReadAsync(p []byte) error {
	if err := f.step("read"); err != nil {
		return err
	}
	f.mu.Lock()
	f.rxAtIssue = append(f.rxAtIssue, append([]byte(nil), p...))
	echo, src, cb := f.echo, f.lastTx, f.cb
	f.mu.Unlock()
	if echo {
		go func() {
			copy(p, src)
			cb(uartx.EventRxDone)
		}()
	}
	return nil
}

func (f *fakePort) AbortRead() error {
	f.mu.Lock()
	f.aborts++
	cb, err := f.cb, f.abortErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	cb(uartx.EventRxAborted)
	return nil
}

func (f *fakePort) called(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == name {
			return true
		}
	}
	return false
}

type fakeBoard struct {
	initErr, consoleErr error
	out                 bytes.Buffer
}

func (b *fakeBoard) Init() error { return b.initErr }

func (b *fakeBoard) Console() (io.Writer, error) {
	if b.consoleErr != nil {
		return nil, b.consoleErr
	}
	return &b.out, nil
}

var fastTiming = Timing{RxTimeout: time.Second}

func newEchoLoop(t *testing.T, opts ...Option) (*Loop, *fakePort, *fakeBoard) {
	t.Helper()
	p := &fakePort{echo: true}
	b := &fakeBoard{}
	l, err := Bringup(b, p, DefaultConfig(), append([]Option{WithTiming(fastTiming)}, opts...)...)
	if err != nil {
		t.Fatalf("Bringup: %v", err)
	}
	return l, p, b
}

func TestFill_Pattern(t *testing.T) {
	l := New(&fakePort{}, io.Discard)
	l.rx[3] = 0xAA
	l.Fill()

	if string(l.TX()) != pattern {
		t.Fatalf("tx=%q want %q", l.TX(), pattern)
	}
	if !bytes.Equal(l.RX(), make([]byte, DataSize)) {
		t.Fatalf("rx not zeroed: %v", l.RX())
	}
}

func TestDataSize_MatchesBuffers(t *testing.T) {
	l := New(&fakePort{}, io.Discard)
	if len(l.tx) != DataSize || len(l.rx) != DataSize || len(pattern) != DataSize {
		t.Fatalf("len(tx)=%d len(rx)=%d DataSize=%d", len(l.tx), len(l.rx), DataSize)
	}
}

func TestCycle_FlagClearedBeforeReportAndRearmedAfter(t *testing.T) {
	var pendingAtReport *bool
	var l *Loop
	l, _, _ = newEchoLoop(t, WithStateHook(func(s State) {
		if s == StateReport {
			v := l.Flag().Pending()
			pendingAtReport = &v
		}
	}))

	if err := l.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if pendingAtReport == nil {
		t.Fatal("report state never entered")
	}
	if *pendingAtReport {
		t.Fatal("flag still pending when report started")
	}
	if !l.Flag().Pending() {
		t.Fatal("flag not re-armed after report")
	}
}

func TestCycle_BuffersAtIssue(t *testing.T) {
	l, p, _ := newEchoLoop(t)

	for i := 0; i < 3; i++ {
		if err := l.Cycle(context.Background()); err != nil {
			t.Fatalf("Cycle %d: %v", i, err)
		}
	}

	zero := make([]byte, DataSize)
	for i := range p.txAtIssue {
		if string(p.txAtIssue[i]) != pattern {
			t.Fatalf("cycle %d tx at write=%q", i, p.txAtIssue[i])
		}
		if !bytes.Equal(p.rxAtIssue[i], zero) {
			t.Fatalf("cycle %d rx at read not zeroed: %v", i, p.rxAtIssue[i])
		}
	}
	if len(p.rxAtIssue) != 3 {
		t.Fatalf("reads issued=%d want 3", len(p.rxAtIssue))
	}
}

func TestCycle_WriteBeforeRead(t *testing.T) {
	l, p, _ := newEchoLoop(t)
	if err := l.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	got := strings.Join(p.calls, ",")
	want := "configure,baud,async,callback,events,clear,write,read"
	if got != want {
		t.Fatalf("calls=%s want %s", got, want)
	}
}

func TestCycle_StateOrder(t *testing.T) {
	var seen []string
	l, _, _ := newEchoLoop(t, WithStateHook(func(s State) { seen = append(seen, s.String()) }))

	if err := l.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	got := strings.Join(seen, ",")
	if got != "fill,tx-issued,rx-issued,wait-rx,report" {
		t.Fatalf("states=%s", got)
	}
}

func TestCycle_ReportsEchoAndChecksum(t *testing.T) {
	l, _, b := newEchoLoop(t)
	if err := l.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if !l.Match() {
		t.Fatalf("rx=%q does not match tx", l.RX())
	}
	out := b.out.String()
	for _, want := range []string{"rx done", " TX | RX", "  A |  A", "  Z |  Z", "ok\r\n"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCycle_StalledReadTimesOut(t *testing.T) {
	p := &fakePort{}
	b := &fakeBoard{}
	l, err := Bringup(b, p, DefaultConfig(), WithTiming(Timing{RxTimeout: 30 * time.Millisecond}))
	if err != nil {
		t.Fatalf("Bringup: %v", err)
	}

	start := time.Now()
	err = l.Cycle(context.Background())
	if !errors.Is(err, ErrRxTimeout) {
		t.Fatalf("Cycle: got %v want ErrRxTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout took too long")
	}
	if p.aborts != 1 {
		t.Fatalf("aborts=%d want 1", p.aborts)
	}
	if !strings.Contains(b.out.String(), "rx aborted") {
		t.Fatalf("abort not reported:\n%s", b.out.String())
	}
}

func TestCycle_CancelAbortsRead(t *testing.T) {
	p := &fakePort{}
	l, err := Bringup(&fakeBoard{}, p, DefaultConfig(), WithTiming(Timing{}))
	if err != nil {
		t.Fatalf("Bringup: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Cycle(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Cycle: got %v want DeadlineExceeded", err)
	}
	if p.aborts != 1 {
		t.Fatalf("aborts=%d want 1", p.aborts)
	}
}

func TestCycle_TimeoutReportsFailedAbort(t *testing.T) {
	p := &fakePort{abortErr: errInjected}
	l, err := Bringup(&fakeBoard{}, p, DefaultConfig(), WithTiming(Timing{RxTimeout: 20 * time.Millisecond}))
	if err != nil {
		t.Fatalf("Bringup: %v", err)
	}
	err = l.Cycle(context.Background())
	if !errors.Is(err, ErrRxTimeout) || !errors.Is(err, errInjected) {
		t.Fatalf("Cycle: got %v want ErrRxTimeout joined with the abort failure", err)
	}
}

func TestCycle_ClearFailureSkipsTransfers(t *testing.T) {
	l, p, _ := newEchoLoop(t)
	p.failAt = "clear"
	if err := l.Cycle(context.Background()); !errors.Is(err, errInjected) {
		t.Fatalf("Cycle: got %v want injected failure", err)
	}
	if p.called("write") || p.called("read") {
		t.Fatal("transfer issued after clear failed")
	}
}

func TestBringup_FailureHaltsBeforeTransfers(t *testing.T) {
	for _, step := range []struct{ call, name string }{
		{"configure", "uart"},
		{"baud", "baud"},
		{"async", "async"},
		{"callback", "callback"},
		{"events", "events"},
	} {
		t.Run(step.name, func(t *testing.T) {
			p := &fakePort{failAt: step.call}
			l, err := Bringup(&fakeBoard{}, p, DefaultConfig())
			if l != nil {
				t.Fatal("loop returned despite failure")
			}
			var se *StepError
			if !errors.As(err, &se) || se.Step != step.name {
				t.Fatalf("err=%v want StepError{%s}", err, step.name)
			}
			if !errors.Is(err, errInjected) {
				t.Fatalf("err=%v does not wrap the cause", err)
			}
			if last := p.calls[len(p.calls)-1]; last != step.call {
				t.Fatalf("ran past failed step: calls=%v", p.calls)
			}
			if p.called("write") || p.called("read") {
				t.Fatal("transfer issued after failed bring-up")
			}
		})
	}
}

func TestBringup_BoardFailuresStopBeforeUART(t *testing.T) {
	p := &fakePort{}
	_, err := Bringup(&fakeBoard{initErr: errInjected}, p, DefaultConfig())
	var se *StepError
	if !errors.As(err, &se) || se.Step != "board" {
		t.Fatalf("err=%v want board step", err)
	}

	_, err = Bringup(&fakeBoard{consoleErr: errInjected}, p, DefaultConfig())
	if !errors.As(err, &se) || se.Step != "console" {
		t.Fatalf("err=%v want console step", err)
	}
	if len(p.calls) != 0 {
		t.Fatalf("UART touched after board failure: %v", p.calls)
	}
}

func TestRun_PrintsBannerAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	delays := 0
	l, _, b := newEchoLoop(t, WithStateHook(func(s State) {
		if s == StateDelay {
			delays++
			if delays == 2 {
				cancel()
			}
		}
	}))

	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: got %v want Canceled", err)
	}
	if l.Cycles() != 2 {
		t.Fatalf("cycles=%d want 2", l.Cycles())
	}
	if !strings.HasPrefix(b.out.String(), clearScreen) {
		t.Fatal("output does not start with the clear-screen sequence")
	}
}

func TestRun_ReportsCycleErrorsAndContinues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &fakePort{echo: true, failAt: "write"}
	b := &fakeBoard{}
	l, err := Bringup(b, p, DefaultConfig(), WithTiming(fastTiming), WithStateHook(func(s State) {
		if s == StateDelay && len(p.calls) > 8 {
			cancel()
		}
	}))
	if err != nil {
		t.Fatalf("Bringup: %v", err)
	}
	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: got %v", err)
	}
	if !strings.Contains(b.out.String(), "cycle 1: write: injected failure") {
		t.Fatalf("cycle error not reported:\n%s", b.out.String())
	}
}

// With the host loopback UART the echo travels through the async driver.
func TestLoopback_EndToEndEcho(t *testing.T) {
	u := uartx.NewLoopback()
	defer u.Close()
	b := &fakeBoard{}

	l, err := Bringup(b, u, DefaultConfig(), WithTiming(Timing{
		PreReadDelay: 10 * time.Millisecond,
		RxTimeout:    time.Second,
	}))
	if err != nil {
		t.Fatalf("Bringup: %v", err)
	}
	if err := l.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if string(l.RX()) != pattern {
		t.Fatalf("rx=%q want %q", l.RX(), pattern)
	}
	if !strings.Contains(b.out.String(), "tx done") {
		t.Fatalf("tx completion not reported:\n%s", b.out.String())
	}
}

// A stray byte on the line must not shift the echo of the next cycle.
func TestLoopback_StrayBytesAreClearedEachCycle(t *testing.T) {
	u := uartx.NewLoopback()
	defer u.Close()

	l, err := Bringup(&fakeBoard{}, u, DefaultConfig(), WithTiming(Timing{
		PreReadDelay: 10 * time.Millisecond,
		RxTimeout:    time.Second,
	}))
	if err != nil {
		t.Fatalf("Bringup: %v", err)
	}
	for i := 1; i <= 3; i++ {
		u.Inject('!')
		if err := l.Cycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if string(l.RX()) != pattern {
			t.Fatalf("cycle %d: rx=%q want %q", i, l.RX(), pattern)
		}
	}
}

// A read that timed out short leaves no residue for the next cycle.
func TestLoopback_RecoversAfterShortEcho(t *testing.T) {
	u := uartx.NewLoopback()
	defer u.Close()

	l, err := Bringup(&fakeBoard{}, u, DefaultConfig(), WithTiming(Timing{
		PreReadDelay: 10 * time.Millisecond,
		RxTimeout:    50 * time.Millisecond,
	}))
	if err != nil {
		t.Fatalf("Bringup: %v", err)
	}

	// Drop the line mid-cycle: nothing echoes, then a partial echo is left behind.
	u.SetLoopback(false)
	if err := l.Cycle(context.Background()); !errors.Is(err, ErrRxTimeout) {
		t.Fatalf("first cycle: got %v want ErrRxTimeout", err)
	}
	u.Inject([]byte(pattern[:5])...)
	u.SetLoopback(true)

	if err := l.Cycle(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if string(l.RX()) != pattern {
		t.Fatalf("rx=%q want %q", l.RX(), pattern)
	}
}

func TestLoopback_CutWireTimesOut(t *testing.T) {
	u := uartx.NewLoopback()
	defer u.Close()
	u.SetLoopback(false)

	l, err := Bringup(&fakeBoard{}, u, DefaultConfig(), WithTiming(Timing{RxTimeout: 50 * time.Millisecond}))
	if err != nil {
		t.Fatalf("Bringup: %v", err)
	}
	if err := l.Cycle(context.Background()); !errors.Is(err, ErrRxTimeout) {
		t.Fatalf("Cycle: got %v want ErrRxTimeout", err)
	}
	if _, rx := u.Busy(); rx {
		t.Fatal("read still outstanding after timeout")
	}
}

func TestChecksum_Modbus(t *testing.T) {
	if got := Checksum([]byte("123456789")); got != 0x4B37 {
		t.Fatalf("Checksum=0x%04X want 0x4B37", got)
	}
}
