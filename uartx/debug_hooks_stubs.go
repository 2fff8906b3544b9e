//go:build !uartxdebug

package uartx

func (u *UART) dbgTxStart(int)    {}
func (u *UART) dbgTxDone()        {}
func (u *UART) dbgRxStart(int)    {}
func (u *UART) dbgRxDone(int)     {}
func (u *UART) dbgRxAbort()       {}
func (u *UART) dbgDrop()          {}
func (u *UART) dbgCallback(Event) {}
