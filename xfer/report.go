package xfer

import (
	"bytes"
	"fmt"

	"github.com/sigurn/crc16"
)

const clearScreen = "\x1b[2J\x1b[H"

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// Checksum returns the CRC-16/MODBUS of p.
func Checksum(p []byte) uint16 { return crc16.Checksum(p, crcTable) }

// Banner clears the terminal and prints what the example does.
func (l *Loop) Banner() {
	fmt.Fprint(l.out, clearScreen)
	fmt.Fprint(l.out, "UART asynchronous DMA transfer example\r\n")
	fmt.Fprintf(l.out, "connect TX to RX; %d bytes every %s\r\n", DataSize, l.timing.CycleDelay)
}

// Match reports whether rx holds an exact echo of tx.
func (l *Loop) Match() bool { return bytes.Equal(l.tx[:], l.rx[:]) }

// report prints the two buffers side by side and their checksums.
func (l *Loop) report() {
	fmt.Fprintf(l.out, "\r\ncycle %d\r\n TX | RX\r\n", l.cycles)
	for i := range l.tx {
		fmt.Fprintf(l.out, "  %c |  %c\r\n", printable(l.tx[i]), printable(l.rx[i]))
	}
	verdict := "ok"
	if !l.Match() {
		verdict = "MISMATCH"
	}
	fmt.Fprintf(l.out, "crc16 tx=0x%04X rx=0x%04X %s\r\n", Checksum(l.tx[:]), Checksum(l.rx[:]), verdict)
}

func printable(b byte) byte {
	if b < 0x20 || b > 0x7e {
		return '.'
	}
	return b
}
