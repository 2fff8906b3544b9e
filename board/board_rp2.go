//go:build rp2040 || rp2350

package board

import (
	"io"
	"machine"
	"time"
)

// Pico is an RP2040/RP2350 board whose console is USB CDC.
type Pico struct {
	LED    machine.Pin
	Settle time.Duration // time given to the USB host to attach the console
}

func Default() *Pico {
	return &Pico{LED: machine.LED, Settle: 3 * time.Second}
}

// Init lights the status LED and waits for USB CDC to settle.
func (b *Pico) Init() error {
	b.LED.Configure(machine.PinConfig{Mode: machine.PinOutput})
	b.LED.High()
	time.Sleep(b.Settle)
	return nil
}

func (b *Pico) Console() (io.Writer, error) {
	if err := machine.Serial.Configure(machine.UARTConfig{}); err != nil {
		return nil, err
	}
	return machine.Serial, nil
}

// Halt blinks the LED slowly for ever.
func Halt() {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		led.High()
		time.Sleep(600 * time.Millisecond)
		led.Low()
		time.Sleep(800 * time.Millisecond)
	}
}
