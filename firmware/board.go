// Package firmware wires the bus driver and the diagnostic channel into a
// board and runs the main control loop on top of them.
package firmware

import (
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/twicore/twi"
	"github.com/mklimuk/twicore/uart"
)

const initMessage = "Initialization finished\r\n"

type Settings struct {
	Clock        physic.Frequency
	BusSpeed     physic.Frequency
	Baud         uint32
	RingCapacity int
	Level        slog.Level
}

// DefaultSettings describes an ATmega2560 board at 16MHz with the bus at
// 100kHz and the console at 115200 baud.
func DefaultSettings() Settings {
	return Settings{
		Clock:        16 * physic.MegaHertz,
		BusSpeed:     100 * physic.KiloHertz,
		Baud:         115200,
		RingCapacity: uart.DefaultCapacity,
		Level:        slog.LevelInfo,
	}
}

// InterruptSource is implemented by transmitters that deliver the
// data-register-empty interrupt to a vector on their own.
type InterruptSource interface {
	Attach(mask uart.InterruptMask, vector func())
}

type Board struct {
	settings Settings
	Serial   *uart.Channel
	Bus      *twi.Driver
	Log      *slog.Logger
}

// NewBoard builds the channel on tx and the bus driver on regs. Bus
// diagnostics are logged through the channel.
func NewBoard(regs twi.Registers, tx uart.Transmitter, mask uart.InterruptMask, s Settings) *Board {
	serial := uart.New(tx, mask, uart.WithCapacity(s.RingCapacity))
	if src, ok := tx.(InterruptSource); ok {
		src.Attach(mask, serial.HandleTransmitReady)
	}
	log := slog.New(uart.NewHandler(serial, s.Level))
	return &Board{
		settings: s,
		Serial:   serial,
		Bus:      twi.NewDriver(regs, s.Clock, twi.WithLogger(log)),
		Log:      log,
	}
}

func (b *Board) Settings() Settings {
	return b.settings
}

// Setup initializes the console, then the bus, and announces itself with a
// polled write.
func (b *Board) Setup() error {
	if err := b.Serial.Init(b.settings.Clock, b.settings.Baud); err != nil {
		return fmt.Errorf("console init: %w", err)
	}
	if err := b.Bus.Init(b.settings.BusSpeed); err != nil {
		return fmt.Errorf("bus init: %w", err)
	}
	b.Serial.SendBlocking(initMessage)
	return nil
}
