// Package hostbus drives peripherals from a Linux host instead of the
// microcontroller, either through periph.io or through gobot.
package hostbus

import (
	"context"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/mklimuk/twicore"
	"github.com/mklimuk/twicore/busctx"
)

var _ twicore.I2CBus = &Linux{}

// Linux is a host I2C bus opened through periph.io.
type Linux struct {
	bus i2c.BusCloser
}

// OpenLinux initializes the periph host drivers and opens the named bus
// ("/dev/i2c-1", "1" or "" for the first one).
func OpenLinux(dev string) (*Linux, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	return NewLinux(bus), nil
}

// NewLinux wraps an already open periph bus.
func NewLinux(bus i2c.BusCloser) *Linux {
	return &Linux{bus: bus}
}

func (b *Linux) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if address > twicore.MaxAddress {
		return fmt.Errorf("%w: %#02x", twicore.ErrInvalidAddress, address)
	}
	if err := b.tx(ctx, address, nil, buffer); err != nil {
		return b.fail(twicore.Read, address, err)
	}
	return nil
}

func (b *Linux) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if address > twicore.MaxAddress {
		return fmt.Errorf("%w: %#02x", twicore.ErrInvalidAddress, address)
	}
	if err := b.tx(ctx, address, buffer, nil); err != nil {
		return b.fail(twicore.Write, address, err)
	}
	return nil
}

// Release is a no-op: the kernel driver always completes a transfer with a
// stop condition.
func (b *Linux) Release(ctx context.Context) error {
	return nil
}

func (b *Linux) SetSpeed(f physic.Frequency) error {
	return b.bus.SetSpeed(f)
}

func (b *Linux) String() string {
	return b.bus.String()
}

func (b *Linux) Close() error {
	return b.bus.Close()
}

func (b *Linux) tx(ctx context.Context, address byte, w, r []byte) error {
	if busctx.IsVerbose(ctx) {
		slog.Debug("i2c tx", "bus", b.bus.String(), "addr", address, "w", w, "r", len(r))
	}
	return b.bus.Tx(uint16(address), w, r)
}

// fail reports the kernel error as Recoverable: the driver does not tell a
// NACK apart from other transfer errors, and the bus is released either way.
func (b *Linux) fail(dir twicore.Direction, address byte, err error) error {
	res := twicore.Result{
		Severity:  twicore.Recoverable,
		Phase:     twicore.PhaseData,
		Address:   address,
		Direction: dir,
		Cause:     err,
	}
	return fmt.Errorf("i2c bus %s: %w", b.bus, res.Err())
}
