package hostbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/twicore"
	"github.com/mklimuk/twicore/busctx"
)

var _ twicore.I2CBus = &Gobot{}

// Gobot talks to peripherals through gobot generic I2C drivers, one per
// address, started on first use.
type Gobot struct {
	mx       sync.Mutex
	adaptor  i2c.Connector
	bus      int
	drivers  map[byte]*i2c.GenericDriver
	finalize func() error
}

// OpenNanoPi connects the I2C adaptor of a NanoPi NEO and uses the given bus.
func OpenNanoPi(bus int) (*Gobot, error) {
	npi := nanopi.NewNeoAdaptor()
	if err := npi.I2cBusAdaptor.Connect(); err != nil {
		return nil, fmt.Errorf("adaptor connect error: %w", err)
	}
	g := NewGobot(npi, bus)
	g.finalize = npi.I2cBusAdaptor.Finalize
	return g, nil
}

func NewGobot(adaptor i2c.Connector, bus int) *Gobot {
	return &Gobot{
		adaptor: adaptor,
		bus:     bus,
		drivers: make(map[byte]*i2c.GenericDriver),
	}
}

func (g *Gobot) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	d, err := g.driver(address)
	if err != nil {
		return err
	}
	if err := d.Read(buffer); err != nil {
		return g.fail(twicore.Read, address, err)
	}
	if busctx.IsVerbose(ctx) {
		slog.Debug("gobot read", "addr", address, "data", buffer)
	}
	return nil
}

func (g *Gobot) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	d, err := g.driver(address)
	if err != nil {
		return err
	}
	if busctx.IsVerbose(ctx) {
		slog.Debug("gobot write", "addr", address, "data", buffer)
	}
	if err := d.Write(buffer); err != nil {
		return g.fail(twicore.Write, address, err)
	}
	return nil
}

func (g *Gobot) Release(ctx context.Context) error {
	return nil
}

// Close halts every started driver and finalizes the adaptor if it was
// opened here.
func (g *Gobot) Close() error {
	g.mx.Lock()
	defer g.mx.Unlock()
	var errs []error
	for addr, d := range g.drivers {
		if err := d.Halt(); err != nil {
			errs = append(errs, fmt.Errorf("halt %#02x: %w", addr, err))
		}
		delete(g.drivers, addr)
	}
	if g.finalize != nil {
		if err := g.finalize(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (g *Gobot) driver(address byte) (*i2c.GenericDriver, error) {
	if address > twicore.MaxAddress {
		return nil, fmt.Errorf("%w: %#02x", twicore.ErrInvalidAddress, address)
	}
	g.mx.Lock()
	defer g.mx.Unlock()
	if d, ok := g.drivers[address]; ok {
		return d, nil
	}
	d := i2c.NewGenericDriver(g.adaptor, fmt.Sprintf("twicore-%02x", address), int(address), func(c i2c.Config) {
		c.SetBus(g.bus)
	})
	if err := d.Start(); err != nil {
		return nil, fmt.Errorf("start error at %#02x: %w", address, err)
	}
	g.drivers[address] = d
	return d, nil
}

func (g *Gobot) fail(dir twicore.Direction, address byte, err error) error {
	res := twicore.Result{
		Severity:  twicore.Recoverable,
		Phase:     twicore.PhaseData,
		Address:   address,
		Direction: dir,
		Cause:     err,
	}
	return fmt.Errorf("gobot bus %d: %w", g.bus, res.Err())
}
