package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/twicore"
	"github.com/mklimuk/twicore/adapter"
	"github.com/mklimuk/twicore/busctx"
	"github.com/mklimuk/twicore/cmd/twicore/console"
	"github.com/mklimuk/twicore/config"
	"github.com/mklimuk/twicore/firmware"
	"github.com/mklimuk/twicore/hostbus"
	"github.com/mklimuk/twicore/twi/twisim"
	"github.com/mklimuk/twicore/uart"
	"github.com/mklimuk/twicore/uart/uartsim"
)

// target is the bus selected on the command line, with the simulated board
// behind it when the sim adapter is used.
type target struct {
	cfg   *config.Config
	bus   twicore.I2CBus
	tr    twicore.Transactor
	board *firmware.Board
	tx    *uartsim.Transmitter
	diag  *console.DiagWriter
	close func() error
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	}
	if a := c.String("adapter"); a != "" {
		cfg.Bus.Adapter = a
	}
	if d := c.String("device"); d != "" {
		cfg.Bus.Device = d
	}
	if c.Bool("verbose") {
		cfg.Console.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func busContext(c *cli.Context) context.Context {
	return busctx.SetVerbose(c.Context, c.Bool("verbose"))
}

func openTarget(c *cli.Context) (*target, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	t := &target{cfg: cfg}
	speed := physic.Frequency(cfg.Bus.Speed)
	switch cfg.Bus.Adapter {
	case "sim":
		if err := t.openSim(c.Context); err != nil {
			return nil, err
		}
	case "linux":
		bus, err := hostbus.OpenLinux(cfg.Bus.Device)
		if err != nil {
			return nil, err
		}
		if err := bus.SetSpeed(speed); err != nil {
			console.Warnf("could not set bus speed: %s", err)
		}
		t.bus, t.close = bus, bus.Close
	case "nanopi":
		bus, err := hostbus.OpenNanoPi(cfg.Bus.Number)
		if err != nil {
			return nil, err
		}
		t.bus, t.close = bus, bus.Close
	case "mcp2221":
		bus := adapter.NewMCP2221()
		if err := bus.SetSpeed(busContext(c), speed); err != nil {
			return nil, fmt.Errorf("adapter initialization error: %w", err)
		}
		t.bus = bus
	default:
		return nil, fmt.Errorf("unknown adapter %q", cfg.Bus.Adapter)
	}
	if t.tr == nil {
		t.tr = twicore.Transact(t.bus)
	}
	return t, nil
}

func (t *target) openSim(ctx context.Context) error {
	hw := twisim.New(twisim.WithLatency(t.cfg.Sim.Latency))
	for _, p := range t.cfg.Sim.Peripherals {
		var opts []twisim.DeviceOption
		if len(p.Data) > 0 {
			opts = append(opts, twisim.WithData(p.Data...))
		}
		if p.Nack {
			opts = append(opts, twisim.WithAddressNack())
		}
		if p.NackAfter > 0 {
			opts = append(opts, twisim.WithDataNackAfter(p.NackAfter))
		}
		hw.Attach(p.Address, twisim.NewDevice(opts...))
	}
	t.diag = &console.DiagWriter{}
	txOpts := []uartsim.Option{
		uartsim.WithClock(physic.Frequency(t.cfg.Clock)),
		uartsim.WithOutput(t.diag),
	}
	if t.cfg.Sim.ByteTime > 0 {
		txOpts = append(txOpts, uartsim.WithByteTime(t.cfg.Sim.ByteTime))
	}
	t.tx = uartsim.New(txOpts...)
	t.tx.Start(context.WithoutCancel(ctx))
	t.board = firmware.NewBoard(hw, t.tx, &uart.LockMask{}, t.cfg.Settings())
	if err := t.board.Setup(); err != nil {
		t.tx.Close()
		return err
	}
	t.bus, t.tr = t.board.Bus, t.board.Bus
	t.close = t.closeSim
	return nil
}

// closeSim lets the console drain before stopping the simulated line.
func (t *target) closeSim() error {
	deadline := time.Now().Add(2 * time.Second)
	for !(t.tx.Idle() && t.board.Serial.Pending() == 0) {
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	t.tx.Close()
	t.diag.Flush()
	st := t.board.Serial.Stats()
	if st.Dropped > 0 || st.Truncated > 0 {
		console.Warnf("console dropped %d and truncated %d messages", st.Dropped, st.Truncated)
	}
	return nil
}

func (t *target) Close() error {
	if t.close == nil {
		return nil
	}
	return t.close()
}

// scan probes [from, to] with empty writes.
func (t *target) scan(ctx context.Context, from, to byte) ([]byte, error) {
	if s, ok := t.bus.(interface {
		Scan(ctx context.Context, from, to byte) ([]byte, error)
	}); ok {
		return s.Scan(ctx, from, to)
	}
	var found []byte
	for addr := int(from); addr <= int(to) && addr <= twicore.MaxAddress; addr++ {
		res := t.tr.Send(ctx, byte(addr), nil)
		switch {
		case res.OK():
			found = append(found, byte(addr))
		case res.Severity == twicore.Recoverable:
		default:
			return found, res.Err()
		}
	}
	return found, nil
}

func parseAddress(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if v > twicore.MaxAddress {
		return 0, fmt.Errorf("%w: %#02x", twicore.ErrInvalidAddress, v)
	}
	return byte(v), nil
}

var errUsage = errors.New("missing arguments")
