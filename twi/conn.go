package twi

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/twicore"
)

var _ i2c.Bus = &Driver{}

func (d *Driver) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	return d.Send(ctx, address, buffer).Err()
}

func (d *Driver) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	n, res := d.Receive(ctx, address, buffer)
	if err := res.Err(); err != nil {
		return err
	}
	if n != len(buffer) {
		return fmt.Errorf("short read from %#02x: %d of %d bytes", address, n, len(buffer))
	}
	return nil
}

// Release issues a stop condition, freeing the bus if a previous transaction
// was interrupted half way.
func (d *Driver) Release(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.stop(ctx)
	return nil
}

// Tx implements periph's i2c.Bus. A combined write and read runs as two
// transactions separated by a stop condition: repeated starts are treated as
// a bus fault by this driver.
func (d *Driver) Tx(addr uint16, w, r []byte) error {
	if addr > twicore.MaxAddress {
		return fmt.Errorf("%w: %#x", twicore.ErrInvalidAddress, addr)
	}
	ctx := context.Background()
	if len(w) > 0 || len(r) == 0 {
		if err := d.WriteToAddr(ctx, byte(addr), w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		return d.ReadFromAddr(ctx, byte(addr), r)
	}
	return nil
}

// SetSpeed implements periph's i2c.Bus.
func (d *Driver) SetSpeed(f physic.Frequency) error {
	return d.Init(f)
}

func (d *Driver) String() string {
	return fmt.Sprintf("twi(%s)", d.Speed())
}

// Scan probes every address in [from, to] with an empty write and returns the
// ones that acknowledged. Scanning stops at the first bus level failure.
func (d *Driver) Scan(ctx context.Context, from, to byte) ([]byte, error) {
	if to > twicore.MaxAddress {
		to = twicore.MaxAddress
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	var found []byte
	for addr := int(from); addr <= int(to); addr++ {
		res := d.send(ctx, twicore.Result{Address: byte(addr)}, nil)
		switch res.Severity {
		case twicore.Success:
			found = append(found, byte(addr))
		case twicore.Recoverable:
			// nobody home
		default:
			d.report(res)
			return found, res.Err()
		}
	}
	d.log.Info("twi scan", "from", hexByte(from), "to", hexByte(to), "found", len(found))
	return found, nil
}
