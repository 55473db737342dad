package twi

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/twicore"
	"github.com/mklimuk/twicore/busctx"
)

var _ twicore.I2CBus = &Driver{}
var _ twicore.Transactor = &Driver{}

// Driver is the bus master. A transaction owns the bus for its whole duration;
// concurrent callers are serialized.
type Driver struct {
	mx    sync.Mutex
	regs  Registers
	clock physic.Frequency
	speed physic.Frequency
	log   *slog.Logger
	last  Status
}

type DriverOption func(*Driver)

// WithLogger routes diagnostics to the given logger, normally one backed by the
// serial output channel.
func WithLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) {
		d.log = l
	}
}

func NewDriver(regs Registers, clock physic.Frequency, opts ...DriverOption) *Driver {
	d := &Driver{
		regs:  regs,
		clock: clock,
		log:   slog.Default(),
		last:  StatusNoInfo,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Init programs the bit rate for the requested bus speed and enables the
// peripheral. Calling it again reprograms the same registers.
func (d *Driver) Init(speed physic.Frequency) error {
	twbr, twps, err := BitRate(d.clock, speed)
	if err != nil {
		return err
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.regs.SetBitRate(twbr)
	d.regs.SetPrescaler(twps)
	d.regs.SetControl(TWEN)
	d.speed = SCL(d.clock, twbr, twps)
	return nil
}

// Speed returns the SCL frequency programmed by the last Init.
func (d *Driver) Speed() physic.Frequency {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.speed
}

// LastStatus returns the status read in the most recent phase.
func (d *Driver) LastStatus() Status {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.last
}

// Send writes data to the peripheral. The transaction stops at the first
// phase that does not succeed; the stop condition is issued in every case.
func (d *Driver) Send(ctx context.Context, address byte, data []byte) twicore.Result {
	res := twicore.Result{Address: address, Direction: twicore.Write}
	if address > twicore.MaxAddress {
		res = invalidAddress(res)
		d.report(res)
		return res
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.log.Debug(fmt.Sprintf("sending %d bytes", len(data)), "addr", hexByte(address))
	res = d.send(ctx, res, data)
	d.report(res)
	return res
}

func (d *Driver) send(ctx context.Context, res twicore.Result, data []byte) twicore.Result {
	res = d.begin(ctx, res)
	for i := 0; res.OK() && i < len(data); i++ {
		d.regs.SetData(data[i])
		d.control(ctx, ctrlTransmit)
		res = d.complete(ctx, res, twicore.PhaseData)
		if res.OK() {
			res.Count++
		}
	}
	d.stop(ctx)
	return res
}

// Receive reads up to len(buffer) bytes from the peripheral. Every byte but the
// last one is acknowledged; the last one gets a NACK so the peripheral
// releases the data line. It returns the number of bytes actually read.
func (d *Driver) Receive(ctx context.Context, address byte, buffer []byte) (int, twicore.Result) {
	res := twicore.Result{Address: address, Direction: twicore.Read}
	if address > twicore.MaxAddress {
		res = invalidAddress(res)
		d.report(res)
		return 0, res
	}
	d.mx.Lock()
	defer d.mx.Unlock()

	res = d.begin(ctx, res)
	for res.OK() && res.Count < len(buffer) {
		if res.Count < len(buffer)-1 {
			d.control(ctx, ctrlAck)
		} else {
			d.control(ctx, ctrlNack)
		}
		res = d.complete(ctx, res, twicore.PhaseData)
		if res.OK() {
			buffer[res.Count] = d.regs.Data()
			res.Count++
		}
	}
	d.stop(ctx)
	d.report(res)
	if res.Count > 0 {
		d.log.Info("twi rx", "addr", hexByte(address), "n", res.Count, "data", buffer[:res.Count])
	}
	return res.Count, res
}

// begin issues the start condition followed by the address byte with the
// direction bit.
func (d *Driver) begin(ctx context.Context, res twicore.Result) twicore.Result {
	d.control(ctx, ctrlStart)
	res = d.complete(ctx, res, twicore.PhaseStart)
	if !res.OK() {
		return res
	}
	sla := res.Address << 1
	if res.Direction == twicore.Read {
		sla |= 1
	}
	d.regs.SetData(sla)
	d.control(ctx, ctrlTransmit)
	return d.complete(ctx, res, twicore.PhaseAddress)
}

// complete waits for the phase to finish and classifies its status.
func (d *Driver) complete(ctx context.Context, res twicore.Result, phase twicore.Phase) twicore.Result {
	res.Phase = phase
	status, err := d.wait(ctx)
	if err != nil {
		res.Severity = twicore.Fatal
		res.Detail = ""
		res.Cause = fmt.Errorf("%w: %w", twicore.ErrTimeout, err)
		return res
	}
	d.last = status
	res.Status = byte(status)
	res.Severity, res.Detail = Classify(status)
	return res
}

// wait spins on TWINT. Without a deadline on ctx it spins for as long as the
// hardware takes, which is forever on a stuck bus.
func (d *Driver) wait(ctx context.Context) (Status, error) {
	done := ctx.Done()
	for d.regs.Control()&TWINT == 0 {
		select {
		case <-done:
			return 0, ctx.Err()
		default:
		}
	}
	return Status(d.regs.Status() & statusMask), nil
}

func (d *Driver) stop(ctx context.Context) {
	d.control(ctx, ctrlStop)
}

func (d *Driver) control(ctx context.Context, twcr byte) {
	if busctx.IsVerbose(ctx) {
		d.log.Debug("twcr", "value", hexByte(twcr), "twdr", hexByte(d.regs.Data()))
	}
	d.regs.SetControl(twcr)
}

func (d *Driver) report(res twicore.Result) {
	if res.OK() {
		return
	}
	tag := "twi tx: "
	if res.Direction == twicore.Read {
		tag = "twi rx: "
	}
	msg := tag + res.Detail
	attrs := []any{"addr", hexByte(res.Address), "sev", res.Severity}
	switch {
	case errors.Is(res.Cause, twicore.ErrInvalidAddress):
		msg = tag + "invalid address"
	case res.Cause != nil:
		msg = tag + "wait aborted"
	default:
		attrs = append(attrs, "st", hexByte(res.Status))
	}
	if res.Severity == twicore.Recoverable {
		d.log.Warn(msg, attrs...)
		return
	}
	d.log.Error(msg, attrs...)
}

func invalidAddress(res twicore.Result) twicore.Result {
	res.Severity = twicore.Fatal
	res.Cause = fmt.Errorf("%w: %#02x", twicore.ErrInvalidAddress, res.Address)
	return res
}

type hexByte byte

func (h hexByte) String() string {
	return "0x" + hex.EncodeToString([]byte{byte(h)})
}
