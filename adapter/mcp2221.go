// Package adapter drives the bus from a host through a USB bridge chip.
package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/twicore"
	"github.com/mklimuk/twicore/busctx"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

// report layout
const (
	reportSize = 64
	maxPayload = reportSize - 4
	bridgeBase = 12 * physic.MegaHertz
)

// commands
const (
	cmdStatus    = 0x10
	cmdGetData   = 0x40
	cmdWriteData = 0x90
	cmdReadData  = 0x91
)

const (
	setCancel = 0x10
	setSpeed  = 0x20
	busy      = 0x01
	readError = 0x41
	noData    = 127
)

var (
	ErrDeviceNotFound = errors.New("MCP2221 device not found")
	ErrAmbiguous      = errors.New("ambiguous device identification")
	ErrPayload        = fmt.Errorf("transfer larger than %d bytes", maxPayload)
	errEngineRead     = errors.New("I2C engine could not read the peripheral data")
)

var _ twicore.I2CBus = &MCP2221{}

// Port is one open HID interface of the bridge.
type Port interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// Opener opens the bridge for a single request/response exchange.
type Opener func() (Port, error)

// HIDOpener opens the index-th MCP2221 found on USB. A negative index requires
// exactly one bridge to be connected.
func HIDOpener(index int) Opener {
	return func() (Port, error) {
		devs := hid.Enumerate(VendorID, ProductID)
		if len(devs) == 0 {
			return nil, ErrDeviceNotFound
		}
		if index < 0 {
			if len(devs) > 1 {
				return nil, ErrAmbiguous
			}
			index = 0
		}
		if index >= len(devs) {
			return nil, fmt.Errorf("no device with id %d", index)
		}
		dev, err := devs[index].Open()
		if err != nil {
			return nil, fmt.Errorf("error opening device: %w", err)
		}
		return dev, nil
	}
}

type Status struct {
	I2CDataBufferCounter   int    `yaml:"data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"speed_divider"`
	I2CTimeout             int    `yaml:"timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent"`
	ReadPending            int    `yaml:"read_pending"`
}

type MCP2221 struct {
	mx           sync.Mutex
	open         Opener
	request      [reportSize]byte
	response     [reportSize]byte
	responseWait time.Duration
}

type Option func(*MCP2221)

func WithOpener(o Opener) Option {
	return func(d *MCP2221) {
		d.open = o
	}
}

// WithResponseWait sets the pause between a request and reading its response.
func WithResponseWait(w time.Duration) Option {
	return func(d *MCP2221) {
		d.responseWait = w
	}
}

func NewMCP2221(opts ...Option) *MCP2221 {
	d := &MCP2221{
		open:         HIDOpener(-1),
		responseWait: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	res := twicore.Result{Address: address, Direction: twicore.Write}
	if err := checkTransfer(address, buffer); err != nil {
		return err
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.reset()
	encodeTransfer(d.request[:], cmdWriteData, address<<1, len(buffer))
	copy(d.request[4:], buffer)
	if err := d.exchange(ctx); err != nil {
		return fmt.Errorf("write to %#02x failed: %w", address, err)
	}
	if d.response[1] == busy {
		slog.Debug("adapter busy", "addr", address)
		res.Severity = twicore.Fatal
		res.Phase = twicore.PhaseStart
		res.Cause = twicore.ErrBusBusy
		return res.Err()
	}
	return nil
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	res := twicore.Result{Address: address, Direction: twicore.Read}
	if err := checkTransfer(address, buffer); err != nil {
		return err
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.reset()
	encodeTransfer(d.request[:], cmdReadData, address<<1|1, len(buffer))
	if err := d.exchange(ctx); err != nil {
		return fmt.Errorf("bus read from %#02x failed: %w", address, err)
	}
	if d.response[1] == busy {
		res.Severity = twicore.Fatal
		res.Phase = twicore.PhaseStart
		res.Cause = twicore.ErrBusBusy
		return res.Err()
	}
	d.reset()
	d.request[0] = cmdGetData
	if err := d.exchange(ctx); err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == readError {
		res.Severity = twicore.Recoverable
		res.Phase = twicore.PhaseData
		res.Cause = errEngineRead
		return res.Err()
	}
	if n := d.response[3]; n == noData || int(n) != len(buffer) {
		return fmt.Errorf("invalid data size byte; expected %d, got %d", len(buffer), n)
	}
	copy(buffer, d.response[4:])
	return nil
}

// Release cancels the transfer in progress, which makes the bridge issue a
// stop condition.
func (d *MCP2221) Release(ctx context.Context) error {
	_, err := d.ReleaseBus(ctx)
	return err
}

func (d *MCP2221) ReleaseBus(ctx context.Context) (*Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.reset()
	d.request[0] = cmdStatus
	d.request[2] = setCancel
	if err := d.exchange(ctx); err != nil {
		return nil, fmt.Errorf("cancel request failed: %w", err)
	}
	return decodeStatus(d.response[:]), nil
}

func (d *MCP2221) Status(ctx context.Context) (*Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.reset()
	d.request[0] = cmdStatus
	if err := d.exchange(ctx); err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return decodeStatus(d.response[:]), nil
}

// SetSpeed programs the bridge clock divider for the requested SCL frequency.
func (d *MCP2221) SetSpeed(ctx context.Context, f physic.Frequency) error {
	div, err := speedDivider(f)
	if err != nil {
		return err
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.reset()
	d.request[0] = cmdStatus
	d.request[3] = setSpeed
	d.request[4] = div
	if err := d.exchange(ctx); err != nil {
		return fmt.Errorf("speed request failed: %w", err)
	}
	// the bridge refuses a new speed while a transfer is in progress
	if d.response[3] != setSpeed {
		return fmt.Errorf("speed not accepted: %w", twicore.ErrBusBusy)
	}
	return nil
}

func speedDivider(f physic.Frequency) (byte, error) {
	if f <= 0 {
		return 0, fmt.Errorf("invalid bus speed %s", f)
	}
	div := int64(bridgeBase/f) - 3
	if div < 0 || div > 0xFF {
		return 0, fmt.Errorf("bus speed %s out of bridge range", f)
	}
	return byte(div), nil
}

func checkTransfer(address byte, buffer []byte) error {
	if address > twicore.MaxAddress {
		return fmt.Errorf("%w: %#02x", twicore.ErrInvalidAddress, address)
	}
	if len(buffer) > maxPayload {
		return fmt.Errorf("%w: %d", ErrPayload, len(buffer))
	}
	return nil
}

func encodeTransfer(req []byte, cmd byte, sla byte, n int) {
	req[0] = cmd
	binary.LittleEndian.PutUint16(req[1:3], uint16(n))
	req[3] = sla
}

// decodeStatus reads the I2C part of the status/set parameters response:
//
//	9-10  requested transfer length
//	11-12 bytes already transferred
//	13    internal data buffer counter
//	14    speed divider
//	15    timeout
//	16-17 address in use
//	25    read pending
func decodeStatus(buffer []byte) *Status {
	return &Status{
		LastWriteRequestedSize: binary.LittleEndian.Uint16(buffer[9:11]),
		LastWriteSentSize:      binary.LittleEndian.Uint16(buffer[11:13]),
		I2CDataBufferCounter:   int(buffer[13]),
		I2CSpeedDivider:        int(buffer[14]),
		I2CTimeout:             int(buffer[15]),
		CurrentAddress:         hex.EncodeToString(buffer[16:18]),
		ReadPending:            int(buffer[25]),
	}
}

// exchange sends the request report and reads the response into d.response.
func (d *MCP2221) exchange(ctx context.Context) error {
	port, err := d.open()
	if err != nil {
		return err
	}
	defer func() {
		if err := port.Close(); err != nil {
			slog.Warn("could not close adapter", "error", err)
		}
	}()
	verbose := busctx.IsVerbose(ctx)
	if verbose {
		slog.Debug("sending message to adapter", "report", hex.EncodeToString(d.request[:]))
	}
	n, err := port.Write(d.request[:])
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.responseWait):
	}
	n, err = port.Read(d.response[:])
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	if verbose {
		slog.Debug("read message from adapter", "report", hex.EncodeToString(d.response[:]))
	}
	return nil
}

func (d *MCP2221) reset() {
	d.request = [reportSize]byte{}
	d.response = [reportSize]byte{}
}
