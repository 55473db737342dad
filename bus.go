package twicore

import (
	"context"
)

type BusReader interface {
	Read(ctx context.Context, buffer []byte) error
}

type BusWriter interface {
	Write(ctx context.Context, buffer []byte) error
}

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// I2CBus is implemented by every transport in this module: the register level
// TWI driver as well as the host side bridges.
type I2CBus interface {
	AddressableReader
	AddressableWriter
}

type I2CDevice interface {
	BusReader
	BusWriter
}

// Transactor exposes the outcome of a bus transaction as a value instead of
// an error so callers can react to the severity.
type Transactor interface {
	Send(ctx context.Context, address byte, data []byte) Result
	Receive(ctx context.Context, address byte, buffer []byte) (int, Result)
}

// MaxAddress is the highest 7-bit peripheral address.
const MaxAddress = 0x7F

// Device binds a transport to a single peripheral address.
type Device struct {
	Bus     I2CBus
	Address byte
}

var _ I2CDevice = &Device{}

func (d *Device) Read(ctx context.Context, buffer []byte) error {
	return d.Bus.ReadFromAddr(ctx, d.Address, buffer)
}

func (d *Device) Write(ctx context.Context, buffer []byte) error {
	return d.Bus.WriteToAddr(ctx, d.Address, buffer)
}
