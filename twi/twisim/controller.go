// Package twisim simulates the TWI peripheral at register level so the bus
// driver can run without hardware. Peripherals are attached by address and
// every bus event is recorded for inspection.
package twisim

import (
	"fmt"
	"strings"
	"sync"

	"github.com/mklimuk/twicore/twi"
)

// Peripheral is a device model reacting to the bus phases addressed to it.
type Peripheral interface {
	// Address is called when the device is addressed; returning false NACKs.
	Address(read bool) bool
	// Write delivers a byte from the master; returning false NACKs.
	Write(b byte) bool
	// Read supplies the next byte. ack tells whether the master will
	// acknowledge it.
	Read(ack bool) byte
	// Stop ends the transaction.
	Stop()
}

type EventKind int

const (
	EventStart EventKind = iota
	EventAddress
	EventWrite
	EventRead
	EventStop
)

// Event is one recorded bus phase.
type Event struct {
	Kind    EventKind
	Address byte
	Read    bool
	Data    byte
	Ack     bool
}

func (e Event) String() string {
	switch e.Kind {
	case EventStart:
		return "S"
	case EventAddress:
		dir := "W"
		if e.Read {
			dir = "R"
		}
		return fmt.Sprintf("A%02x%s%s", e.Address, dir, ackString(e.Ack))
	case EventWrite:
		return fmt.Sprintf("W%02x%s", e.Data, ackString(e.Ack))
	case EventRead:
		return fmt.Sprintf("R%02x%s", e.Data, ackString(e.Ack))
	case EventStop:
		return "P"
	}
	return "?"
}

func ackString(ack bool) string {
	if ack {
		return "+"
	}
	return "-"
}

type busState int

const (
	stateIdle busState = iota
	stateStarted
	stateTransmit
	stateReceive
	stateRefused
)

var _ twi.Registers = &Controller{}

// Controller is the simulated register file.
type Controller struct {
	mu      sync.Mutex
	twbr    byte
	twps    byte
	twcr    byte
	twdr    byte
	status  twi.Status
	state   busState
	devices map[byte]Peripheral
	current Peripheral
	events  []Event
	inject  []twi.Status
	pending int
	latency int
	hang    bool
}

type Option func(*Controller)

// WithLatency makes every phase complete only after the given number of
// TWCR polls.
func WithLatency(polls int) Option {
	return func(c *Controller) {
		c.latency = polls
	}
}

func New(opts ...Option) *Controller {
	c := &Controller{
		status:  twi.StatusNoInfo,
		devices: make(map[byte]Peripheral),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach connects a peripheral at the given 7-bit address.
func (c *Controller) Attach(address byte, p Peripheral) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices[address] = p
}

// Inject makes the next phases report the given status codes instead of the
// simulated outcome.
func (c *Controller) Inject(codes ...twi.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inject = append(c.inject, codes...)
}

// Hang stops the controller from ever completing a phase, like a peripheral
// holding SCL low.
func (c *Controller) Hang(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hang = on
}

func (c *Controller) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Trace renders the recorded events as a compact string, e.g. "S A3cW+ W00+ P".
func (c *Controller) Trace() string {
	events := c.Events()
	parts := make([]string, len(events))
	for i, e := range events {
		parts[i] = e.String()
	}
	return strings.Join(parts, " ")
}

func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
	c.inject = nil
}

// BitRate returns the programmed TWBR and prescaler.
func (c *Controller) BitRate() (twbr, twps byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.twbr, c.twps
}

func (c *Controller) SetBitRate(twbr byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.twbr = twbr
}

func (c *Controller) SetPrescaler(twps byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.twps = twps & 0x03
}

func (c *Controller) Status() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return byte(c.status) | c.twps
}

func (c *Controller) SetData(twdr byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.twdr = twdr
}

func (c *Controller) Data() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.twdr
}

func (c *Controller) Control() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending > 0 {
		c.pending--
		if c.pending == 0 {
			c.twcr |= twi.TWINT
		}
	}
	return c.twcr
}

func (c *Controller) SetControl(twcr byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if twcr&twi.TWEN == 0 {
		c.twcr = twcr &^ twi.TWINT
		return
	}
	// writing one clears the flag
	c.twcr = twcr &^ (twi.TWINT | twi.TWSTO)
	if twcr&twi.TWINT == 0 {
		return
	}
	if twcr&twi.TWSTO != 0 {
		c.stop()
		return
	}
	c.step(twcr)
	if len(c.inject) > 0 {
		c.status = c.inject[0]
		c.inject = c.inject[1:]
	}
	c.finish()
}

func (c *Controller) step(twcr byte) {
	if twcr&twi.TWSTA != 0 {
		c.events = append(c.events, Event{Kind: EventStart})
		if c.state == stateIdle {
			c.status = twi.StatusStart
		} else {
			c.status = twi.StatusRepeatedStart
		}
		c.state = stateStarted
		c.current = nil
		return
	}
	switch c.state {
	case stateStarted:
		addr, read := c.twdr>>1, c.twdr&1 == 1
		dev, ok := c.devices[addr]
		ack := ok && dev.Address(read)
		c.events = append(c.events, Event{Kind: EventAddress, Address: addr, Read: read, Ack: ack})
		switch {
		case read && ack:
			c.status, c.state, c.current = twi.StatusSLARAck, stateReceive, dev
		case read:
			c.status, c.state = twi.StatusSLARNack, stateRefused
		case ack:
			c.status, c.state, c.current = twi.StatusSLAWAck, stateTransmit, dev
		default:
			c.status, c.state = twi.StatusSLAWNack, stateRefused
		}
	case stateTransmit:
		ack := c.current.Write(c.twdr)
		c.events = append(c.events, Event{Kind: EventWrite, Data: c.twdr, Ack: ack})
		c.status = twi.StatusWDataNack
		if ack {
			c.status = twi.StatusWDataAck
		}
	case stateReceive:
		ack := twcr&twi.TWEA != 0
		c.twdr = c.current.Read(ack)
		c.events = append(c.events, Event{Kind: EventRead, Data: c.twdr, Ack: ack})
		c.status = twi.StatusRDataNack
		if ack {
			c.status = twi.StatusRDataAck
		}
	default:
		// transfer without a preceding start
		c.status = twi.StatusBusError
	}
}

func (c *Controller) finish() {
	if c.hang {
		return
	}
	if c.latency > 0 {
		c.pending = c.latency
		return
	}
	c.twcr |= twi.TWINT
}

func (c *Controller) stop() {
	c.events = append(c.events, Event{Kind: EventStop})
	if c.current != nil {
		c.current.Stop()
	}
	c.current = nil
	c.state = stateIdle
	c.status = twi.StatusNoInfo
}
