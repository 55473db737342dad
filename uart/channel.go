// Package uart implements the diagnostic output channel: a non-blocking
// producer side that renders text into a ring buffer, and a transmit-ready
// interrupt handler that drains it one byte at a time.
package uart

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"periph.io/x/conn/v3/physic"
)

// StageSize bounds a single rendered message.
const StageSize = 64

// DefaultCapacity is the ring size used when none is configured.
const DefaultCapacity = 128

// Frame is the serial frame format.
type Frame struct {
	DataBits uint8
	StopBits uint8
	Parity   bool
}

// Frame8N1 is the only format the channel programs.
var Frame8N1 = Frame{DataBits: 8, StopBits: 1}

// Transmitter is the transmit half of the USART.
type Transmitter interface {
	// Configure programs the divisor (UBRR), double speed mode (U2X) and
	// frame format and enables the transmitter (TXEN).
	Configure(ubrr uint16, doubleSpeed bool, frame Frame)
	// SetReadyInterrupt enables or disables the data-register-empty
	// interrupt (UDRIE).
	SetReadyInterrupt(on bool)
	ReadyInterrupt() bool
	// Ready reports the data-register-empty flag (UDRE).
	Ready() bool
	// Transmit writes the data register (UDR).
	Transmit(b byte)
}

// Stats counts what happened to enqueued text.
type Stats struct {
	Queued    uint64
	Truncated uint64
	Dropped   uint64
	Sent      uint64
}

type Channel struct {
	tx   Transmitter
	mask InterruptMask
	ring *Ring

	queued    atomic.Uint64
	truncated atomic.Uint64
	dropped   atomic.Uint64
	sent      atomic.Uint64
}

type Option func(*Channel)

// WithCapacity sets the ring size in bytes (one byte is reserved).
func WithCapacity(capacity int) Option {
	return func(c *Channel) {
		c.ring = NewRing(capacity, c.mask)
	}
}

// New builds the channel. mask must be the same critical section the
// interrupt dispatcher uses before calling HandleTransmitReady.
func New(tx Transmitter, mask InterruptMask, opts ...Option) *Channel {
	c := &Channel{
		tx:   tx,
		mask: mask,
	}
	c.ring = NewRing(DefaultCapacity, mask)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init programs the line rate in double speed mode with 8N1 framing and
// enables the transmit-ready interrupt.
func (c *Channel) Init(clock physic.Frequency, baud uint32) error {
	ubrr, err := BaudDivisor(clock, baud)
	if err != nil {
		return err
	}
	c.mask.Disable()
	defer c.mask.Enable()
	c.tx.Configure(ubrr, true, Frame8N1)
	c.tx.SetReadyInterrupt(true)
	return nil
}

// SendBlocking writes s synchronously, spinning on the ready flag between
// bytes. The transmit-ready interrupt is held off for the duration; bytes
// still queued in the ring resume draining once it returns.
func (c *Channel) SendBlocking(s string) int {
	c.mask.Disable()
	defer c.mask.Enable()
	irq := c.tx.ReadyInterrupt()
	c.tx.SetReadyInterrupt(false)
	for i := 0; i < len(s); i++ {
		c.spin()
		c.tx.Transmit(s[i])
	}
	c.spin()
	c.tx.SetReadyInterrupt(irq)
	c.sent.Add(uint64(len(s)))
	if irq && c.ring.Len() > 0 {
		c.HandleTransmitReady()
	}
	return len(s)
}

func (c *Channel) spin() {
	for !c.tx.Ready() {
		runtime.Gosched()
	}
}

// Enqueuef renders the message into the stage buffer and queues it for
// interrupt driven transmission. It never blocks: text beyond StageSize or
// beyond the free ring space is cut, and a full ring drops the message.
func (c *Channel) Enqueuef(format string, args ...any) {
	var stage [StageSize]byte
	msg := fmt.Appendf(stage[:0], format, args...)
	cut := len(msg) > StageSize
	if cut {
		msg = msg[:StageSize]
	}
	c.enqueueStaged(msg, cut)
}

// Write queues p like Enqueuef queues a rendered message. It always reports
// len(p) so that it can back writers that must not fail.
func (c *Channel) Write(p []byte) (int, error) {
	c.enqueueStaged(p, false)
	return len(p), nil
}

// enqueueStaged queues msg. cut tells that the message was already shortened
// to fit the stage buffer; a message is counted as truncated at most once.
func (c *Channel) enqueueStaged(msg []byte, cut bool) {
	if len(msg) == 0 {
		return
	}
	n := c.ring.Push(msg)
	switch {
	case n == 0:
		c.dropped.Add(1)
		return
	case cut || n < len(msg):
		c.truncated.Add(1)
	}
	c.queued.Add(uint64(n))
	// the interrupt only fires on the transition to empty, so an idle
	// transmitter has to be primed with the first byte
	c.mask.Disable()
	defer c.mask.Enable()
	if c.tx.Ready() {
		c.HandleTransmitReady()
	}
}

// HandleTransmitReady is the data-register-empty interrupt handler. It must
// be called with the mask disabled.
func (c *Channel) HandleTransmitReady() {
	b, ok := c.ring.Pop()
	if !ok {
		return
	}
	c.tx.Transmit(b)
	c.sent.Add(1)
}

// Pending returns the number of queued bytes not yet handed to the hardware.
func (c *Channel) Pending() int {
	return c.ring.Len()
}

func (c *Channel) Stats() Stats {
	return Stats{
		Queued:    c.queued.Load(),
		Truncated: c.truncated.Load(),
		Dropped:   c.dropped.Load(),
		Sent:      c.sent.Load(),
	}
}
