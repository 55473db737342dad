// Package uartsim simulates the transmit half of an AVR USART: a data
// register backed by a shift register clocked out at the programmed line
// rate, and a data-register-empty interrupt delivered to a vector on its own
// goroutine after taking the interrupt mask.
package uartsim

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/twicore/uart"
)

type Transmitter struct {
	mu       sync.Mutex
	clock    physic.Frequency
	byteTime time.Duration
	fixed    bool

	ubrr    uint16
	double  bool
	frame   uart.Frame
	enabled bool
	irq     bool

	udr      byte
	full     bool
	shifting bool
	overruns int

	out     io.Writer
	outMu   sync.Mutex
	capture bytes.Buffer

	mask   uart.InterruptMask
	vector func()

	loaded chan struct{}
	raised chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

var _ uart.Transmitter = &Transmitter{}

type Option func(*Transmitter)

// WithClock sets the CPU clock the divisor is interpreted against (16MHz by
// default).
func WithClock(clock physic.Frequency) Option {
	return func(t *Transmitter) {
		t.clock = clock
	}
}

// WithByteTime fixes the time needed to shift out one frame instead of
// deriving it from the programmed divisor.
func WithByteTime(d time.Duration) Option {
	return func(t *Transmitter) {
		t.byteTime = d
		t.fixed = true
	}
}

// WithOutput mirrors every transmitted byte to w.
func WithOutput(w io.Writer) Option {
	return func(t *Transmitter) {
		t.out = w
	}
}

func New(opts ...Option) *Transmitter {
	t := &Transmitter{
		clock:    16 * physic.MegaHertz,
		byteTime: 100 * time.Microsecond,
		loaded:   make(chan struct{}, 1),
		raised:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Attach connects the interrupt vector and the mask the dispatcher takes
// before running it.
func (t *Transmitter) Attach(mask uart.InterruptMask, vector func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mask = mask
	t.vector = vector
}

// Start runs the shift register and the interrupt dispatcher until ctx is
// done or Close is called.
func (t *Transmitter) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		t.shift(ctx)
	}()
	go func() {
		defer t.wg.Done()
		t.dispatch(ctx)
	}()
}

func (t *Transmitter) Close() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

func (t *Transmitter) Configure(ubrr uint16, doubleSpeed bool, frame uart.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ubrr = ubrr
	t.double = doubleSpeed
	t.frame = frame
	t.enabled = true
	if t.fixed {
		return
	}
	div := uint32(16)
	if doubleSpeed {
		div = 8
	}
	baud := uint32(int64(t.clock/physic.Hertz)/int64(div)) / (uint32(ubrr) + 1)
	if baud == 0 {
		return
	}
	bits := 1 + uint32(frame.DataBits) + uint32(frame.StopBits)
	if frame.Parity {
		bits++
	}
	t.byteTime = time.Duration(bits) * time.Second / time.Duration(baud)
}

// SetReadyInterrupt enables the data-register-empty interrupt. Like the
// hardware flag it is level sensitive: enabling it while the register is
// empty raises it at once.
func (t *Transmitter) SetReadyInterrupt(on bool) {
	t.mu.Lock()
	t.irq = on
	raise := on && !t.full
	t.mu.Unlock()
	if raise {
		t.raise()
	}
}

func (t *Transmitter) raise() {
	select {
	case t.raised <- struct{}{}:
	default:
	}
}

func (t *Transmitter) ReadyInterrupt() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.irq
}

func (t *Transmitter) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.full
}

// Transmit loads the data register. Writing while it is still full
// overwrites the pending byte and counts an overrun.
func (t *Transmitter) Transmit(b byte) {
	t.mu.Lock()
	if !t.enabled {
		t.mu.Unlock()
		return
	}
	if t.full {
		t.overruns++
	}
	t.udr = b
	t.full = true
	t.mu.Unlock()
	select {
	case t.loaded <- struct{}{}:
	default:
	}
}

// Idle reports that nothing is waiting in the data register or being
// shifted out.
func (t *Transmitter) Idle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.full && !t.shifting
}

func (t *Transmitter) Overruns() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.overruns
}

// Divisor returns the programmed UBRR value and double speed flag.
func (t *Transmitter) Divisor() (uint16, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ubrr, t.double
}

// String returns everything shifted out so far.
func (t *Transmitter) String() string {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	return t.capture.String()
}

func (t *Transmitter) shift(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.loaded:
		}
		for {
			t.mu.Lock()
			if !t.full {
				t.mu.Unlock()
				break
			}
			b := t.udr
			t.full = false
			t.shifting = true
			irq := t.irq
			d := t.byteTime
			t.mu.Unlock()
			if irq {
				t.raise()
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(d):
			}
			t.emit(b)
			t.mu.Lock()
			t.shifting = false
			t.mu.Unlock()
		}
	}
}

func (t *Transmitter) emit(b byte) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	t.capture.WriteByte(b)
	if t.out != nil {
		_, _ = t.out.Write([]byte{b})
	}
}

func (t *Transmitter) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.raised:
		}
		t.mu.Lock()
		mask, vector := t.mask, t.vector
		t.mu.Unlock()
		if vector == nil {
			continue
		}
		if mask != nil {
			mask.Disable()
		}
		// the request may be stale by the time the mask is taken
		if t.ReadyInterrupt() && t.Ready() {
			vector()
		}
		if mask != nil {
			mask.Enable()
		}
	}
}
