package twisim

import "sync"

var _ Peripheral = &Device{}

// Device models the common register-file peripheral: the first byte of a
// write sets the register pointer, following bytes are stored from there and
// reads stream out from the pointer. The pointer auto-increments.
type Device struct {
	mu          sync.Mutex
	registers   [256]byte
	pointer     byte
	pointerSet  bool
	nackAddress bool
	nackAfter   int
	written     int
	received    [][]byte
	acks        []bool
}

type DeviceOption func(*Device)

// WithData preloads the register file from address 0.
func WithData(data ...byte) DeviceOption {
	return func(d *Device) {
		copy(d.registers[:], data)
	}
}

// WithAddressNack makes the device refuse to be addressed.
func WithAddressNack() DeviceOption {
	return func(d *Device) {
		d.nackAddress = true
	}
}

// WithDataNackAfter makes the device NACK every written byte after the first n
// of a transaction.
func WithDataNackAfter(n int) DeviceOption {
	return func(d *Device) {
		d.nackAfter = n + 1
	}
}

func NewDevice(opts ...DeviceOption) *Device {
	d := &Device{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) Address(read bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.nackAddress {
		return false
	}
	d.written = 0
	d.pointerSet = false
	if !read {
		d.received = append(d.received, nil)
	}
	return true
}

func (d *Device) Write(b byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.written++
	if d.nackAfter > 0 && d.written >= d.nackAfter {
		return false
	}
	last := len(d.received) - 1
	d.received[last] = append(d.received[last], b)
	if !d.pointerSet {
		d.pointer = b
		d.pointerSet = true
		return true
	}
	d.registers[d.pointer] = b
	d.pointer++
	return true
}

func (d *Device) Read(ack bool) byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acks = append(d.acks, ack)
	b := d.registers[d.pointer]
	d.pointer++
	return b
}

func (d *Device) Stop() {}

// Register returns the content of a register.
func (d *Device) Register(r byte) byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registers[r]
}

// SetRegisters overwrites registers starting at r.
func (d *Device) SetRegisters(r byte, data ...byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.registers[r:], data)
}

// Received returns the bytes of every write transaction, one slice each.
func (d *Device) Received() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.received))
	for i, r := range d.received {
		out[i] = append([]byte(nil), r...)
	}
	return out
}

// Acks returns the acknowledge bit the master sent after every byte read.
func (d *Device) Acks() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bool(nil), d.acks...)
}
