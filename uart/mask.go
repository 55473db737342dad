package uart

import "sync"

// InterruptMask is the critical section primitive shared by the producer side
// of the channel and its interrupt handler. Disable masks the transmit-ready
// interrupt (or all interrupts); Enable restores it. Calls do not nest.
type InterruptMask interface {
	Disable()
	Enable()
}

// LockMask emulates interrupt masking with a mutex for hosted builds where the
// "interrupt handler" runs on its own goroutine. The dispatcher of the
// simulated hardware takes the same mask before running the handler.
type LockMask struct {
	mu sync.Mutex
}

var _ InterruptMask = &LockMask{}

func (m *LockMask) Disable() {
	m.mu.Lock()
}

func (m *LockMask) Enable() {
	m.mu.Unlock()
}
