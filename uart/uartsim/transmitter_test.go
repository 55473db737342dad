package uartsim_test

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/twicore/uart"
	"github.com/mklimuk/twicore/uart/uartsim"
)

func newSim(t *testing.T, opts ...uartsim.Option) (*uartsim.Transmitter, *uart.Channel) {
	t.Helper()
	tx := uartsim.New(opts...)
	mask := &uart.LockMask{}
	ch := uart.New(tx, mask, uart.WithCapacity(1024))
	tx.Attach(mask, ch.HandleTransmitReady)
	tx.Start(context.Background())
	t.Cleanup(tx.Close)
	require.NoError(t, ch.Init(16*physic.MegaHertz, 115200))
	return tx, ch
}

func TestTransmitter_Configure(t *testing.T) {
	tx, _ := newSim(t)
	ubrr, double := tx.Divisor()
	assert.Equal(t, uint16(16), ubrr)
	assert.True(t, double)
	assert.True(t, tx.ReadyInterrupt())
	assert.True(t, tx.Idle())
}

func TestTransmitter_InterruptDrain(t *testing.T) {
	tx, ch := newSim(t, uartsim.WithByteTime(20*time.Microsecond))
	var want strings.Builder
	for i := 0; i < 20; i++ {
		ch.Enqueuef("line %02d\r\n", i)
		fmt.Fprintf(&want, "line %02d\r\n", i)
	}
	require.Eventually(t, func() bool {
		return tx.Idle() && ch.Pending() == 0
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, want.String(), tx.String())
	assert.Zero(t, tx.Overruns())
	assert.Zero(t, ch.Stats().Dropped)
}

func TestTransmitter_ProducerNeverBlocks(t *testing.T) {
	_, ch := newSim(t, uartsim.WithByteTime(time.Millisecond))
	start := time.Now()
	for i := 0; i < 200; i++ {
		ch.Enqueuef("0123456789")
	}
	// 2000 bytes at 1ms each would take two seconds on the wire
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.NotZero(t, ch.Stats().Dropped)
}

func TestTransmitter_SendBlocking(t *testing.T) {
	tx, ch := newSim(t, uartsim.WithByteTime(10*time.Microsecond))
	assert.Equal(t, 23, ch.SendBlocking("initialization finished"))
	require.Eventually(t, tx.Idle, time.Second, time.Millisecond)
	assert.Equal(t, "initialization finished", tx.String())

	ch.Enqueuef("\r\nnext")
	require.Eventually(t, func() bool {
		return tx.String() == "initialization finished\r\nnext"
	}, time.Second, time.Millisecond)
}

func TestTransmitter_SendBlockingWhileDraining(t *testing.T) {
	tx, ch := newSim(t, uartsim.WithByteTime(200*time.Microsecond))
	ch.Enqueuef("%s", strings.Repeat("a", 40))
	time.Sleep(2 * time.Millisecond)
	ch.SendBlocking("B")
	require.Eventually(t, func() bool {
		return tx.Idle() && ch.Pending() == 0
	}, 2*time.Second, time.Millisecond)
	out := tx.String()
	assert.Len(t, out, 41)
	assert.Equal(t, 1, strings.Count(out, "B"))
	assert.Equal(t, 40, strings.Count(out, "a"))
	assert.Zero(t, tx.Overruns())
}

func TestTransmitter_ReadyInterruptIsLevel(t *testing.T) {
	tx, ch := newSim(t, uartsim.WithByteTime(50*time.Microsecond))
	tx.SetReadyInterrupt(false)
	// queued with the interrupt off: only the primed byte goes out
	ch.Enqueuef("abcdef")
	require.Eventually(t, tx.Idle, time.Second, time.Millisecond)
	assert.Equal(t, 5, ch.Pending())

	tx.SetReadyInterrupt(true)
	require.Eventually(t, func() bool {
		return tx.Idle() && ch.Pending() == 0
	}, time.Second, time.Millisecond)
	assert.Equal(t, "abcdef", tx.String())
}

func TestTransmitter_Handler(t *testing.T) {
	var out strings.Builder
	tx, ch := newSim(t, uartsim.WithByteTime(10*time.Microsecond), uartsim.WithOutput(&out))
	log := slog.New(uart.NewHandler(ch, slog.LevelInfo))
	log.Warn("twi tx: SLA+W sent, NACK", "addr", "0x3c")
	log.Debug("not shown")
	require.Eventually(t, func() bool {
		return tx.Idle() && ch.Pending() == 0
	}, time.Second, time.Millisecond)
	assert.Equal(t, "W twi tx: SLA+W sent, NACK addr=0x3c\r\n", tx.String())
	assert.Equal(t, tx.String(), out.String())
}
