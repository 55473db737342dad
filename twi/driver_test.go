package twi_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/twicore"
	"github.com/mklimuk/twicore/busctx"
	"github.com/mklimuk/twicore/twi"
	"github.com/mklimuk/twicore/twi/twisim"
)

type fixture struct {
	hw    *twisim.Controller
	drv   *twi.Driver
	log   *bytes.Buffer
	count int
}

func newFixture(t *testing.T, opts ...twisim.Option) *fixture {
	t.Helper()
	f := &fixture{
		hw:  twisim.New(opts...),
		log: &bytes.Buffer{},
	}
	logger := slog.New(slog.NewTextHandler(f.log, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f.drv = twi.NewDriver(f.hw, 16*physic.MegaHertz, twi.WithLogger(logger))
	require.NoError(t, f.drv.Init(100*physic.KiloHertz))
	return f
}

func (f *fixture) lines(level string) []string {
	var out []string
	for _, l := range strings.Split(f.log.String(), "\n") {
		if strings.Contains(l, "level="+level) {
			out = append(out, l)
		}
	}
	return out
}

func (f *fixture) stops() int {
	n := 0
	for _, e := range f.hw.Events() {
		if e.Kind == twisim.EventStop {
			n++
		}
	}
	return n
}

func TestDriver_Init(t *testing.T) {
	f := newFixture(t)
	twbr, twps := f.hw.BitRate()
	assert.Equal(t, byte(72), twbr)
	assert.Equal(t, byte(0), twps)
	assert.Equal(t, 100*physic.KiloHertz, f.drv.Speed())
	assert.Equal(t, twi.TWEN, f.hw.Control())

	// idempotent
	require.NoError(t, f.drv.Init(100*physic.KiloHertz))
	twbr, _ = f.hw.BitRate()
	assert.Equal(t, byte(72), twbr)
	assert.Empty(t, f.hw.Events())
}

func TestDriver_Send(t *testing.T) {
	f := newFixture(t)
	dev := twisim.NewDevice()
	f.hw.Attach(0x3c, dev)

	res := f.drv.Send(context.Background(), 0x3c, []byte{0x00})
	assert.True(t, res.OK())
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, twicore.PhaseData, res.Phase)
	assert.Equal(t, "S A3cW+ W00+ P", f.hw.Trace())
	assert.Equal(t, [][]byte{{0x00}}, dev.Received())
	assert.Empty(t, f.lines("WARN"))
	assert.Empty(t, f.lines("ERROR"))
	assert.Len(t, f.lines("DEBUG"), 1)
}

func TestDriver_SendEmpty(t *testing.T) {
	f := newFixture(t)
	f.hw.Attach(0x3c, twisim.NewDevice())

	res := f.drv.Send(context.Background(), 0x3c, nil)
	assert.True(t, res.OK())
	assert.Equal(t, 0, res.Count)
	assert.Equal(t, twicore.PhaseAddress, res.Phase)
	assert.Equal(t, "S A3cW+ P", f.hw.Trace())
}

func TestDriver_SendAddressNack(t *testing.T) {
	f := newFixture(t)
	f.hw.Attach(0x3c, twisim.NewDevice(twisim.WithAddressNack()))

	res := f.drv.Send(context.Background(), 0x3c, []byte{0x00, 0x01})
	assert.Equal(t, twicore.Recoverable, res.Severity)
	assert.Equal(t, twicore.PhaseAddress, res.Phase)
	assert.Equal(t, byte(twi.StatusSLAWNack), res.Status)
	assert.Equal(t, 0, res.Count)
	// no data phase was attempted
	assert.Equal(t, "S A3cW- P", f.hw.Trace())
	warn := f.lines("WARN")
	require.Len(t, warn, 1)
	assert.Contains(t, warn[0], "SLA+W sent, NACK")
	assert.Contains(t, warn[0], "sev=recoverable")
	assert.Empty(t, f.lines("ERROR"))
	assert.ErrorIs(t, res.Err(), twicore.ErrNack)
}

func TestDriver_SendDataNack(t *testing.T) {
	f := newFixture(t)
	f.hw.Attach(0x3c, twisim.NewDevice(twisim.WithDataNackAfter(1)))

	res := f.drv.Send(context.Background(), 0x3c, []byte{0x01, 0x02, 0x03})
	assert.Equal(t, twicore.Recoverable, res.Severity)
	assert.Equal(t, twicore.PhaseData, res.Phase)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, "S A3cW+ W01+ W02- P", f.hw.Trace())
	assert.Len(t, f.lines("WARN"), 1)
}

func TestDriver_NoPeripheral(t *testing.T) {
	f := newFixture(t)
	res := f.drv.Send(context.Background(), 0x50, []byte{0x01})
	assert.Equal(t, twicore.Recoverable, res.Severity)
	n, res := f.drv.Receive(context.Background(), 0x50, make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.Equal(t, twicore.Recoverable, res.Severity)
	assert.Equal(t, byte(twi.StatusSLARNack), res.Status)
	assert.Equal(t, "S A50W- P S A50R- P", f.hw.Trace())
}

func TestDriver_Receive(t *testing.T) {
	f := newFixture(t)
	dev := twisim.NewDevice(twisim.WithData(0x01, 0x02))
	f.hw.Attach(0x23, dev)

	buf := make([]byte, 2)
	n, res := f.drv.Receive(context.Background(), 0x23, buf)
	require.True(t, res.OK())
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0x01, 0x02}, buf)
	assert.Equal(t, "S A23R+ R01+ R02- P", f.hw.Trace())
	assert.Equal(t, []bool{true, false}, dev.Acks())
	info := f.lines("INFO")
	require.Len(t, info, 1)
	assert.Contains(t, info[0], "addr=0x23")
	assert.Contains(t, info[0], "n=2")
}

func TestDriver_ReceiveAckPattern(t *testing.T) {
	for _, count := range []int{1, 2, 5, 16} {
		f := newFixture(t)
		dev := twisim.NewDevice()
		f.hw.Attach(0x23, dev)
		n, res := f.drv.Receive(context.Background(), 0x23, make([]byte, count))
		require.True(t, res.OK())
		require.Equal(t, count, n)
		acks := dev.Acks()
		require.Len(t, acks, count)
		for i, ack := range acks {
			assert.Equal(t, i < count-1, ack, "byte %d of %d", i, count)
		}
	}
}

func TestDriver_ReceiveZero(t *testing.T) {
	f := newFixture(t)
	f.hw.Attach(0x23, twisim.NewDevice())
	n, res := f.drv.Receive(context.Background(), 0x23, nil)
	assert.True(t, res.OK())
	assert.Equal(t, 0, n)
	assert.Equal(t, "S A23R+ P", f.hw.Trace())
	assert.Empty(t, f.lines("INFO"))
}

func TestDriver_FatalStatus(t *testing.T) {
	tests := []struct {
		name     string
		inject   []twi.Status
		severity twicore.Severity
		phase    twicore.Phase
		detail   string
	}{
		{"arbitration lost at start", []twi.Status{twi.StatusArbitrationLost}, twicore.Fatal, twicore.PhaseStart, "arbitration lost"},
		{"repeated start", []twi.Status{twi.StatusRepeatedStart}, twicore.Fatal, twicore.PhaseStart, "repeated START sent"},
		{"arbitration lost on address", []twi.Status{twi.StatusStart, twi.StatusArbitrationLost}, twicore.Fatal, twicore.PhaseAddress, "arbitration lost"},
		{"unknown status", []twi.Status{0xF0}, twicore.Unrecognized, twicore.PhaseStart, "unknown status"},
		{"bus error", []twi.Status{twi.StatusStart, twi.StatusSLAWAck, twi.StatusBusError}, twicore.Unrecognized, twicore.PhaseData, "unknown status"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t)
			f.hw.Attach(0x3c, twisim.NewDevice())
			f.hw.Inject(test.inject...)
			res := f.drv.Send(context.Background(), 0x3c, []byte{0x01, 0x02})
			assert.Equal(t, test.severity, res.Severity)
			assert.Equal(t, test.phase, res.Phase)
			assert.Equal(t, test.detail, res.Detail)
			assert.Equal(t, 1, f.stops())
			errs := f.lines("ERROR")
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], test.detail)
			assert.Empty(t, f.lines("WARN"))
		})
	}
}

func TestDriver_UnknownStatusError(t *testing.T) {
	f := newFixture(t)
	f.hw.Inject(0xF0)
	err := f.drv.WriteToAddr(context.Background(), 0x3c, []byte{0x01})
	assert.ErrorIs(t, err, twicore.ErrUnknownStatus)
	assert.Equal(t, twi.Status(0xF0), f.drv.LastStatus())
}

func TestDriver_StopExactlyOnce(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(*fixture)
		action func(*fixture)
	}{
		{"send ok", func(f *fixture) { f.hw.Attach(0x10, twisim.NewDevice()) }, func(f *fixture) {
			f.drv.Send(context.Background(), 0x10, []byte{1, 2, 3})
		}},
		{"send nack", func(f *fixture) {}, func(f *fixture) {
			f.drv.Send(context.Background(), 0x10, []byte{1, 2, 3})
		}},
		{"send data nack", func(f *fixture) { f.hw.Attach(0x10, twisim.NewDevice(twisim.WithDataNackAfter(0))) }, func(f *fixture) {
			f.drv.Send(context.Background(), 0x10, []byte{1, 2, 3})
		}},
		{"send start fault", func(f *fixture) { f.hw.Inject(twi.StatusArbitrationLost) }, func(f *fixture) {
			f.drv.Send(context.Background(), 0x10, []byte{1})
		}},
		{"receive ok", func(f *fixture) { f.hw.Attach(0x10, twisim.NewDevice()) }, func(f *fixture) {
			f.drv.Receive(context.Background(), 0x10, make([]byte, 3))
		}},
		{"receive nack", func(f *fixture) {}, func(f *fixture) {
			f.drv.Receive(context.Background(), 0x10, make([]byte, 3))
		}},
		{"receive data fault", func(f *fixture) {
			f.hw.Attach(0x10, twisim.NewDevice())
			f.hw.Inject(twi.StatusStart, twi.StatusSLARAck, twi.StatusRDataAck, twi.StatusArbitrationLost)
		}, func(f *fixture) {
			n, _ := f.drv.Receive(context.Background(), 0x10, make([]byte, 3))
			f.count = n
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.setup(f)
			tc.action(f)
			if tc.name == "receive data fault" {
				assert.Equal(t, 1, f.count)
			}
			assert.Equal(t, 1, f.stops())
			events := f.hw.Events()
			require.NotEmpty(t, events)
			assert.Equal(t, twisim.EventStop, events[len(events)-1].Kind)
		})
	}
}

func TestDriver_Latency(t *testing.T) {
	f := newFixture(t, twisim.WithLatency(10))
	f.hw.Attach(0x23, twisim.NewDevice(twisim.WithData(0xAA, 0xBB, 0xCC)))
	buf := make([]byte, 3)
	n, res := f.drv.Receive(context.Background(), 0x23, buf)
	require.True(t, res.OK())
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, buf)
}

func TestDriver_HungBusWithDeadline(t *testing.T) {
	f := newFixture(t)
	f.hw.Attach(0x3c, twisim.NewDevice())
	f.hw.Hang(true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := f.drv.Send(ctx, 0x3c, []byte{0x01})
	assert.Equal(t, twicore.Fatal, res.Severity)
	assert.Equal(t, twicore.PhaseStart, res.Phase)
	err := res.Err()
	assert.ErrorIs(t, err, twicore.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, twicore.ErrBusFault)
	assert.Equal(t, 1, f.stops())
	errs := f.lines("ERROR")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "wait aborted")
}

func TestDriver_InvalidAddress(t *testing.T) {
	f := newFixture(t)
	res := f.drv.Send(context.Background(), 0x80, []byte{0x01})
	assert.ErrorIs(t, res.Err(), twicore.ErrInvalidAddress)
	n, res := f.drv.Receive(context.Background(), 0xFF, make([]byte, 1))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, res.Err(), twicore.ErrInvalidAddress)
	assert.Empty(t, f.hw.Events())
	errs := f.lines("ERROR")
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "twi tx: invalid address")
	assert.Contains(t, errs[1], "twi rx: invalid address")
}

func TestDriver_Verbose(t *testing.T) {
	f := newFixture(t)
	f.hw.Attach(0x3c, twisim.NewDevice())
	ctx := busctx.SetVerbose(context.Background(), true)
	f.drv.Send(ctx, 0x3c, []byte{0x01})
	// start, address, data, stop
	n := 0
	for _, l := range f.lines("DEBUG") {
		if strings.Contains(l, "msg=twcr") {
			n++
		}
	}
	assert.Equal(t, 4, n)
}

func TestDriver_I2CBus(t *testing.T) {
	f := newFixture(t)
	dev := twisim.NewDevice()
	dev.SetRegisters(0x10, 0x12, 0x34)
	f.hw.Attach(0x23, dev)
	ctx := context.Background()

	require.NoError(t, f.drv.WriteToAddr(ctx, 0x23, []byte{0x10}))
	buf := make([]byte, 2)
	require.NoError(t, f.drv.ReadFromAddr(ctx, 0x23, buf))
	assert.Equal(t, []byte{0x12, 0x34}, buf)

	err := f.drv.WriteToAddr(ctx, 0x24, []byte{0x10})
	assert.ErrorIs(t, err, twicore.ErrNack)
	assert.Equal(t, twicore.Recoverable, twicore.SeverityOf(err))

	require.NoError(t, f.drv.Release(ctx))
	assert.Equal(t, twisim.EventStop, f.hw.Events()[len(f.hw.Events())-1].Kind)
}

func TestDriver_PeriphDev(t *testing.T) {
	f := newFixture(t)
	dev := twisim.NewDevice()
	dev.SetRegisters(0x20, 0xDE, 0xAD)
	f.hw.Attach(0x23, dev)

	d := &i2c.Dev{Bus: f.drv, Addr: 0x23}
	buf := make([]byte, 2)
	require.NoError(t, d.Tx([]byte{0x20}, buf))
	assert.Equal(t, []byte{0xDE, 0xAD}, buf)
	assert.Equal(t, "S A23W+ W20+ P S A23R+ Rde+ Rad- P", f.hw.Trace())

	n, err := d.Write([]byte{0x30, 0x01})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, byte(0x01), dev.Register(0x30))

	require.NoError(t, f.drv.SetSpeed(400*physic.KiloHertz))
	assert.Equal(t, "twi(400kHz)", f.drv.String())
	assert.Error(t, f.drv.Tx(0x80, nil, nil))
}

func TestDriver_Scan(t *testing.T) {
	f := newFixture(t)
	f.hw.Attach(0x23, twisim.NewDevice())
	f.hw.Attach(0x3c, twisim.NewDevice())
	found, err := f.drv.Scan(context.Background(), 0x08, 0x77)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x23, 0x3c}, found)
	assert.Empty(t, f.lines("WARN"))
	assert.Equal(t, 0x77-0x08+1, f.stops())
}
