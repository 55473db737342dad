package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/twicore"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	s := c.Settings()
	assert.Equal(t, 16*physic.MegaHertz, s.Clock)
	assert.Equal(t, 100*physic.KiloHertz, s.BusSpeed)
	assert.Equal(t, uint32(115200), s.Baud)
	assert.Equal(t, 128, s.RingCapacity)
	assert.Equal(t, slog.LevelInfo, s.Level)
}

func TestLoad(t *testing.T) {
	c, err := Load("testdata/board.yaml")
	require.NoError(t, err)
	assert.Equal(t, Frequency(400*physic.KiloHertz), c.Bus.Speed)
	assert.Equal(t, uint32(57600), c.Console.Baud)
	assert.Equal(t, 500*time.Millisecond, c.Poll.Period)
	assert.Equal(t, 20*time.Microsecond, c.Sim.ByteTime)
	assert.Equal(t, 3, c.Sim.Latency)
	// not in the file, kept from Default
	assert.Equal(t, "/dev/i2c-1", c.Bus.Device)

	lvl, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	sensors := c.Sensors()
	require.Len(t, sensors, 2)
	assert.Equal(t, byte(0x23), sensors[0].Address)
	assert.Empty(t, sensors[0].Command)
	assert.Equal(t, []byte{0x00}, sensors[1].Command)
	assert.Equal(t, 2, sensors[1].Count)

	require.Len(t, c.Sim.Peripherals, 3)
	assert.Equal(t, []byte{0x01, 0x90}, c.Sim.Peripherals[0].Data)
	assert.True(t, c.Sim.Peripherals[2].Nack)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load("testdata/invalid.yaml")
	require.ErrorIs(t, err, ErrInvalid)
	assert.ErrorIs(t, err, twicore.ErrInvalidAddress)
	for _, field := range []string{"bus.speed", "bus.adapter", "console.ring", "poll.sensors[0]"} {
		assert.ErrorContains(t, err, field)
	}
	assert.NotContains(t, err.Error(), "console.baud")

	_, err = Load("testdata/missing.yaml")
	assert.Error(t, err)
}

func TestFrequency(t *testing.T) {
	var v struct {
		F Frequency `yaml:"f"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("f: 100kHz"), &v))
	assert.Equal(t, Frequency(100*physic.KiloHertz), v.F)

	assert.Error(t, yaml.Unmarshal([]byte("f: fast"), &v))

	out, err := yaml.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, "f: 100kHz\n", string(out))
}
