package twisim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDevice_RegisterFile(t *testing.T) {
	d := NewDevice(WithData(0x10, 0x20, 0x30))

	assert.True(t, d.Address(false))
	assert.True(t, d.Write(0x01))
	assert.True(t, d.Write(0xaa))
	assert.True(t, d.Write(0xbb))
	d.Stop()
	assert.Equal(t, byte(0xaa), d.Register(1))
	assert.Equal(t, byte(0xbb), d.Register(2))

	assert.True(t, d.Address(false))
	assert.True(t, d.Write(0x00))
	assert.True(t, d.Address(true))
	assert.Equal(t, byte(0x10), d.Read(true))
	assert.Equal(t, byte(0xaa), d.Read(false))

	assert.Equal(t, [][]byte{{0x01, 0xaa, 0xbb}, {0x00}}, d.Received())
	assert.Equal(t, []bool{true, false}, d.Acks())
}

func TestDevice_Nack(t *testing.T) {
	assert.False(t, NewDevice(WithAddressNack()).Address(false))

	d := NewDevice(WithDataNackAfter(1))
	assert.True(t, d.Address(false))
	assert.True(t, d.Write(0x00))
	assert.False(t, d.Write(0x01))
	assert.True(t, d.Address(false))
	assert.True(t, d.Write(0x05))
}
