package uart

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

func TestBaudDivisor(t *testing.T) {
	tests := []struct {
		clock physic.Frequency
		baud  uint32
		ubrr  uint16
	}{
		{16 * physic.MegaHertz, 115200, 16},
		{16 * physic.MegaHertz, 57600, 33},
		{16 * physic.MegaHertz, 9600, 207},
		{8 * physic.MegaHertz, 9600, 103},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%s/%d", test.clock, test.baud), func(t *testing.T) {
			ubrr, err := BaudDivisor(test.clock, test.baud)
			require.NoError(t, err)
			assert.Equal(t, test.ubrr, ubrr)
		})
	}
}

func TestBaudDivisor_OutOfRange(t *testing.T) {
	_, err := BaudDivisor(16*physic.MegaHertz, 0)
	assert.ErrorIs(t, err, ErrBaudOutOfRange)
	_, err = BaudDivisor(16*physic.MegaHertz, 4000000)
	assert.ErrorIs(t, err, ErrBaudOutOfRange)
	_, err = BaudDivisor(16*physic.MegaHertz, 50)
	assert.ErrorIs(t, err, ErrBaudOutOfRange)
}

func TestBaudError(t *testing.T) {
	assert.Equal(t, uint32(117647), ActualBaud(16*physic.MegaHertz, 16))
	assert.InDelta(t, 2.12, BaudError(16*physic.MegaHertz, 115200, 16), 0.01)
	assert.InDelta(t, 0.16, BaudError(16*physic.MegaHertz, 9600, 207), 0.01)
}
