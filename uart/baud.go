package uart

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"
)

var ErrBaudOutOfRange = errors.New("baud rate cannot be produced from the CPU clock")

// BaudDivisor returns the UBRR value for the requested baud rate with the
// double speed bit (U2X) set: UBRR = clock/8/baud - 1.
func BaudDivisor(clock physic.Frequency, baud uint32) (uint16, error) {
	if baud == 0 || clock <= 0 {
		return 0, fmt.Errorf("%w: clock %s, baud %d", ErrBaudOutOfRange, clock, baud)
	}
	hz := int64(clock / physic.Hertz)
	ubrr := hz/8/int64(baud) - 1
	if ubrr < 0 || ubrr > 0x0FFF {
		return 0, fmt.Errorf("%w: clock %s, baud %d", ErrBaudOutOfRange, clock, baud)
	}
	return uint16(ubrr), nil
}

// ActualBaud returns the rate produced by a double speed divisor.
func ActualBaud(clock physic.Frequency, ubrr uint16) uint32 {
	return uint32(int64(clock/physic.Hertz) / 8 / (int64(ubrr) + 1))
}

// BaudError returns the relative deviation of the produced rate in percent.
func BaudError(clock physic.Frequency, baud uint32, ubrr uint16) float64 {
	return (float64(ActualBaud(clock, ubrr))/float64(baud) - 1) * 100
}
