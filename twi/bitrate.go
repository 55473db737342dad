package twi

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"
)

var ErrSpeedOutOfRange = errors.New("bus speed cannot be produced from the CPU clock")

// BitRate returns the TWBR value and prescaler exponent (TWPS) producing the
// requested SCL frequency:
//
//	SCL = clock / (16 + 2 * TWBR * 4^TWPS)
//
// The smallest prescaler that fits TWBR into 8 bits is chosen, so for the
// usual speeds the result is TWBR = (clock/speed - 16) / 2 with TWPS = 0.
func BitRate(clock, speed physic.Frequency) (twbr byte, twps byte, err error) {
	if clock <= 0 || speed <= 0 {
		return 0, 0, fmt.Errorf("%w: clock %s, speed %s", ErrSpeedOutOfRange, clock, speed)
	}
	ratio := int64(clock / speed)
	if ratio < 16 {
		return 0, 0, fmt.Errorf("%w: %s is faster than %s/16", ErrSpeedOutOfRange, speed, clock)
	}
	for twps = 0; twps < 4; twps++ {
		div := int64(2) << (2 * twps)
		val := (ratio - 16) / div
		if val <= 0xFF {
			return byte(val), twps, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: %s is too slow for %s", ErrSpeedOutOfRange, speed, clock)
}

// SCL returns the bus frequency produced by the given register values.
func SCL(clock physic.Frequency, twbr, twps byte) physic.Frequency {
	return clock / physic.Frequency(16+2*int64(twbr)<<(2*twps))
}
