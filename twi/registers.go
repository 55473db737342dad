// Package twi drives the two-wire (I2C) peripheral of an AVR class
// microcontroller as bus master.
//
// The driver talks to the hardware through the Registers interface, which maps
// one to one onto the TWBR, TWSR, TWCR and TWDR registers. Every transaction is
// a strict start, address, data..., stop sequence; the driver waits for the
// TWINT completion flag after each phase and classifies the status register
// before moving on.
package twi

// Registers is the register file of the TWI peripheral.
type Registers interface {
	// SetBitRate writes TWBR.
	SetBitRate(twbr byte)
	// SetPrescaler writes the prescaler bits (TWPS1:0) of TWSR.
	SetPrescaler(twps byte)
	// SetControl writes TWCR. Writing TWINT clears the flag and starts the
	// operation selected by the other bits.
	SetControl(twcr byte)
	// Control reads TWCR.
	Control() byte
	// Status reads TWSR, prescaler bits included.
	Status() byte
	// SetData writes TWDR.
	SetData(twdr byte)
	// Data reads TWDR.
	Data() byte
}

// TWCR bits.
const (
	TWIE  byte = 1 << 0
	TWEN  byte = 1 << 2
	TWWC  byte = 1 << 3
	TWSTO byte = 1 << 4
	TWSTA byte = 1 << 5
	TWEA  byte = 1 << 6
	TWINT byte = 1 << 7
)

// statusMask strips the prescaler bits from TWSR.
const statusMask byte = 0xF8

const (
	ctrlTransmit = TWINT | TWEN
	ctrlStart    = ctrlTransmit | TWSTA
	ctrlStop     = ctrlTransmit | TWSTO
	ctrlAck      = ctrlTransmit | TWEA
	ctrlNack     = ctrlTransmit
)
