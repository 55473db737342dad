package twi

import (
	"fmt"

	"github.com/mklimuk/twicore"
)

// Status is the masked content of TWSR after a phase completed.
type Status byte

// Master mode status codes.
const (
	StatusStart           Status = 0x08
	StatusRepeatedStart   Status = 0x10
	StatusArbitrationLost Status = 0x38

	// master transmitter
	StatusSLAWAck   Status = 0x18
	StatusSLAWNack  Status = 0x20
	StatusWDataAck  Status = 0x28
	StatusWDataNack Status = 0x30

	// master receiver
	StatusSLARAck   Status = 0x40
	StatusSLARNack  Status = 0x48
	StatusRDataAck  Status = 0x50
	StatusRDataNack Status = 0x58

	// StatusNoInfo is reported while no operation has completed.
	StatusNoInfo Status = 0xF8
	// StatusBusError is reported after an illegal start or stop condition.
	StatusBusError Status = 0x00
)

const unknownStatus = "unknown status"

type statusInfo struct {
	severity twicore.Severity
	detail   string
}

var statusTable = map[Status]statusInfo{
	StatusStart:           {twicore.Success, "START sent"},
	StatusRepeatedStart:   {twicore.Fatal, "repeated START sent"},
	StatusArbitrationLost: {twicore.Fatal, "arbitration lost"},
	StatusSLAWAck:         {twicore.Success, "SLA+W sent, ACK"},
	StatusSLAWNack:        {twicore.Recoverable, "SLA+W sent, NACK"},
	StatusWDataAck:        {twicore.Success, "data sent, ACK"},
	StatusWDataNack:       {twicore.Recoverable, "data sent, NACK"},
	StatusSLARAck:         {twicore.Success, "SLA+R sent, ACK"},
	StatusSLARNack:        {twicore.Recoverable, "SLA+R sent, NACK"},
	StatusRDataAck:        {twicore.Success, "data received, ACK"},
	// the master returns NACK on the final byte of every read
	StatusRDataNack: {twicore.Success, "data received, NACK"},
}

// Classify maps a status code onto its severity and a short description.
// Codes outside the master mode set are Unrecognized and described with the
// generic unknown status marker.
func Classify(s Status) (twicore.Severity, string) {
	info, ok := statusTable[s]
	if !ok {
		return twicore.Unrecognized, unknownStatus
	}
	return info.severity, info.detail
}

// Known reports whether s belongs to the master mode status set.
func (s Status) Known() bool {
	_, ok := statusTable[s]
	return ok
}

func (s Status) String() string {
	_, detail := Classify(s)
	return fmt.Sprintf("%#02x (%s)", byte(s), detail)
}
