package twicore

import (
	"errors"
	"fmt"
)

var (
	ErrBusBusy        = errors.New("I2C engine is busy (command not completed)")
	ErrNack           = errors.New("peripheral did not acknowledge")
	ErrBusFault       = errors.New("bus fault")
	ErrUnknownStatus  = errors.New("unknown bus status")
	ErrTimeout        = errors.New("bus wait aborted")
	ErrInvalidAddress = errors.New("address outside 7-bit range")
)

// Severity classifies the outcome of a bus phase.
type Severity uint8

const (
	// Success means the phase completed and the transaction may continue.
	Success Severity = iota
	// Recoverable means the peripheral is present but refused (NACK).
	Recoverable
	// Fatal means bus level trouble: contention, arbitration loss or an aborted wait.
	Fatal
	// Unrecognized means the hardware reported a status outside the known set.
	// It is handled like Fatal.
	Unrecognized
)

func (s Severity) String() string {
	switch s {
	case Success:
		return "success"
	case Recoverable:
		return "recoverable"
	case Fatal:
		return "fatal"
	case Unrecognized:
		return "unrecognized"
	default:
		return fmt.Sprintf("severity(%d)", uint8(s))
	}
}

func (s Severity) Failed() bool {
	return s != Success
}

// Phase names the step of a transaction.
type Phase uint8

const (
	PhaseStart Phase = iota
	PhaseAddress
	PhaseData
	PhaseStop
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseAddress:
		return "address"
	case PhaseData:
		return "data"
	case PhaseStop:
		return "stop"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

type Direction uint8

const (
	Write Direction = iota
	Read
)

func (d Direction) String() string {
	if d == Read {
		return "read"
	}
	return "write"
}

// Result is the outcome of a single bus transaction. Phase and Status refer to
// the last phase executed, so on failure they point at the phase that failed.
type Result struct {
	Severity  Severity
	Phase     Phase
	Status    byte
	Detail    string
	Address   byte
	Direction Direction
	Count     int
	// Cause is set when the failure did not come from the hardware status,
	// e.g. a canceled wait.
	Cause error
}

func (r Result) OK() bool {
	return !r.Severity.Failed()
}

// Err returns nil for a successful transaction and a *TransactionError otherwise.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &TransactionError{Result: r}
}

// TransactionError carries a failed Result through error returning APIs.
type TransactionError struct {
	Result Result
}

func (e *TransactionError) Error() string {
	r := e.Result
	msg := fmt.Sprintf("%s %#02x failed in %s phase (%s", r.Direction, r.Address, r.Phase, r.Severity)
	if r.Detail != "" {
		msg += fmt.Sprintf(", status %#02x: %s", r.Status, r.Detail)
	}
	msg += ")"
	if r.Cause != nil {
		msg += ": " + r.Cause.Error()
	}
	return msg
}

// Is matches the sentinel of the error's severity.
func (e *TransactionError) Is(target error) bool {
	switch target {
	case ErrNack:
		return e.Result.Severity == Recoverable
	case ErrBusFault:
		return e.Result.Severity == Fatal
	case ErrUnknownStatus:
		return e.Result.Severity == Unrecognized
	}
	return false
}

func (e *TransactionError) Unwrap() error {
	return e.Result.Cause
}

// SeverityOf extracts the severity from an error returned by a transport.
// Errors that carry no classification are treated as Fatal.
func SeverityOf(err error) Severity {
	if err == nil {
		return Success
	}
	var te *TransactionError
	if errors.As(err, &te) {
		return te.Result.Severity
	}
	return Fatal
}
