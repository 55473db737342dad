package twicore

import (
	"context"
	"errors"
	"fmt"
)

// Transact adapts an error returning bus to Transactor. Failures that are not
// already a *TransactionError are reported as Fatal with the error as Cause.
func Transact(bus I2CBus) Transactor {
	if t, ok := bus.(Transactor); ok {
		return t
	}
	return &busTransactor{bus: bus}
}

type busTransactor struct {
	bus I2CBus
}

func (b *busTransactor) Send(ctx context.Context, address byte, data []byte) Result {
	res := Result{Address: address, Direction: Write, Phase: PhaseData}
	if address > MaxAddress {
		return invalid(res)
	}
	if err := b.bus.WriteToAddr(ctx, address, data); err != nil {
		return failed(res, err)
	}
	res.Count = len(data)
	return res
}

func (b *busTransactor) Receive(ctx context.Context, address byte, buffer []byte) (int, Result) {
	res := Result{Address: address, Direction: Read, Phase: PhaseData}
	if address > MaxAddress {
		return 0, invalid(res)
	}
	if err := b.bus.ReadFromAddr(ctx, address, buffer); err != nil {
		res = failed(res, err)
		return res.Count, res
	}
	res.Count = len(buffer)
	return res.Count, res
}

func invalid(res Result) Result {
	res.Severity = Fatal
	res.Phase = PhaseStart
	res.Cause = fmt.Errorf("%w: %#02x", ErrInvalidAddress, res.Address)
	return res
}

func failed(res Result, err error) Result {
	var te *TransactionError
	if errors.As(err, &te) {
		return te.Result
	}
	res.Severity = SeverityOf(err)
	res.Cause = err
	return res
}
