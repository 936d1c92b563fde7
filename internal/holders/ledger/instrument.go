package ledger

import (
	"context"
	"time"
)

// Recorder receives one observation per completed ledger call.
type Recorder interface {
	ObserveLedgerCall(method string, err error, elapsed time.Duration)
}

type instrumented struct {
	next Ledger
	rec  Recorder
}

// Instrument reports every call on l to rec. A nil rec returns l unchanged.
func Instrument(l Ledger, rec Recorder) Ledger {
	if rec == nil {
		return l
	}
	return &instrumented{next: l, rec: rec}
}

func (i *instrumented) OwnerOf(ctx context.Context, tokenID uint64) (string, error) {
	start := time.Now()
	owner, err := i.next.OwnerOf(ctx, tokenID)
	i.rec.ObserveLedgerCall(MethodOwnerOf, err, time.Since(start))
	return owner, err
}

func (i *instrumented) HoldingsOf(ctx context.Context, owner string) ([]string, error) {
	start := time.Now()
	ids, err := i.next.HoldingsOf(ctx, owner)
	i.rec.ObserveLedgerCall(MethodHoldingsOf, err, time.Since(start))
	return ids, err
}
