package ledger

import (
	"context"
	"strconv"

	"golang.org/x/time/rate"
)

type throttled struct {
	next    Ledger
	limiter *rate.Limiter
}

// Throttle makes every call on l wait for a token from limiter first. A nil
// limiter returns l unchanged. The limiter is shared by all callers of the
// returned Ledger, so it caps the process-wide call rate against the node.
func Throttle(l Ledger, limiter *rate.Limiter) Ledger {
	if limiter == nil {
		return l
	}
	return &throttled{next: l, limiter: limiter}
}

func (t *throttled) OwnerOf(ctx context.Context, tokenID uint64) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", QueryError(MethodOwnerOf, strconv.FormatUint(tokenID, 10), err)
	}
	return t.next.OwnerOf(ctx, tokenID)
}

func (t *throttled) HoldingsOf(ctx context.Context, owner string) ([]string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, QueryError(MethodHoldingsOf, owner, err)
	}
	return t.next.HoldingsOf(ctx, owner)
}
