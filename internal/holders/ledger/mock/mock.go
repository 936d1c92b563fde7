// Package mock is an in-memory ledger used for offline runs and tests.
package mock

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/yungbote/tokenholders/internal/holders/ledger"
)

type Call struct {
	Method string
	Key    string
}

type Ledger struct {
	mu          sync.Mutex
	owners      map[uint64]string
	holdings    map[string][]string
	ownerErrs   map[uint64]error
	holdingErrs map[string]error
	calls       []Call
}

// New copies owners and holdings. Unknown token ids fail as nonexistent;
// unknown owners hold nothing.
func New(owners map[uint64]string, holdings map[string][]string) *Ledger {
	l := &Ledger{
		owners:      make(map[uint64]string, len(owners)),
		holdings:    make(map[string][]string, len(holdings)),
		ownerErrs:   map[uint64]error{},
		holdingErrs: map[string]error{},
	}
	for id, owner := range owners {
		l.owners[id] = owner
	}
	for owner, ids := range holdings {
		l.holdings[owner] = append([]string(nil), ids...)
	}
	return l
}

// Seeded returns a ledger with tokens 1..120 spread unevenly over four
// holders, enough for the default 1..100 query to produce a ranked result.
func Seeded() *Ledger {
	addrs := []string{
		"0x4F046178C16e696FD3c4d5978425C8f4aF522061",
		"0x8ba1f109551bD432803012645Ac136ddd64DBA72",
		"0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B",
		"0x1Db3439a222C519ab44bb1144fC28167b4Fa6EE6",
	}
	owners := map[uint64]string{}
	holdings := map[string][]string{}
	for id := uint64(1); id <= 120; id++ {
		var owner string
		switch r := id % 10; {
		case r < 4:
			owner = addrs[0]
		case r < 7:
			owner = addrs[1]
		case r < 9:
			owner = addrs[2]
		default:
			owner = addrs[3]
		}
		owners[id] = owner
		holdings[owner] = append(holdings[owner], strconv.FormatUint(id, 10))
	}
	return New(owners, holdings)
}

// FailOwnerOf makes OwnerOf(tokenID) fail with err.
func (l *Ledger) FailOwnerOf(tokenID uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ownerErrs[tokenID] = err
}

// FailHoldingsOf makes HoldingsOf(owner) fail with err.
func (l *Ledger) FailHoldingsOf(owner string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.holdingErrs[owner] = err
}

// Calls returns every call received so far, in arrival order.
func (l *Ledger) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Call(nil), l.calls...)
}

func (l *Ledger) CallCount(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (l *Ledger) OwnerOf(ctx context.Context, tokenID uint64) (string, error) {
	key := strconv.FormatUint(tokenID, 10)

	l.mu.Lock()
	l.calls = append(l.calls, Call{Method: ledger.MethodOwnerOf, Key: key})
	owner, ok := l.owners[tokenID]
	injected := l.ownerErrs[tokenID]
	l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", ledger.QueryError(ledger.MethodOwnerOf, key, err)
	}
	if injected != nil {
		return "", ledger.QueryError(ledger.MethodOwnerOf, key, injected)
	}
	if !ok {
		return "", ledger.QueryError(ledger.MethodOwnerOf, key, fmt.Errorf("%w: %d", ledger.ErrNonexistentToken, tokenID))
	}
	return owner, nil
}

func (l *Ledger) HoldingsOf(ctx context.Context, owner string) ([]string, error) {
	l.mu.Lock()
	l.calls = append(l.calls, Call{Method: ledger.MethodHoldingsOf, Key: owner})
	ids := append([]string{}, l.holdings[owner]...)
	injected := l.holdingErrs[owner]
	l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, ledger.QueryError(ledger.MethodHoldingsOf, owner, err)
	}
	if injected != nil {
		return nil, ledger.QueryError(ledger.MethodHoldingsOf, owner, injected)
	}
	return ids, nil
}
