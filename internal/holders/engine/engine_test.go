package engine

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yungbote/tokenholders/internal/holders/ledger"
	"github.com/yungbote/tokenholders/internal/holders/ledger/mock"
	"github.com/yungbote/tokenholders/internal/platform/logger"
)

func TestResolveHolder(t *testing.T) {
	const owner = "0x4F046178C16e696FD3c4d5978425C8f4aF522061"
	l := mock.New(nil, map[string][]string{owner: {"1", "5", "10"}})

	got, err := New(l).ResolveHolder(context.Background(), owner)
	if err != nil {
		t.Fatalf("ResolveHolder: %v", err)
	}
	want := HolderDetails{Owner: owner, Count: 3, TokenIDs: []string{"1", "5", "10"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestResolveHolderNoTokens(t *testing.T) {
	const owner = "0x4F046178C16e696FD3c4d5978425C8f4aF522061"
	got, err := New(mock.New(nil, nil)).ResolveHolder(context.Background(), owner)
	if err != nil {
		t.Fatalf("ResolveHolder: %v", err)
	}
	want := HolderDetails{Owner: owner, Count: 0, TokenIDs: []string{}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

// errLedger returns fixed errors so tests can check identity, not just shape.
type errLedger struct {
	ownerErr    error
	holdingsErr error
	holdings    []string
}

func (l errLedger) OwnerOf(context.Context, uint64) (string, error) { return "", l.ownerErr }
func (l errLedger) HoldingsOf(context.Context, string) ([]string, error) {
	return l.holdings, l.holdingsErr
}

func TestResolveHolderPropagatesErrorUnchanged(t *testing.T) {
	want := &ledger.RemoteQueryError{Method: ledger.MethodHoldingsOf, Key: "invalidtokenholderid", Err: ledger.ErrInvalidAddress}

	_, err := New(errLedger{holdingsErr: want}).ResolveHolder(context.Background(), "invalidtokenholderid")
	if err != want {
		t.Fatalf("err=%v, want the ledger's error value", err)
	}
}

func TestResolveHolderNilSliceBecomesEmpty(t *testing.T) {
	got, err := New(errLedger{}).ResolveHolder(context.Background(), "0x1")
	if err != nil {
		t.Fatalf("ResolveHolder: %v", err)
	}
	if got.TokenIDs == nil || got.Count != 0 {
		t.Fatalf("got %#v", got)
	}
}

func TestResolveRangeSingleTokenSingleOwner(t *testing.T) {
	l := mock.New(map[uint64]string{1: "0x1"}, map[string][]string{"0x1": {"1"}})

	got, err := New(l).ResolveRange(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("ResolveRange: %v", err)
	}
	want := []HolderDetails{{Owner: "0x1", Count: 1, TokenIDs: []string{"1"}}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestResolveRangeSortsDescendingByCount(t *testing.T) {
	l := mock.New(
		map[uint64]string{1: "0x1", 2: "0x2", 3: "0x3"},
		map[string][]string{
			"0x1": {"1", "2"},
			"0x2": {"3", "4", "5"},
			"0x3": {"6"},
		},
	)

	got, err := New(l).ResolveRange(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("ResolveRange: %v", err)
	}
	want := []HolderDetails{
		{Owner: "0x2", Count: 3, TokenIDs: []string{"3", "4", "5"}},
		{Owner: "0x1", Count: 2, TokenIDs: []string{"1", "2"}},
		{Owner: "0x3", Count: 1, TokenIDs: []string{"6"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestResolveRangeInvalidRangeIssuesNoCalls(t *testing.T) {
	l := mock.New(map[uint64]string{1: "0x1"}, nil)

	got, err := New(l).ResolveRange(context.Background(), 5, 4)
	if got != nil {
		t.Fatalf("expected no result, got %+v", got)
	}
	var re *RangeError
	if !errors.As(err, &re) || re.From != 5 || re.To != 4 {
		t.Fatalf("err=%v", err)
	}
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("errors.Is(err, ErrInvalidRange) = false")
	}
	if n := len(l.Calls()); n != 0 {
		t.Fatalf("invalid range issued %d ledger calls", n)
	}
}

func TestResolveRangeOwnerFailureAbortsQuery(t *testing.T) {
	owners := map[uint64]string{}
	for id := uint64(1); id <= 10; id++ {
		owners[id] = "0x" + strconv.FormatUint(id%3, 10)
	}
	l := mock.New(owners, map[string][]string{"0x0": {"3"}, "0x1": {"1"}, "0x2": {"2"}})
	boom := errors.New("node unavailable")
	l.FailOwnerOf(7, boom)

	got, err := New(l).ResolveRange(context.Background(), 1, 10)
	if got != nil {
		t.Fatalf("expected no partial result, got %+v", got)
	}
	var rq *ledger.RemoteQueryError
	if !errors.As(err, &rq) || !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if n := l.CallCount(ledger.MethodHoldingsOf); n != 0 {
		t.Fatalf("holdings phase started after ownership failure: %d calls", n)
	}
}

func TestResolveRangeHoldingFailureAbortsQuery(t *testing.T) {
	l := mock.New(
		map[uint64]string{1: "0x1", 2: "0x2"},
		map[string][]string{"0x1": {"1"}, "0x2": {"2"}},
	)
	l.FailHoldingsOf("0x2", ledger.ErrInvalidAddress)

	got, err := New(l).ResolveRange(context.Background(), 1, 2)
	if got != nil || !errors.Is(err, ledger.ErrInvalidAddress) {
		t.Fatalf("got %+v err=%v", got, err)
	}
}

func TestResolveRangeLooksUpEveryIDBeforeAnyHolding(t *testing.T) {
	owners := map[uint64]string{}
	holdings := map[string][]string{}
	for id := uint64(1); id <= 40; id++ {
		owner := "0x" + strconv.FormatUint(id%4, 10)
		owners[id] = owner
		holdings[owner] = append(holdings[owner], strconv.FormatUint(id, 10))
	}
	l := mock.New(owners, holdings)

	got, err := New(l).ResolveRange(context.Background(), 1, 40)
	if err != nil {
		t.Fatalf("ResolveRange: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("owners=%d", len(got))
	}

	calls := l.Calls()
	if len(calls) != 44 {
		t.Fatalf("calls=%d want 40 ownerOf + 4 holdingsOf", len(calls))
	}
	for i, c := range calls {
		want := ledger.MethodOwnerOf
		if i >= 40 {
			want = ledger.MethodHoldingsOf
		}
		if c.Method != want {
			t.Fatalf("call %d is %s, want %s", i, c.Method, want)
		}
	}
}

func TestResolveRangeRecordsMatchLedger(t *testing.T) {
	l := mock.Seeded()

	got, err := New(l).ResolveRange(context.Background(), 1, 100)
	if err != nil {
		t.Fatalf("ResolveRange: %v", err)
	}
	for i, h := range got {
		if h.Count != len(h.TokenIDs) {
			t.Fatalf("%s count=%d len=%d", h.Owner, h.Count, len(h.TokenIDs))
		}
		ids, _ := l.HoldingsOf(context.Background(), h.Owner)
		if !reflect.DeepEqual(ids, h.TokenIDs) {
			t.Fatalf("%s ids differ from ledger", h.Owner)
		}
		if i > 0 && got[i-1].Count < h.Count {
			t.Fatalf("not sorted at %d: %d < %d", i, got[i-1].Count, h.Count)
		}
	}
}

func TestResolveRangeIsRepeatable(t *testing.T) {
	e := New(mock.Seeded())

	first, err := e.ResolveRange(context.Background(), 1, 100)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := e.ResolveRange(context.Background(), 1, 100)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs", i)
		}
	}
}

func TestResolveRangeTiesOrderedByOwner(t *testing.T) {
	l := mock.New(
		map[uint64]string{1: "0xc", 2: "0xa", 3: "0xb", 4: "0xd"},
		map[string][]string{"0xa": {"2"}, "0xb": {"3"}, "0xc": {"1"}, "0xd": {"4", "5"}},
	)

	got, err := New(l).ResolveRange(context.Background(), 1, 4)
	if err != nil {
		t.Fatalf("ResolveRange: %v", err)
	}
	var order []string
	for _, h := range got {
		order = append(order, h.Owner)
	}
	if want := []string{"0xd", "0xa", "0xb", "0xc"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("order=%v want %v", order, want)
	}
}

func TestResolveRangeAtUint64Limit(t *testing.T) {
	l := mock.New(map[uint64]string{math.MaxUint64: "0x1"}, map[string][]string{"0x1": {"18446744073709551615"}})

	got, err := New(l).ResolveRange(context.Background(), math.MaxUint64, math.MaxUint64)
	if err != nil {
		t.Fatalf("ResolveRange: %v", err)
	}
	if len(got) != 1 || l.CallCount(ledger.MethodOwnerOf) != 1 {
		t.Fatalf("got %+v calls=%d", got, l.CallCount(ledger.MethodOwnerOf))
	}
}

// gateLedger blocks every OwnerOf until n calls are in flight at once, which
// only completes if the engine launches the whole phase without waiting.
type gateLedger struct {
	n        int32
	inFlight int32
	once     sync.Once
	open     chan struct{}
}

func (g *gateLedger) OwnerOf(ctx context.Context, tokenID uint64) (string, error) {
	if atomic.AddInt32(&g.inFlight, 1) == g.n {
		g.once.Do(func() { close(g.open) })
	}
	select {
	case <-g.open:
		return "0x" + strconv.FormatUint(tokenID%2, 10), nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(5 * time.Second):
		return "", errors.New("ownership lookups were not issued concurrently")
	}
}

func (g *gateLedger) HoldingsOf(context.Context, string) ([]string, error) {
	return []string{"1"}, nil
}

func TestResolveRangeFansOutOwnershipLookups(t *testing.T) {
	g := &gateLedger{n: 25, open: make(chan struct{})}

	got, err := New(g).ResolveRange(context.Background(), 1, 25)
	if err != nil {
		t.Fatalf("ResolveRange: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("owners=%d", len(got))
	}
}

func TestResolveRangeCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := mock.New(map[uint64]string{1: "0x1", 2: "0x2"}, nil)
	got, err := New(l).ResolveRange(ctx, 1, 2)
	if got != nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("got %+v err=%v", got, err)
	}
}

type fakeObserver struct {
	span   uint64
	owners int
	err    error
	calls  int
}

func (o *fakeObserver) ObserveRangeQuery(span uint64, owners int, err error) {
	o.span, o.owners, o.err = span, owners, err
	o.calls++
}

func TestResolveRangeNotifiesObserver(t *testing.T) {
	obs := &fakeObserver{}
	e := New(mock.Seeded(), WithObserver(obs))

	if _, err := e.ResolveRange(context.Background(), 1, 100); err != nil {
		t.Fatalf("ResolveRange: %v", err)
	}
	if obs.calls != 1 || obs.span != 100 || obs.owners != 4 || obs.err != nil {
		t.Fatalf("observer=%+v", obs)
	}

	if _, err := e.ResolveRange(context.Background(), 200, 201); err == nil {
		t.Fatalf("expected nonexistent token error")
	}
	if obs.calls != 2 || obs.err == nil || obs.owners != 0 {
		t.Fatalf("observer=%+v", obs)
	}

	if _, err := e.ResolveRange(context.Background(), 2, 1); err == nil {
		t.Fatalf("expected range error")
	}
	if obs.calls != 2 {
		t.Fatalf("invalid ranges are rejected before the query is observed")
	}
}

func singleOwnerLedger(from, to uint64) *mock.Ledger {
	const owner = "0x4F046178C16e696FD3c4d5978425C8f4aF522061"
	owners := map[uint64]string{}
	var held []string
	for id := from; id <= to; id++ {
		owners[id] = owner
		held = append(held, strconv.FormatUint(id, 10))
	}
	return mock.New(owners, map[string][]string{owner: held})
}

func TestResolveRangeLogsTokenIDsAtDebug(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}

	if _, err := New(singleOwnerLedger(3, 6), WithLogger(log)).ResolveRange(context.Background(), 3, 6); err != nil {
		t.Fatalf("ResolveRange: %v", err)
	}
	entries := logs.FilterMessage("token ids").All()
	if len(entries) != 1 {
		t.Fatalf("token ids entries=%d", len(entries))
	}
	got, ok := entries[0].ContextMap()["token_ids"]
	if !ok {
		t.Fatalf("fields=%v", entries[0].ContextMap())
	}
	if n := reflect.ValueOf(got).Len(); n != 4 {
		t.Fatalf("token_ids=%v", got)
	}
}

func TestResolveRangeSkipsTokenIDLogForWideRanges(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}

	to := uint64(maxLoggedTokenIDs + 1)
	if _, err := New(singleOwnerLedger(1, to), WithLogger(log)).ResolveRange(context.Background(), 1, to); err != nil {
		t.Fatalf("ResolveRange: %v", err)
	}
	if n := logs.FilterMessage("token ids").Len(); n != 0 {
		t.Fatalf("token ids logged for %d ids", to)
	}
	if n := logs.FilterMessage("discovering owners").Len(); n != 1 {
		t.Fatalf("discovering entries=%d", n)
	}
}

func TestResolveRangeSkipsTokenIDLogAboveDebug(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}

	if _, err := New(singleOwnerLedger(1, 3), WithLogger(log)).ResolveRange(context.Background(), 1, 3); err != nil {
		t.Fatalf("ResolveRange: %v", err)
	}
	if n := logs.Len(); n != 0 {
		t.Fatalf("info-level logger kept %d debug entries", n)
	}
}
