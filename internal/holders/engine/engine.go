// Package engine aggregates token ownership over a range of token ids.
//
// A range query runs in two fan-out phases separated by a barrier: every id in
// the range is resolved to its owner concurrently, the owners are deduplicated,
// then every distinct owner's full holding is resolved concurrently. The first
// failure in either phase fails the whole query; no partial result is returned.
package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/tokenholders/internal/holders/ledger"
	"github.com/yungbote/tokenholders/internal/platform/ctxutil"
	"github.com/yungbote/tokenholders/internal/platform/logger"
)

const tracerName = "github.com/yungbote/tokenholders/internal/holders/engine"

// maxLoggedTokenIDs caps the id list written to the debug log per query.
const maxLoggedTokenIDs = 1000

// HolderDetails is one owner's complete holding. Count always equals len(TokenIDs).
type HolderDetails struct {
	Owner    string   `json:"owner"`
	Count    int      `json:"count"`
	TokenIDs []string `json:"tokenIds"`
}

// ErrInvalidRange matches every *RangeError under errors.Is.
var ErrInvalidRange = errors.New("invalid token range")

// RangeError reports a range whose start is after its end.
type RangeError struct {
	From uint64
	To   uint64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("from must be <= to (from=%d, to=%d)", e.From, e.To)
}

func (e *RangeError) Is(target error) bool { return target == ErrInvalidRange }

// Observer is told about every finished range query.
type Observer interface {
	ObserveRangeQuery(span uint64, owners int, err error)
}

// Engine answers holder queries against a single ledger.
type Engine struct {
	ledger ledger.Ledger
	log    *logger.Logger
	obs    Observer
	tracer trace.Tracer
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithLogger sets the logger used for per-query debug output. Nil is ignored.
func WithLogger(log *logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithObserver reports every finished range query to obs.
func WithObserver(obs Observer) Option {
	return func(e *Engine) { e.obs = obs }
}

// New returns an engine over l. The engine keeps no per-query state, so one
// instance serves any number of concurrent queries.
func New(l ledger.Ledger, opts ...Option) *Engine {
	e := &Engine{
		ledger: l,
		log:    logger.NewNop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ResolveHolder returns owner's holding exactly as the ledger reports it.
// Ledger errors are returned unchanged.
func (e *Engine) ResolveHolder(ctx context.Context, owner string) (HolderDetails, error) {
	ctx, span := e.tracer.Start(ctx, "holders.resolve_holder", trace.WithAttributes(
		attribute.String("holders.owner", owner),
	))
	defer span.End()

	ids, err := e.ledger.HoldingsOf(ctx, owner)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return HolderDetails{}, err
	}
	if ids == nil {
		ids = []string{}
	}
	span.SetAttributes(attribute.Int("holders.count", len(ids)))
	return HolderDetails{Owner: owner, Count: len(ids), TokenIDs: ids}, nil
}

// ResolveRange returns one HolderDetails per distinct owner of the tokens in
// the inclusive range [from, to], ordered by Count descending and then by
// Owner ascending.
func (e *Engine) ResolveRange(ctx context.Context, from, to uint64) ([]HolderDetails, error) {
	if from > to {
		return nil, &RangeError{From: from, To: to}
	}
	// Saturates for the full uint64 range, which cannot be enumerated anyway.
	span := to - from + 1
	if span == 0 {
		span = to
	}

	ctx, sp := e.tracer.Start(ctx, "holders.resolve_range", trace.WithAttributes(
		attribute.Int64("holders.from", int64(from)),
		attribute.Int64("holders.to", int64(to)),
	))
	defer sp.End()
	log := e.log.With(ctxutil.LogFields(ctx)...)

	holders, err := e.resolveRange(ctx, log, sp, from, to)
	if e.obs != nil {
		e.obs.ObserveRangeQuery(span, len(holders), err)
	}
	if err != nil {
		sp.RecordError(err)
		sp.SetStatus(codes.Error, err.Error())
		log.Debug("range query failed", "from", from, "to", to, "error", err)
		return nil, err
	}
	sp.SetAttributes(attribute.Int("holders.owners", len(holders)))
	return holders, nil
}

func (e *Engine) resolveRange(ctx context.Context, log *logger.Logger, sp trace.Span, from, to uint64) ([]HolderDetails, error) {
	sp.AddEvent("discovering")
	log.Debug("discovering owners", "from", from, "to", to)
	if to-from < maxLoggedTokenIDs && log.DebugEnabled() {
		log.Debug("token ids", "token_ids", tokenIDs(from, to))
	}
	owners, err := e.discoverOwners(ctx, from, to)
	if err != nil {
		return nil, err
	}

	sp.AddEvent("resolving", trace.WithAttributes(attribute.Int("holders.owners", len(owners))))
	log.Debug("resolving holdings", "owners", owners)
	holders, err := e.resolveHolders(ctx, owners)
	if err != nil {
		return nil, err
	}

	SortHolders(holders)
	sp.AddEvent("done")
	return holders, nil
}

// discoverOwners looks up the owner of every id in [from, to] at once and
// returns the distinct owners in no particular order.
func (e *Engine) discoverOwners(ctx context.Context, from, to uint64) ([]string, error) {
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	seen := make(map[string]struct{})

	for id := from; ; id++ {
		g.Go(func() error {
			owner, err := e.ledger.OwnerOf(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			seen[owner] = struct{}{}
			mu.Unlock()
			return nil
		})
		if id == to {
			break
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	owners := make([]string, 0, len(seen))
	for owner := range seen {
		owners = append(owners, owner)
	}
	return owners, nil
}

func (e *Engine) resolveHolders(ctx context.Context, owners []string) ([]HolderDetails, error) {
	g, gctx := errgroup.WithContext(ctx)
	holders := make([]HolderDetails, len(owners))

	for i, owner := range owners {
		g.Go(func() error {
			d, err := e.ResolveHolder(gctx, owner)
			if err != nil {
				return err
			}
			holders[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return holders, nil
}

func tokenIDs(from, to uint64) []uint64 {
	ids := make([]uint64, 0, to-from+1)
	for id := from; ; id++ {
		ids = append(ids, id)
		if id == to {
			return ids
		}
	}
}

// SortHolders orders by Count descending, breaking ties by Owner ascending.
func SortHolders(holders []HolderDetails) {
	slices.SortFunc(holders, func(a, b HolderDetails) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Owner, b.Owner)
	})
}
