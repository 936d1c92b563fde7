// Package ledger defines the read-only view of an on-chain token registry that
// the aggregation engine consumes, plus decorators shared by every implementation.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	MethodOwnerOf    = "ownerOf"
	MethodHoldingsOf = "holdingsOf"
)

// Ledger answers two questions about a fixed token contract. Implementations
// must be safe for concurrent use; every call is an independent round trip.
type Ledger interface {
	// OwnerOf returns the address owning tokenID.
	OwnerOf(ctx context.Context, tokenID uint64) (string, error)
	// HoldingsOf returns every token id held by owner, in ledger order and
	// in the ledger's decimal string encoding.
	HoldingsOf(ctx context.Context, owner string) ([]string, error)
}

var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrNonexistentToken = errors.New("nonexistent token")
)

// RemoteQueryError is the single failure shape surfaced by a Ledger.
type RemoteQueryError struct {
	Method string
	Key    string
	Err    error
}

func (e *RemoteQueryError) Error() string {
	if e == nil {
		return "remote query error"
	}
	msg := "remote query failed"
	if e.Err != nil {
		msg = strings.TrimSpace(e.Err.Error())
	}
	if e.Key == "" {
		return fmt.Sprintf("%s: %s", e.Method, msg)
	}
	return fmt.Sprintf("%s(%s): %s", e.Method, e.Key, msg)
}

func (e *RemoteQueryError) Unwrap() error { return e.Err }

// QueryError wraps err as a RemoteQueryError unless it already is one.
func QueryError(method, key string, err error) error {
	if err == nil {
		return nil
	}
	var rq *RemoteQueryError
	if errors.As(err, &rq) {
		return err
	}
	return &RemoteQueryError{Method: method, Key: key, Err: err}
}
