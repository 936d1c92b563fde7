// Package evmrpc implements ledger.Ledger against an ERC-721 style contract
// through a node's eth_call JSON-RPC method.
package evmrpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/yungbote/tokenholders/internal/holders/config"
	"github.com/yungbote/tokenholders/internal/holders/ledger"
)

const ownerOfMethod = "ownerOf"

// Caller is the slice of an Ethereum client the ledger needs. *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type Client struct {
	caller   Caller
	closeFn  func()
	contract common.Address
	abi      abi.ABI

	holdingsMethod string
	timeout        time.Duration
}

// New dials cfg.RPCURL. The returned client is long-lived and safe for concurrent use.
func New(ctx context.Context, cfg config.LedgerConfig) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("evm_rpc: rpc_url required")
	}
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm_rpc: dial: %w", err)
	}
	c, err := NewWithCaller(cfg, ec)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.closeFn = ec.Close
	return c, nil
}

// NewWithCaller builds a client over an existing backend.
func NewWithCaller(cfg config.LedgerConfig, caller Caller) (*Client, error) {
	if caller == nil {
		return nil, errors.New("evm_rpc: caller required")
	}
	addr := strings.TrimSpace(cfg.ContractAddress)
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("evm_rpc: invalid contract address %q", addr)
	}
	holdings := strings.TrimSpace(cfg.HoldingsMethod)
	if holdings == "" {
		holdings = config.DefaultHoldingsMethod
	}

	parsed, err := loadABI(cfg.ABIPath, holdings)
	if err != nil {
		return nil, err
	}
	if err := checkMethods(parsed, holdings); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		caller:         caller,
		contract:       common.HexToAddress(addr),
		abi:            parsed,
		holdingsMethod: holdings,
		timeout:        timeout,
	}, nil
}

func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

func (c *Client) OwnerOf(ctx context.Context, tokenID uint64) (string, error) {
	key := strconv.FormatUint(tokenID, 10)
	out, err := c.call(ctx, ownerOfMethod, new(big.Int).SetUint64(tokenID))
	if err != nil {
		return "", ledger.QueryError(ledger.MethodOwnerOf, key, err)
	}
	owner, ok := abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	if !ok {
		return "", ledger.QueryError(ledger.MethodOwnerOf, key, fmt.Errorf("unexpected ownerOf result %T", out[0]))
	}
	// Some contracts answer unminted ids with the zero address instead of reverting.
	if *owner == (common.Address{}) {
		return "", ledger.QueryError(ledger.MethodOwnerOf, key, fmt.Errorf("%w: %s", ledger.ErrNonexistentToken, key))
	}
	return owner.Hex(), nil
}

func (c *Client) HoldingsOf(ctx context.Context, owner string) ([]string, error) {
	if !common.IsHexAddress(owner) {
		return nil, ledger.QueryError(ledger.MethodHoldingsOf, owner, fmt.Errorf("%w: %q", ledger.ErrInvalidAddress, owner))
	}
	out, err := c.call(ctx, c.holdingsMethod, common.HexToAddress(owner))
	if err != nil {
		return nil, ledger.QueryError(ledger.MethodHoldingsOf, owner, err)
	}
	ids, ok := abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int)
	if !ok {
		return nil, ledger.QueryError(ledger.MethodHoldingsOf, owner, fmt.Errorf("unexpected %s result %T", c.holdingsMethod, out[0]))
	}
	tokenIDs := make([]string, 0, len(*ids))
	for _, id := range *ids {
		tokenIDs = append(tokenIDs, id.String())
	}
	return tokenIDs, nil
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s returned %d values, want 1", method, len(out))
	}
	return out, nil
}

func minimalABI(holdingsMethod string) string {
	return fmt.Sprintf(`[
  {"type":"function","name":"ownerOf","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":%q,"stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"}],
   "outputs":[{"name":"","type":"uint256[]"}]}
]`, holdingsMethod)
}

func loadABI(path, holdingsMethod string) (abi.ABI, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return abi.JSON(strings.NewReader(minimalABI(holdingsMethod)))
	}
	f, err := os.Open(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("evm_rpc: open abi: %w", err)
	}
	defer f.Close()
	parsed, err := abi.JSON(f)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("evm_rpc: parse abi %s: %w", path, err)
	}
	return parsed, nil
}

func checkMethods(parsed abi.ABI, holdingsMethod string) error {
	owner, ok := parsed.Methods[ownerOfMethod]
	if !ok {
		return errors.New("evm_rpc: abi has no ownerOf method")
	}
	if len(owner.Inputs) != 1 || owner.Inputs[0].Type.T != abi.UintTy ||
		len(owner.Outputs) != 1 || owner.Outputs[0].Type.T != abi.AddressTy {
		return fmt.Errorf("evm_rpc: ownerOf has signature %s, want ownerOf(uint256) returns (address)", owner.Sig)
	}

	h, ok := parsed.Methods[holdingsMethod]
	if !ok {
		return fmt.Errorf("evm_rpc: abi has no %s method", holdingsMethod)
	}
	if len(h.Inputs) != 1 || h.Inputs[0].Type.T != abi.AddressTy ||
		len(h.Outputs) != 1 || h.Outputs[0].Type.T != abi.SliceTy ||
		h.Outputs[0].Type.Elem == nil || h.Outputs[0].Type.Elem.T != abi.UintTy {
		return fmt.Errorf("evm_rpc: %s has signature %s, want (address) returns (uint256[])", holdingsMethod, h.Sig)
	}
	return nil
}
