// Command holderscan runs a single holder query against the configured ledger
// and prints the result as JSON, without starting the HTTP server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yungbote/tokenholders/internal/holders/app"
	"github.com/yungbote/tokenholders/internal/holders/config"
	"github.com/yungbote/tokenholders/internal/holders/engine"
	"github.com/yungbote/tokenholders/internal/platform/logger"
	"github.com/yungbote/tokenholders/internal/platform/shutdown"
)

type options struct {
	rpcURL   string
	contract string
	method   string
	pretty   bool
	verbose  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "holderscan",
		Short:         "Query token holders of an on-chain collection",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.rpcURL, "rpc-url", "", "JSON-RPC endpoint (takes precedence over HOLDERS_LEDGER_RPC_URL)")
	root.PersistentFlags().StringVar(&opts.contract, "contract", "", "token contract address (takes precedence over HOLDERS_LEDGER_CONTRACT_ADDRESS)")
	root.PersistentFlags().StringVar(&opts.method, "holdings-method", "", "contract view returning an owner's token ids")
	root.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "indent JSON output")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log progress to stderr")

	root.AddCommand(newRangeCmd(opts), newHolderCmd(opts))
	return root
}

func newRangeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "range FROM TO",
		Short: "Aggregate the holders of token ids FROM..TO inclusive, largest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("FROM must be a non-negative integer: %w", err)
			}
			to, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("TO must be a non-negative integer: %w", err)
			}
			return withEngine(cmd.Context(), opts, func(ctx context.Context, eng *engine.Engine) error {
				details, err := eng.ResolveRange(ctx, from, to)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), details, opts.pretty)
			})
		},
	}
}

func newHolderCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "holder ADDRESS",
		Short: "List every token id held by ADDRESS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), opts, func(ctx context.Context, eng *engine.Engine) error {
				details, err := eng.ResolveHolder(ctx, strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), details, opts.pretty)
			})
		},
	}
}

func withEngine(parent context.Context, opts *options, fn func(context.Context, *engine.Engine) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := shutdown.NotifyContext(parent)
	defer stop()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	log := logger.NewNop()
	if opts.verbose {
		if log, err = logger.New(cfg.Env); err != nil {
			return err
		}
	}
	defer log.Sync()

	l, closeLedger, err := app.BuildLedger(ctx, cfg.Ledger, nil)
	if err != nil {
		return err
	}
	defer closeLedger()

	return fn(ctx, engine.New(l, engine.WithLogger(log)))
}

// loadConfig resolves the usual config layers, then lets flags win over them.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	applyFlags(cfg, opts)
	if err := config.Normalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, opts *options) {
	if opts.rpcURL != "" {
		cfg.Ledger.RPCURL = opts.rpcURL
	}
	if opts.contract != "" {
		cfg.Ledger.ContractAddress = opts.contract
	}
	if opts.method != "" {
		cfg.Ledger.HoldingsMethod = opts.method
	}
}

func writeJSON(w io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
