package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. HOLDERS_LEDGER_RPC_URL.
const EnvPrefix = "HOLDERS_"

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		d.Duration = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		u, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		return d.UnmarshalText([]byte(u))
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("duration must be a JSON string like \"5s\" or an int nanoseconds: %w", err)
	}
	d.Duration = time.Duration(n)
	return nil
}

// UnmarshalText accepts "5s"-style durations or bare integer nanoseconds.
func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		d.Duration = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		d.Duration = time.Duration(n)
		return nil
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dd
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar, got yaml kind %d", value.Kind)
	}
	return d.UnmarshalText([]byte(value.Value))
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

func defaultConfig() *Config {
	return &Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:              ":3000",
			ReadHeaderTimeout: Duration{Duration: 5 * time.Second},
			IdleTimeout:       Duration{Duration: 2 * time.Minute},
			ShutdownTimeout:   Duration{Duration: 15 * time.Second},
		},
		Ledger: LedgerConfig{
			Type:            LedgerTypeEVMRPC,
			RPCURL:          "http://localhost:8545",
			ContractAddress: CovidPunksAddress,
			HoldingsMethod:  DefaultHoldingsMethod,
			Timeout:         Duration{Duration: 30 * time.Second},
		},
		Query: QueryConfig{
			DefaultFrom: 1,
			DefaultTo:   100,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "holders",
			MetricsEnabled: true,
		},
	}
}

// Load resolves configuration from defaults, an optional file, then HOLDERS_* env vars.
// The file is HOLDERS_CONFIG_PATH when set, otherwise ./config/config.{json,yaml,yml} if present.
func Load() (*Config, error) {
	cfg := defaultConfig()

	cfgPath := strings.TrimSpace(os.Getenv(EnvPrefix + "CONFIG_PATH"))
	if cfgPath == "" {
		cfgPath = discoverConfigFile()
	}
	if cfgPath != "" {
		if err := loadFile(cfgPath, cfg); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if v := strings.TrimSpace(os.Getenv("LOG_MODE")); v != "" {
		cfg.Env = v
	}

	if err := Normalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func discoverConfigFile() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
		p := filepath.Join(wd, "config", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadFile decodes path over cfg so fields absent from the file keep their defaults.
func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return fmt.Errorf("decode yaml config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, cfg); err != nil {
			return fmt.Errorf("decode json config %s: %w", path, err)
		}
	}
	return nil
}

// Normalize validates cfg and fills derived defaults. Load calls it; callers
// that edit a loaded Config call it again.
func Normalize(cfg *Config) error {
	cfg.Env = strings.TrimSpace(cfg.Env)
	if cfg.Env == "" {
		cfg.Env = "development"
	}

	cfg.HTTP.Addr = strings.TrimSpace(cfg.HTTP.Addr)
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":3000"
	}
	if cfg.HTTP.ShutdownTimeout.Duration <= 0 {
		cfg.HTTP.ShutdownTimeout = Duration{Duration: 15 * time.Second}
	}
	origins := cfg.HTTP.CORSOrigins[:0]
	for _, o := range cfg.HTTP.CORSOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.HTTP.CORSOrigins = origins

	if err := normalizeLedger(&cfg.Ledger); err != nil {
		return err
	}

	if cfg.Query.DefaultFrom > cfg.Query.DefaultTo {
		return fmt.Errorf("query.default_from (%d) must be <= query.default_to (%d)", cfg.Query.DefaultFrom, cfg.Query.DefaultTo)
	}
	if span := cfg.Query.MaxRangeSpan; span > 0 && !WithinSpan(cfg.Query.DefaultFrom, cfg.Query.DefaultTo, span) {
		return fmt.Errorf("default query range exceeds query.max_range_span=%d", span)
	}

	cfg.Telemetry.ServiceName = strings.TrimSpace(cfg.Telemetry.ServiceName)
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "holders"
	}
	return nil
}

func normalizeLedger(l *LedgerConfig) error {
	// The limiter wraps every ledger type, so its fields are checked first.
	if l.RequestsPerSecond < 0 {
		return errors.New("ledger.requests_per_second must be >= 0")
	}
	if l.Burst < 0 {
		return errors.New("ledger.burst must be >= 0")
	}
	if l.RequestsPerSecond > 0 && l.Burst == 0 {
		l.Burst = int(math.Max(1, math.Ceil(l.RequestsPerSecond)))
	}

	l.Type = strings.ToLower(strings.TrimSpace(l.Type))
	switch l.Type {
	case "", "evm", "rpc", "evmrpc", LedgerTypeEVMRPC:
		l.Type = LedgerTypeEVMRPC
	case LedgerTypeMock:
		return nil
	default:
		return fmt.Errorf("unsupported ledger.type %q", l.Type)
	}

	l.RPCURL = strings.TrimSpace(l.RPCURL)
	if l.RPCURL == "" {
		return errors.New("ledger.rpc_url is required for evm_rpc ledgers")
	}
	l.ContractAddress = strings.TrimSpace(l.ContractAddress)
	if !common.IsHexAddress(l.ContractAddress) {
		return fmt.Errorf("ledger.contract_address %q is not a hex address", l.ContractAddress)
	}
	l.HoldingsMethod = strings.TrimSpace(l.HoldingsMethod)
	if l.HoldingsMethod == "" {
		l.HoldingsMethod = DefaultHoldingsMethod
	}
	l.ABIPath = strings.TrimSpace(l.ABIPath)
	if l.Timeout.Duration <= 0 {
		l.Timeout = Duration{Duration: 30 * time.Second}
	}
	return nil
}

// WithinSpan reports whether the inclusive range [from, to] holds at most span ids.
func WithinSpan(from, to, span uint64) bool {
	if span == 0 {
		return true
	}
	return to-from < span
}
