package config

import "time"

const (
	LedgerTypeEVMRPC = "evm_rpc"
	LedgerTypeMock   = "mock"
)

// CovidPunksAddress is the ERC-721 contract the service was first built against.
const CovidPunksAddress = "0xe4cfae3aa41115cb94cff39bb5dbae8bd0ea9d41"

// DefaultHoldingsMethod is the CovidPunks enumeration method: (address) returns (uint256[]).
const DefaultHoldingsMethod = "getPunksBelongingToOwner"

type Duration struct {
	Duration time.Duration
}

type HTTPConfig struct {
	Addr              string   `json:"addr" yaml:"addr" env:"ADDR"`
	ReadHeaderTimeout Duration `json:"read_header_timeout" yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT"`
	IdleTimeout       Duration `json:"idle_timeout" yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout   Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// CORSOrigins lists browser origins allowed to call the API. Empty disables CORS headers.
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty" env:"CORS_ORIGINS" envSeparator:","`
}

type LedgerConfig struct {
	// Type selects the ledger implementation: "evm_rpc" or "mock".
	Type string `json:"type" yaml:"type" env:"TYPE"`

	// RPCURL is the JSON-RPC endpoint of an Ethereum node (http(s) or ws(s)).
	RPCURL string `json:"rpc_url,omitempty" yaml:"rpc_url,omitempty" env:"RPC_URL"`

	ContractAddress string `json:"contract_address,omitempty" yaml:"contract_address,omitempty" env:"CONTRACT_ADDRESS"`

	// HoldingsMethod names the contract view returning every token id held by an address.
	HoldingsMethod string `json:"holdings_method,omitempty" yaml:"holdings_method,omitempty" env:"HOLDINGS_METHOD"`

	// ABIPath optionally points at a full contract ABI; the built-in minimal ABI is used otherwise.
	ABIPath string `json:"abi_path,omitempty" yaml:"abi_path,omitempty" env:"ABI_PATH"`

	// Timeout bounds each individual eth_call.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" env:"TIMEOUT"`

	// RequestsPerSecond caps outbound calls across all requests. Zero means unlimited.
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty" env:"REQUESTS_PER_SECOND"`
	Burst             int     `json:"burst,omitempty" yaml:"burst,omitempty" env:"BURST"`
}

type QueryConfig struct {
	// DefaultFrom/DefaultTo is the inclusive token id range served on GET /.
	DefaultFrom uint64 `json:"default_from" yaml:"default_from" env:"DEFAULT_FROM"`
	DefaultTo   uint64 `json:"default_to" yaml:"default_to" env:"DEFAULT_TO"`

	// MaxRangeSpan rejects caller-supplied ranges wider than this many ids. Zero means no cap.
	MaxRangeSpan uint64 `json:"max_range_span,omitempty" yaml:"max_range_span,omitempty" env:"MAX_RANGE_SPAN"`
}

type TelemetryConfig struct {
	ServiceName    string `json:"service_name,omitempty" yaml:"service_name,omitempty" env:"SERVICE_NAME"`
	MetricsEnabled bool   `json:"metrics_enabled" yaml:"metrics_enabled" env:"METRICS_ENABLED"`
}

type Config struct {
	Env       string          `json:"env" yaml:"env" env:"ENV"`
	HTTP      HTTPConfig      `json:"http" yaml:"http" envPrefix:"HTTP_"`
	Ledger    LedgerConfig    `json:"ledger" yaml:"ledger" envPrefix:"LEDGER_"`
	Query     QueryConfig     `json:"query" yaml:"query" envPrefix:"QUERY_"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry" envPrefix:"TELEMETRY_"`
}
