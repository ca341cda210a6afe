// Package config defines the engine-wide and per-chain configuration
// structs described in spec §6. Parsing a config file is owned by the
// out-of-scope CLI front-end; this package only defines the shape (with
// naoina/toml tags, in the teacher's gen_config.go manner) and a
// programmatic default builder, per the "global configuration is a
// process-wide read-only singleton" design note.
package config

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BackoffConfig drives the exponential backoff used on the stuck-waiting
// paths (NoGas/NoToken), per spec §4.G step 5.
type BackoffConfig struct {
	StartSecs      int     `toml:"wait_start_s"`
	MaxSecs        int     `toml:"wait_max_s"`
	Multiplier     float64 `toml:"wait_mult"`
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{StartSecs: 10, MaxSecs: 300, Multiplier: 2.0}
}

// ChainConfig is the per-chain block of engine-wide config (spec §6).
type ChainConfig struct {
	ChainID                 int64           `toml:"chain_id"`
	Name                    string          `toml:"name"`
	RPCEndpoints            []string        `toml:"rpc_endpoints"`
	DNSDiscoverySources     []string        `toml:"dns_discovery_sources,omitempty"`
	HTTPDiscoverySources    []string        `toml:"http_discovery_sources,omitempty"`
	TokenAddress            *common.Address `toml:"token_address,omitempty"`
	MultiContractAddress    *common.Address `toml:"multi_contract_address,omitempty"`
	LockContractAddress     *common.Address `toml:"lock_contract_address,omitempty"`
	FaucetContractAddress   *common.Address `toml:"faucet_contract_address,omitempty"`
	MaxFeePerGasGwei        *big.Float      `toml:"max_fee_per_gas_gwei"`
	PriorityFeeGwei         *big.Float      `toml:"priority_fee_gwei"`
	MultiContractMaxAtOnce  int             `toml:"multi_contract_max_at_once"`
	TransactionTimeout      time.Duration   `toml:"transaction_timeout"`
	ConfirmationBlocks      uint64          `toml:"confirmation_blocks"`
	CurrencySymbol          string          `toml:"currency_symbol"`
	BlockExplorerURL        string          `toml:"block_explorer_url,omitempty"`
	UseTransferForSingle    bool            `toml:"use_transfer_for_single_payment"`
	UseDirectMultiTransfer  bool            `toml:"use_direct_multi_transfer"`
	UsePackedMultiTransfer  bool            `toml:"use_packed_multi_transfer"`
	// AssumedMinPriorityGwei is the per-chain floor used by the
	// GasPriceLow stuck detector (spec §4.G step 11): Polygon mainnet 30,
	// Mumbai 1, everything else 0.
	AssumedMinPriorityGwei float64 `toml:"assumed_min_priority_gwei"`
}

// configMarshaling mirrors the teacher's gen_config.go convention of a
// blank marker type. No Marshal/UnmarshalTOML methods are defined, so
// big.Float and *common.Address fields use the toml library's default
// encoding.
type configMarshaling struct{}

var _ = (*configMarshaling)(nil)

// EngineConfig is the process-wide, read-only singleton (spec §9):
// constructed once at startup, never mutated afterwards.
type EngineConfig struct {
	Chains                       map[int64]ChainConfig `toml:"chains"`
	GatherInterval               time.Duration         `toml:"gather_interval"`
	ProcessInterval              time.Duration         `toml:"process_interval"`
	ProcessIntervalAfterError    time.Duration         `toml:"process_interval_after_error"`
	ProcessIntervalAfterNoFunds  BackoffConfig         `toml:"process_interval_after_no_funds"`
	ReportAliveInterval          time.Duration         `toml:"report_alive_interval"`
	AutomaticRecover             bool                  `toml:"automatic_recover"`
	IgnoreDeadlines              bool                  `toml:"ignore_deadlines"`
	MarkUnrecoverableAfter       time.Duration         `toml:"mark_as_unrecoverable_after"`
	ExternalDiscoveryInterval    time.Duration         `toml:"external_discovery_interval"`
	ConfirmationReceiptRetries   int                    `toml:"confirmation_receipt_retries"`
}

// Default returns an EngineConfig with the values the original driver
// ships as defaults, with no chains configured; callers add chains with
// AddChain before the config is frozen into the runtime.
func Default() EngineConfig {
	return EngineConfig{
		Chains:                     map[int64]ChainConfig{},
		GatherInterval:             10 * time.Second,
		ProcessInterval:            5 * time.Second,
		ProcessIntervalAfterError:  10 * time.Second,
		ProcessIntervalAfterNoFunds: DefaultBackoffConfig(),
		ReportAliveInterval:        30 * time.Second,
		AutomaticRecover:           true,
		IgnoreDeadlines:            false,
		MarkUnrecoverableAfter:     24 * time.Hour,
		ExternalDiscoveryInterval:  5 * time.Minute,
		ConfirmationReceiptRetries: 5,
	}
}

// AddChain registers a chain, filling in the assumed-minimum-priority-fee
// floor when the caller didn't set one explicitly (spec §4.G step 11).
func (c *EngineConfig) AddChain(cc ChainConfig) {
	if cc.AssumedMinPriorityGwei == 0 {
		switch cc.ChainID {
		case 137: // Polygon mainnet
			cc.AssumedMinPriorityGwei = 30
		case 80001: // Mumbai
			cc.AssumedMinPriorityGwei = 1
		}
	}
	if c.Chains == nil {
		c.Chains = map[int64]ChainConfig{}
	}
	c.Chains[cc.ChainID] = cc
}

func (c *EngineConfig) Chain(chainID int64) (ChainConfig, bool) {
	cc, ok := c.Chains[chainID]
	return cc, ok
}
