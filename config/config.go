// Package config loads the TOML configuration of a submitter deployment and
// turns it into the runtime objects the engine is built from.
package config

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/tranvictor/jarvis/networks"

	"github.com/tranvictor/submitter"
	"github.com/tranvictor/submitter/addresslock"
	"github.com/tranvictor/submitter/chain"
	"github.com/tranvictor/submitter/finalization"
	"github.com/tranvictor/submitter/internal/circuitbreaker"
	"github.com/tranvictor/submitter/journal"
)

const (
	LockBackendMemory = "memory"
	LockBackendFile   = "file"

	TxTypeLegacy  = "legacy"
	TxTypeDynamic = "dynamic"

	// DefaultLockExpiration is the marker age after which a file lock is
	// considered abandoned.
	DefaultLockExpiration = 5 * time.Minute
)

type Config struct {
	WaitFor       WaitForConfig    `toml:"wait_for"`
	Resubmit      []ResubmitConfig `toml:"resubmit"`
	Lock          LockConfig       `toml:"lock"`
	Chain         ChainConfig      `toml:"chain"`
	JournalConfig JournalConfig    `toml:"journal"`
}

type WaitForConfig struct {
	// What is receipt, confirmations or nonceIncrease.
	What          string       `toml:"what"`
	Confirmations uint64       `toml:"confirmations"`
	PollMs        int64        `toml:"poll_ms"`
	TimeoutMs     int64        `toml:"timeout_ms"`
	Extra         *ExtraConfig `toml:"extra"`
}

type ExtraConfig struct {
	Blocks uint64 `toml:"blocks"`
	TimeMs int64  `toml:"time_ms"`
}

type ResubmitConfig struct {
	AfterMs     int64   `toml:"after_ms"`
	PriceFactor float64 `toml:"price_factor"`
}

type LockConfig struct {
	Backend       string `toml:"backend"`
	WaitTimeoutMs int64  `toml:"wait_timeout_ms"`
	ExpirationMs  int64  `toml:"expiration_ms"`
	Directory     string `toml:"directory"`
}

type ChainConfig struct {
	// RPCURL is dialed directly when set. Otherwise ChainID selects a
	// jarvis network and its known nodes.
	RPCURL           string  `toml:"rpc_url"`
	ChainID          uint64  `toml:"chain_id"`
	ReceiptPollMs    int64   `toml:"receipt_poll_ms"`
	GasBufferPercent float64 `toml:"gas_buffer_percent"`
	ExtraGasLimit    uint64  `toml:"extra_gas_limit"`
	TxType           string  `toml:"tx_type"`

	CircuitBreaker *CircuitBreakerConfig `toml:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int   `toml:"failure_threshold"`
	SuccessThreshold int   `toml:"success_threshold"`
	CooldownMs       int64 `toml:"cooldown_ms"`
}

type JournalConfig struct {
	// Directory of the pebble journal. Empty keeps the journal in memory.
	Directory string `toml:"directory"`
}

// Default returns the configuration used for keys missing from a file.
func Default() *Config {
	return &Config{
		WaitFor: WaitForConfig{
			What: finalization.Receipt.String(),
		},
		Lock: LockConfig{
			Backend:       LockBackendMemory,
			WaitTimeoutMs: submitter.DefaultLockWaitTimeout.Milliseconds(),
			ExpirationMs:  DefaultLockExpiration.Milliseconds(),
		},
		Chain: ChainConfig{
			ReceiptPollMs: finalization.DefaultReceiptPollInterval.Milliseconds(),
			TxType:        TxTypeLegacy,
		},
	}
}

// Load reads and checks the file at path. Keys the file sets but Config
// does not know are an error, so typos do not silently fall back to
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("couldn't read config %s: %w", path, err)
	}
	if err := finish(cfg, md); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	logger.WithFields(logger.Fields{
		"path":     path,
		"wait_for": cfg.WaitFor.What,
		"lock":     cfg.Lock.Backend,
		"resubmit": len(cfg.Resubmit),
	}).Debug("config loaded")
	return cfg, nil
}

// Decode is Load for an in-memory document.
func Decode(data string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("couldn't decode config: %w", err)
	}
	if err := finish(cfg, md); err != nil {
		return nil, err
	}
	return cfg, nil
}

func finish(cfg *Config, md toml.MetaData) error {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("%w: %s", ErrUnknownKeys, strings.Join(keys, ", "))
	}
	return cfg.Check()
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Check validates every section.
func (c *Config) Check() error {
	if _, err := c.Policy(); err != nil {
		return err
	}
	for i, r := range c.Resubmit {
		if r.AfterMs < 0 {
			return invalid("resubmit[%d].after_ms must not be negative", i)
		}
		if !(r.PriceFactor > 0) || math.IsInf(r.PriceFactor, 1) {
			return invalid("resubmit[%d].price_factor must be a positive finite number", i)
		}
	}

	switch c.Lock.Backend {
	case LockBackendMemory:
	case LockBackendFile:
		if c.Lock.Directory == "" {
			return invalid("lock.directory is required by the file backend")
		}
		if c.Lock.ExpirationMs <= 0 {
			return invalid("lock.expiration_ms must be positive")
		}
	default:
		return invalid("unknown lock.backend %q", c.Lock.Backend)
	}
	if c.Lock.WaitTimeoutMs <= 0 {
		return invalid("lock.wait_timeout_ms must be positive")
	}

	if c.Chain.RPCURL == "" && c.Chain.ChainID == 0 {
		return invalid("either chain.rpc_url or chain.chain_id is required")
	}
	if c.Chain.ReceiptPollMs < 0 {
		return invalid("chain.receipt_poll_ms must not be negative")
	}
	if !(c.Chain.GasBufferPercent >= 0) || math.IsInf(c.Chain.GasBufferPercent, 1) {
		return invalid("chain.gas_buffer_percent must not be negative")
	}
	if _, err := c.TxType(); err != nil {
		return err
	}
	if cb := c.Chain.CircuitBreaker; cb != nil {
		if cb.FailureThreshold < 0 || cb.SuccessThreshold < 0 || cb.CooldownMs < 0 {
			return invalid("chain.circuit_breaker values must not be negative")
		}
	}
	return nil
}

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Policy converts [wait_for].
func (c *Config) Policy() (finalization.Policy, error) {
	w := c.WaitFor
	what, err := finalization.ParseWhat(w.What)
	if err != nil {
		return finalization.Policy{}, fmt.Errorf("%w: wait_for.what: %w", ErrInvalidConfig, err)
	}
	var p finalization.Policy
	switch what {
	case finalization.Receipt:
		p = finalization.ForReceipt()
	case finalization.Confirmations:
		p = finalization.ForConfirmations(w.Confirmations)
	case finalization.NonceIncrease:
		var extra *finalization.Extra
		if w.Extra != nil {
			extra = &finalization.Extra{Blocks: w.Extra.Blocks, Time: ms(w.Extra.TimeMs)}
		}
		p = finalization.ForNonceIncrease(ms(w.PollMs), extra)
	}
	p = p.WithTimeout(ms(w.TimeoutMs))
	if err := p.Validate(); err != nil {
		return finalization.Policy{}, fmt.Errorf("%w: wait_for: %w", ErrInvalidConfig, err)
	}
	return p, nil
}

// Plan converts the [[resubmit]] entries. No entry means the default plan.
func (c *Config) Plan() submitter.Plan {
	if len(c.Resubmit) == 0 {
		return submitter.DefaultPlan()
	}
	plan := make(submitter.Plan, 0, len(c.Resubmit))
	for _, r := range c.Resubmit {
		plan = append(plan, submitter.ResubmitEntry{After: ms(r.AfterMs), PriceFactor: r.PriceFactor})
	}
	return plan
}

func (c *Config) TxType() (uint8, error) {
	switch c.Chain.TxType {
	case "", TxTypeLegacy:
		return types.LegacyTxType, nil
	case TxTypeDynamic:
		return types.DynamicFeeTxType, nil
	}
	return 0, invalid("unknown chain.tx_type %q", c.Chain.TxType)
}

// Locker builds the [lock] backend.
func (c *Config) Locker() addresslock.Locker {
	if c.Lock.Backend == LockBackendFile {
		return c.FileLocks()
	}
	return addresslock.NewMemoryLocks(ms(c.Lock.WaitTimeoutMs))
}

// FileLocks builds a file backed locker from [lock] whatever the configured
// backend, for inspecting the lock directory.
func (c *Config) FileLocks() *addresslock.FileLocks {
	return addresslock.NewFileLocks(c.Lock.Directory, ms(c.Lock.WaitTimeoutMs), ms(c.Lock.ExpirationMs))
}

// Journal opens the [journal]. The caller closes it.
func (c *Config) Journal() (journal.Journal, error) {
	if c.JournalConfig.Directory == "" {
		return journal.NewMemoryJournal(), nil
	}
	return journal.OpenPebble(c.JournalConfig.Directory, nil)
}

// Client connects to [chain].
func (c *Config) Client(ctx context.Context) (chain.Client, error) {
	client, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	if cb := c.Chain.CircuitBreaker; cb != nil {
		client = chain.NewGuard(client, circuitbreaker.Config{
			FailureThreshold: cb.FailureThreshold,
			SuccessThreshold: cb.SuccessThreshold,
			Cooldown:         ms(cb.CooldownMs),
		})
	}
	return client, nil
}

func (c *Config) dial(ctx context.Context) (chain.Client, error) {
	if c.Chain.RPCURL != "" {
		client, err := chain.Dial(ctx, c.Chain.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("couldn't dial %s: %w", c.Chain.RPCURL, err)
		}
		return client, nil
	}
	network, err := networks.GetNetworkByID(c.Chain.ChainID)
	if err != nil {
		return nil, fmt.Errorf("couldn't find network of chain id %d: %w", c.Chain.ChainID, err)
	}
	client, err := chain.NewJarvisClient(network)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Options returns the submitter options described by the config, using j as
// the attempt journal.
func (c *Config) Options(j journal.Journal) ([]submitter.Option, error) {
	policy, err := c.Policy()
	if err != nil {
		return nil, err
	}
	txType, err := c.TxType()
	if err != nil {
		return nil, err
	}
	opts := []submitter.Option{
		submitter.WithDefaultPolicy(policy),
		submitter.WithDefaultPlan(c.Plan()),
		submitter.WithDefaultTxType(txType),
		submitter.WithDefaultGasBufferPercent(c.Chain.GasBufferPercent),
		submitter.WithDefaultExtraGasLimit(c.Chain.ExtraGasLimit),
		submitter.WithLocker(c.Locker()),
	}
	if c.Chain.ReceiptPollMs > 0 {
		opts = append(opts, submitter.WithReceiptPollInterval(ms(c.Chain.ReceiptPollMs)))
	}
	if j != nil {
		opts = append(opts, submitter.WithJournal(j))
	}
	return opts, nil
}
