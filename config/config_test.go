package config

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tranvictor/submitter"
	"github.com/tranvictor/submitter/addresslock"
	"github.com/tranvictor/submitter/chain"
	"github.com/tranvictor/submitter/finalization"
	"github.com/tranvictor/submitter/journal"
)

const fullConfig = `
[wait_for]
what = "nonceIncrease"
poll_ms = 500
timeout_ms = 60000
[wait_for.extra]
blocks = 2
time_ms = 10000

[[resubmit]]
after_ms = 0
price_factor = 1.0
[[resubmit]]
after_ms = 30000
price_factor = 1.2

[lock]
backend = "file"
wait_timeout_ms = 120000
expiration_ms = 300000
directory = "/var/lib/bot/locks"

[chain]
rpc_url = "http://127.0.0.1:8545"
receipt_poll_ms = 1000
gas_buffer_percent = 0.2
tx_type = "dynamic"

[chain.circuit_breaker]
failure_threshold = 3
cooldown_ms = 5000

[journal]
directory = "/var/lib/bot/journal"
`

func TestDecode_Full(t *testing.T) {
	cfg, err := Decode(fullConfig)
	require.NoError(t, err)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, finalization.NonceIncrease, policy.What)
	assert.Equal(t, 500*time.Millisecond, policy.PollInterval)
	assert.Equal(t, time.Minute, policy.Timeout)
	require.NotNil(t, policy.Extra)
	assert.Equal(t, uint64(2), policy.Extra.Blocks)
	assert.Equal(t, 10*time.Second, policy.Extra.Time)

	assert.Equal(t, submitter.Plan{
		{After: 0, PriceFactor: 1},
		{After: 30 * time.Second, PriceFactor: 1.2},
	}, cfg.Plan())

	locker, ok := cfg.Locker().(*addresslock.FileLocks)
	require.True(t, ok)
	assert.Equal(t, "/var/lib/bot/locks", locker.Dir)
	assert.Equal(t, 2*time.Minute, locker.WaitTimeout)
	assert.Equal(t, 5*time.Minute, locker.Expiration)

	txType, err := cfg.TxType()
	require.NoError(t, err)
	assert.Equal(t, uint8(types.DynamicFeeTxType), txType)
	assert.Equal(t, 0.2, cfg.Chain.GasBufferPercent)
	assert.Equal(t, 3, cfg.Chain.CircuitBreaker.FailureThreshold)
}

func TestDecode_Defaults(t *testing.T) {
	cfg, err := Decode(`
[chain]
chain_id = 1
`)
	require.NoError(t, err)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, finalization.ForReceipt(), policy)
	assert.Equal(t, submitter.DefaultPlan(), cfg.Plan())

	_, ok := cfg.Locker().(*addresslock.MemoryLocks)
	assert.True(t, ok)
	assert.Equal(t, submitter.DefaultLockWaitTimeout.Milliseconds(), cfg.Lock.WaitTimeoutMs)

	txType, err := cfg.TxType()
	require.NoError(t, err)
	assert.Equal(t, uint8(types.LegacyTxType), txType)
}

func TestDecode_UnknownKeys(t *testing.T) {
	_, err := Decode(`
[chain]
rpc_url = "http://127.0.0.1:8545"
reciept_poll_ms = 10
`)
	assert.ErrorIs(t, err, ErrUnknownKeys)
	assert.Contains(t, err.Error(), "chain.reciept_poll_ms")
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode(`[chain`)
	assert.Error(t, err)
}

func TestDecode_NonFinitePriceFactor(t *testing.T) {
	for _, factor := range []string{"nan", "inf", "-inf"} {
		t.Run(factor, func(t *testing.T) {
			_, err := Decode(`
[[resubmit]]
after_ms = 0
price_factor = ` + factor + `

[chain]
rpc_url = "http://127.0.0.1:8545"
`)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestCheck(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Chain.RPCURL = "http://127.0.0.1:8545"
		return cfg
	}
	require.NoError(t, valid().Check())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown wait kind", func(c *Config) { c.WaitFor.What = "forever" }},
		{"zero confirmations", func(c *Config) { c.WaitFor.What = "confirmations" }},
		{"nonce increase without poll", func(c *Config) { c.WaitFor.What = "nonceIncrease" }},
		{"negative timeout", func(c *Config) { c.WaitFor.TimeoutMs = -1 }},
		{"negative resubmit delay", func(c *Config) {
			c.Resubmit = []ResubmitConfig{{AfterMs: -1, PriceFactor: 1}}
		}},
		{"zero price factor", func(c *Config) {
			c.Resubmit = []ResubmitConfig{{AfterMs: 0, PriceFactor: 0}}
		}},
		{"nan price factor", func(c *Config) {
			c.Resubmit = []ResubmitConfig{{AfterMs: 0, PriceFactor: math.NaN()}}
		}},
		{"infinite price factor", func(c *Config) {
			c.Resubmit = []ResubmitConfig{{AfterMs: 0, PriceFactor: math.Inf(1)}}
		}},
		{"unknown lock backend", func(c *Config) { c.Lock.Backend = "redis" }},
		{"file backend without directory", func(c *Config) { c.Lock.Backend = LockBackendFile }},
		{"file backend without expiration", func(c *Config) {
			c.Lock.Backend = LockBackendFile
			c.Lock.Directory = "/tmp/locks"
			c.Lock.ExpirationMs = 0
		}},
		{"zero lock wait", func(c *Config) { c.Lock.WaitTimeoutMs = 0 }},
		{"no endpoint", func(c *Config) { c.Chain.RPCURL = "" }},
		{"negative receipt poll", func(c *Config) { c.Chain.ReceiptPollMs = -5 }},
		{"negative gas buffer", func(c *Config) { c.Chain.GasBufferPercent = -0.1 }},
		{"nan gas buffer", func(c *Config) { c.Chain.GasBufferPercent = math.NaN() }},
		{"unknown tx type", func(c *Config) { c.Chain.TxType = "blob" }},
		{"negative breaker threshold", func(c *Config) {
			c.Chain.CircuitBreaker = &CircuitBreakerConfig{FailureThreshold: -1}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Check(), ErrInvalidConfig)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "submitter.toml")
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nonceIncrease", cfg.WaitFor.What)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestJournal(t *testing.T) {
	cfg := Default()
	j, err := cfg.Journal()
	require.NoError(t, err)
	_, ok := j.(*journal.MemoryJournal)
	assert.True(t, ok)
	require.NoError(t, j.Close())

	cfg.JournalConfig.Directory = t.TempDir()
	j, err = cfg.Journal()
	require.NoError(t, err)
	_, ok = j.(*journal.PebbleJournal)
	assert.True(t, ok)
	require.NoError(t, j.Close())
}

func TestClient(t *testing.T) {
	cfg, err := Decode(fullConfig)
	require.NoError(t, err)

	client, err := cfg.Client(context.Background())
	require.NoError(t, err)
	_, ok := client.(*chain.Guard)
	assert.True(t, ok, "circuit breaker wraps the client")

	cfg.Chain.CircuitBreaker = nil
	client, err = cfg.Client(context.Background())
	require.NoError(t, err)
	_, ok = client.(*chain.Guard)
	assert.False(t, ok)
}

func TestOptions(t *testing.T) {
	cfg, err := Decode(fullConfig)
	require.NoError(t, err)
	cfg.Lock.Backend = LockBackendMemory

	opts, err := cfg.Options(journal.NewMemoryJournal())
	require.NoError(t, err)

	client, err := cfg.Client(context.Background())
	require.NoError(t, err)
	s, err := submitter.New(client, opts...)
	require.NoError(t, err)

	defaults := s.Defaults()
	assert.Equal(t, finalization.NonceIncrease, defaults.Policy.What)
	assert.Equal(t, cfg.Plan(), defaults.Plan)
	assert.Equal(t, uint8(types.DynamicFeeTxType), defaults.TxType)
	assert.Equal(t, 0.2, defaults.GasBufferPercent)
}
