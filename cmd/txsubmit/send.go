package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"

	"github.com/tranvictor/submitter"
	"github.com/tranvictor/submitter/chain"
	"github.com/tranvictor/submitter/config"
	"github.com/tranvictor/submitter/journal"
	"github.com/tranvictor/submitter/metrics"
)

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "Send one transaction and wait until it is final",
		Flags: []cli.Flag{
			ConfigFlag,
			KeyEnvFlag,
			ToFlag,
			ValueWeiFlag,
			DataFlag,
			IdempotencyKeyFlag,
			MetricsAddrFlag,
		},
		Action: send,
	}
}

// engine is a submitter built from the config file, with the journal it
// writes to.
type engine struct {
	s       *submitter.Submitter
	journal journal.Journal
}

func (e *engine) Close() error {
	return e.journal.Close()
}

func newEngine(ctx context.Context, c *cli.Context, extra ...submitter.Option) (*engine, error) {
	cfg, err := config.Load(c.String(ConfigFlag.Name))
	if err != nil {
		return nil, err
	}
	client, err := cfg.Client(ctx)
	if err != nil {
		return nil, err
	}
	j, err := cfg.Journal()
	if err != nil {
		return nil, err
	}
	opts, err := cfg.Options(j)
	if err != nil {
		_ = j.Close()
		return nil, err
	}
	s, err := submitter.New(client, append(opts, extra...)...)
	if err != nil {
		_ = j.Close()
		return nil, err
	}
	return &engine{s: s, journal: j}, nil
}

func send(c *cli.Context) error {
	ctx := c.Context
	if !common.IsHexAddress(c.String(ToFlag.Name)) {
		return fmt.Errorf("invalid --to address %q", c.String(ToFlag.Name))
	}
	to := common.HexToAddress(c.String(ToFlag.Name))
	value, ok := new(big.Int).SetString(c.String(ValueWeiFlag.Name), 10)
	if !ok || value.Sign() < 0 {
		return fmt.Errorf("invalid --value-wei %q", c.String(ValueWeiFlag.Name))
	}
	var data []byte
	if raw := c.String(DataFlag.Name); raw != "" {
		var err error
		if data, err = hexutil.Decode(raw); err != nil {
			return fmt.Errorf("invalid --data: %w", err)
		}
	}
	keyEnv := c.String(KeyEnvFlag.Name)
	key := os.Getenv(keyEnv)
	if key == "" {
		return fmt.Errorf("environment variable %s holding the private key is empty", keyEnv)
	}

	var extra []submitter.Option
	if addr := c.String(MetricsAddrFlag.Name); addr != "" {
		m := metrics.NewMetrics()
		extra = append(extra, submitter.WithMetrics(m))
		go serveMetrics(addr, m)
	}
	if c.String(IdempotencyKeyFlag.Name) != "" {
		extra = append(extra, submitter.WithDefaultIdempotencyStore(0))
	}
	e, err := newEngine(ctx, c, extra...)
	if err != nil {
		return err
	}
	defer e.Close()

	chainID, err := e.s.ChainID(ctx)
	if err != nil {
		return err
	}
	signer, err := chain.NewPkSignerFromHex(key, chainID)
	if err != nil {
		return err
	}
	e.s.AddSigner(signer)

	receipt, err := e.s.R().
		SetFrom(signer.Address()).
		SetTo(to).
		SetValue(value).
		SetData(data).
		SetIdempotencyKey(c.String(IdempotencyKeyFlag.Name)).
		Submit(ctx)
	if err != nil {
		var rej *submitter.SubmissionRejectedError
		if errors.As(err, &rej) && rej.Receipt != nil {
			fmt.Fprintf(c.App.Writer, "reverted %s in block %s\n", rej.TxHash.Hex(), rej.Receipt.BlockNumber)
		}
		return err
	}
	fmt.Fprintf(c.App.Writer, "mined %s in block %s, gas used %d\n", receipt.TxHash.Hex(), receipt.BlockNumber, receipt.GasUsed)
	return nil
}

func serveMetrics(addr string, m *metrics.Metrics) {
	if err := http.ListenAndServe(addr, m.Handler()); err != nil {
		logger.WithFields(logger.Fields{
			"addr":  addr,
			"error": err,
		}).Warn("metrics server stopped")
	}
}
