package main

import (
	"strings"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "TXSUBMIT"

func prefixEnvVars(name string) []string {
	return []string{EnvVarPrefix + "_" + strings.ToUpper(name)}
}

var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path of the TOML configuration file",
		EnvVars: prefixEnvVars("CONFIG"),
		Value:   "submitter.toml",
	}
	KeyEnvFlag = &cli.StringFlag{
		Name:    "key-env",
		Usage:   "Name of the environment variable holding the hex private key of the sender",
		EnvVars: prefixEnvVars("KEY_ENV"),
		Value:   "TXSUBMIT_PRIVATE_KEY",
	}
	ToFlag = &cli.StringFlag{
		Name:     "to",
		Usage:    "Recipient address",
		EnvVars:  prefixEnvVars("TO"),
		Required: true,
	}
	ValueWeiFlag = &cli.StringFlag{
		Name:    "value-wei",
		Usage:   "Amount to transfer in wei",
		EnvVars: prefixEnvVars("VALUE_WEI"),
		Value:   "0",
	}
	DataFlag = &cli.StringFlag{
		Name:    "data",
		Usage:   "Hex encoded calldata",
		EnvVars: prefixEnvVars("DATA"),
	}
	IdempotencyKeyFlag = &cli.StringFlag{
		Name:    "idempotency-key",
		Usage:   "Key under which a repeated send returns the first result",
		EnvVars: prefixEnvVars("IDEMPOTENCY_KEY"),
	}
	MetricsAddrFlag = &cli.StringFlag{
		Name:    "metrics-addr",
		Usage:   "Serve prometheus metrics on this address while sending, e.g. :7300",
		EnvVars: prefixEnvVars("METRICS_ADDR"),
	}
	ExpiredFlag = &cli.BoolFlag{
		Name:    "expired",
		Usage:   "Remove markers older than the configured lock expiration",
		EnvVars: prefixEnvVars("EXPIRED"),
	}
)
