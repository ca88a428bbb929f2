package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tranvictor/submitter/config"
)

func locksCommand() *cli.Command {
	return &cli.Command{
		Name:  "locks",
		Usage: "Inspect the marker files of the file lock backend",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List lock markers and their age",
				Flags:  []cli.Flag{ConfigFlag},
				Action: listLocks,
			},
			{
				Name:   "sweep",
				Usage:  "Remove lock markers left behind by crashed processes",
				Flags:  []cli.Flag{ConfigFlag, ExpiredFlag},
				Action: sweepLocks,
			},
		},
	}
}

func lockConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(ConfigFlag.Name))
	if err != nil {
		return nil, err
	}
	if cfg.Lock.Backend != config.LockBackendFile {
		return nil, fmt.Errorf("lock backend is %q, markers only exist with %q", cfg.Lock.Backend, config.LockBackendFile)
	}
	return cfg, nil
}

func listLocks(c *cli.Context) error {
	cfg, err := lockConfig(c)
	if err != nil {
		return err
	}
	locks := cfg.FileLocks()
	markers, err := locks.List()
	if err != nil {
		return err
	}
	for _, m := range markers {
		state := "held"
		if m.Expired(locks.Expiration) {
			state = "expired"
		}
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\t%s\n", m.Address.Hex(), m.Owner, time.Since(m.ModTime).Round(time.Second), state)
	}
	return nil
}

func sweepLocks(c *cli.Context) error {
	if !c.Bool(ExpiredFlag.Name) {
		return fmt.Errorf("only expired markers can be swept from outside their process, pass --%s", ExpiredFlag.Name)
	}
	cfg, err := lockConfig(c)
	if err != nil {
		return err
	}
	removed, err := cfg.FileLocks().RemoveExpired()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "removed %d expired markers\n", removed)
	return nil
}
