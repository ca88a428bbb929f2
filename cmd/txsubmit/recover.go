package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/urfave/cli/v2"

	"github.com/tranvictor/submitter"
	"github.com/tranvictor/submitter/journal"
)

func recoverCommand() *cli.Command {
	return &cli.Command{
		Name:  "recover",
		Usage: "Settle the journaled attempts a stopped process left open",
		Flags: []cli.Flag{ConfigFlag},
		Action: func(c *cli.Context) error {
			e, err := newEngine(c.Context, c)
			if err != nil {
				return err
			}
			defer e.Close()

			w := c.App.Writer
			result, err := e.s.Recover(c.Context, submitter.RecoveryOptions{
				OnAttemptMined: func(a *journal.Attempt, receipt *types.Receipt) {
					fmt.Fprintf(w, "%s nonce %d: mined %s (status %d)\n", a.Wallet.Hex(), a.Nonce, a.TxHash.Hex(), receipt.Status)
				},
				OnAttemptAbandoned: func(a *journal.Attempt) {
					fmt.Fprintf(w, "%s nonce %d: %s abandoned\n", a.Wallet.Hex(), a.Nonce, a.TxHash.Hex())
				},
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "checked %d, mined %d, reverted %d, abandoned %d, pending %d\n",
				result.Checked, result.Mined, result.Reverted, result.Abandoned, result.StillPending)
			for _, err := range result.Errors {
				fmt.Fprintf(w, "error: %s\n", err)
			}
			return nil
		},
	}
}
