// Command txsubmit sends transactions through the submitter engine and
// inspects the lock directory it shares with other processes.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tranvictor/submitter/addresslock"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	addresslock.SweepOnSignal(ctx)
	err := run(ctx, os.Stdout, os.Args)
	cancel()
	// markers of this process must not outlive it, whatever the outcome
	addresslock.Sweep()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, w io.Writer, args []string) error {
	app := cli.NewApp()
	app.Writer = w
	app.Name = "txsubmit"
	app.Usage = "send transactions with per-address locking, resubmission and finalization"
	app.Commands = []*cli.Command{
		sendCommand(),
		recoverCommand(),
		locksCommand(),
	}
	return app.RunContext(ctx, args)
}
