// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bassosimone/linepump"
)

// quitCommand ends both loops.
const quitCommand = "/q"

// operatorInput is the subset of [*linepump.InputPump] used by the loops.
type operatorInput interface {
	ReadLine() (string, bool)
	Finished() bool
}

// loopConfig contains what both loops share.
type loopConfig struct {
	// input yields operator commands.
	input operatorInput

	// logger is the process logger.
	logger *slog.Logger

	// out receives the transcript.
	out io.Writer

	// pollInterval is the loop cadence.
	pollInterval time.Duration

	// quitOnInputEnd ends the loop when the operator input ends, which
	// is what the operator expects from ^D or ^C on a terminal.
	quitOnInputEnd bool
}

// inputEnded reports whether no further operator command can arrive.
func (c *loopConfig) inputEnded() bool {
	return c.quitOnInputEnd && c.input.Finished()
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "/q : quit")
}

// echoServer is the subset of [*linepump.Server] used by runServerLoop.
type echoServer interface {
	Recv() (string, bool)
	Send(msg string) error
}

// runServerLoop echoes every client line until the operator quits or
// ctx is done.
func runServerLoop(ctx context.Context, cfg *loopConfig, srv echoServer) error {
	ticker := time.NewTicker(cfg.pollInterval)
	defer ticker.Stop()

	printHelp(cfg.out)
	for {
		if cmd, ok := cfg.input.ReadLine(); ok {
			fmt.Fprintf(cfg.out, "cmd from stdin: %s\n", cmd)
			if cmd == quitCommand {
				return nil
			}
			cfg.logger.Info("unknownCommand", slog.String("cmd", cmd))
			printHelp(cfg.out)
		} else if cfg.inputEnded() {
			return nil
		}

		// Drain everything that is ready before sleeping.
		for {
			msg, ok := srv.Recv()
			if !ok {
				break
			}
			fmt.Fprintf(cfg.out, "echo : %s\n", msg)
			if err := srv.Send(msg); err != nil {
				cfg.logger.Info("echoFailed", slog.Any("err", err))
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// echoClient is the subset of [*linepump.Pump] used by runClientLoop.
type echoClient interface {
	Recv() (string, bool)
	Send(msg string) error
	Finished() bool
	Err() error
}

var (
	_ echoServer = &linepump.Server{}
	_ echoClient = &linepump.Pump{}
)

// runClientLoop sends operator lines to the server and prints replies
// until the operator quits, the server goes away, or ctx is done.
func runClientLoop(ctx context.Context, cfg *loopConfig, client echoClient) error {
	ticker := time.NewTicker(cfg.pollInterval)
	defer ticker.Stop()

	printHelp(cfg.out)
	for {
		if cmd, ok := cfg.input.ReadLine(); ok {
			fmt.Fprintf(cfg.out, "cmd from stdin: %s\n", cmd)
			if cmd == quitCommand {
				return nil
			}
			if err := client.Send(cmd); err != nil {
				return err
			}
		} else if cfg.inputEnded() {
			return nil
		}

		// Sample before draining so that the last replies are printed.
		finished := client.Finished()
		for {
			msg, ok := client.Recv()
			if !ok {
				break
			}
			fmt.Fprintf(cfg.out, "recv msg from server : %s\n", msg)
		}
		if finished {
			fmt.Fprintln(cfg.out, "connection closed")
			return client.Err()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
