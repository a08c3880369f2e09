// SPDX-License-Identifier: GPL-3.0-or-later

// Command lineecho is a line echo server and interactive client.
//
// Usage:
//
//	lineecho server [flags]
//	lineecho client [flags]
//
// The server echoes every line it receives from its single client. The
// client sends every line typed by the operator and prints the replies.
// In both modes, typing /q quits.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bassosimone/linepump"
	"github.com/chzyer/readline"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: lineecho server|client [flags]")
	fmt.Fprintln(w, "run 'lineecho server -h' for the list of flags")
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 || (args[0] != "server" && args[0] != "client") {
		usage(stderr)
		return 2
	}
	mode := args[0]

	var configPath string
	fs := newFlagSet("lineecho "+mode, &configPath)
	fs.SetOutput(stderr)
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	opts, err := loadOptions(configPath, fs)
	if err != nil {
		fmt.Fprintf(stderr, "lineecho: %s\n", err)
		return 2
	}

	logger, logCloser, err := newLogger(opts.Log, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "lineecho: %s\n", err)
		return 2
	}
	defer logCloser.Close()

	if err := runMode(ctx, mode, opts, stdin, stdout, logger); err != nil {
		logger.Error("lineechoFailed", slog.Any("err", err))
		fmt.Fprintf(stderr, "lineecho: %s\n", err)
		return 1
	}
	return 0
}

func runMode(ctx context.Context, mode string, opts *options, stdin io.Reader, stdout io.Writer, logger *slog.Logger) error {
	endpoint, err := linepump.ParseEndpoint(opts.Addr)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	cfg := linepump.NewConfig()
	cfg.Metrics = linepump.NewMetrics(reg)
	cfg.PollInterval = opts.PollInterval

	src, out, interactive, err := newOperatorSource(stdin, stdout)
	if err != nil {
		return err
	}
	input := linepump.NewInputPump(ctx, src, logger)
	defer input.Stop()

	loopCfg := &loopConfig{
		input:          input,
		logger:         logger,
		out:            out,
		pollInterval:   opts.PollInterval,
		quitOnInputEnd: interactive,
	}

	switch mode {
	case "server":
		pipe := linepump.Compose2(
			linepump.NewListenFunc(cfg, logger),
			linepump.NewServerFunc(cfg, logger),
		)
		srv, err := pipe.Call(ctx, endpoint)
		if err != nil {
			return err
		}
		defer srv.Close()
		health, err := maybeServeHealth(ctx, opts, srv.Listening, srv.Connected, reg, logger)
		if err != nil {
			return err
		}
		if health != nil {
			defer health.Close()
		}
		fmt.Fprintf(out, "echo server listening on %s\n", endpoint)
		return runServerLoop(ctx, loopCfg, srv)

	default:
		pipe := linepump.Compose3(
			linepump.NewConnectFunc(cfg, logger),
			linepump.NewObserveConnFunc(cfg, logger),
			linepump.NewPumpFunc(cfg, logger),
		)
		client, err := pipe.Call(ctx, endpoint)
		if err != nil {
			return err
		}
		defer client.Stop()
		alive := func() bool { return !client.Finished() }
		health, err := maybeServeHealth(ctx, opts, alive, alive, reg, logger)
		if err != nil {
			return err
		}
		if health != nil {
			defer health.Close()
		}
		fmt.Fprintf(out, "echo client connected to %s\n", endpoint)
		return runClientLoop(ctx, loopCfg, client)
	}
}

func maybeServeHealth(ctx context.Context, opts *options,
	live, ready func() bool, reg *prometheus.Registry, logger *slog.Logger) (*healthServer, error) {
	if opts.HealthAddr == "" {
		return nil, nil
	}
	return serveHealth(ctx, opts.HealthAddr, newHealthHandler(live, ready, reg), logger)
}

// newOperatorSource uses readline when stdin is the process terminal and
// plain line reading otherwise. The returned writer keeps the prompt
// intact when printing.
func newOperatorSource(stdin io.Reader, stdout io.Writer) (linepump.LineSource, io.Writer, bool, error) {
	if stdin == os.Stdin && readline.DefaultIsTerminal() {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "> ",
			InterruptPrompt: "^C",
			EOFPrompt:       quitCommand,
		})
		if err != nil {
			return nil, nil, false, err
		}
		return rl, rl.Stdout(), true, nil
	}
	return linepump.NewReaderLineSource(stdin), stdout, false, nil
}
