// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command dh5ctl drives a DH5 hand over its RS-485 link, directly or
// through a serial device server (--device tcp://host:port). With a command
// on the line it runs that command and exits; without one it starts an
// interactive shell. The exit status is the error kind of the failure.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ffutop/dh5-modbus/dh5"
	"github.com/ffutop/dh5-modbus/internal/config"
	"github.com/ffutop/dh5-modbus/modbus"
	"github.com/ffutop/dh5-modbus/transport/rtu"
	rtuovertcp "github.com/ffutop/dh5-modbus/transport/rtu-over-tcp"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("dh5ctl", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	jsonOut := fs.BoolP("json", "j", false, "Print output in JSON instead of YAML.")
	fs.SetInterspersed(false)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: dh5ctl [flags] [command [args...]]\n\nFlags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCommands:\n")
		for _, c := range commands {
			fmt.Fprintf(os.Stderr, "  %-14s %s\n", c.name, c.help)
		}
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return int(modbus.KindArgumentInvalid)
	}

	configFile, _ := fs.GetString("config")
	cfg, err := config.LoadConfig(configFile, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return int(modbus.KindArgumentInvalid)
	}

	setupLogger(cfg.Log)

	opts, err := deviceOptions(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid device configuration: %v\n", err)
		return int(modbus.KindOf(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = dh5.WithSession(ctx, newChannel(cfg.Serial), opts, func(dev *dh5.Device) error {
		a := &app{ctx: ctx, dev: dev, cfg: cfg, json: *jsonOut, out: os.Stdout}
		if fs.NArg() > 0 {
			return a.exec(fs.Args())
		}
		return a.interactive()
	})
	if err != nil {
		slog.Debug("command failed", "kind", modbus.KindOf(err), "err", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return int(modbus.KindOf(err))
}

// newChannel picks the link to the controller: a serial device server for
// tcp://host:port devices, the local serial port otherwise.
func newChannel(cfg config.SerialConfig) dh5.Channel {
	if addr, ok := cfg.TCPAddress(); ok {
		return rtuovertcp.NewClient(addr, cfg.Timeout)
	}
	return rtu.NewClient(cfg)
}

// deviceOptions translates the device section of cfg into Device options.
func deviceOptions(cfg *config.Config) ([]dh5.Option, error) {
	regs, err := dh5.DefaultRegisterMap().WithOverrides(cfg.Device.Registers)
	if err != nil {
		return nil, err
	}
	opts := []dh5.Option{
		dh5.WithUnitID(byte(cfg.Device.UnitID)),
		dh5.WithRegisterMap(regs),
	}
	if r := cfg.Device.Retry; r.Retries > 0 {
		opts = append(opts, dh5.WithRetryPolicy(&dh5.RetryPolicy{
			Retries: r.Retries,
			Min:     r.Min,
			Max:     r.Max,
			Factor:  r.Factor,
		}))
	}
	return opts, nil
}

// setupLogger logs to stderr unless a file is configured; stdout carries
// command output.
func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file, falling back to stderr: %v\n", err)
			handler = slog.NewTextHandler(os.Stderr, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
