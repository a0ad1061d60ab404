// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command dh5sim runs a simulated DH5 controller on a serial device, for
// example one end of a pseudo-terminal pair created with socat, or on a
// TCP port the way a serial device server would expose it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/grid-x/serial"
	"github.com/spf13/pflag"

	"github.com/ffutop/dh5-modbus/dh5"
	"github.com/ffutop/dh5-modbus/internal/config"
	"github.com/ffutop/dh5-modbus/internal/simulator"
	"github.com/ffutop/dh5-modbus/internal/simulator/persistence"
	"github.com/ffutop/dh5-modbus/transport/rtu"
	rtuovertcp "github.com/ffutop/dh5-modbus/transport/rtu-over-tcp"
)

func main() {
	fs := pflag.NewFlagSet("dh5sim", pflag.ExitOnError)
	config.RegisterFlags(fs)
	fs.String("persistence", "", "Register storage: memory, file or mmap.")
	fs.String("persistence-path", "", "File backing file or mmap storage.")
	fs.String("listen", "", "Serve RTU over TCP on host:port instead of the serial device.")
	fs.Parse(os.Args[1:])

	configFile, _ := fs.GetString("config")
	cfg, err := config.LoadConfig(configFile, fs)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if v, _ := fs.GetString("persistence"); v != "" {
		cfg.Simulator.Persistence.Type = v
	}
	if v, _ := fs.GetString("persistence-path"); v != "" {
		cfg.Simulator.Persistence.Path = v
	}
	// --unit addresses the simulated controller here.
	if fs.Changed("unit") {
		cfg.Simulator.UnitID = cfg.Device.UnitID
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	storage, err := persistence.New(cfg.Simulator.Persistence)
	if err != nil {
		slog.Error("Failed to create storage", "err", err)
		os.Exit(1)
	}
	opts, err := simulatorOptions(cfg)
	if err != nil {
		slog.Error("Invalid register overrides", "err", err)
		os.Exit(1)
	}
	sim, err := simulator.New(storage, opts...)
	if err != nil {
		slog.Error("Failed to start simulator", "err", err)
		os.Exit(1)
	}
	defer sim.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := simulator.NewServer(sim, byte(cfg.Simulator.UnitID))
	slog.Info("Starting DH5 simulator...", "unit_id", cfg.Simulator.UnitID,
		"persistence", cfg.Simulator.Persistence.Type)
	if err := serve(ctx, cfg, srv); err != nil {
		slog.Error("Simulator stopped with error", "err", err)
	}
	slog.Info("Goodbye.")
}

// simulatorOptions applies the device.registers overrides dh5ctl uses, so
// both ends of a shared configuration agree on the register table.
func simulatorOptions(cfg *config.Config) ([]simulator.Option, error) {
	regs, err := dh5.DefaultRegisterMap().WithOverrides(cfg.Device.Registers)
	if err != nil {
		return nil, err
	}
	return []simulator.Option{simulator.WithRegisterMap(regs)}, nil
}

// serve runs srv on the TCP listener when one is configured, on the serial
// device otherwise.
func serve(ctx context.Context, cfg *config.Config, srv *simulator.Server) error {
	if cfg.Simulator.Listen != "" {
		return rtuovertcp.NewServer(cfg.Simulator.Listen).Start(ctx, func(ctx context.Context, conn net.Conn) {
			if err := srv.Serve(ctx, conn); err != nil {
				slog.Warn("connection ended", "addr", conn.RemoteAddr(), "err", err)
			}
		})
	}

	serialCfg := rtu.SerialConfig(cfg.Serial)
	port, err := serial.Open(&serialCfg)
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", cfg.Serial.Device, err)
	}
	slog.Info("serving on serial device", "device", cfg.Serial.Device)
	return srv.Serve(ctx, port)
}

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
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
