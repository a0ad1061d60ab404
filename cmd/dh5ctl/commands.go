// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"
	"gopkg.in/yaml.v3"

	"github.com/ffutop/dh5-modbus/dh5"
	"github.com/ffutop/dh5-modbus/internal/config"
	"github.com/ffutop/dh5-modbus/internal/monitor"
	"github.com/ffutop/dh5-modbus/modbus"
)

type app struct {
	ctx  context.Context
	dev  *dh5.Device
	cfg  *config.Config
	json bool
	out  io.Writer
}

type command struct {
	name    string
	args    string
	help    string
	minArgs int
	run     func(a *app, args []string) (any, error)
}

var commands = []command{
	{name: "status", help: "Show busy flag, initialization, feedback and faults.", run: func(a *app, _ []string) (any, error) {
		return a.dev.Snapshot(a.ctx)
	}},
	{name: "faults", help: "Show the current faults.", run: func(a *app, _ []string) (any, error) {
		faults, err := a.dev.CurrentFaults(a.ctx)
		if err != nil {
			return nil, err
		}
		return dh5.DecodeFaultList(faults), nil
	}},
	{name: "history", help: "Show the fault history registers.", run: func(a *app, _ []string) (any, error) {
		return a.dev.HistoryFaults(a.ctx)
	}},
	{name: "busy", help: "Report whether a command is executing.", run: func(a *app, _ []string) (any, error) {
		return a.dev.IsBusy(a.ctx)
	}},
	{name: "positions", help: "Show the current position of every axis.", run: func(a *app, _ []string) (any, error) {
		return a.dev.AllPositions(a.ctx)
	}},
	{name: "init-status", help: "Show the initialization state of every axis.", run: func(a *app, _ []string) (any, error) {
		return a.dev.CheckInitialization(a.ctx)
	}},
	{name: "axis", args: "AXIS", help: "Show position, speed and current of one axis.", minArgs: 1, run: showAxis},
	{name: "setpoints", help: "Show position, speed and force setpoints.", run: showSetpoints},
	{name: "init", args: "MODE [AXIS]", help: "Initialize all axes, or one, with close|open|find-stroke.", minArgs: 1, run: initialize},
	{name: "move", args: "P1..P6", help: "Move all axes to the given positions.", minArgs: dh5.AxisCount, run: func(a *app, args []string) (any, error) {
		values, err := parseValues(args)
		if err != nil {
			return nil, err
		}
		return nil, a.dev.SetAllPositions(a.ctx, values)
	}},
	{name: "set-position", args: "AXIS VALUE", help: "Set the target position of one axis.", minArgs: 2, run: axisSetter((*dh5.Device).SetAxisPosition)},
	{name: "set-speed", args: "AXIS VALUE", help: "Set the speed of one axis.", minArgs: 2, run: axisSetter((*dh5.Device).SetAxisSpeed)},
	{name: "set-force", args: "AXIS VALUE", help: "Set the force of one axis.", minArgs: 2, run: axisSetter((*dh5.Device).SetAxisForce)},
	{name: "speeds", args: "V1..V6", help: "Set the speed of every axis.", minArgs: dh5.AxisCount, run: bulkSetter((*dh5.Device).SetSpeeds)},
	{name: "forces", args: "F1..F6", help: "Set the force of every axis.", minArgs: dh5.AxisCount, run: bulkSetter((*dh5.Device).SetForces)},
	{name: "zero", args: "[AXIS...]", help: "Move the given axes, default all, back to zero.", run: backToZero},
	{name: "home", help: "Move every axis to its initial position.", run: func(a *app, _ []string) (any, error) {
		return nil, a.dev.BackToInitialPosition(a.ctx)
	}},
	{name: "reset", help: "Clear the current faults.", run: func(a *app, _ []string) (any, error) {
		return nil, a.dev.ResetFaults(a.ctx)
	}},
	{name: "restart", help: "Restart the controller.", run: func(a *app, _ []string) (any, error) {
		return nil, a.dev.RestartSystem(a.ctx)
	}},
	{name: "uart", args: "UNIT BAUD STOP N|E|O", help: "Write the controller's serial settings (BAUD is the vendor code).", minArgs: 4, run: setUart},
	{name: "save", args: "[FLAG]", help: "Store parameters in non-volatile memory.", run: save},
	{name: "registers", help: "List the register table in use.", run: listRegisters},
	{name: "monitor", help: "Publish status snapshots to the configured MQTT broker until interrupted.", run: runMonitor},
}

func lookup(name string) *command {
	for i := range commands {
		if commands[i].name == name {
			return &commands[i]
		}
	}
	return nil
}

func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", modbus.ErrArgumentInvalid, fmt.Sprintf(format, args...))
}

// call runs the named command and returns its result.
func (a *app) call(name string, args []string) (any, error) {
	c := lookup(name)
	if c == nil {
		return nil, usageError("unknown command %q", name)
	}
	if len(args) < c.minArgs {
		return nil, usageError("usage: %s %s", c.name, c.args)
	}
	return c.run(a, args)
}

// exec runs one command and prints its result.
func (a *app) exec(args []string) error {
	v, err := a.call(args[0], args[1:])
	if err != nil {
		return err
	}
	out, err := a.render(v)
	if err != nil {
		return err
	}
	_, err = a.out.Write(out)
	return err
}

// interactive runs the command shell until the user quits.
func (a *app) interactive() error {
	sh := ishell.New()
	sh.SetPrompt(fmt.Sprintf("dh5[%d] > ", a.dev.UnitID()))
	for _, c := range commands {
		c := c
		help := c.help
		if c.args != "" {
			help = c.args + "  " + help
		}
		sh.AddCmd(&ishell.Cmd{
			Name: c.name,
			Help: help,
			Func: func(ctx *ishell.Context) {
				v, err := a.call(c.name, ctx.Args)
				if err != nil {
					ctx.Err(err)
					return
				}
				out, err := a.render(v)
				if err != nil {
					ctx.Err(err)
					return
				}
				ctx.Print(string(out))
			},
		})
	}
	sh.Run()
	sh.Close()
	return nil
}

func (a *app) render(v any) ([]byte, error) {
	if v == nil {
		return []byte("OK\n"), nil
	}
	if a.json {
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(out, '\n'), nil
	}
	return yaml.Marshal(v)
}

func parseAxis(s string) (dh5.Axis, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(s), "F"))
	if err != nil {
		return 0, usageError("invalid axis %q", s)
	}
	axis := dh5.Axis(n)
	return axis, axis.Validate()
}

func parseValue(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, usageError("invalid register value %q", s)
	}
	return uint16(v), nil
}

func parseValues(args []string) ([]uint16, error) {
	values := make([]uint16, 0, len(args))
	for _, s := range args {
		v, err := parseValue(s)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func showAxis(a *app, args []string) (any, error) {
	axis, err := parseAxis(args[0])
	if err != nil {
		return nil, err
	}
	pos, err := a.dev.AxisPosition(a.ctx, axis)
	if err != nil {
		return nil, err
	}
	speed, err := a.dev.AxisSpeed(a.ctx, axis)
	if err != nil {
		return nil, err
	}
	current, err := a.dev.AxisCurrent(a.ctx, axis)
	if err != nil {
		return nil, err
	}
	return map[string]any{"axis": axis, "position": pos, "speed": speed, "current": current}, nil
}

func showSetpoints(a *app, _ []string) (any, error) {
	positions, err := a.dev.PositionSetpoints(a.ctx)
	if err != nil {
		return nil, err
	}
	speeds, err := a.dev.SpeedSetpoints(a.ctx)
	if err != nil {
		return nil, err
	}
	forces, err := a.dev.ForceSetpoints(a.ctx)
	if err != nil {
		return nil, err
	}
	return map[string][]uint16{"positions": positions, "speeds": speeds, "forces": forces}, nil
}

func initialize(a *app, args []string) (any, error) {
	mode, err := dh5.ParseInitMode(args[0])
	if err != nil {
		return nil, err
	}
	if len(args) == 1 {
		return nil, a.dev.Initialize(a.ctx, mode)
	}
	axis, err := parseAxis(args[1])
	if err != nil {
		return nil, err
	}
	return nil, a.dev.InitializeAxis(a.ctx, axis, mode)
}

func axisSetter(set func(*dh5.Device, context.Context, dh5.Axis, uint16) error) func(*app, []string) (any, error) {
	return func(a *app, args []string) (any, error) {
		axis, err := parseAxis(args[0])
		if err != nil {
			return nil, err
		}
		v, err := parseValue(args[1])
		if err != nil {
			return nil, err
		}
		return nil, set(a.dev, a.ctx, axis, v)
	}
}

func bulkSetter(set func(*dh5.Device, context.Context, []uint16) error) func(*app, []string) (any, error) {
	return func(a *app, args []string) (any, error) {
		values, err := parseValues(args)
		if err != nil {
			return nil, err
		}
		return nil, set(a.dev, a.ctx, values)
	}
}

func backToZero(a *app, args []string) (any, error) {
	mask := dh5.AllAxes
	if len(args) > 0 {
		axes := make([]dh5.Axis, 0, len(args))
		for _, s := range args {
			axis, err := parseAxis(s)
			if err != nil {
				return nil, err
			}
			axes = append(axes, axis)
		}
		var err error
		if mask, err = dh5.MaskOf(axes...); err != nil {
			return nil, err
		}
	}
	return nil, a.dev.BackToZero(a.ctx, mask)
}

func setUart(a *app, args []string) (any, error) {
	values, err := parseValues(args[:3])
	if err != nil {
		return nil, err
	}
	parity, err := dh5.ParityCode(args[3])
	if err != nil {
		return nil, err
	}
	cfg := dh5.UartConfig{UnitID: values[0], BaudRate: values[1], StopBits: values[2], Parity: parity}
	return nil, a.dev.SetUartConfig(a.ctx, cfg)
}

func save(a *app, args []string) (any, error) {
	flag := uint16(1)
	if len(args) > 0 {
		var err error
		if flag, err = parseValue(args[0]); err != nil {
			return nil, err
		}
	}
	return nil, a.dev.SaveParams(a.ctx, flag)
}

type registerRow struct {
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address" yaml:"address"`
	Length  uint16 `json:"length" yaml:"length"`
	Stride  uint16 `json:"stride,omitempty" yaml:"stride,omitempty"`
}

func listRegisters(a *app, _ []string) (any, error) {
	var rows []registerRow
	for _, r := range a.dev.Registers().All() {
		rows = append(rows, registerRow{
			Name:    r.Name,
			Address: fmt.Sprintf("0x%04X", r.Address),
			Length:  r.Length,
			Stride:  r.Stride,
		})
	}
	return rows, nil
}

func runMonitor(a *app, _ []string) (any, error) {
	mc := a.cfg.Monitor
	if mc.Broker == "" {
		return nil, usageError("monitor.broker is not configured")
	}
	pub, err := monitor.NewMQTTPublisher(mc.Broker)
	if err != nil {
		return nil, usageError("%v", err)
	}
	if err := pub.Connect(a.ctx); err != nil {
		return nil, fmt.Errorf("%w: mqtt: %v", modbus.ErrConnectionFailed, err)
	}
	defer pub.Close()

	p := &monitor.Poller{Source: a.dev, Publisher: pub, Interval: mc.Interval, Topic: mc.Topic}
	if err := p.Run(a.ctx); err != nil {
		return nil, err
	}
	polls, failures := p.Stats()
	return map[string]int64{"polls": polls, "failures": failures}, nil
}
