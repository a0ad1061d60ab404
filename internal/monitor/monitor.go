// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package monitor polls a controller and publishes its status.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ffutop/dh5-modbus/dh5"
	"github.com/ffutop/dh5-modbus/modbus"
)

// Source produces status snapshots. *dh5.Device implements it.
type Source interface {
	Snapshot(ctx context.Context) (*dh5.Snapshot, error)
}

// Publisher delivers payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Poller reads a Source every Interval and publishes the snapshots.
type Poller struct {
	Source    Source
	Publisher Publisher
	Interval  time.Duration
	Topic     string

	polls    atomic.Int64
	failures atomic.Int64
}

// Stats returns the number of polls and how many of them failed.
func (p *Poller) Stats() (polls, failures int64) {
	return p.polls.Load(), p.failures.Load()
}

// Run polls until ctx is cancelled. Failed polls are logged and counted;
// they never stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx); err != nil {
			slog.Warn("status poll failed", "kind", modbus.KindOf(err), "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll takes and publishes one snapshot.
func (p *Poller) Poll(ctx context.Context) error {
	p.polls.Add(1)
	err := p.poll(ctx)
	if err != nil {
		p.failures.Add(1)
	}
	return err
}

func (p *Poller) poll(ctx context.Context) error {
	snap, err := p.Source.Snapshot(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := p.Publisher.Publish(ctx, p.Topic, payload); err != nil {
		return err
	}
	slog.Debug("status published", "topic", p.Topic, "bytes", len(payload))
	return nil
}
