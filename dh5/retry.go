// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package dh5

import (
	"context"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"

	"github.com/ffutop/dh5-modbus/modbus"
)

// RetryPolicy re-issues reads that failed in transit. Writes are never
// retried: a lost reply does not mean the controller ignored the command.
type RetryPolicy struct {
	// Retries is the number of extra attempts after the first one.
	Retries int
	Min     time.Duration
	Max     time.Duration
	Factor  float64
}

func retryable(err error) bool {
	switch modbus.KindOf(err) {
	case modbus.KindConnectionFailed, modbus.KindCrcCheckFailed:
		return true
	}
	return false
}

// do runs op, retrying per the policy. A nil policy runs op once.
func (p *RetryPolicy) do(ctx context.Context, op func() error) error {
	err := op()
	if p == nil || p.Retries <= 0 {
		return err
	}

	b := &backoff.Backoff{
		Min:    p.Min,
		Max:    p.Max,
		Factor: p.Factor,
		Jitter: false,
	}
	for attempt := 1; attempt <= p.Retries && err != nil && retryable(err); attempt++ {
		wait := b.Duration()
		slog.Debug("retrying read", "attempt", attempt, "wait", wait, "err", err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
		err = op()
	}
	return err
}
