// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package dh5

import (
	"context"
	"fmt"
	"log/slog"
)

// Channel is a Transactor whose underlying connection is acquired and
// released explicitly.
type Channel interface {
	Transactor
	Open(ctx context.Context) error
	Close() error
}

// WithSession opens ch, runs fn against a Device built on it and closes ch
// again on every exit path, panics included.
func WithSession(ctx context.Context, ch Channel, opts []Option, fn func(*Device) error) (err error) {
	if err = ch.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if cerr := ch.Close(); cerr != nil {
			slog.Warn("failed to close channel", "err", cerr)
			if err == nil {
				err = fmt.Errorf("close: %w", cerr)
			}
		}
	}()

	return fn(NewDevice(ch, opts...))
}
