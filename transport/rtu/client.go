// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ffutop/dh5-modbus/internal/config"
	"github.com/ffutop/dh5-modbus/modbus"
	rtupacket "github.com/ffutop/dh5-modbus/modbus/rtu"
)

// Client runs request/response transactions over a serial line, one at a
// time. It never retries.
type Client struct {
	serialPort

	// RqstPause is the minimum gap between the end of one transaction and
	// the start of the next.
	RqstPause time.Duration

	lastActivity time.Time
	// dirty is set when a transaction ended without a clean reply; a late
	// answer may still be on its way.
	dirty bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithOpener replaces the function used to acquire the serial port.
func WithOpener(open Opener) ClientOption {
	return func(c *Client) { c.open = open }
}

// NewClient allocates and initializes a RTU Client.
func NewClient(cfg config.SerialConfig, opts ...ClientOption) *Client {
	client := &Client{RqstPause: cfg.RqstPause}
	client.Config = SerialConfig(cfg)
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// maxDiscardRounds bounds how long discard waits for a chattering line,
// in multiples of the quiet period.
const maxDiscardRounds = 4

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Execute encodes req, sends it to unitID and returns the decoded reply.
// Invalid requests fail before anything is written.
func (mb *Client) Execute(ctx context.Context, unitID byte, req rtupacket.Request) (*rtupacket.Response, error) {
	aduRequest, err := rtupacket.Encode(unitID, req)
	if err != nil {
		return nil, err
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.port == nil {
		return nil, fmt.Errorf("%w: port %s is not open", modbus.ErrConnectionFailed, mb.Config.Address)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", modbus.ErrConnectionFailed, err)
	}

	if mb.RqstPause > 0 && !mb.lastActivity.IsZero() {
		if wait := mb.RqstPause - time.Since(mb.lastActivity); wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
	}
	defer func() { mb.lastActivity = time.Now() }()

	if mb.dirty {
		if err := mb.discard(ctx, mb.Config.Timeout); err != nil {
			return nil, err
		}
		mb.dirty = false
	}

	aduResponse, err := mb.send(ctx, aduRequest)
	if err != nil {
		mb.dirty = mb.port != nil
		return nil, err
	}

	resp, err := rtupacket.Decode(unitID, req, aduResponse)
	if err != nil {
		slog.Debug("modbus transaction failed", "request", req.String(), "err", err)
		// An exception is a complete frame; anything else leaves the line
		// in an unknown state.
		mb.dirty = modbus.KindOf(err) != modbus.KindInvalidCommand
		return nil, err
	}
	return resp, nil
}

// discard drops input until the line has been quiet for quiet, so that a
// reply to an abandoned transaction cannot be taken for the next one.
// Caller must hold the mutex.
func (mb *Client) discard(ctx context.Context, quiet time.Duration) error {
	if quiet <= 0 {
		quiet = serialTimeout
	}
	d, hasDeadline := mb.port.(readDeadliner)
	if hasDeadline {
		defer d.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, rtupacket.MaxSize)
	start := time.Now()
	last := start
	dropped := 0
	for time.Since(last) < quiet {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", modbus.ErrConnectionFailed, err)
		}
		if time.Since(start) > maxDiscardRounds*quiet {
			return fmt.Errorf("%w: line did not go quiet after %d stray bytes", modbus.ErrConnectionFailed, dropped)
		}
		if hasDeadline {
			if err := d.SetReadDeadline(last.Add(quiet)); err != nil {
				return fmt.Errorf("%w: set read deadline: %v", modbus.ErrConnectionFailed, err)
			}
		}
		n, err := mb.port.Read(buf)
		if n > 0 {
			dropped += n
			last = time.Now()
			continue
		}
		if err != nil && portClosed(err) {
			mb.close()
			return fmt.Errorf("%w: %v", modbus.ErrConnectionFailed, err)
		}
		// Anything else is a read timeout: the line is idle.
	}
	if dropped > 0 {
		slog.Debug("discarded stray bytes", "count", dropped)
	}
	return nil
}

func portClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed)
}

// send writes aduRequest and reads one response frame. Caller must hold
// the mutex.
func (mb *Client) send(ctx context.Context, aduRequest []byte) (aduResponse []byte, err error) {
	slog.Debug("send to modbus slave", "request", hex.EncodeToString(aduRequest))
	if _, err = mb.port.Write(aduRequest); err != nil {
		// A channel that fails to write is dead; drop it.
		mb.close()
		return nil, fmt.Errorf("%w: write: %v", modbus.ErrConnectionFailed, err)
	}

	bytesToRead := rtupacket.CalculateResponseLength(aduRequest)
	if err := sleep(ctx, mb.calculateDelay(len(aduRequest)+bytesToRead)); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(mb.Config.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if d, ok := mb.port.(readDeadliner); ok {
		if err := d.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("%w: set read deadline: %v", modbus.ErrConnectionFailed, err)
		}
		defer d.SetReadDeadline(time.Time{})
	}

	data, err := rtupacket.ReadResponse(aduRequest[0], aduRequest[1], mb.port, deadline)
	if err != nil {
		return nil, err
	}
	slog.Debug("recv from modbus slave", "response", hex.EncodeToString(data))
	return data, nil
}

// calculateDelay calculates the needed delay to separate frames.
func (mb *Client) calculateDelay(chars int) time.Duration {
	var characterDelay, frameDelay int

	if mb.BaudRate <= 0 || mb.BaudRate > 19200 {
		characterDelay = 750
		frameDelay = 1750
	} else {
		characterDelay = 15000000 / mb.BaudRate
		frameDelay = 35000000 / mb.BaudRate
	}
	return time.Duration(characterDelay*chars+frameDelay) * time.Microsecond
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", modbus.ErrConnectionFailed, ctx.Err())
	case <-t.C:
		return nil
	}
}
