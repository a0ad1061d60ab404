// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtuovertcp carries RTU frames over a TCP stream, the way serial
// device servers (RS-485 to Ethernet bridges) expose a bus.
package rtuovertcp

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ffutop/dh5-modbus/modbus"
	rtupacket "github.com/ffutop/dh5-modbus/modbus/rtu"
)

const (
	tcpTimeout = 10 * time.Second
)

// Client runs request/response transactions with a unit behind a serial
// device server, one at a time.
type Client struct {
	Address string
	Timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewClient allocates and initializes a Client for address (host:port).
func NewClient(address string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = tcpTimeout
	}
	return &Client{
		Address: address,
		Timeout: timeout,
	}
}

// Execute encodes req, sends it to unitID and returns the decoded reply.
func (mb *Client) Execute(ctx context.Context, unitID byte, req rtupacket.Request) (*rtupacket.Response, error) {
	aduRequest, err := rtupacket.Encode(unitID, req)
	if err != nil {
		return nil, err
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.conn == nil {
		return nil, fmt.Errorf("%w: %s is not connected", modbus.ErrConnectionFailed, mb.Address)
	}

	deadline := time.Now().Add(mb.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	// Set Deadline for the interaction
	if err = mb.conn.SetDeadline(deadline); err != nil {
		mb.close()
		return nil, fmt.Errorf("%w: %v", modbus.ErrConnectionFailed, err)
	}

	slog.Debug("send to modbus slave", "addr", mb.Address, "request", hex.EncodeToString(aduRequest))
	if _, err := mb.conn.Write(aduRequest); err != nil {
		mb.close() // Close connection on write failure to force reconnect next time
		return nil, fmt.Errorf("%w: write: %v", modbus.ErrConnectionFailed, err)
	}

	// RTU-over-TCP is just RTU frames sent over TCP.
	aduResponse, err := rtupacket.ReadResponse(unitID, req.FunctionCode, mb.conn, deadline)
	if err != nil {
		// The stream may still hold part of the late reply; start over.
		mb.close()
		return nil, err
	}
	slog.Debug("recv from modbus slave", "addr", mb.Address, "response", hex.EncodeToString(aduResponse))

	return rtupacket.Decode(unitID, req, aduResponse)
}

// Open connects to the device server. Opening an open client is a no-op.
func (mb *Client) Open(ctx context.Context) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.connect(ctx)
}

// Close closes the connection.
func (mb *Client) Close() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.close()
	return nil
}

// connect ensures there is an active connection. Caller must hold the mutex.
func (mb *Client) connect(ctx context.Context) error {
	if mb.conn != nil {
		return nil
	}
	dialer := net.Dialer{Timeout: mb.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", mb.Address)
	if err != nil {
		return fmt.Errorf("%w: could not connect to %s: %v", modbus.ErrConnectionFailed, mb.Address, err)
	}
	mb.conn = conn
	slog.Info("connected to device server", "addr", mb.Address)
	return nil
}

// close closes the connection and resets the state. Caller must hold the mutex.
func (mb *Client) close() {
	if mb.conn != nil {
		mb.conn.Close()
		mb.conn = nil
	}
}
