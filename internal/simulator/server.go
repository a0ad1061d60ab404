// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package simulator

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/ffutop/dh5-modbus/modbus/rtu"
)

// broadcastID addresses every unit on the bus; broadcasts are never answered.
const broadcastID = 0

// Server puts a Simulator on a serial line. It acts as a slave on the bus,
// waiting for requests from an external master.
type Server struct {
	sim    *Simulator
	unitID byte
}

// NewServer creates a server answering requests addressed to unitID.
func NewServer(sim *Simulator, unitID byte) *Server {
	return &Server{sim: sim, unitID: unitID}
}

// Serve answers requests arriving on port until ctx is cancelled or the
// port is closed. The port is closed when Serve returns.
func (s *Server) Serve(ctx context.Context, port io.ReadWriteCloser) error {
	defer port.Close()

	// handle close
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			port.Close()
		case <-stop:
		}
	}()

	slog.Info("simulator serving", "unit_id", s.unitID)
	err := s.scanLoop(ctx, port)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// closed reports whether err ends the stream. Timeouts do not.
func closed(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && !ne.Timeout() {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed)
}

func (s *Server) scanLoop(ctx context.Context, port io.ReadWriter) error {
	buf := make([]byte, rtu.MaxSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		// Read 1 byte to unblock
		n, err := port.Read(buf[:1])
		if err != nil {
			if closed(err) {
				return err
			}
			// Read timeouts on a serial port land here.
			continue
		}
		if n == 0 {
			continue
		}

		// Read header: 7 bytes cover the byte count of a write-multiple request.
		current := 1
		need := 7
		if current, err = readUntil(port, buf, current, need); err != nil {
			if closed(err) {
				return err
			}
			continue
		}

		expectedLen, err := rtu.CalculateRequestLength(buf[1], buf[:current])
		if err != nil {
			// Every other function code this controller could be sent has
			// a fixed 8 byte request; the CRC rejects a wrong guess.
			expectedLen = 8
		}
		if expectedLen > len(buf) {
			continue
		}

		if current, err = readUntil(port, buf, current, expectedLen); err != nil {
			if closed(err) {
				return err
			}
			continue
		}

		frame := append([]byte(nil), buf[:current]...)
		if err := s.handleFrame(port, frame); err != nil {
			if closed(err) {
				return err
			}
			slog.Warn("failed to answer request", "err", err)
		}
	}
}

// readUntil reads into buf until it holds need bytes.
func readUntil(r io.Reader, buf []byte, current, need int) (int, error) {
	for current < need {
		n, err := r.Read(buf[current:need])
		if err != nil {
			return current, err
		}
		current += n
	}
	return current, nil
}

func (s *Server) handleFrame(w io.Writer, frame []byte) error {
	adu, err := rtu.DecodeADU(frame)
	if err != nil {
		// Corrupted frames are dropped; the master times out.
		slog.Debug("dropping frame", "frame", hex.EncodeToString(frame), "err", err)
		return nil
	}
	if adu.SlaveID != s.unitID && adu.SlaveID != broadcastID {
		return nil
	}

	resp := s.sim.Process(adu.Pdu)
	if adu.SlaveID == broadcastID {
		return nil
	}

	out := rtu.ApplicationDataUnit{SlaveID: s.unitID, Pdu: resp}
	raw, err := out.Encode()
	if err != nil {
		return err
	}
	slog.Debug("simulator reply", "request", hex.EncodeToString(frame), "response", hex.EncodeToString(raw))
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}
