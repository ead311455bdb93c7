// Metalstream Desktop
// Copyright (c) 2026 The Metalstream Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Metalstream Desktop.
//
// Metalstream Desktop is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Metalstream Desktop is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Metalstream Desktop.  If not, see <http://www.gnu.org/licenses/>.

// Package hub runs the serial link to the Metalstream hub: it opens the
// port, reads and frames the protocol, and reconnects when the device goes
// away. It owns the port exclusively.
package hub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Metalstream-Org/desktop/pkg/api/models"
	"github.com/Metalstream-Org/desktop/pkg/api/notifications"
	"github.com/Metalstream-Org/desktop/pkg/config"
	"github.com/Metalstream-Org/desktop/pkg/helpers/syncutil"
	"github.com/Metalstream-Org/desktop/pkg/protocol"
	"github.com/Metalstream-Org/desktop/pkg/readers/testutils"
	"github.com/Metalstream-Org/desktop/pkg/service/queue"
	"github.com/Metalstream-Org/desktop/pkg/service/state"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
	"golang.org/x/time/rate"
)

const readBufferSize = 1024

type Option func(*Reader)

// WithPortFactory replaces how ports are opened.
func WithPortFactory(f testutils.SerialPortFactory) Option {
	return func(r *Reader) {
		r.portFactory = f
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(r *Reader) {
		r.clock = c
	}
}

// Reader is the background serial task. It alternates between two states:
// disconnected, where it tries to open the current path every retry delay,
// and connected, where it reads until a non-timeout error.
type Reader struct {
	portFactory testutils.SerialPortFactory
	clock       clockwork.Clock
	conn        *state.Connection
	out         *queue.Queue[protocol.Message]
	ns          chan<- models.Notification
	framer      *protocol.Framer
	openLog     rate.Sometimes
	path        string
	baudRate    int
	readTimeout time.Duration
	retryDelay  time.Duration
	mu          syncutil.RWMutex // protects path
}

func NewReader(
	cfg *config.Instance,
	conn *state.Connection,
	out *queue.Queue[protocol.Message],
	ns chan<- models.Notification,
	opts ...Option,
) *Reader {
	r := &Reader{
		portFactory: testutils.DefaultSerialPortFactory,
		clock:       clockwork.NewRealClock(),
		conn:        conn,
		out:         out,
		ns:          ns,
		framer:      protocol.NewFramer(),
		openLog:     rate.Sometimes{First: 1, Interval: 30 * time.Second},
		path:        cfg.SerialPath(),
		baudRate:    cfg.SerialBaudRate(),
		readTimeout: cfg.SerialReadTimeout(),
		retryDelay:  cfg.SerialRetryDelay(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetPath sets the device used by the next open attempt. An open port is
// not affected.
func (r *Reader) SetPath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if path != r.path {
		log.Info().Str("path", path).Msg("hub device path changed")
	}
	r.path = path
}

func (r *Reader) Path() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.path
}

// Run blocks until ctx is cancelled. Cancellation is checked once per loop
// iteration, so shutdown waits at most one read timeout.
func (r *Reader) Run(ctx context.Context) error {
	defer r.conn.SetDisconnected()

	for {
		if ctx.Err() != nil {
			return nil
		}

		path := r.Path()
		if path == "" {
			if !r.wait(ctx) {
				return nil
			}
			continue
		}

		port, err := r.open(path)
		if err != nil {
			r.openLog.Do(func() {
				log.Warn().Err(err).Str("path", path).Msg("failed to open hub, retrying")
			})
			if !r.wait(ctx) {
				return nil
			}
			continue
		}

		r.serve(ctx, path, port)
	}
}

func (r *Reader) open(path string) (testutils.SerialPort, error) {
	port, err := r.portFactory(path, &serial.Mode{
		BaudRate: r.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}

	if err := port.SetReadTimeout(r.readTimeout); err != nil {
		if closeErr := port.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("failed to close port after timeout setup error")
		}
		return nil, fmt.Errorf("failed to set read timeout on serial port: %w", err)
	}

	return port, nil
}

// serve reads from an open port until ctx is cancelled or the port fails.
func (r *Reader) serve(ctx context.Context, path string, port testutils.SerialPort) {
	info := models.ConnectionInfo{PortPath: path, BaudRate: uint32(r.baudRate)} //nolint:gosec // baud rates are small
	r.framer.Reset()
	r.conn.SetConnected(info)
	notifications.ReadersConnected(r.ns, info)
	log.Info().Str("port", path).Int("baud", r.baudRate).Msg("hub connected")

	defer func() {
		r.conn.SetDisconnected()
		r.framer.Reset()
		if err := port.Close(); err != nil {
			log.Debug().Err(err).Msg("failed to close hub port")
		}
		notifications.ReadersDisconnected(r.ns, info)
	}()

	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			log.Debug().Msg("hub reader stopping")
			return
		}

		n, err := port.Read(buf)

		// bytes delivered alongside an error are still valid
		if n > 0 {
			for _, msg := range r.framer.Feed(buf[:n]) {
				if r.out.Push(msg) {
					log.Warn().Uint64("dropped", r.out.Dropped()).Msg("message queue full, dropped oldest")
				}
			}
		}

		if err != nil {
			if isTimeout(err) {
				continue
			}
			log.Error().Err(err).Str("port", path).Msg("hub read failed, reconnecting")
			return
		}
	}
}

// wait sleeps for the retry delay. Returns false if ctx ended first.
func (r *Reader) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-r.clock.After(r.retryDelay):
		return true
	}
}

// isTimeout reports whether err only means no data arrived in time.
// go.bug.st/serial returns (0, nil) on timeout, but wrapped ports and other
// drivers report deadline errors instead.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
