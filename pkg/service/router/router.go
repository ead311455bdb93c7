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

// Package router applies framed hub messages to the monitor's state: it
// keeps the sensor table and the workpiece dimensions, feeds the raster,
// and records every message in the log ring.
package router

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/Metalstream-Org/desktop/pkg/api/models"
	"github.com/Metalstream-Org/desktop/pkg/api/notifications"
	"github.com/Metalstream-Org/desktop/pkg/helpers/syncutil"
	"github.com/Metalstream-Org/desktop/pkg/protocol"
	"github.com/Metalstream-Org/desktop/pkg/service/queue"
	"github.com/rs/zerolog/log"
)

var (
	ErrMissingField = errors.New("missing field")
	ErrInvalidField = errors.New("invalid field")
)

// SampleSink receives the latest value for each sensor.
type SampleSink interface {
	SetSample(id uint8, value uint16)
}

type Router struct {
	in      *queue.Queue[protocol.Message]
	samples SampleSink
	ns      chan<- models.Notification
	logs    *LogRing
	dims    models.Dimensions
	table   []models.Measurement
	seen    []bool
	mu      syncutil.RWMutex
}

// Option configures a Router.
type Option func(*Router)

// WithSensors limits the sensor table to ids 1..n. Values outside
// 1..models.NumSensors fall back to models.NumSensors.
func WithSensors(n int) Option {
	return func(r *Router) {
		if n < 1 || n > models.NumSensors {
			n = models.NumSensors
		}
		r.table = make([]models.Measurement, n)
		r.seen = make([]bool, n)
	}
}

// New creates a router reading from in. samples and ns may be nil.
func New(
	in *queue.Queue[protocol.Message],
	samples SampleSink,
	ns chan<- models.Notification,
	logCapacity int,
	opts ...Option,
) *Router {
	r := &Router{
		in:      in,
		samples: samples,
		ns:      ns,
		logs:    NewLogRing(logCapacity),
	}
	WithSensors(models.NumSensors)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sensors is the number of sensor channels the router tracks.
func (r *Router) Sensors() int {
	return len(r.table)
}

// Drain handles every message queued at the time of the call without
// blocking, and returns how many were handled. Messages pushed while
// draining are left for the next cycle.
func (r *Router) Drain() int {
	pending := r.in.Len()
	handled := 0
	for range pending {
		msg, ok := r.in.TryPop()
		if !ok {
			break
		}
		r.Handle(msg)
		handled++
	}
	return handled
}

// Handle logs one message and applies it to the state.
func (r *Router) Handle(msg protocol.Message) {
	line := msg.String()
	r.logs.Append(line)
	notifications.MessagesReceived(r.ns, line)

	switch msg.Command {
	case protocol.CommandSensorStatus:
		m, err := ParseSensorStatus(msg)
		if err != nil {
			log.Debug().Err(err).Str("message", line).Msg("dropping sensor status")
			return
		}
		if int(m.ID) > len(r.table) {
			log.Debug().Uint8("id", m.ID).Int("sensors", len(r.table)).Msg("dropping status for unconfigured sensor")
			return
		}
		r.setMeasurement(m)
		if r.samples != nil {
			r.samples.SetSample(m.ID, m.Value)
		}
		notifications.MeasurementsUpdated(r.ns, m)
	case protocol.CommandMetadata:
		d, err := ParseMetadata(msg)
		if err != nil {
			log.Debug().Err(err).Str("message", line).Msg("dropping metadata")
			return
		}
		r.mu.Lock()
		r.dims = d
		r.mu.Unlock()
		notifications.DimensionsUpdated(r.ns, d)
	default:
		log.Debug().Str("command", msg.Command).Msg("unhandled hub command")
	}
}

func (r *Router) setMeasurement(m models.Measurement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[m.ID-1] = m
	r.seen[m.ID-1] = true
}

// Measurements returns every sensor seen so far in ascending id order.
func (r *Router) Measurements() []models.Measurement {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Measurement, 0, len(r.table))
	for i, ok := range r.seen {
		if ok {
			out = append(out, r.table[i])
		}
	}
	return out
}

func (r *Router) Measurement(id uint8) (models.Measurement, bool) {
	if id < 1 || int(id) > len(r.table) {
		return models.Measurement{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table[id-1], r.seen[id-1]
}

func (r *Router) Dimensions() models.Dimensions {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dims
}

// RecentLogs returns the log ring contents, oldest first.
func (r *Router) RecentLogs() []string {
	return r.logs.Lines()
}

// ParseSensorStatus reads an SMS message. ID, C and V are all required.
func ParseSensorStatus(msg protocol.Message) (models.Measurement, error) {
	id, err := uintField(msg, "ID", 8)
	if err != nil {
		return models.Measurement{}, err
	}
	if id < 1 || id > models.NumSensors {
		return models.Measurement{}, fmt.Errorf("%w: ID %d out of range", ErrInvalidField, id)
	}
	c, err := uintField(msg, "C", 8)
	if err != nil {
		return models.Measurement{}, err
	}
	v, err := uintField(msg, "V", 16)
	if err != nil {
		return models.Measurement{}, err
	}
	return models.Measurement{
		ID:        uint8(id),
		Connected: c != 0,
		Value:     uint16(v),
	}, nil
}

// ParseMetadata reads a MET message. W, L and S are all required.
func ParseMetadata(msg protocol.Message) (models.Dimensions, error) {
	w, err := floatField(msg, "W")
	if err != nil {
		return models.Dimensions{}, err
	}
	l, err := floatField(msg, "L")
	if err != nil {
		return models.Dimensions{}, err
	}
	s, err := floatField(msg, "S")
	if err != nil {
		return models.Dimensions{}, err
	}
	return models.Dimensions{Width: w, Length: l, Speed: s}, nil
}

func uintField(msg protocol.Message, key string, bits int) (uint64, error) {
	raw, ok := msg.Field(key)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	v, err := strconv.ParseUint(raw, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %w", ErrInvalidField, key, raw, err)
	}
	return v, nil
}

func floatField(msg protocol.Message, key string) (float64, error) {
	raw, ok := msg.Field(key)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %w", ErrInvalidField, key, raw, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s=%q is not finite", ErrInvalidField, key, raw)
	}
	return v, nil
}
