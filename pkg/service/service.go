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

// Package service assembles the monitor: the serial reader, the update
// cycle and the optional API and MQTT bridges, all supervised together.
package service

import (
	"context"
	"fmt"

	"github.com/Metalstream-Org/desktop/pkg/api"
	"github.com/Metalstream-Org/desktop/pkg/api/models"
	"github.com/Metalstream-Org/desktop/pkg/config"
	"github.com/Metalstream-Org/desktop/pkg/devices"
	"github.com/Metalstream-Org/desktop/pkg/protocol"
	"github.com/Metalstream-Org/desktop/pkg/raster"
	"github.com/Metalstream-Org/desktop/pkg/readers/hub"
	"github.com/Metalstream-Org/desktop/pkg/readers/testutils"
	"github.com/Metalstream-Org/desktop/pkg/service/broker"
	"github.com/Metalstream-Org/desktop/pkg/service/publishers"
	"github.com/Metalstream-Org/desktop/pkg/service/queue"
	"github.com/Metalstream-Org/desktop/pkg/service/router"
	"github.com/Metalstream-Org/desktop/pkg/service/state"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const (
	notificationBuffer = 256
	subscriberBuffer   = 100
)

// ErrUnknownCommand is returned by HandleCommand for unsupported commands.
var ErrUnknownCommand = models.ErrUnknownCommand

type options struct {
	portFactory testutils.SerialPortFactory
	portLister  devices.PortLister
	fs          afero.Fs
	clock       clockwork.Clock
	mqttClient  publishers.ClientFactory
}

type Option func(*options)

func WithPortFactory(f testutils.SerialPortFactory) Option {
	return func(o *options) {
		o.portFactory = f
	}
}

func WithPortLister(f devices.PortLister) Option {
	return func(o *options) {
		o.portLister = f
	}
}

// WithFs sets the filesystem used for sysfs lookups.
func WithFs(fs afero.Fs) Option {
	return func(o *options) {
		o.fs = fs
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func WithMQTTClientFactory(f publishers.ClientFactory) Option {
	return func(o *options) {
		o.mqttClient = f
	}
}

// Monitor owns every component and is the interface the presentation
// layer and the API read from.
type Monitor struct {
	cfg     *config.Instance
	clock   clockwork.Clock
	conn    *state.Connection
	queue   *queue.Queue[protocol.Message]
	ns      chan models.Notification
	broker  *broker.Broker
	locator *devices.Locator
	reader  *hub.Reader
	router  *router.Router
	raster  *raster.Buffer
	opts    options
}

func New(cfg *config.Instance, opts ...Option) *Monitor {
	o := options{
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	ns := make(chan models.Notification, notificationBuffer)
	conn := state.NewConnection()
	q := queue.New[protocol.Message](cfg.SerialQueueSize())
	width, height := cfg.RasterSize()
	sensors := cfg.Sensors()
	buf := raster.New(width, height, sensors)

	locatorOpts := []devices.Option{devices.WithClock(o.clock)}
	if o.portLister != nil {
		locatorOpts = append(locatorOpts, devices.WithPortLister(o.portLister))
	}
	if o.fs != nil {
		locatorOpts = append(locatorOpts, devices.WithFs(o.fs))
	}

	readerOpts := []hub.Option{hub.WithClock(o.clock)}
	if o.portFactory != nil {
		readerOpts = append(readerOpts, hub.WithPortFactory(o.portFactory))
	}

	return &Monitor{
		cfg:     cfg,
		clock:   o.clock,
		conn:    conn,
		queue:   q,
		ns:      ns,
		broker:  broker.NewBroker(ns),
		locator: devices.NewLocator(cfg, locatorOpts...),
		reader:  hub.NewReader(cfg, conn, q, ns, readerOpts...),
		router:  router.New(q, buf, ns, cfg.LogCapacity(), router.WithSensors(sensors)),
		raster:  buf,
		opts:    o,
	}
}

// Tick runs one update cycle: find the hub if the link is down, apply
// queued messages, then scroll the raster.
func (m *Monitor) Tick() {
	if !m.conn.IsConnected() && m.cfg.SerialPath() == "" {
		if path, ok := m.locator.Locate(); ok && path != m.reader.Path() {
			m.reader.SetPath(path)
		}
	}
	m.router.Drain()
	m.raster.Update()
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (m *Monitor) Run(ctx context.Context) error {
	log.Info().Msgf("version: %s", config.AppVersion)

	g, ctx := errgroup.WithContext(ctx)

	// subscribe before anything can publish
	var mqttNotifications, apiNotifications <-chan models.Notification
	if m.cfg.MQTTBroker() != "" {
		mqttNotifications, _ = m.broker.Subscribe(subscriberBuffer)
	}
	if m.cfg.APIEnabled() {
		apiNotifications, _ = m.broker.Subscribe(subscriberBuffer)
	}

	g.Go(func() error {
		return m.broker.Run(ctx)
	})

	log.Info().Msg("starting hub reader")
	g.Go(func() error {
		return m.reader.Run(ctx)
	})

	g.Go(func() error {
		return m.runUpdates(ctx)
	})

	if mqttNotifications != nil {
		log.Info().Str("broker", m.cfg.MQTTBroker()).Msg("starting mqtt publisher")
		var pubOpts []publishers.Option
		if m.opts.mqttClient != nil {
			pubOpts = append(pubOpts, publishers.WithClientFactory(m.opts.mqttClient))
		}
		pub := publishers.NewMQTTPublisher(m.cfg.MQTTBroker(), m.cfg.MQTTTopic(), m.cfg.MQTTFilter(), pubOpts...)
		g.Go(func() error {
			if err := pub.Run(ctx, mqttNotifications); err != nil {
				log.Error().Err(err).Msg("mqtt publisher stopped, continuing without it")
			}
			return nil
		})
	}

	if apiNotifications != nil {
		log.Info().Str("listen", m.cfg.APIListen()).Msg("starting API service")
		srv := api.NewServer(m.cfg, m)
		g.Go(func() error {
			if err := srv.Run(ctx, apiNotifications); err != nil {
				log.Error().Err(err).Msg("api server stopped, continuing without it")
			}
			return nil
		})
	}

	err := g.Wait()
	log.Info().Msg("monitor stopped")
	if err != nil {
		return fmt.Errorf("monitor failed: %w", err)
	}
	return nil
}

func (m *Monitor) runUpdates(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.cfg.FrameInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			m.Tick()
		}
	}
}

func (m *Monitor) IsConnected() bool {
	return m.conn.IsConnected()
}

// CurrentConnection returns the descriptor of the most recently opened
// port. It stays available after a disconnect.
func (m *Monitor) CurrentConnection() (models.ConnectionInfo, bool) {
	return m.conn.Info()
}

func (m *Monitor) RecentLogs() []string {
	return m.router.RecentLogs()
}

func (m *Monitor) Measurements() []models.Measurement {
	return m.router.Measurements()
}

func (m *Monitor) DimensionsAndSpeed() models.Dimensions {
	return m.router.Dimensions()
}

func (m *Monitor) RasterSnapshot() raster.Snapshot {
	return m.raster.Snapshot()
}

// ResizeRaster changes the raster size, clearing its contents, and
// records the new size in the config.
func (m *Monitor) ResizeRaster(width, height int) error {
	if err := m.raster.Resize(width, height); err != nil {
		return fmt.Errorf("failed to resize raster: %w", err)
	}
	m.cfg.SetRasterSize(width, height)
	return nil
}

// Subscribe returns a channel of monitor notifications.
func (m *Monitor) Subscribe(bufferSize int) (notifications <-chan models.Notification, id int) {
	return m.broker.Subscribe(bufferSize)
}

func (m *Monitor) Unsubscribe(id int) {
	m.broker.Unsubscribe(id)
}

// DroppedMessages is the number of messages lost to queue overflow.
func (m *Monitor) DroppedMessages() uint64 {
	return m.queue.Dropped()
}

// HandleCommand accepts the known user commands. The hub protocol is
// read only, so they are logged and otherwise have no effect.
func (m *Monitor) HandleCommand(cmd models.Command) error {
	if !cmd.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, string(cmd))
	}
	log.Info().Str("command", string(cmd)).Msg("command received, hub has no control channel")
	return nil
}
