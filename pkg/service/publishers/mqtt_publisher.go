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

// Package publishers forwards monitor notifications to external systems.
package publishers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Metalstream-Org/desktop/pkg/api/models"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	ClientIDPrefix    = "metalstream-"
	mqttConnectWait   = 10 * time.Second
	mqttPublishWait   = 5 * time.Second
	mqttDisconnectMs  = 250
	defaultBrokerPort = "1883"
)

var ErrNoBroker = errors.New("no mqtt broker configured")

// ClientFactory builds the MQTT client. Tests swap in a mock.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

type Option func(*MQTTPublisher)

func WithClientFactory(f ClientFactory) Option {
	return func(p *MQTTPublisher) {
		p.newClient = f
	}
}

// MQTTPublisher publishes each notification's params as JSON to
// <topic>/<method>.
type MQTTPublisher struct {
	client    mqtt.Client
	newClient ClientFactory
	broker    string
	topic     string
	clientID  string
	filter    []string
}

// NewMQTTPublisher creates a publisher for broker (host:port or a full URL).
// An empty filter publishes every notification.
func NewMQTTPublisher(broker, topic string, filter []string, opts ...Option) *MQTTPublisher {
	p := &MQTTPublisher{
		newClient: mqtt.NewClient,
		broker:    broker,
		topic:     strings.TrimSuffix(topic, "/"),
		clientID:  ClientIDPrefix + uuid.New().String()[:8],
		filter:    filter,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BrokerURL adds the tcp scheme and default port when they are missing.
func BrokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	if !strings.Contains(broker, ":") {
		broker += ":" + defaultBrokerPort
	}
	return "tcp://" + broker
}

func (p *MQTTPublisher) ClientID() string {
	return p.clientID
}

// Topic returns the topic a notification method is published on.
func (p *MQTTPublisher) Topic(method string) string {
	return p.topic + "/" + method
}

func (p *MQTTPublisher) connect() error {
	if p.broker == "" {
		return ErrNoBroker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(p.broker))
	opts.SetClientID(p.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(mqttConnectWait)

	opts.OnConnect = func(_ mqtt.Client) {
		log.Info().Msgf("mqtt publisher: connected to %s", p.broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt publisher: connection lost")
	}

	p.client = p.newClient(opts)

	// with connect retry the token only completes once a connection is up,
	// so a timeout here is not fatal: paho keeps trying in the background
	token := p.client.Connect()
	if token.WaitTimeout(mqttConnectWait) && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	log.Info().Msgf("mqtt publisher: using %s (topic: %s)", p.broker, p.topic)
	return nil
}

// Run connects and publishes notifications until ctx is cancelled or the
// channel is closed. A connection failure is returned.
func (p *MQTTPublisher) Run(ctx context.Context, notifications <-chan models.Notification) error {
	if err := p.connect(); err != nil {
		return err
	}
	defer p.disconnect()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("mqtt publisher: stopping notification publisher")
			return nil
		case notif, ok := <-notifications:
			if !ok {
				log.Debug().Msg("mqtt publisher: notification channel closed")
				return nil
			}
			p.publish(notif)
		}
	}
}

func (p *MQTTPublisher) publish(notif models.Notification) {
	if !p.matchesFilter(notif.Method) {
		return
	}

	payload, err := json.Marshal(notif.Params)
	if err != nil {
		log.Error().Err(err).Str("method", notif.Method).Msg("mqtt publisher: failed to marshal notification")
		return
	}

	token := p.client.Publish(p.Topic(notif.Method), 0, false, payload)
	if !token.WaitTimeout(mqttPublishWait) {
		log.Warn().Str("method", notif.Method).Msg("mqtt publisher: publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		log.Error().Err(err).Msg("mqtt publisher: failed to publish message")
		return
	}

	log.Trace().Msgf("mqtt publisher: published %s notification", notif.Method)
}

func (p *MQTTPublisher) disconnect() {
	if p.client != nil && p.client.IsConnected() {
		log.Debug().Msg("mqtt publisher: disconnecting")
		p.client.Disconnect(mqttDisconnectMs)
	}
}

func (p *MQTTPublisher) matchesFilter(method string) bool {
	return len(p.filter) == 0 || slices.Contains(p.filter, method)
}
