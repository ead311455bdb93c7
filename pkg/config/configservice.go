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

package config

import (
	"fmt"
	"time"
)

const (
	DefaultRasterWidth  = 100
	DefaultRasterHeight = 250
	DefaultSensors      = 8
	DefaultFrameRate    = 60
	DefaultLogCapacity  = 100
	DefaultMQTTTopic    = "metalstream"
	DefaultAPIRateLimit = 100
)

type Raster struct {
	Width   int `toml:"width"   validate:"gte=0,lte=10000"`
	Height  int `toml:"height"  validate:"gte=0,lte=10000"`
	Sensors int `toml:"sensors" validate:"gte=0,lte=8"`
}

type UI struct {
	FrameRate   int `toml:"frame_rate"   validate:"gte=0,lte=1000"`
	LogCapacity int `toml:"log_capacity" validate:"gte=0"`
}

type API struct {
	Listen         string   `toml:"listen,omitempty"          validate:"omitempty,ip|hostname"`
	AllowedOrigins []string `toml:"allowed_origins,omitempty"`
	AllowedIPs     []string `toml:"allowed_ips,omitempty"     validate:"dive,ip|cidr|hostname_port"`
	Port           int      `toml:"port,omitempty"            validate:"gte=0,lte=65535"`
	RateLimit      int      `toml:"rate_limit,omitempty"      validate:"gte=0"`
}

type MQTT struct {
	Broker string   `toml:"broker,omitempty"`
	Topic  string   `toml:"topic,omitempty"  validate:"omitempty,excludesall=#+"`
	Filter []string `toml:"filter,omitempty"`
}

func (c *Instance) RasterSize() (width, height int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	width, height = c.vals.Raster.Width, c.vals.Raster.Height
	if width <= 0 {
		width = DefaultRasterWidth
	}
	if height <= 0 {
		height = DefaultRasterHeight
	}
	return width, height
}

func (c *Instance) SetRasterSize(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Raster.Width = width
	c.vals.Raster.Height = height
}

func (c *Instance) Sensors() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Raster.Sensors <= 0 {
		return DefaultSensors
	}
	return c.vals.Raster.Sensors
}

// FrameInterval is the update cycle period, 1000/frame_rate milliseconds.
func (c *Instance) FrameInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rate := c.vals.UI.FrameRate
	if rate <= 0 {
		rate = DefaultFrameRate
	}
	return time.Duration(1000/rate) * time.Millisecond
}

func (c *Instance) LogCapacity() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.UI.LogCapacity <= 0 {
		return DefaultLogCapacity
	}
	return c.vals.UI.LogCapacity
}

// APIEnabled reports whether the HTTP API should be started.
func (c *Instance) APIEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.API.Port > 0
}

func (c *Instance) SetAPIPort(port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.API.Port = port
}

// APIListen returns the host:port the API binds to.
func (c *Instance) APIListen() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.vals.API.Listen, c.vals.API.Port)
}

func (c *Instance) APIAllowedOrigins() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.vals.API.AllowedOrigins) == 0 {
		return []string{"http://*", "https://*"}
	}
	return append([]string(nil), c.vals.API.AllowedOrigins...)
}

// APIAllowedIPs returns the IPs and CIDRs allowed to reach the API. An
// empty list allows everyone.
func (c *Instance) APIAllowedIPs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.vals.API.AllowedIPs...)
}

// APIRateLimit returns the allowed requests per minute per client IP.
func (c *Instance) APIRateLimit() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.API.RateLimit <= 0 {
		return DefaultAPIRateLimit
	}
	return c.vals.API.RateLimit
}

func (c *Instance) MQTTBroker() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.MQTT.Broker
}

func (c *Instance) MQTTTopic() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.MQTT.Topic == "" {
		return DefaultMQTTTopic
	}
	return c.vals.MQTT.Topic
}

func (c *Instance) MQTTFilter() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.vals.MQTT.Filter...)
}
