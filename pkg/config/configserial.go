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
	"time"
)

const (
	DefaultManufacturer  = "Espressif"
	DefaultBaudRate      = 115200
	DefaultReadTimeoutMs = 1000
	DefaultRetryDelayMs  = 1000
	DefaultQueueSize     = 1024
	DefaultLocateRate    = 4.0
)

// Serial configures hub discovery and the port. A non-empty Path pins the
// hub to one device and skips discovery.
type Serial struct {
	Manufacturer  string  `toml:"manufacturer"`
	Path          string  `toml:"path,omitempty"`
	BaudRate      int     `toml:"baud_rate"       validate:"gte=0,lte=4000000"`
	ReadTimeoutMs int     `toml:"read_timeout_ms" validate:"gte=0,lte=60000"`
	RetryDelayMs  int     `toml:"retry_delay_ms"  validate:"gte=0,lte=600000"`
	QueueSize     int     `toml:"queue_size"      validate:"gte=0,lte=1048576"`
	LocateRate    float64 `toml:"locate_rate"     validate:"gte=0"`
}

func (c *Instance) SerialManufacturer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Serial.Manufacturer == "" {
		return DefaultManufacturer
	}
	return c.vals.Serial.Manufacturer
}

func (c *Instance) SerialPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Serial.Path
}

func (c *Instance) SetSerialPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Serial.Path = path
}

func (c *Instance) SerialBaudRate() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Serial.BaudRate <= 0 {
		return DefaultBaudRate
	}
	return c.vals.Serial.BaudRate
}

func (c *Instance) SerialReadTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Serial.ReadTimeoutMs <= 0 {
		return DefaultReadTimeoutMs * time.Millisecond
	}
	return time.Duration(c.vals.Serial.ReadTimeoutMs) * time.Millisecond
}

func (c *Instance) SerialRetryDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Serial.RetryDelayMs <= 0 {
		return DefaultRetryDelayMs * time.Millisecond
	}
	return time.Duration(c.vals.Serial.RetryDelayMs) * time.Millisecond
}

func (c *Instance) SerialQueueSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Serial.QueueSize <= 0 {
		return DefaultQueueSize
	}
	return c.vals.Serial.QueueSize
}

// SerialLocateRate is the maximum number of device enumerations per second.
func (c *Instance) SerialLocateRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Serial.LocateRate <= 0 {
		return DefaultLocateRate
	}
	return c.vals.Serial.LocateRate
}
