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

package state

import (
	"sync/atomic"

	"github.com/Metalstream-Org/desktop/pkg/api/models"
	"github.com/Metalstream-Org/desktop/pkg/helpers/syncutil"
)

// Connection is the link state shared between the serial reader, which
// writes it, and the update cycle and API, which read it without waiting.
//
// The connected flag is true exactly while the reader holds an open,
// error-free port. The descriptor is replaced on every successful open and
// left in place on disconnect.
type Connection struct {
	info      *models.ConnectionInfo
	connected atomic.Bool
	mu        syncutil.RWMutex
}

func NewConnection() *Connection {
	return &Connection{}
}

func (c *Connection) IsConnected() bool {
	return c.connected.Load()
}

// Info returns the last published descriptor, if any port was ever opened.
func (c *Connection) Info() (models.ConnectionInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.info == nil {
		return models.ConnectionInfo{}, false
	}
	return *c.info, true
}

// SetConnected publishes a new descriptor and then raises the flag, so a
// reader that sees the flag always finds a matching descriptor.
func (c *Connection) SetConnected(info models.ConnectionInfo) {
	c.mu.Lock()
	c.info = &info
	c.mu.Unlock()
	c.connected.Store(true)
}

func (c *Connection) SetDisconnected() {
	c.connected.Store(false)
}
