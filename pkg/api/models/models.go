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

package models

import (
	"errors"
	"fmt"
)

// NumSensors is the number of sensor channels on the measurement hub.
const NumSensors = 8

const (
	NotificationReadersConnected    = "readers.connected"
	NotificationReadersDisconnected = "readers.disconnected"
	NotificationMeasurementsUpdated = "measurements.updated"
	NotificationDimensionsUpdated   = "dimensions.updated"
	NotificationMessagesReceived    = "messages.received"
)

type Notification struct {
	Params any    `json:"params,omitempty"`
	Method string `json:"method"`
}

// Measurement is the latest known state of one sensor channel.
type Measurement struct {
	ID        uint8  `json:"id"`
	Connected bool   `json:"connected"`
	Value     uint16 `json:"value"`
}

type ConnectionInfo struct {
	PortPath string `json:"portPath"`
	BaudRate uint32 `json:"baudRate"`
}

func (c ConnectionInfo) String() string {
	return fmt.Sprintf("%s@%d", c.PortPath, c.BaudRate)
}

// Dimensions is the workpiece readout reported by MET frames.
type Dimensions struct {
	Width  float64 `json:"width"`
	Length float64 `json:"length"`
	Speed  float64 `json:"speed"`
}

type StatusResponse struct {
	Connection *ConnectionInfo `json:"connection,omitempty"`
	Connected  bool            `json:"connected"`
}

type RasterResponse struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Command is a user action sent in from the presentation layer.
type Command string

const (
	CommandStart     Command = "start"
	CommandStop      Command = "stop"
	CommandCalibrate Command = "calibrate"
)

// ErrUnknownCommand is returned for commands outside the known set.
var ErrUnknownCommand = errors.New("unknown command")

// Valid reports whether c is one of the known commands.
func (c Command) Valid() bool {
	switch c {
	case CommandStart, CommandStop, CommandCalibrate:
		return true
	default:
		return false
	}
}
