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

// Package notifications builds and sends the events published to API
// clients and the MQTT bridge.
package notifications

import (
	"github.com/Metalstream-Org/desktop/pkg/api/models"
	"github.com/rs/zerolog/log"
)

// send never blocks. A full channel drops the notification.
func send(ns chan<- models.Notification, n models.Notification) {
	if ns == nil {
		return
	}
	select {
	case ns <- n:
	default:
		log.Warn().Str("method", n.Method).Msg("notification channel full, dropping notification")
	}
}

func ReadersConnected(ns chan<- models.Notification, info models.ConnectionInfo) {
	send(ns, models.Notification{
		Method: models.NotificationReadersConnected,
		Params: info,
	})
}

func ReadersDisconnected(ns chan<- models.Notification, info models.ConnectionInfo) {
	send(ns, models.Notification{
		Method: models.NotificationReadersDisconnected,
		Params: info,
	})
}

func MeasurementsUpdated(ns chan<- models.Notification, m models.Measurement) {
	send(ns, models.Notification{
		Method: models.NotificationMeasurementsUpdated,
		Params: m,
	})
}

func DimensionsUpdated(ns chan<- models.Notification, d models.Dimensions) {
	send(ns, models.Notification{
		Method: models.NotificationDimensionsUpdated,
		Params: d,
	})
}

func MessagesReceived(ns chan<- models.Notification, line string) {
	send(ns, models.Notification{
		Method: models.NotificationMessagesReceived,
		Params: line,
	})
}
