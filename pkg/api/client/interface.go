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

package client

import (
	"context"
	"time"

	"github.com/Metalstream-Org/desktop/pkg/api/models"
)

// APIClient abstracts API communication for testability.
type APIClient interface {
	Status(ctx context.Context) (models.StatusResponse, error)
	Measurements(ctx context.Context) ([]models.Measurement, error)
	Logs(ctx context.Context) ([]string, error)
	SendCommand(ctx context.Context, cmd models.Command) error
	WaitNotification(ctx context.Context, timeout time.Duration, method string) (Event, error)
}

var _ APIClient = (*Client)(nil)
