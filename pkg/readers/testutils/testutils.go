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

// Package testutils provides serial port fakes and channel assertions shared
// by reader and service tests.
package testutils

import (
	"testing"
	"time"

	"github.com/Metalstream-Org/desktop/pkg/api/models"
	"github.com/stretchr/testify/require"
)

// CreateTestNotificationChannel returns a channel big enough that tests
// never trip the non-blocking send drop path.
func CreateTestNotificationChannel(_ *testing.T) chan models.Notification {
	return make(chan models.Notification, 100)
}

// AwaitNotification waits for the next notification with the given method,
// skipping others. Fails the test on timeout.
func AwaitNotification(
	t *testing.T,
	ch <-chan models.Notification,
	method string,
	timeout time.Duration,
) models.Notification {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case n := <-ch:
			if n.Method == method {
				return n
			}
		case <-deadline:
			require.Fail(t, "expected notification within timeout", "method: %s", method)
			return models.Notification{}
		}
	}
}

// AssertNoNotification verifies nothing with the given method arrives
// within the timeout.
func AssertNoNotification(t *testing.T, ch <-chan models.Notification, method string, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case n := <-ch:
			if n.Method == method {
				require.Fail(t, "unexpected notification", "method: %s", method)
				return
			}
		case <-deadline:
			return
		}
	}
}
