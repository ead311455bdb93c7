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

package hub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Metalstream-Org/desktop/pkg/api/models"
	"github.com/Metalstream-Org/desktop/pkg/config"
	"github.com/Metalstream-Org/desktop/pkg/protocol"
	"github.com/Metalstream-Org/desktop/pkg/readers/testutils"
	"github.com/Metalstream-Org/desktop/pkg/service/queue"
	"github.com/Metalstream-Org/desktop/pkg/service/state"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitTimeout = 2 * time.Second

var errUnplugged = errors.New("device unplugged")

type harness struct {
	reader  *Reader
	conn    *state.Connection
	out     *queue.Queue[protocol.Message]
	ns      chan models.Notification
	factory *testutils.MockPortFactory
	clock   *clockwork.FakeClock
	cancel  context.CancelFunc
	done    chan error
}

func newHarness(t *testing.T, path string, results ...testutils.OpenResult) *harness {
	t.Helper()

	cfg := config.NewInstance(config.BaseDefaults)
	cfg.SetSerialPath(path)

	h := &harness{
		conn:    state.NewConnection(),
		out:     queue.New[protocol.Message](64),
		ns:      testutils.CreateTestNotificationChannel(t),
		factory: testutils.NewMockPortFactory(results...),
		clock:   clockwork.NewFakeClock(),
		done:    make(chan error, 1),
	}
	h.reader = NewReader(cfg, h.conn, h.out, h.ns,
		WithPortFactory(h.factory.Open),
		WithClock(h.clock),
	)
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.done <- h.reader.Run(ctx)
	}()
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("reader did not stop")
	}
}

func (h *harness) awaitMessages(t *testing.T, n int) []protocol.Message {
	t.Helper()
	var msgs []protocol.Message
	require.Eventually(t, func() bool {
		for {
			m, ok := h.out.TryPop()
			if !ok {
				break
			}
			msgs = append(msgs, m)
		}
		return len(msgs) >= n
	}, waitTimeout, 5*time.Millisecond)
	return msgs
}

func TestRun_ReadsFrames(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockSerialPort(
		"$12:SMS:ID=1:C=1:V=900#",
		"$13:MET:W=10:L=20",
		":S=1.5#$14:SMS:ID=2:C=0:V=1#",
	)
	h := newHarness(t, "/dev/ttyACM0", testutils.OpenResult{Port: port})
	h.start()

	n := testutils.AwaitNotification(t, h.ns, models.NotificationReadersConnected, waitTimeout)
	assert.Equal(t, models.ConnectionInfo{PortPath: "/dev/ttyACM0", BaudRate: 115200}, n.Params)
	assert.True(t, h.conn.IsConnected())

	msgs := h.awaitMessages(t, 3)
	require.Len(t, msgs, 3)
	assert.Equal(t, "SMS", msgs[0].Command)
	assert.Equal(t, "900", msgs[0].Fields["V"])
	assert.Equal(t, "MET", msgs[1].Command)
	assert.Equal(t, "1.5", msgs[1].Fields["S"])
	assert.Equal(t, "14", msgs[2].Timestamp)

	h.stop(t)

	assert.False(t, h.conn.IsConnected())
	assert.True(t, port.IsClosed())
}

func TestRun_OpensWithHubSettings(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockSerialPort()
	h := newHarness(t, "/dev/ttyUSB0", testutils.OpenResult{Port: port})
	h.start()
	testutils.AwaitNotification(t, h.ns, models.NotificationReadersConnected, waitTimeout)
	h.stop(t)

	modes := h.factory.Modes()
	require.Len(t, modes, 1)
	assert.Equal(t, 115200, modes[0].BaudRate)
	assert.Equal(t, 8, modes[0].DataBits)
	assert.Equal(t, time.Second, port.ReadTimeout)
}

func TestRun_TimeoutsAreNotErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	port := testutils.NewMockSerialPort()
	port.ReadFunc = func(p []byte) (int, error) {
		switch c := calls.Add(1); {
		case c <= 3:
			return 0, testutils.TimeoutError{}
		case c == 4:
			return 0, fmt.Errorf("wrapped: %w", os.ErrDeadlineExceeded)
		case c == 5:
			return copy(p, "$1:SMS:ID=5:C=1:V=5#"), nil
		default:
			time.Sleep(time.Millisecond)
			return 0, nil
		}
	}
	h := newHarness(t, "/dev/ttyACM0", testutils.OpenResult{Port: port})
	h.start()

	msgs := h.awaitMessages(t, 1)
	assert.Equal(t, "5", msgs[0].Fields["ID"])
	assert.True(t, h.conn.IsConnected(), "timeouts keep the connection up")
	assert.Len(t, h.factory.Paths(), 1, "no reconnect after timeouts")

	h.stop(t)
}

func TestRun_ReconnectAfterReadError(t *testing.T) {
	t.Parallel()

	first := testutils.NewMockSerialPort("$1:SMS:ID=1:C=1:V=1#")
	first.ErrAfterData = errUnplugged
	second := testutils.NewMockSerialPort("$2:SMS:ID=2:C=1:V=2#")

	h := newHarness(t, "/dev/ttyACM0",
		testutils.OpenResult{Port: first},
		testutils.OpenResult{Err: errors.New("busy")},
		testutils.OpenResult{Port: second},
	)
	h.start()

	testutils.AwaitNotification(t, h.ns, models.NotificationReadersConnected, waitTimeout)
	testutils.AwaitNotification(t, h.ns, models.NotificationReadersDisconnected, waitTimeout)

	// the immediate reopen fails, so the reader is parked in its retry wait
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	assert.False(t, h.conn.IsConnected())
	assert.True(t, first.IsClosed())

	h.reader.SetPath("/dev/ttyACM1")
	h.clock.Advance(time.Second)

	n := testutils.AwaitNotification(t, h.ns, models.NotificationReadersConnected, waitTimeout)
	assert.Equal(t, models.ConnectionInfo{PortPath: "/dev/ttyACM1", BaudRate: 115200}, n.Params)
	assert.True(t, h.conn.IsConnected())
	info, ok := h.conn.Info()
	require.True(t, ok)
	assert.Equal(t, "/dev/ttyACM1", info.PortPath)

	msgs := h.awaitMessages(t, 2)
	assert.Equal(t, "1", msgs[0].Timestamp)
	assert.Equal(t, "2", msgs[1].Timestamp)

	assert.Equal(t, []string{"/dev/ttyACM0", "/dev/ttyACM0", "/dev/ttyACM1"}, h.factory.Paths())

	h.stop(t)
}

func TestRun_PartialFrameDroppedOnReconnect(t *testing.T) {
	t.Parallel()

	first := testutils.NewMockSerialPort("$1:SMS:ID=1")
	first.ErrAfterData = errUnplugged
	second := testutils.NewMockSerialPort(":C=1:V=1#$2:SMS:ID=2:C=1:V=2#")

	h := newHarness(t, "/dev/ttyACM0",
		testutils.OpenResult{Port: first},
		testutils.OpenResult{Port: second},
	)
	h.start()

	msgs := h.awaitMessages(t, 1)
	require.Len(t, msgs, 1)
	assert.Equal(t, "2", msgs[0].Timestamp, "half frame from the old port is not joined")

	h.stop(t)
}

func TestRun_RetriesOpenWithFixedDelay(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "/dev/ttyACM0")
	h.start()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	for attempt := 1; attempt <= 3; attempt++ {
		require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
		assert.Len(t, h.factory.Paths(), attempt)
		assert.False(t, h.conn.IsConnected())
		h.clock.Advance(time.Second)
	}

	h.stop(t)
}

func TestRun_SetReadTimeoutFailureRetries(t *testing.T) {
	t.Parallel()

	bad := testutils.NewMockSerialPort()
	bad.TimeoutErr = errors.New("ioctl failed")
	good := testutils.NewMockSerialPort()

	h := newHarness(t, "/dev/ttyACM0",
		testutils.OpenResult{Port: bad},
		testutils.OpenResult{Port: good},
	)
	h.start()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	assert.True(t, bad.IsClosed())
	assert.False(t, h.conn.IsConnected())

	h.clock.Advance(time.Second)
	testutils.AwaitNotification(t, h.ns, models.NotificationReadersConnected, waitTimeout)

	h.stop(t)
}

func TestRun_EmptyPathWaits(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	h.start()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	assert.Empty(t, h.factory.Paths())

	h.reader.SetPath("/dev/ttyACM0")
	h.clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		return len(h.factory.Paths()) == 1
	}, waitTimeout, 5*time.Millisecond)

	h.stop(t)
}

func TestRun_QueueOverflowDropsOldest(t *testing.T) {
	t.Parallel()

	var chunks []string
	for i := range 100 {
		chunks = append(chunks, fmt.Sprintf("$%d:SMS:ID=1:C=1:V=%d#", i, i))
	}
	port := testutils.NewMockSerialPort(chunks...)

	cfg := config.NewInstance(config.BaseDefaults)
	cfg.SetSerialPath("/dev/ttyACM0")
	out := queue.New[protocol.Message](10)
	factory := testutils.NewMockPortFactory(testutils.OpenResult{Port: port})
	r := NewReader(cfg, state.NewConnection(), out, nil,
		WithPortFactory(factory.Open),
		WithClock(clockwork.NewFakeClock()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		return out.Dropped() == 90
	}, waitTimeout, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	first, ok := out.TryPop()
	require.True(t, ok)
	assert.Equal(t, "90", first.Timestamp, "newest messages are kept")
}

func TestRun_StopWhileWaiting(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "/dev/ttyACM0")
	h.start()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))

	h.stop(t)
}

func TestSetPath(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	assert.Empty(t, h.reader.Path())

	h.reader.SetPath("/dev/ttyUSB1")
	assert.Equal(t, "/dev/ttyUSB1", h.reader.Path())
}

func TestIsTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err      error
		name     string
		expected bool
	}{
		{name: "deadline exceeded", err: os.ErrDeadlineExceeded, expected: true},
		{name: "wrapped deadline", err: fmt.Errorf("read: %w", os.ErrDeadlineExceeded), expected: true},
		{name: "timeout interface", err: testutils.TimeoutError{}, expected: true},
		{name: "plain error", err: errUnplugged, expected: false},
		{name: "port closed", err: testutils.ErrPortClosed, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, isTimeout(tt.err))
		})
	}
}
