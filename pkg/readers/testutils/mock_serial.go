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

package testutils

import (
	"errors"
	"time"

	"github.com/Metalstream-Org/desktop/pkg/helpers/syncutil"
	"go.bug.st/serial"
)

// ErrPortClosed is returned by MockSerialPort reads after Close.
var ErrPortClosed = errors.New("port closed")

// TimeoutError mimics the timeout errors some serial drivers return.
type TimeoutError struct{}

func (TimeoutError) Error() string { return "read timeout" }
func (TimeoutError) Timeout() bool { return true }
func (TimeoutError) Temporary() bool { return true }

// MockSerialPort replays Chunks one per Read. Once they run out it returns
// ErrAfterData if set, or (0, nil) after a short sleep like an idle port
// with a read timeout.
type MockSerialPort struct {
	ErrAfterData error
	CloseError   error
	TimeoutErr   error
	ReadFunc     func(p []byte) (n int, err error)
	Chunks       [][]byte
	ReadTimeout  time.Duration
	Closed       bool
	mu           syncutil.Mutex
}

func NewMockSerialPort(chunks ...string) *MockSerialPort {
	m := &MockSerialPort{}
	for _, c := range chunks {
		m.Chunks = append(m.Chunks, []byte(c))
	}
	return m
}

func (m *MockSerialPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.Closed {
		m.mu.Unlock()
		return 0, ErrPortClosed
	}
	if m.ReadFunc != nil {
		fn := m.ReadFunc
		m.mu.Unlock()
		return fn(p)
	}
	if len(m.Chunks) > 0 {
		n := copy(p, m.Chunks[0])
		if n < len(m.Chunks[0]) {
			m.Chunks[0] = m.Chunks[0][n:]
		} else {
			m.Chunks = m.Chunks[1:]
		}
		m.mu.Unlock()
		return n, nil
	}
	errAfter := m.ErrAfterData
	m.mu.Unlock()

	if errAfter != nil {
		return 0, errAfter
	}
	time.Sleep(5 * time.Millisecond)
	return 0, nil
}

func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return m.CloseError
}

func (m *MockSerialPort) SetReadTimeout(t time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadTimeout = t
	return m.TimeoutErr
}

func (m *MockSerialPort) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Closed
}

// OpenResult is one scripted outcome of MockPortFactory.
type OpenResult struct {
	Port *MockSerialPort
	Err  error
}

// MockPortFactory hands out scripted open results in order and records
// every open attempt. When the script runs out it keeps failing.
type MockPortFactory struct {
	results []OpenResult
	paths   []string
	modes   []serial.Mode
	mu      syncutil.Mutex
}

func NewMockPortFactory(results ...OpenResult) *MockPortFactory {
	return &MockPortFactory{results: results}
}

func (f *MockPortFactory) Open(path string, mode *serial.Mode) (SerialPort, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	if mode != nil {
		f.modes = append(f.modes, *mode)
	}
	if len(f.results) == 0 {
		return nil, errors.New("no such device")
	}
	res := f.results[0]
	f.results = f.results[1:]
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Port, nil
}

// Paths returns the paths of every open attempt so far.
func (f *MockPortFactory) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func (f *MockPortFactory) Modes() []serial.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]serial.Mode(nil), f.modes...)
}
