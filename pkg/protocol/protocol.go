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

// Package protocol decodes the Metalstream hub's serial wire format.
//
// Frames look like:
//
//	$<timestamp>:<command>:<key1>=<val1>:<key2>=<val2>:...#
//
// Markers are not escaped, so a literal '$' or '#' inside a value breaks
// framing. The device firmware never emits them.
package protocol

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

const (
	StartMarker    = '$'
	EndMarker      = '#'
	FieldSeparator = ":"
	KeyValueSep    = "="
)

const (
	CommandSensorStatus = "SMS"
	CommandMetadata     = "MET"
)

// Message is one decoded protocol frame.
type Message struct {
	Fields    map[string]string
	Timestamp string
	Command   string
}

// Field returns the value for key and whether it was present.
func (m *Message) Field(key string) (string, bool) {
	v, ok := m.Fields[key]
	return v, ok
}

// String renders the message for the log view. Keys are sorted so the same
// frame always produces the same line.
func (m *Message) String() string {
	keys := slices.Sorted(maps.Keys(m.Fields))
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+KeyValueSep+m.Fields[k])
	}
	return fmt.Sprintf("[%s] %s: %s", m.Timestamp, m.Command, strings.Join(pairs, ", "))
}

// ParseBody parses a frame body with the markers already stripped. Bodies
// with fewer than two parts are not messages. Fields without '=' are
// skipped.
func ParseBody(body string) (*Message, bool) {
	parts := strings.Split(body, FieldSeparator)
	if len(parts) < 2 {
		return nil, false
	}

	msg := &Message{
		Timestamp: parts[0],
		Command:   parts[1],
		Fields:    make(map[string]string, len(parts)-2),
	}

	for _, field := range parts[2:] {
		key, value, ok := strings.Cut(field, KeyValueSep)
		if !ok {
			continue
		}
		msg.Fields[key] = value
	}

	return msg, true
}
