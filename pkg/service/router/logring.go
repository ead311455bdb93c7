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

package router

import "github.com/Metalstream-Org/desktop/pkg/helpers/syncutil"

// DefaultLogCapacity is how many display lines the log ring keeps.
const DefaultLogCapacity = 100

// LogRing keeps the most recent lines, evicting the oldest when full.
type LogRing struct {
	lines []string
	start int
	size  int
	mu    syncutil.RWMutex
}

func NewLogRing(capacity int) *LogRing {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogRing{lines: make([]string, capacity)}
}

func (r *LogRing) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < len(r.lines) {
		r.lines[(r.start+r.size)%len(r.lines)] = line
		r.size++
		return
	}
	r.lines[r.start] = line
	r.start = (r.start + 1) % len(r.lines)
}

// Lines returns a copy of the ring, oldest first.
func (r *LogRing) Lines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, r.size)
	for i := range r.size {
		out[i] = r.lines[(r.start+i)%len(r.lines)]
	}
	return out
}

func (r *LogRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

func (r *LogRing) Cap() int {
	return len(r.lines)
}
