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

// Package queue provides the bounded hand-off between the serial reader and
// the update cycle. When full, the oldest entry is evicted.
package queue

import (
	"sync/atomic"
)

const DefaultCapacity = 1024

type Queue[T any] struct {
	ch      chan T
	dropped atomic.Uint64
}

func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Push enqueues v without blocking, evicting the oldest entry if the queue
// is full. Reports whether an entry was evicted.
func (q *Queue[T]) Push(v T) (evicted bool) {
	for {
		select {
		case q.ch <- v:
			return evicted
		default:
		}

		select {
		case <-q.ch:
			q.dropped.Add(1)
			evicted = true
		default:
			// consumer made room between the two selects
		}
	}
}

// TryPop returns the oldest entry if one is queued.
func (q *Queue[T]) TryPop() (v T, ok bool) {
	select {
	case v = <-q.ch:
		return v, true
	default:
		return v, false
	}
}

// C exposes the receive side for select loops.
func (q *Queue[T]) C() <-chan T {
	return q.ch
}

func (q *Queue[T]) Len() int {
	return len(q.ch)
}

func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Dropped returns how many entries have been evicted since creation.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}
