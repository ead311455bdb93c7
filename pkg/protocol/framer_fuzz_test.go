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

package protocol

import (
	"testing"
)

// FuzzFramerFeed checks the framer never panics and never holds more than
// the overflow limit plus the latest chunk.
func FuzzFramerFeed(f *testing.F) {
	f.Add([]byte("$12:SMS:ID=1:C=1:V=900#"))
	f.Add([]byte("$1:MET:W=1.5:L=2:S=0.1#$2:SMS:ID=8:C=0:V=0#"))
	f.Add([]byte("$$$###"))
	f.Add([]byte("#$"))
	f.Add([]byte("$1:SMS:ID=1"))
	f.Add([]byte("$\xff\xfe:\x00:=#"))
	f.Add([]byte(""))

	f.Fuzz(func(t *testing.T, data []byte) {
		fr := NewFramer()
		mid := len(data) / 2

		msgs := fr.Feed(data[:mid])
		msgs = append(msgs, fr.Feed(data[mid:])...)

		for _, m := range msgs {
			if m.Fields == nil {
				t.Fatal("message with nil fields")
			}
			_ = m.String()
		}
		if fr.Pending() > MaxFrameSize+len(data) {
			t.Fatalf("pending %d exceeds bound", fr.Pending())
		}
	})
}
