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
	"bytes"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding/unicode"
)

// MaxFrameSize caps how many bytes an unterminated frame may hold before it
// is thrown away. Real frames are well under 256 bytes.
const MaxFrameSize = 4096

// Framer extracts complete frames from a byte stream. Partial frames are
// carried over between calls to Feed, so frames split across serial reads
// and several frames in one read are all recovered in order.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	buf []byte
}

func NewFramer() *Framer {
	return &Framer{buf: make([]byte, 0, 1024)}
}

// Feed appends chunk to the pending buffer and returns every message
// completed by it.
func (f *Framer) Feed(chunk []byte) []Message {
	f.buf = append(f.buf, chunk...)

	var msgs []Message
	data := f.buf
	pos := 0

	for pos < len(data) {
		start := bytes.IndexByte(data[pos:], StartMarker)
		if start < 0 {
			// nothing but noise left
			pos = len(data)
			break
		}
		pos += start

		rest := data[pos+1:]
		end := bytes.IndexByte(rest, EndMarker)
		restart := bytes.IndexByte(rest, StartMarker)

		if restart >= 0 && (end < 0 || restart < end) {
			log.Debug().
				Int("discarded", restart+1).
				Msg("frame restarted before end marker")
			pos += 1 + restart
			continue
		}

		if end < 0 {
			if len(data)-pos > MaxFrameSize {
				log.Warn().
					Int("size", len(data)-pos).
					Msg("frame buffer overflow, discarding until next start marker")
				pos = len(data)
			}
			break
		}

		if msg, ok := ParseBody(decodeBody(rest[:end])); ok {
			msgs = append(msgs, *msg)
		} else {
			log.Debug().Bytes("body", rest[:end]).Msg("discarding frame with too few fields")
		}
		pos += 1 + end + 1
	}

	f.buf = append(f.buf[:0], data[pos:]...)

	return msgs
}

// Pending returns the number of buffered bytes not yet part of a frame.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Reset drops any partial frame.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}

// decodeBody decodes b as UTF-8, replacing invalid sequences with U+FFFD.
func decodeBody(b []byte) string {
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		// the UTF-8 decoder replaces rather than rejects, but keep the raw
		// bytes if a transformer ever reports an error
		return string(b)
	}
	return string(out)
}
