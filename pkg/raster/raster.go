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

// Package raster keeps the scrolling sensor waterfall: one 8-bit grayscale
// row per update cycle, newest at the bottom, oldest scrolling off the top.
package raster

import (
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/Metalstream-Org/desktop/pkg/helpers/syncutil"
)

const (
	DefaultWidth  = 100
	DefaultHeight = 250

	// FullScale is the sensor value mapped to full intensity.
	FullScale = 2000.0
)

// Snapshot is a copy of the buffer contents, row-major.
type Snapshot struct {
	Pix    []byte
	Width  int
	Height int
}

// Buffer is a fixed-size scrolling raster. It is safe for concurrent use.
type Buffer struct {
	pix       []byte
	row       []float64
	intensity []float64
	width     int
	height    int
	mu        syncutil.RWMutex
}

// New returns a zeroed width×height buffer with one band per sensor.
func New(width, height, sensors int) *Buffer {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	if sensors <= 0 {
		sensors = 1
	}
	return &Buffer{
		pix:       make([]byte, width*height),
		row:       make([]float64, width),
		intensity: make([]float64, sensors),
		width:     width,
		height:    height,
	}
}

// Intensity maps a raw sensor value into [0, 1].
func Intensity(value uint16) float64 {
	return clamp01(float64(value) / FullScale)
}

// SetSample records the latest value of a 1-based sensor id. Out of range
// ids are ignored.
func (b *Buffer) SetSample(id uint8, value uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := int(id) - 1
	if idx < 0 || idx >= len(b.intensity) {
		return
	}
	b.intensity[idx] = Intensity(value)
}

// Update scrolls the buffer up by one row and paints a new bottom row from
// the latest sensor intensities.
func (b *Buffer) Update() {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, h := b.width, b.height
	copy(b.pix, b.pix[w:])

	clear(b.row)
	band := w / len(b.intensity)
	if band > 0 {
		for s, level := range b.intensity {
			base := s * band
			for off := range band {
				x := base + off
				if x >= w {
					break
				}
				weight := 1 - float64(off)/float64(band)
				b.row[x] += weight * level
			}
		}
	}

	last := b.pix[(h-1)*w:]
	for x, v := range b.row {
		last[x] = uint8(clamp01(v) * 255)
	}
}

// Resize reallocates the buffer when the dimensions change. Previous
// contents are discarded.
func (b *Buffer) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid raster size %dx%d", width, height)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if width == b.width && height == b.height {
		return nil
	}
	b.width = width
	b.height = height
	b.pix = make([]byte, width*height)
	b.row = make([]float64, width)
	return nil
}

func (b *Buffer) Size() (width, height int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.width, b.height
}

func (b *Buffer) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pix := make([]byte, len(b.pix))
	copy(pix, b.pix)
	return Snapshot{Width: b.width, Height: b.height, Pix: pix}
}

// Image returns the snapshot as a grayscale image sharing its pixels.
func (s Snapshot) Image() *image.Gray {
	return &image.Gray{
		Pix:    s.Pix,
		Stride: s.Width,
		Rect:   image.Rect(0, 0, s.Width, s.Height),
	}
}

// Row returns row y of the snapshot.
func (s Snapshot) Row(y int) []byte {
	return s.Pix[y*s.Width : (y+1)*s.Width]
}

// WritePNG encodes the snapshot as a PNG.
func (s Snapshot) WritePNG(w io.Writer) error {
	if err := png.Encode(w, s.Image()); err != nil {
		return fmt.Errorf("failed to encode raster: %w", err)
	}
	return nil
}

// WritePNG encodes the current buffer as a PNG.
func (b *Buffer) WritePNG(w io.Writer) error {
	return b.Snapshot().WritePNG(w)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
