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

// Package devices finds the hub among the serial ports attached to the
// host by matching the USB manufacturer string.
package devices

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Metalstream-Org/desktop/pkg/config"
	"github.com/Metalstream-Org/desktop/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"go.bug.st/serial/enumerator"
	"golang.org/x/time/rate"
)

const (
	ttyClassDir = "/sys/class/tty"
	// device dirs sit a few levels under the USB device that owns the
	// manufacturer descriptor
	maxSysfsDepth = 4
	maxLinkHops   = 40
)

// vendorNames maps USB vendor ids to the manufacturer strings those
// vendors burn into their descriptors. Used when sysfs is unavailable.
var vendorNames = map[string]string{
	"303A": "Espressif",
	"10C4": "Silicon Labs",
	"1A86": "QinHeng Electronics",
	"0403": "FTDI",
}

// VendorName returns the manufacturer for a USB vendor id, or an empty
// string if the vendor is unknown. The id is matched case-insensitively.
func VendorName(vid string) string {
	return vendorNames[strings.ToUpper(vid)]
}

// PortLister enumerates serial ports in OS order.
type PortLister func() ([]*enumerator.PortDetails, error)

type Option func(*Locator)

func WithFs(fs afero.Fs) Option {
	return func(l *Locator) {
		l.fs = fs
	}
}

func WithPortLister(f PortLister) Option {
	return func(l *Locator) {
		l.list = f
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(l *Locator) {
		l.clock = c
	}
}

// Locator scans for the first port made by the configured manufacturer.
// Scans are throttled: a call inside the rate limit returns the previous
// result without touching the OS.
type Locator struct {
	fs           afero.Fs
	list         PortLister
	clock        clockwork.Clock
	limiter      *rate.Limiter
	manufacturer string
	lastPath     string
	lastFound    bool
	mu           syncutil.Mutex
}

func NewLocator(cfg *config.Instance, opts ...Option) *Locator {
	l := &Locator{
		fs:           afero.NewOsFs(),
		list:         enumerator.GetDetailedPortsList,
		clock:        clockwork.NewRealClock(),
		limiter:      rate.NewLimiter(rate.Limit(cfg.SerialLocateRate()), 1),
		manufacturer: cfg.SerialManufacturer(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Locator) Manufacturer() string {
	return l.manufacturer
}

// Locate returns the path of the first port whose manufacturer equals the
// configured one. No match, or an enumeration failure, returns ("", false).
func (l *Locator) Locate() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.limiter.AllowN(l.clock.Now(), 1) {
		return l.lastPath, l.lastFound
	}

	path, err := l.scan()
	if err != nil {
		log.Warn().Err(err).Msg("failed to enumerate serial ports")
	}
	l.lastPath, l.lastFound = path, path != ""
	return l.lastPath, l.lastFound
}

func (l *Locator) scan() (string, error) {
	ports, err := l.list()
	if err != nil {
		return "", fmt.Errorf("failed to list serial ports: %w", err)
	}

	for _, port := range ports {
		if port == nil || !port.IsUSB {
			continue
		}
		m := l.resolveManufacturer(port)
		log.Trace().
			Str("port", port.Name).
			Str("vid", port.VID).
			Str("pid", port.PID).
			Str("manufacturer", m).
			Msg("checking serial port")
		if m == l.manufacturer {
			log.Debug().Str("port", port.Name).Msg("found hub device")
			return port.Name, nil
		}
	}

	return "", nil
}

// PortInfo describes one enumerated serial port.
type PortInfo struct {
	Name         string
	VID          string
	PID          string
	SerialNumber string
	Manufacturer string
	IsUSB        bool
}

// Ports lists every serial port with its resolved manufacturer. It is not
// throttled.
func (l *Locator) Ports() ([]PortInfo, error) {
	ports, err := l.list()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	infos := make([]PortInfo, 0, len(ports))
	for _, port := range ports {
		if port == nil {
			continue
		}
		info := PortInfo{
			Name:         port.Name,
			VID:          port.VID,
			PID:          port.PID,
			SerialNumber: port.SerialNumber,
			IsUSB:        port.IsUSB,
		}
		if port.IsUSB {
			info.Manufacturer = l.resolveManufacturer(port)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (l *Locator) resolveManufacturer(port *enumerator.PortDetails) string {
	if m := l.sysfsManufacturer(port.Name); m != "" {
		return m
	}
	return VendorName(port.VID)
}

// sysfsManufacturer walks up from /sys/class/tty/<name>/device looking for
// the USB device's manufacturer attribute.
func (l *Locator) sysfsManufacturer(portName string) string {
	name := filepath.Base(portName)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return ""
	}

	dir := l.resolveLinks(filepath.Join(ttyClassDir, name, "device"))
	if dir == "" {
		return ""
	}

	for range maxSysfsDepth {
		if dir == "/" || dir == "/sys" || dir == "." {
			break
		}
		data, err := afero.ReadFile(l.fs, filepath.Join(dir, "manufacturer"))
		if err == nil {
			if m := strings.TrimSpace(string(data)); m != "" {
				return m
			}
		}
		dir = filepath.Dir(dir)
	}

	return ""
}

// resolveLinks follows every symlink in path one component at a time, so
// relative targets resolve against the real parent directory the way the
// kernel does. Filesystems without link support get path back unchanged.
// A link loop returns "".
func (l *Locator) resolveLinks(path string) string {
	lr, ok := l.fs.(afero.LinkReader)
	if !ok {
		return path
	}

	resolved := string(filepath.Separator)
	rest := splitPath(path)
	hops := 0
	for len(rest) > 0 {
		part := rest[0]
		rest = rest[1:]

		switch part {
		case "", ".":
			continue
		case "..":
			resolved = filepath.Dir(resolved)
			continue
		}

		next := filepath.Join(resolved, part)
		target, err := lr.ReadlinkIfPossible(next)
		if err != nil {
			// not a link, or missing
			resolved = next
			continue
		}

		hops++
		if hops > maxLinkHops {
			log.Debug().Str("path", path).Msg("too many symlinks in sysfs path")
			return ""
		}
		if filepath.IsAbs(target) {
			resolved = string(filepath.Separator)
		}
		rest = append(splitPath(target), rest...)
	}

	return resolved
}

func splitPath(path string) []string {
	return strings.Split(filepath.ToSlash(path), "/")
}
