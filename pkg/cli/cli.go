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

// Package cli holds the command line flags shared by the metalstream
// binaries and the setup they run before the monitor starts.
package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/Metalstream-Org/desktop/pkg/api/client"
	"github.com/Metalstream-Org/desktop/pkg/api/models"
	"github.com/Metalstream-Org/desktop/pkg/config"
	"github.com/Metalstream-Org/desktop/pkg/devices"
	"github.com/Metalstream-Org/desktop/pkg/helpers"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

type Flags struct {
	set          *flag.FlagSet
	newClient    func(*config.Instance) (client.APIClient, error)
	Version      *bool
	ListDevices  *bool
	ShowConfig   *bool
	Status       *bool
	Daemon       *bool
	Debug        *bool
	Port         *string
	ExportRaster *string
	Command      *string
	APIPort      *int
}

// SetupFlags defines the flags on the default command line.
func SetupFlags() *Flags {
	return SetupFlagSet(flag.CommandLine)
}

func SetupFlagSet(set *flag.FlagSet) *Flags {
	return &Flags{
		set:       set,
		newClient: localClient,
		Version: set.Bool(
			"version",
			false,
			"print version and exit",
		),
		ListDevices: set.Bool(
			"list-devices",
			false,
			"list serial ports with their USB manufacturer and exit",
		),
		ShowConfig: set.Bool(
			"show-config",
			false,
			"print the config file path and exit",
		),
		Status: set.Bool(
			"status",
			false,
			"print the status of a running monitor and exit",
		),
		Command: set.String(
			"command",
			"",
			"send a command (start, stop, calibrate) to a running monitor and exit",
		),
		Daemon: set.Bool(
			"daemon",
			false,
			"log to stderr as well as the log file",
		),
		Debug: set.Bool(
			"debug",
			false,
			"enable debug logging",
		),
		Port: set.String(
			"port",
			"",
			"use this serial device instead of searching for the hub",
		),
		ExportRaster: set.String(
			"export-raster",
			"",
			"write the raster as a PNG to this path on exit",
		),
		APIPort: set.Int(
			"api-port",
			0,
			"serve the HTTP API on this port (overrides config)",
		),
	}
}

func (f *Flags) isFlagPassed(name string) bool {
	found := false
	f.set.Visit(func(fl *flag.Flag) {
		if fl.Name == name {
			found = true
		}
	})
	return found
}

// Pre parses args and handles flags that need no setup. It returns true
// if the program should exit.
func (f *Flags) Pre(args []string, out io.Writer) (bool, error) {
	if err := f.set.Parse(args); err != nil {
		return true, fmt.Errorf("failed to parse flags: %w", err)
	}

	if *f.Version {
		_, _ = fmt.Fprintf(out, "Metalstream v%s\n", config.AppVersion)
		return true, nil
	}

	return false, nil
}

// Setup initializes logging and loads the user config.
//
//nolint:gocritic // config struct copied for immutability
func Setup(fs afero.Fs, defaults config.Values, writers []io.Writer) (*config.Instance, error) {
	if err := helpers.InitLogging(helpers.LogDir(), writers); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	cfg, err := config.NewConfig(fs, helpers.ConfigDir(), defaults)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	helpers.SetDebugLogging(cfg.DebugLogging())
	return cfg, nil
}

// Post applies overrides to cfg and handles the informational flags. It
// returns true if the program should exit.
func (f *Flags) Post(cfg *config.Instance, out io.Writer, opts ...devices.Option) (bool, error) {
	if f.isFlagPassed("port") {
		cfg.SetSerialPath(*f.Port)
	}
	if f.isFlagPassed("api-port") {
		cfg.SetAPIPort(*f.APIPort)
	}
	if *f.Debug {
		cfg.SetDebugLogging(true)
		helpers.SetDebugLogging(true)
	}

	switch {
	case *f.ShowConfig:
		_, _ = fmt.Fprintln(out, cfg.Path())
		return true, nil
	case *f.ListDevices:
		return true, listDevices(devices.NewLocator(cfg, opts...), cfg.SerialManufacturer(), out)
	case *f.Status:
		return true, f.withClient(cfg, func(c client.APIClient) error {
			return printStatus(c, out)
		})
	case *f.Command != "":
		return true, f.withClient(cfg, func(c client.APIClient) error {
			return sendCommand(c, models.Command(*f.Command), out)
		})
	}

	return false, nil
}

func listDevices(l *devices.Locator, want string, out io.Writer) error {
	ports, err := l.Ports()
	if err != nil {
		log.Error().Err(err).Msg("error listing devices")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PORT\tVID:PID\tMANUFACTURER\tHUB")
	for _, p := range ports {
		ids := "-"
		if p.IsUSB {
			ids = p.VID + ":" + p.PID
		}
		manufacturer := p.Manufacturer
		if manufacturer == "" {
			manufacturer = "-"
		}
		hub := ""
		if p.IsUSB && p.Manufacturer == want {
			hub = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, ids, manufacturer, hub)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write device list: %w", err)
	}
	return nil
}

// ExportRaster writes a PNG produced by write to path, if path is set.
func ExportRaster(path string, write func(io.Writer) error) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path) //nolint:gosec // user supplied output path
	if err != nil {
		return fmt.Errorf("failed to create raster file: %w", err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close raster file: %w", err)
	}
	log.Info().Str("path", path).Msg("raster exported")
	return nil
}
