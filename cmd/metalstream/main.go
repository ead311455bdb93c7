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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Metalstream-Org/desktop/pkg/cli"
	"github.com/Metalstream-Org/desktop/pkg/config"
	"github.com/Metalstream-Org/desktop/pkg/helpers"
	"github.com/Metalstream-Org/desktop/pkg/service"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := cli.SetupFlags()

	exit, err := flags.Pre(os.Args[1:], os.Stdout)
	if err != nil || exit {
		return err
	}

	var logWriters []io.Writer
	if *flags.Daemon {
		logWriters = []io.Writer{helpers.ConsoleWriter()}
	}

	cfg, err := cli.Setup(afero.NewOsFs(), config.BaseDefaults, logWriters)
	if err != nil {
		return err
	}

	defer func() {
		if err := recover(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	exit, err = flags.Post(cfg, os.Stdout)
	if err != nil || exit {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor := service.New(cfg)
	err = monitor.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("monitor stopped with error")
		return fmt.Errorf("monitor stopped: %w", err)
	}

	if err := cli.ExportRaster(*flags.ExportRaster, monitor.RasterSnapshot().WritePNG); err != nil {
		log.Error().Err(err).Msg("error exporting raster")
		return err
	}

	log.Info().Uint64("dropped", monitor.DroppedMessages()).Msg("metalstream stopped")
	return nil
}
