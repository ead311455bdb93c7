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

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Metalstream-Org/desktop/pkg/api/client"
	"github.com/Metalstream-Org/desktop/pkg/api/models"
	"github.com/Metalstream-Org/desktop/pkg/config"
	"github.com/rs/zerolog/log"
)

func localClient(cfg *config.Instance) (client.APIClient, error) {
	c, err := client.NewLocal(cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (f *Flags) withClient(cfg *config.Instance, fn func(client.APIClient) error) error {
	c, err := f.newClient(cfg)
	if errors.Is(err, client.ErrAPIDisabled) {
		return errors.New("the api is disabled, set api.port in the config or pass -api-port")
	} else if err != nil {
		return fmt.Errorf("error creating api client: %w", err)
	}
	return fn(c)
}

func printStatus(c client.APIClient, out io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), config.ApiRequestTimeout)
	defer cancel()

	status, err := c.Status(ctx)
	if err != nil {
		log.Error().Err(err).Msg("error getting status")
		return fmt.Errorf("error getting status: %w", err)
	}
	measurements, err := c.Measurements(ctx)
	if err != nil {
		log.Error().Err(err).Msg("error getting measurements")
		return fmt.Errorf("error getting measurements: %w", err)
	}

	if status.Connected && status.Connection != nil {
		_, _ = fmt.Fprintf(out, "connected: %s\n", status.Connection)
	} else {
		_, _ = fmt.Fprintln(out, "not connected")
	}

	if len(measurements) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SENSOR\tCONNECTED\tVALUE")
	for _, m := range measurements {
		_, _ = fmt.Fprintf(w, "%d\t%t\t%d\n", m.ID, m.Connected, m.Value)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}
	return nil
}

func sendCommand(c client.APIClient, cmd models.Command, out io.Writer) error {
	if !cmd.Valid() {
		return fmt.Errorf("%w: %s", models.ErrUnknownCommand, cmd)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ApiRequestTimeout)
	defer cancel()
	if err := c.SendCommand(ctx, cmd); err != nil {
		log.Error().Err(err).Str("command", string(cmd)).Msg("error sending command")
		return fmt.Errorf("error sending command: %w", err)
	}
	_, _ = fmt.Fprintf(out, "sent %s\n", cmd)
	return nil
}
