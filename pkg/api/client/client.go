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

// Package client talks to a running monitor over its HTTP API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/Metalstream-Org/desktop/pkg/api/models"
	"github.com/Metalstream-Org/desktop/pkg/config"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrAPIDisabled      = errors.New("api is not enabled")
	ErrRequestTimeout   = errors.New("request timed out")
	ErrRequestCancelled = errors.New("request cancelled")
	ErrStreamClosed     = errors.New("event stream closed")
	ErrUnexpectedStatus = errors.New("unexpected status")
)

const (
	EventsPath   = "/api/events"
	StatusPath   = "/api/status"
	CommandsPath = "/api/commands/"
)

type Client struct {
	base   *url.URL
	http   *http.Client
	dialer *websocket.Dialer
}

// New returns a client for the API served at baseURL, e.g.
// http://localhost:7700.
func New(baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid api url scheme: %q", u.Scheme)
	}
	return &Client{
		base:   u,
		http:   &http.Client{Timeout: config.ApiRequestTimeout},
		dialer: websocket.DefaultDialer,
	}, nil
}

// NewLocal returns a client for the API of a monitor on this machine
// using cfg.
func NewLocal(cfg *config.Instance) (*Client, error) {
	if !cfg.APIEnabled() {
		return nil, ErrAPIDisabled
	}
	_, port, err := net.SplitHostPort(cfg.APIListen())
	if err != nil {
		return nil, fmt.Errorf("invalid api listen address: %w", err)
	}
	return New("http://" + net.JoinHostPort("localhost", port))
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = path
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, want int, v any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ErrRequestCancelled
		}
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error != "" {
			return fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, body.Error)
		}
		return fmt.Errorf("%w %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (models.StatusResponse, error) {
	var resp models.StatusResponse
	err := c.do(ctx, http.MethodGet, StatusPath, http.StatusOK, &resp)
	return resp, err
}

func (c *Client) Measurements(ctx context.Context) ([]models.Measurement, error) {
	var resp []models.Measurement
	err := c.do(ctx, http.MethodGet, "/api/measurements", http.StatusOK, &resp)
	return resp, err
}

func (c *Client) Logs(ctx context.Context) ([]string, error) {
	var resp []string
	err := c.do(ctx, http.MethodGet, "/api/logs", http.StatusOK, &resp)
	return resp, err
}

// SendCommand asks the monitor to run cmd.
func (c *Client) SendCommand(ctx context.Context, cmd models.Command) error {
	return c.do(ctx, http.MethodPost, CommandsPath+url.PathEscape(string(cmd)), http.StatusNoContent, nil)
}

// Event is a notification received from the event stream.
type Event struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// WaitNotification blocks until a notification with the given method
// arrives on the event stream. A zero timeout uses the default request
// timeout and a negative one waits until ctx is done.
func (c *Client) WaitNotification(ctx context.Context, timeout time.Duration, method string) (Event, error) {
	u := *c.base
	u.Path = EventsPath
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return Event{}, fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Debug().Err(err).Msg("error closing websocket")
		}
	}()

	done := make(chan Event, 1)
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Msg("event stream closed")
				return
			}
			var ev Event
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			if ev.Method == method {
				done <- ev
				return
			}
		}
	}()

	var timerChan <-chan time.Time
	switch {
	case timeout == 0:
		timer := time.NewTimer(config.ApiRequestTimeout)
		defer timer.Stop()
		timerChan = timer.C
	case timeout > 0:
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerChan = timer.C
	}

	select {
	case ev, ok := <-done:
		if !ok {
			return Event{}, ErrStreamClosed
		}
		return ev, nil
	case <-timerChan:
		_ = conn.Close()
		<-done
		return Event{}, ErrRequestTimeout
	case <-ctx.Done():
		_ = conn.Close()
		<-done
		return Event{}, ErrRequestCancelled
	}
}
