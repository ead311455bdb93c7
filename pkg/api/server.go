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

// Package api serves the monitor state over HTTP and streams notifications
// to websocket clients.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	apimw "github.com/Metalstream-Org/desktop/pkg/api/middleware"
	"github.com/Metalstream-Org/desktop/pkg/api/models"
	"github.com/Metalstream-Org/desktop/pkg/config"
	"github.com/Metalstream-Org/desktop/pkg/raster"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// Monitor is the state and command surface the API exposes.
type Monitor interface {
	IsConnected() bool
	CurrentConnection() (models.ConnectionInfo, bool)
	RecentLogs() []string
	Measurements() []models.Measurement
	DimensionsAndSpeed() models.Dimensions
	RasterSnapshot() raster.Snapshot
	HandleCommand(cmd models.Command) error
}

type errorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	monitor Monitor
	ws      *melody.Melody
	router  chi.Router
	listen  string
}

func NewServer(cfg *config.Instance, monitor Monitor) *Server {
	s := &Server{
		monitor: monitor,
		ws:      melody.New(),
		listen:  cfg.APIListen(),
	}
	s.ws.Upgrader.CheckOrigin = func(_ *http.Request) bool { return true }
	s.ws.HandleConnect(func(session *melody.Session) {
		log.Debug().Str("remote", session.Request.RemoteAddr).Msg("websocket client connected")
	})
	s.ws.HandleDisconnect(func(session *melody.Session) {
		log.Debug().Str("remote", session.Request.RemoteAddr).Msg("websocket client disconnected")
	})
	limiter := apimw.NewIPRateLimiter(cfg.APIRateLimit(), nil)
	s.ws.HandleMessage(apimw.WebSocketRateLimitHandler(limiter, handleWSMessage))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(apimw.HTTPIPFilterMiddleware(apimw.NewIPFilter(cfg.APIAllowedIPs())))
	r.Use(apimw.HTTPRateLimitMiddleware(limiter))
	r.Use(middleware.NoCache)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.APIAllowedOrigins(),
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{},
	}))

	r.Get("/api/events", func(w http.ResponseWriter, r *http.Request) {
		if err := s.ws.HandleRequest(w, r); err != nil {
			log.Error().Err(err).Msg("handling websocket request")
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(config.ApiRequestTimeout))
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/logs", s.handleLogs)
		r.Get("/api/measurements", s.handleMeasurements)
		r.Get("/api/dimensions", s.handleDimensions)
		r.Get("/api/raster", s.handleRaster)
		r.Get("/api/raster.png", s.handleRasterPNG)
		r.Post("/api/commands/{name}", s.handleCommand)
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the number of connected websocket clients.
func (s *Server) Sessions() int {
	return s.ws.Len()
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, notifications <-chan models.Notification) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listen, err)
	}
	return s.Serve(ctx, ln, notifications)
}

// Serve serves on ln, broadcasting notifications to websocket clients,
// until ctx is cancelled. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener, notifications <-chan models.Notification) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: config.ApiRequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("api server listening")

	for {
		select {
		case <-ctx.Done():
			return s.shutdown(srv, errCh)
		case err := <-errCh:
			if closeErr := s.ws.Close(); closeErr != nil {
				log.Debug().Err(closeErr).Msg("closing websocket sessions")
			}
			return fmt.Errorf("api server stopped: %w", err)
		case notif, ok := <-notifications:
			if !ok {
				notifications = nil
				continue
			}
			s.broadcast(notif)
		}
	}
}

func (s *Server) shutdown(srv *http.Server, errCh <-chan error) error {
	log.Debug().Msg("closing HTTP server via context cancellation")

	// hijacked websocket connections are not tracked by Shutdown
	if err := s.ws.Close(); err != nil && !errors.Is(err, melody.ErrClosed) {
		log.Debug().Err(err).Msg("closing websocket sessions")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down api server: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server stopped: %w", err)
	}
	return nil
}

func (s *Server) broadcast(notif models.Notification) {
	data, err := json.Marshal(notif)
	if err != nil {
		log.Error().Err(err).Msg("marshalling notification")
		return
	}
	if err := s.ws.Broadcast(data); err != nil && !errors.Is(err, melody.ErrClosed) {
		log.Error().Err(err).Msg("broadcasting notification")
	}
}

// handleWSMessage answers heartbeats. The event stream is otherwise one way.
func handleWSMessage(session *melody.Session, msg []byte) {
	if bytes.Equal(msg, []byte("ping")) {
		if err := session.Write([]byte("pong")); err != nil {
			log.Error().Err(err).Msg("sending pong")
		}
		return
	}
	log.Debug().Int("len", len(msg)).Msg("ignoring websocket message")
}

// writeJSON encodes v before touching the response so an encoding
// failure can still be reported as a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding response")
		body.Reset()
		status = http.StatusInternalServerError
		// cannot fail
		_ = json.NewEncoder(&body).Encode(errorResponse{Error: "encoding response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body.Bytes()); err != nil {
		log.Error().Err(err).Msg("writing response")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := models.StatusResponse{Connected: s.monitor.IsConnected()}
	if info, ok := s.monitor.CurrentConnection(); ok {
		resp.Connection = &info
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.RecentLogs())
}

func (s *Server) handleMeasurements(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Measurements())
}

func (s *Server) handleDimensions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.DimensionsAndSpeed())
}

func (s *Server) handleRaster(w http.ResponseWriter, _ *http.Request) {
	snap := s.monitor.RasterSnapshot()
	writeJSON(w, http.StatusOK, models.RasterResponse{Width: snap.Width, Height: snap.Height})
}

func (s *Server) handleRasterPNG(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	if err := s.monitor.RasterSnapshot().WritePNG(&buf); err != nil {
		log.Error().Err(err).Msg("encoding raster")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Error().Err(err).Msg("writing raster")
	}
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	cmd := models.Command(chi.URLParam(r, "name"))
	err := s.monitor.HandleCommand(cmd)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, models.ErrUnknownCommand):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		log.Error().Err(err).Str("command", string(cmd)).Msg("command failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}
