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

package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Metalstream-Org/desktop/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// BurstDivisor sets the burst size as a fraction of the per-minute limit.
	BurstDivisor = 5
	// StaleAfter is how long an idle client keeps its limiter.
	StaleAfter = 10 * time.Minute
)

// IPRateLimiter keeps one token bucket per client IP, shared between
// HTTP requests and websocket messages.
type IPRateLimiter struct {
	clock       clockwork.Clock
	limiters    map[string]*rateLimiterEntry
	lastCleanup time.Time
	limit       rate.Limit
	burst       int
	mu          syncutil.Mutex
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter allows perMinute requests per IP with a burst of a
// fifth of that, at least one.
func NewIPRateLimiter(perMinute int, clock clockwork.Clock) *IPRateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	burst := max(perMinute/BurstDivisor, 1)
	return &IPRateLimiter{
		clock:       clock,
		limiters:    make(map[string]*rateLimiterEntry),
		lastCleanup: clock.Now(),
		limit:       rate.Limit(float64(perMinute) / 60.0),
		burst:       burst,
	}
}

// Allow takes a token for ip. Stale entries are swept at most once per
// StaleAfter as a side effect.
func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	if now.Sub(rl.lastCleanup) > StaleAfter {
		rl.cleanup(now)
	}

	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Len returns the number of tracked IPs.
func (rl *IPRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *IPRateLimiter) cleanup(now time.Time) {
	for ip, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > StaleAfter {
			delete(rl.limiters, ip)
			log.Debug().Str("ip", ip).Msg("removed stale rate limiter")
		}
	}
	rl.lastCleanup = now
}

func remoteKey(remoteAddr string) string {
	if addr, ok := ParseRemoteIP(remoteAddr); ok {
		return addr.String()
	}
	return remoteAddr
}

// HTTPRateLimitMiddleware answers 429 once a client IP runs out of tokens.
func HTTPRateLimitMiddleware(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteKey(r.RemoteAddr)
			if !limiter.Allow(ip) {
				log.Warn().
					Str("ip", ip).
					Str("path", r.URL.Path).
					Str("method", r.Method).
					Msg("HTTP rate limit exceeded")

				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type rateLimitError struct {
	Error string `json:"error"`
}

// WebSocketRateLimitHandler wraps a websocket message handler. Messages
// over the limit are answered with a JSON error and not passed on.
func WebSocketRateLimitHandler(
	limiter *IPRateLimiter,
	handler func(*melody.Session, []byte),
) func(*melody.Session, []byte) {
	return func(session *melody.Session, msg []byte) {
		ip := remoteKey(session.Request.RemoteAddr)
		if limiter.Allow(ip) {
			handler(session, msg)
			return
		}

		log.Warn().
			Str("ip", ip).
			Int("msg_size", len(msg)).
			Msg("WebSocket rate limit exceeded")

		data, err := json.Marshal(rateLimitError{Error: "rate limit exceeded"})
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal rate limit error")
			return
		}
		if err := session.Write(data); err != nil {
			log.Error().Err(err).Msg("failed to send rate limit error")
		}
	}
}
