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

package helpers

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/Metalstream-Org/desktop/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Not parallel: InitLogging replaces the global logger.
func TestInitLogging(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	logDir := filepath.Join(t.TempDir(), "nested", "logs")
	var extra bytes.Buffer

	require.NoError(t, InitLogging(logDir, []io.Writer{&extra}))
	SetDebugLogging(false)
	log.Info().Str("port", "/dev/ttyACM0").Msg("hub connected")
	log.Debug().Msg("hidden at info level")

	assert.Contains(t, extra.String(), `"port":"/dev/ttyACM0"`)
	assert.Contains(t, extra.String(), `"message":"hub connected"`)
	assert.NotContains(t, extra.String(), "hidden at info level")

	data, err := os.ReadFile(filepath.Join(logDir, config.LogFile)) //nolint:gosec // test path
	require.NoError(t, err)
	assert.Contains(t, string(data), "hub connected")

	SetDebugLogging(true)
	log.Debug().Msg("visible at debug level")
	assert.Contains(t, extra.String(), "visible at debug level")
}

func TestInitLogging_BadDir(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	err := InitLogging(filepath.Join(file, "logs"), nil)
	require.Error(t, err)
}

func TestUserDirNextTo(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	exe := filepath.Join(root, "metalstream")

	_, ok := userDirNextTo(exe)
	assert.False(t, ok)

	require.NoError(t, os.Mkdir(filepath.Join(root, config.UserDir), 0o750))
	dir, ok := userDirNextTo(exe)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(root, config.UserDir), dir)
}

func TestConfigDir(t *testing.T) {
	t.Parallel()

	assert.Equal(t, config.AppName, filepath.Base(ConfigDir()))
	assert.Equal(t, config.AppName, filepath.Base(LogDir()))
}
