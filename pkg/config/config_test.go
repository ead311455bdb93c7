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

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_WritesDefaults(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	cfg, err := NewConfig(fs, "/etc/metalstream", BaseDefaults)
	require.NoError(t, err)

	path := filepath.Join("/etc/metalstream", CfgFile)
	assert.Equal(t, path, cfg.Path())

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "config_schema = 1")
	assert.Contains(t, string(data), "Espressif")

	assert.Equal(t, "Espressif", cfg.SerialManufacturer())
	assert.Equal(t, 115200, cfg.SerialBaudRate())
	assert.Equal(t, time.Second, cfg.SerialReadTimeout())
	assert.Equal(t, time.Second, cfg.SerialRetryDelay())
}

func TestNewConfig_LoadsExistingFile(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	path := filepath.Join("/cfg", CfgFile)
	require.NoError(t, afero.WriteFile(fs, path, []byte(`
config_schema = 1
debug_logging = true

[serial]
manufacturer = "Silicon Labs"
path = "/dev/ttyUSB3"
queue_size = 16

[raster]
width = 64
height = 32

[api]
port = 8080

[mqtt]
broker = "localhost:1883"
filter = ["measurements.updated"]
`), 0o600))

	cfg, err := NewConfig(fs, "/cfg", BaseDefaults)
	require.NoError(t, err)

	assert.True(t, cfg.DebugLogging())
	assert.Equal(t, "Silicon Labs", cfg.SerialManufacturer())
	assert.Equal(t, "/dev/ttyUSB3", cfg.SerialPath())
	assert.Equal(t, 16, cfg.SerialQueueSize())
	assert.Equal(t, 115200, cfg.SerialBaudRate(), "missing keys keep defaults")

	w, h := cfg.RasterSize()
	assert.Equal(t, 64, w)
	assert.Equal(t, 32, h)
	assert.Equal(t, DefaultSensors, cfg.Sensors())

	assert.True(t, cfg.APIEnabled())
	assert.Equal(t, ":8080", cfg.APIListen())
	assert.Equal(t, "localhost:1883", cfg.MQTTBroker())
	assert.Equal(t, DefaultMQTTTopic, cfg.MQTTTopic())
	assert.Equal(t, []string{"measurements.updated"}, cfg.MQTTFilter())
}

func TestNewConfig_SchemaMismatch(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, filepath.Join("/cfg", CfgFile), []byte("config_schema = 99\n"), 0o600))

	_, err := NewConfig(fs, "/cfg", BaseDefaults)
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestNewConfig_InvalidTOML(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, filepath.Join("/cfg", CfgFile), []byte("[serial\n"), 0o600))

	_, err := NewConfig(fs, "/cfg", BaseDefaults)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config")
}

func TestNewConfig_ReadOnlyFs(t *testing.T) {
	t.Parallel()

	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())

	_, err := NewConfig(fs, "/cfg", BaseDefaults)
	require.Error(t, err)
}

//nolint:paralleltest // modifies environment
func TestNewConfig_EnvOverride(t *testing.T) {
	t.Setenv(CfgEnv, "/custom/place.toml")

	fs := afero.NewMemMapFs()
	cfg, err := NewConfig(fs, "/ignored", BaseDefaults)
	require.NoError(t, err)

	assert.Equal(t, "/custom/place.toml", cfg.Path())
	exists, err := afero.Exists(fs, "/custom/place.toml")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSave_RoundTrip(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	cfg, err := NewConfig(fs, "/cfg", BaseDefaults)
	require.NoError(t, err)

	cfg.SetSerialPath("/dev/ttyACM9")
	cfg.SetRasterSize(40, 20)
	cfg.SetDebugLogging(true)
	require.NoError(t, cfg.Save())

	reloaded, err := NewConfig(fs, "/cfg", BaseDefaults)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM9", reloaded.SerialPath())
	w, h := reloaded.RasterSize()
	assert.Equal(t, 40, w)
	assert.Equal(t, 20, h)
	assert.True(t, reloaded.DebugLogging())
}

func TestNewInstance_NoBackingFile(t *testing.T) {
	t.Parallel()

	cfg := NewInstance(BaseDefaults)

	require.Error(t, cfg.Save())
	require.Error(t, cfg.Load())
	assert.Equal(t, DefaultLogCapacity, cfg.LogCapacity())
}

func TestZeroValues_FallBackToDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Instance{}

	assert.Equal(t, DefaultManufacturer, cfg.SerialManufacturer())
	assert.Equal(t, DefaultBaudRate, cfg.SerialBaudRate())
	assert.Equal(t, DefaultQueueSize, cfg.SerialQueueSize())
	assert.InDelta(t, DefaultLocateRate, cfg.SerialLocateRate(), 1e-9)
	assert.Equal(t, DefaultSensors, cfg.Sensors())
	assert.Equal(t, DefaultLogCapacity, cfg.LogCapacity())
	assert.Equal(t, 16*time.Millisecond, cfg.FrameInterval())
	assert.False(t, cfg.APIEnabled())
	assert.Equal(t, []string{"http://*", "https://*"}, cfg.APIAllowedOrigins())

	w, h := cfg.RasterSize()
	assert.Equal(t, DefaultRasterWidth, w)
	assert.Equal(t, DefaultRasterHeight, h)
}

// Accessors take a read lock each. Run them concurrently with writers so
// -race and -tags=deadlock catch lock misuse.
func TestInstance_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	cfg := NewInstance(BaseDefaults)

	done := make(chan struct{})
	for i := range 10 {
		go func() {
			for range 100 {
				if i%2 == 0 {
					cfg.SetSerialPath("/dev/ttyUSB0")
				}
				_ = cfg.SerialPath()
				_ = cfg.APIListen()
				_ = cfg.FrameInterval()
			}
			done <- struct{}{}
		}()
	}

	for range 10 {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("concurrent access deadlocked")
		}
	}
}

func TestAPIAccessSettings(t *testing.T) {
	t.Parallel()

	cfg := NewInstance(BaseDefaults)
	assert.Empty(t, cfg.APIAllowedIPs())
	assert.Equal(t, DefaultAPIRateLimit, cfg.APIRateLimit())

	vals := BaseDefaults
	vals.API.AllowedIPs = []string{"10.0.0.0/8"}
	vals.API.RateLimit = 30
	cfg = NewInstance(vals)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.APIAllowedIPs())
	assert.Equal(t, 30, cfg.APIRateLimit())

	cfg.SetAPIPort(7700)
	assert.True(t, cfg.APIEnabled())
	assert.Equal(t, ":7700", cfg.APIListen())
}
