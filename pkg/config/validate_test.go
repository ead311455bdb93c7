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

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		modify  func(v *Values)
		name    string
		field   string
		wantErr bool
	}{
		{name: "defaults", modify: func(*Values) {}},
		{name: "zero values", modify: func(v *Values) { *v = Values{} }},
		{
			name:    "negative raster width",
			modify:  func(v *Values) { v.Raster.Width = -1 },
			wantErr: true,
			field:   "Raster.Width",
		},
		{
			name:    "too many sensors",
			modify:  func(v *Values) { v.Raster.Sensors = 9 },
			wantErr: true,
			field:   "Raster.Sensors",
		},
		{
			name:    "api port out of range",
			modify:  func(v *Values) { v.API.Port = 70000 },
			wantErr: true,
			field:   "API.Port",
		},
		{
			name: "allowed ips",
			modify: func(v *Values) {
				v.API.AllowedIPs = []string{"10.0.0.1", "192.168.0.0/16", "::1", "127.0.0.1:7700"}
			},
		},
		{
			name:    "bad allowed ip",
			modify:  func(v *Values) { v.API.AllowedIPs = []string{"10.0.0.1", "not an ip"} },
			wantErr: true,
			field:   "API.AllowedIPs[1]",
		},
		{
			name:    "wildcard mqtt topic",
			modify:  func(v *Values) { v.MQTT.Topic = "metalstream/#" },
			wantErr: true,
			field:   "MQTT.Topic",
		},
		{name: "listen host", modify: func(v *Values) { v.API.Listen = "127.0.0.1" }},
		{
			name:    "negative locate rate",
			modify:  func(v *Values) { v.Serial.LocateRate = -1 },
			wantErr: true,
			field:   "Serial.LocateRate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			vals := BaseDefaults
			tt.modify(&vals)
			err := Validate(&vals)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestNewConfig_InvalidValues(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, filepath.Join("/cfg", CfgFile), []byte(`
config_schema = 1

[raster]
width = -5
`), 0o600))

	_, err := NewConfig(fs, "/cfg", BaseDefaults)
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "Raster.Width")
}
