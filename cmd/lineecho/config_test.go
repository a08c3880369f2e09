// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOptionsDefaults(t *testing.T) {
	opts, err := loadOptions("", nil)
	require.NoError(t, err)
	assert.Equal(t, defaultOptions(), opts)
}

func TestLoadOptionsPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lineecho.yaml")
	data := []byte("addr: unix:/tmp/from-file.sock\n" +
		"poll_interval: 250ms\n" +
		"log:\n" +
		"  level: debug\n" +
		"  max_backups: 7\n")
	require.NoError(t, os.WriteFile(path, data, 0600))

	t.Setenv("LINEECHO_LOG_LEVEL", "warn")
	t.Setenv("LINEECHO_HEALTH_ADDR", "127.0.0.1:9090")

	var configPath string
	fs := newFlagSet("test", &configPath)
	require.NoError(t, fs.Parse([]string{"-config", path, "-poll-interval", "20ms"}))
	assert.Equal(t, path, configPath)

	opts, err := loadOptions(configPath, fs)
	require.NoError(t, err)

	assert.Equal(t, "unix:/tmp/from-file.sock", opts.Addr)
	assert.Equal(t, 7, opts.Log.MaxBackups)

	// env beats file
	assert.Equal(t, "warn", opts.Log.Level)
	assert.Equal(t, "127.0.0.1:9090", opts.HealthAddr)

	// flag beats file
	assert.Equal(t, 20*time.Millisecond, opts.PollInterval)
	assert.True(t, opts.Log.Stderr)
}

func TestLoadOptionsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "bad address", args: []string{"-addr", "no-port"}},
		{name: "bad level", args: []string{"-log-level", "chatty"}},
		{name: "bad poll interval", args: []string{"-poll-interval", "0s"}},
		{name: "missing config file", args: []string{"-config", "/nonexistent/lineecho.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var configPath string
			fs := newFlagSet("test", &configPath)
			require.NoError(t, fs.Parse(tt.args))
			_, err := loadOptions(configPath, fs)
			assert.Error(t, err)
		})
	}
}
