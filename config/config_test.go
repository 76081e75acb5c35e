package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, "http://mu.semte.ch/graphs/public", cfg.Graphs.Public)
	assert.Equal(t, 10*time.Second, cfg.Prerequisite.PollInterval)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().HTTP.Port, cfg.HTTP.Port)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
http:
  port: 9000
queue:
  workers: 8
graphs:
  ingest: http://example.org/graphs/landing
nats:
  enabled: true
  url: nats://broker:4222
  subject: deltas
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, "http://example.org/graphs/landing", cfg.Graphs.Ingest)
	assert.True(t, cfg.NATS.Enabled)
	// untouched sections keep their defaults
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  port: 9000\n"), 0o600))

	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("SPARQL_QUERY_ENDPOINT", "http://db:8890/sparql")
	t.Setenv("LANDING_ZONE_GRAPHS", "http://example.org/g1, http://example.org/g2")
	t.Setenv("SYNC_OPERATIONS", "http://example.org/op1")
	t.Setenv("NATS_EVENTS_SUBJECT", "dispatch.events")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.HTTP.Port)
	assert.Equal(t, "http://db:8890/sparql", cfg.SPARQL.QueryEndpoint)
	assert.Equal(t, []string{"http://example.org/g1", "http://example.org/g2"}, cfg.Graphs.LandingZones)
	assert.Equal(t, []string{"http://example.org/op1"}, cfg.Prerequisite.SyncOperations)
	assert.Equal(t, "dispatch.events", cfg.NATS.EventsSubject)
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.HTTP.Port = 0 }},
		{"metrics port clash", func(c *Config) { c.Metrics.Port = c.HTTP.Port }},
		{"missing query endpoint", func(c *Config) { c.SPARQL.QueryEndpoint = "" }},
		{"missing update endpoint", func(c *Config) { c.SPARQL.UpdateEndpoint = "" }},
		{"missing ingest graph", func(c *Config) { c.Graphs.Ingest = "" }},
		{"missing public graph", func(c *Config) { c.Graphs.Public = "" }},
		{"missing org prefix", func(c *Config) { c.Graphs.OrgPrefix = "" }},
		{"zero workers", func(c *Config) { c.Queue.Workers = 0 }},
		{"zero queue size", func(c *Config) { c.Queue.Size = 0 }},
		{"missing rules path", func(c *Config) { c.Rules.Path = "" }},
		{"nats enabled without url", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
