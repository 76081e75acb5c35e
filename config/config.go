// Package config loads and validates the dispatcher's configuration from a
// YAML file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lblod/contact-data-dispatcher-service/errors"
)

// Config is the complete dispatcher configuration
type Config struct {
	HTTP         HTTPConfig         `yaml:"http"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	SPARQL       SPARQLConfig       `yaml:"sparql"`
	Graphs       GraphsConfig       `yaml:"graphs"`
	Queue        QueueConfig        `yaml:"queue"`
	Prerequisite PrerequisiteConfig `yaml:"prerequisite"`
	Rules        RulesConfig        `yaml:"rules"`
	NATS         NATSConfig         `yaml:"nats"`
	Log          LogConfig          `yaml:"log"`
}

// HTTPConfig holds the gateway settings
type HTTPConfig struct {
	Port           int      `yaml:"port"`
	MaxRequestSize int64    `yaml:"max_request_size"`
	EnableCORS     bool     `yaml:"enable_cors"`
	CORSOrigins    []string `yaml:"cors_origins"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// SPARQLConfig holds the triplestore endpoints
type SPARQLConfig struct {
	QueryEndpoint  string        `yaml:"query_endpoint"`
	UpdateEndpoint string        `yaml:"update_endpoint"`
	// DirectEndpoint bypasses access control layers, used by the bulk
	// initial dispatch
	DirectEndpoint string        `yaml:"direct_endpoint"`
	Timeout        time.Duration `yaml:"timeout"`
}

// GraphsConfig describes the graph topology
type GraphsConfig struct {
	Ingest       string   `yaml:"ingest"`
	LandingZones []string `yaml:"landing_zones"`
	Public       string   `yaml:"public"`
	Error        string   `yaml:"error"`
	OrgPrefix    string   `yaml:"org_prefix"`
	CreatorURI   string   `yaml:"creator_uri"`
}

// QueueConfig sizes the dispatch queue
type QueueConfig struct {
	Workers int `yaml:"workers"`
	Size    int `yaml:"size"`
}

// PrerequisiteConfig gates dispatching on sync job completion
type PrerequisiteConfig struct {
	// SyncOperations are job operation URIs that must have succeeded
	SyncOperations []string      `yaml:"sync_operations"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxPollDelay   time.Duration `yaml:"max_poll_delay"`
}

// RulesConfig locates the dispatch rulebook
type RulesConfig struct {
	Path string `yaml:"path"`
}

// NATSConfig holds the optional NATS delta stream settings
type NATSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Subject  string `yaml:"subject"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// EventsSubject, when set, mirrors the dispatch lifecycle events onto
	// this subject
	EventsSubject string        `yaml:"events_subject"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// LogConfig controls structured logging
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file or overrides are given
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:           8080,
			MaxRequestSize: 10 << 20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		SPARQL: SPARQLConfig{
			QueryEndpoint:  "http://database:8890/sparql",
			UpdateEndpoint: "http://database:8890/sparql",
			Timeout:        60 * time.Second,
		},
		Graphs: GraphsConfig{
			Ingest:     "http://mu.semte.ch/graphs/ingest",
			Public:     "http://mu.semte.ch/graphs/public",
			Error:      "http://mu.semte.ch/graphs/error",
			OrgPrefix:  "http://mu.semte.ch/graphs/organizations/",
			CreatorURI: "http://lblod.data.gift/services/contact-data-dispatcher-service",
		},
		Queue: QueueConfig{
			Workers: 4,
			Size:    1000,
		},
		Prerequisite: PrerequisiteConfig{
			PollInterval: 10 * time.Second,
			MaxPollDelay: 5 * time.Minute,
		},
		Rules: RulesConfig{
			Path: "configs/dispatch-rules.yaml",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Subject:       "delta.notifications",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the configuration file, if present, and applies environment
// overrides on top of the defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "Config", "Load", "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse config file")
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps the environment variables the deployment injects
// onto the configuration
func (c *Config) applyEnvOverrides() {
	setString(&c.SPARQL.QueryEndpoint, "SPARQL_QUERY_ENDPOINT")
	setString(&c.SPARQL.UpdateEndpoint, "SPARQL_UPDATE_ENDPOINT")
	setString(&c.SPARQL.DirectEndpoint, "SPARQL_DIRECT_ENDPOINT")
	setString(&c.Graphs.Ingest, "INGEST_GRAPH")
	setString(&c.Graphs.Public, "PUBLIC_GRAPH")
	setString(&c.Graphs.Error, "ERROR_GRAPH")
	setString(&c.Graphs.OrgPrefix, "ORG_GRAPH_PREFIX")
	setString(&c.Rules.Path, "DISPATCH_RULES_PATH")
	setString(&c.NATS.URL, "NATS_URL")
	setString(&c.NATS.Subject, "NATS_DELTA_SUBJECT")
	setString(&c.NATS.EventsSubject, "NATS_EVENTS_SUBJECT")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setInt(&c.HTTP.Port, "HTTP_PORT")
	setInt(&c.Metrics.Port, "METRICS_PORT")
	setInt(&c.Queue.Workers, "QUEUE_WORKERS")
	setInt(&c.Queue.Size, "QUEUE_SIZE")
	setBool(&c.NATS.Enabled, "NATS_ENABLED")

	if v := os.Getenv("LANDING_ZONE_GRAPHS"); v != "" {
		parts := strings.Split(v, ",")
		graphs := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				graphs = append(graphs, trimmed)
			}
		}
		c.Graphs.LandingZones = graphs
	}
	if v := os.Getenv("SYNC_OPERATIONS"); v != "" {
		parts := strings.Split(v, ",")
		ops := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				ops = append(ops, trimmed)
			}
		}
		c.Prerequisite.SyncOperations = ops
	}
}

func setString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// Validate checks the configuration for contradictions and missing values
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return validationError(fmt.Sprintf("http.port %d out of range", c.HTTP.Port))
	}
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return validationError(fmt.Sprintf("metrics.port %d out of range", c.Metrics.Port))
		}
		if c.Metrics.Port == c.HTTP.Port {
			return validationError("metrics.port must differ from http.port")
		}
	}
	if c.SPARQL.QueryEndpoint == "" {
		return validationError("sparql.query_endpoint is required")
	}
	if c.SPARQL.UpdateEndpoint == "" {
		return validationError("sparql.update_endpoint is required")
	}
	if c.Graphs.Ingest == "" {
		return validationError("graphs.ingest is required")
	}
	if c.Graphs.Public == "" {
		return validationError("graphs.public is required")
	}
	if c.Graphs.OrgPrefix == "" {
		return validationError("graphs.org_prefix is required")
	}
	if c.Queue.Workers <= 0 {
		return validationError("queue.workers must be positive")
	}
	if c.Queue.Size <= 0 {
		return validationError("queue.size must be positive")
	}
	if c.Prerequisite.PollInterval <= 0 {
		return validationError("prerequisite.poll_interval must be positive")
	}
	if c.Rules.Path == "" {
		return validationError("rules.path is required")
	}
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return validationError("nats.url is required when nats is enabled")
		}
		if c.NATS.Subject == "" {
			return validationError("nats.subject is required when nats is enabled")
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return validationError(fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return validationError(fmt.Sprintf("log.format %q is not one of json, text", c.Log.Format))
	}
	return nil
}

func validationError(msg string) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", msg)
}
