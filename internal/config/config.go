package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envConfigPath     = "ROUTEHARNESS_CONFIG"
	DefaultConfigPath = "/etc/routeharness/harness.yaml"
)

// Backend names accepted in the verification priority list.
const (
	BackendDIMSE    = "dimse"
	BackendDatabase = "database"
	BackendAPI      = "api"
)

type Config struct {
	Endpoint     EndpointConfig     `yaml:"endpoint"`
	Load         LoadConfig         `yaml:"load"`
	Dataset      DatasetConfig      `yaml:"dataset"`
	Verification VerificationConfig `yaml:"verification"`
	Thresholds   ThresholdsConfig   `yaml:"thresholds"`
	Status       StatusConfig       `yaml:"status"`
}

// EndpointConfig describes where work is sent: the router's listener plus the
// application entity titles both sides present during association.
type EndpointConfig struct {
	Host        string           `yaml:"host"`
	Port        int              `yaml:"port"`
	CalledAET   string           `yaml:"called_aet"`
	CallingAET  string           `yaml:"calling_aet"`
	Routes      map[string]Route `yaml:"routes"`
	ActiveRoute string           `yaml:"active_route"`
}

// Route is a named called/calling AET pair. When active_route selects one it
// overrides the flat AET fields.
type Route struct {
	CalledAET  string `yaml:"called_aet"`
	CallingAET string `yaml:"calling_aet"`
}

// Addr returns the dialable host:port of the endpoint.
func (e EndpointConfig) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// ResolveAETs returns the called/calling pair after applying active_route.
func (e EndpointConfig) ResolveAETs() (called, calling string) {
	if e.ActiveRoute != "" {
		if r, ok := e.Routes[e.ActiveRoute]; ok {
			return r.CalledAET, r.CallingAET
		}
	}
	return e.CalledAET, e.CallingAET
}

// LoadConfig controls how hard the driver pushes.
type LoadConfig struct {
	RatePerSecond  float64       `yaml:"rate_per_second"`
	Concurrency    int           `yaml:"concurrency"`
	Duration       time.Duration `yaml:"duration"`
	MaxItems       int           `yaml:"max_items"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	PermitQueue    int           `yaml:"permit_queue"`
}

// DatasetConfig describes where work items are loaded from. An empty root
// directory selects the synthetic generator.
type DatasetConfig struct {
	RootDir   string `yaml:"root_dir"`
	Recursive bool   `yaml:"recursive"`
}

// VerificationConfig controls the poller: the ordered backend priority list
// and the pacing of a single query's polling loop.
type VerificationConfig struct {
	Backends     []string       `yaml:"backends"`
	InitialDelay time.Duration  `yaml:"initial_delay"`
	PollInterval time.Duration  `yaml:"poll_interval"`
	PollTimeout  time.Duration  `yaml:"poll_timeout"`
	QueryTimeout time.Duration  `yaml:"query_timeout"`
	Database     DatabaseConfig `yaml:"database"`
	API          APIConfig      `yaml:"api"`
}

type DatabaseConfig struct {
	ConnString string `yaml:"conn_string"`
}

type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// ThresholdsConfig carries acceptance criteria for downstream assertions. The
// engine records them in the run report but never enforces them itself.
type ThresholdsConfig struct {
	MaxErrorRate  float64       `yaml:"max_error_rate"`
	MaxP95Latency time.Duration `yaml:"max_p95_latency"`
}

// StatusConfig controls the optional status HTTP server.
type StatusConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

func Load(ctx context.Context, path string) (Config, error) {
	var cfg Config

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func LoadFromEnv(ctx context.Context) (Config, error) {
	path := os.Getenv(envConfigPath)
	if path == "" {
		path = DefaultConfigPath
	}
	return Load(ctx, path)
}

// Default returns a config populated with defaults only, for callers that
// assemble the rest from flags.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Endpoint.Port == 0 {
		c.Endpoint.Port = 11112
	}
	if c.Endpoint.CalledAET == "" {
		c.Endpoint.CalledAET = "ROUTER"
	}
	if c.Endpoint.CallingAET == "" {
		c.Endpoint.CallingAET = "HARNESS"
	}
	if c.Load.Concurrency == 0 {
		c.Load.Concurrency = 8
	}
	if c.Load.AttemptTimeout == 0 {
		c.Load.AttemptTimeout = 30 * time.Second
	}
	if c.Load.PermitQueue == 0 {
		c.Load.PermitQueue = c.Load.Concurrency
	}
	if len(c.Verification.Backends) == 0 {
		c.Verification.Backends = []string{BackendDIMSE}
	}
	if c.Verification.PollInterval == 0 {
		c.Verification.PollInterval = 5 * time.Second
	}
	if c.Verification.PollTimeout == 0 {
		c.Verification.PollTimeout = 60 * time.Second
	}
	if c.Verification.QueryTimeout == 0 {
		c.Verification.QueryTimeout = 30 * time.Second
	}
	if c.Thresholds.MaxErrorRate == 0 {
		c.Thresholds.MaxErrorRate = 0.02
	}
	if c.Thresholds.MaxP95Latency == 0 {
		c.Thresholds.MaxP95Latency = 2 * time.Second
	}
}

// Validate checks the config once at construction time. A validation failure
// aborts the run before any work is dispatched.
func (c Config) Validate() error {
	if c.Endpoint.Host == "" {
		return fmt.Errorf("endpoint host is required")
	}
	if c.Endpoint.Port <= 0 || c.Endpoint.Port > 65535 {
		return fmt.Errorf("endpoint port %d out of range", c.Endpoint.Port)
	}
	called, calling := c.Endpoint.ResolveAETs()
	if called == "" || calling == "" {
		return fmt.Errorf("called and calling AE titles are required")
	}
	if c.Endpoint.ActiveRoute != "" {
		if _, ok := c.Endpoint.Routes[c.Endpoint.ActiveRoute]; !ok {
			return fmt.Errorf("active_route %q not defined in routes", c.Endpoint.ActiveRoute)
		}
	}
	if c.Load.RatePerSecond < 0 {
		return fmt.Errorf("rate_per_second must not be negative")
	}
	if c.Load.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Load.Duration <= 0 && c.Load.MaxItems <= 0 {
		return fmt.Errorf("either duration or max_items must bound the run")
	}
	if c.Load.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt_timeout must be positive")
	}
	if c.Load.PermitQueue <= 0 {
		return fmt.Errorf("permit_queue must be positive")
	}
	if c.Verification.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.Verification.PollTimeout <= 0 {
		return fmt.Errorf("poll_timeout must be positive")
	}
	if c.Verification.InitialDelay < 0 {
		return fmt.Errorf("initial_delay must not be negative")
	}
	if c.Verification.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be positive")
	}
	for _, name := range c.Verification.Backends {
		switch name {
		case BackendDIMSE, BackendDatabase, BackendAPI:
		default:
			return fmt.Errorf("unknown verification backend %q", name)
		}
	}
	if containsBackend(c.Verification.Backends, BackendDatabase) && c.Verification.Database.ConnString == "" {
		return fmt.Errorf("database backend configured without conn_string")
	}
	if containsBackend(c.Verification.Backends, BackendAPI) && c.Verification.API.BaseURL == "" {
		return fmt.Errorf("api backend configured without base_url")
	}
	return nil
}

func containsBackend(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}
