// Package config loads the run's configuration: the cluster scalars
// (number of nodes, base port) plus the timing knobs for the request loop
// and the transport.
//
// Precedence, lowest to highest: built-in defaults, an optional YAML
// file, environment variables, command-line flags.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds everything a run of the orchestrator needs.
type Config struct {
	NumNodes int `yaml:"numNodes"`
	BasePort int `yaml:"basePort"`

	// Iterations is the number of critical-section entries each node
	// performs before registering at the termination barrier.
	Iterations int `yaml:"iterations"`

	// RequestDelayMin/Max bound the random desynchronization sleep before
	// each request.
	RequestDelayMin time.Duration `yaml:"requestDelayMin"`
	RequestDelayMax time.Duration `yaml:"requestDelayMax"`

	// CSOccupancyMin/Max bound the random critical-section occupancy sleep.
	CSOccupancyMin time.Duration `yaml:"csOccupancyMin"`
	CSOccupancyMax time.Duration `yaml:"csOccupancyMax"`

	// ReceiverTimeout is the Receiver's bounded liveness-poke read timeout.
	ReceiverTimeout time.Duration `yaml:"receiverTimeout"`

	// DialTimeout bounds each outbound socket connect.
	DialTimeout time.Duration `yaml:"dialTimeout"`

	// StatusAPIEnabled toggles the HTTP introspection server. It never
	// affects protocol behavior.
	StatusAPIEnabled bool   `yaml:"statusAPIEnabled"`
	StatusAPIAddr    string `yaml:"statusAPIAddr"`
}

// Defaults returns the baseline configuration before any file, env, or
// flag overrides are applied.
func Defaults() Config {
	return Config{
		NumNodes:         4,
		BasePort:         9000,
		Iterations:       3,
		RequestDelayMin:  2 * time.Second,
		RequestDelayMax:  8 * time.Second,
		CSOccupancyMin:   500 * time.Millisecond,
		CSOccupancyMax:   1500 * time.Millisecond,
		ReceiverTimeout:  20 * time.Second,
		DialTimeout:      1000 * time.Second,
		StatusAPIEnabled: true,
		StatusAPIAddr:    "127.0.0.1:8090",
	}
}

// LoadFile merges a YAML config file on top of base. A missing path is not
// an error: it simply returns base unchanged, since the file is optional.
func LoadFile(base Config, path string) (Config, error) {
	if path == "" {
		return base, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return base, errors.Wrapf(err, "read config file %q", path)
	}
	cfg := base
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return base, errors.Wrapf(err, "parse config file %q", path)
	}
	return cfg, nil
}

// Environment variable names.
const (
	EnvNumNodes   = "MAEKAWA_NUM_NODES"
	EnvBasePort   = "MAEKAWA_BASE_PORT"
	EnvIterations = "MAEKAWA_ITERATIONS"
)

// LoadEnv merges environment variable overrides on top of base.
func LoadEnv(base Config) (Config, error) {
	cfg := base
	if v := os.Getenv(EnvNumNodes); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return base, errors.Wrapf(err, "%s=%q", EnvNumNodes, v)
		}
		cfg.NumNodes = n
	}
	if v := os.Getenv(EnvBasePort); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return base, errors.Wrapf(err, "%s=%q", EnvBasePort, v)
		}
		cfg.BasePort = p
	}
	if v := os.Getenv(EnvIterations); v != "" {
		it, err := strconv.Atoi(v)
		if err != nil {
			return base, errors.Wrapf(err, "%s=%q", EnvIterations, v)
		}
		cfg.Iterations = it
	}
	return cfg, nil
}

// RegisterFlags binds base's values as defaults for a flag.FlagSet and
// returns a function that, once fs.Parse has been called, applies onto
// its argument only the flags the caller actually passed on the command
// line (via fs.Visit), leaving every other field untouched. This lets
// RegisterFlags/Parse happen before the file/env config is known (the
// caller parses flags early to learn the --config path, a flag the
// caller itself registers) while still respecting the defaults -> file
// -> env -> flags precedence: the returned function is applied to the
// file+env-merged Config, not to the Defaults() it was registered
// against.
func RegisterFlags(fs *flag.FlagSet, base Config) func(Config) Config {
	numNodes := fs.Int("num-nodes", base.NumNodes, "number of participating nodes")
	basePort := fs.Int("base-port", base.BasePort, "base TCP port; node i listens on base+i")
	iterations := fs.Int("iterations", base.Iterations, "critical-section entries per node before terminating")

	return func(cfg Config) Config {
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "num-nodes":
				cfg.NumNodes = *numNodes
			case "base-port":
				cfg.BasePort = *basePort
			case "iterations":
				cfg.Iterations = *iterations
			}
		})
		return cfg
	}
}

// Validate checks the invariants the orchestrator relies on.
func (c Config) Validate() error {
	if c.NumNodes < 1 {
		return errors.Errorf("numNodes must be >= 1, got %d", c.NumNodes)
	}
	if c.BasePort < 0 || c.BasePort+c.NumNodes > 65535 {
		return errors.Errorf("basePort %d with %d nodes exceeds the TCP port range", c.BasePort, c.NumNodes)
	}
	if c.Iterations < 1 {
		return errors.Errorf("iterations must be >= 1, got %d", c.Iterations)
	}
	if c.RequestDelayMin > c.RequestDelayMax {
		return errors.Errorf("requestDelayMin %s must be <= requestDelayMax %s", c.RequestDelayMin, c.RequestDelayMax)
	}
	if c.CSOccupancyMin > c.CSOccupancyMax {
		return errors.Errorf("csOccupancyMin %s must be <= csOccupancyMax %s", c.CSOccupancyMin, c.CSOccupancyMax)
	}
	return nil
}
