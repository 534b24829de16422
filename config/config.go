// Package config loads deployment configuration for the relay service
// from an optional YAML file, with overrides for the settings that have
// historically been controlled through the environment.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oblink/outbound-relay/common"
)

// DefaultCertsDir is where certificate material lives unless configured
// otherwise.
const DefaultCertsDir = "/app/open_banking_certs"

// Config holds the deployment settings of the relay service.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// CertsDir is the certificate root directory. All cert/key/CA paths
	// in requests resolve relative to it.
	CertsDir string `yaml:"certs_dir"`

	// StrictVerify enforces full TLS verification and makes a CA bundle
	// mandatory for requests carrying TLS params.
	StrictVerify bool `yaml:"strict_verify"`

	// RelayTimeout is the total per-request budget.
	RelayTimeout time.Duration `yaml:"relay_timeout"`

	// WorkerFactor scales the concurrency bound per CPU core.
	WorkerFactor int `yaml:"worker_factor"`

	EnablePprof  bool  `yaml:"pprof"`
	DrainSeconds int64 `yaml:"drain_seconds"`

	LogJSON    bool   `yaml:"log_json"`
	LogDebug   bool   `yaml:"log_debug"`
	LogService string `yaml:"log_service"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		ListenAddr:   "127.0.0.1:8080",
		MetricsAddr:  "127.0.0.1:8090",
		CertsDir:     DefaultCertsDir,
		RelayTimeout: 60 * time.Second,
		WorkerFactor: 1,
		DrainSeconds: 45,
		LogService:   common.PackageName,
	}
}

// Load reads a YAML config file on top of the defaults. Unknown fields
// are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays the environment variables the deployed service has
// always honored: OB_CERTS_DIR for the certificate root and VERIFY_CERT
// for strict verification.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if dir, ok := lookup("OB_CERTS_DIR"); ok && dir != "" {
		c.CertsDir = dir
	}
	if raw, ok := lookup("VERIFY_CERT"); ok && raw != "" {
		if verify, err := strconv.ParseBool(raw); err == nil {
			c.StrictVerify = verify
		} else {
			// Any other non-empty value enables verification.
			c.StrictVerify = true
		}
	}
}

// Workers returns the concurrency bound: CPU cores times the per-core
// factor, never below 2.
func (c *Config) Workers() int {
	factor := c.WorkerFactor
	if factor < 1 {
		factor = 1
	}
	n := runtime.NumCPU() * factor
	if n < 2 {
		n = 2
	}
	return n
}
