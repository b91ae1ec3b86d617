package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sparkplug-tck/adapters"
	"sparkplug-tck/probe"
	"sparkplug-tck/scenarios"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML configuration file. Command line flags take
// precedence over anything set here.
type Config struct {
	ListenAddress string        `yaml:"listen_address"`
	ResultLog     string        `yaml:"result_log"`
	ResultsTopic  string        `yaml:"results_topic"`
	StartDelay    time.Duration `yaml:"start_delay"`

	Broker BrokerConfig `yaml:"broker"`
	Probe  ProbeConfig  `yaml:"probe"`
}

type BrokerConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type ProbeConfig struct {
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`

	TLS ProbeTLSConfig `yaml:"tls"`
}

type ProbeTLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

func (c *Config) EnsureDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = adapters.BrokerDefaultAddress
	}

	if c.ResultLog == "" {
		c.ResultLog = adapters.DefaultResultLogPath
	}

	if c.ResultsTopic == "" {
		c.ResultsTopic = adapters.ResultTopic
	}

	if c.StartDelay == 0 {
		c.StartDelay = scenarios.DefaultStartDelay
	}

	if c.Probe.Timeout == 0 {
		c.Probe.Timeout = probe.DefaultTimeout
	}
}

// LoadConfig reads the configuration file at path. An empty path yields
// the defaults.
func LoadConfig(path string) (Config, error) {
	var config Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("error reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", path, err)
		}
	}
	config.EnsureDefaults()
	return config, nil
}

// ServerTLS returns the listener TLS configuration, or nil for plain TCP.
func (b BrokerConfig) ServerTLS() (*tls.Config, error) {
	if b.CertFile == "" && b.KeyFile == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(b.CertFile, b.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificates: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ClientTLS returns the TLS configuration used by probe clients, or nil
// when probing over plain TCP.
func (p ProbeTLSConfig) ClientTLS() (*tls.Config, error) {
	if !p.Enabled {
		return nil, nil
	}

	config := &tls.Config{
		InsecureSkipVerify: p.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
	if p.CAFile != "" {
		pem, err := os.ReadFile(p.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", p.CAFile)
		}
		config.RootCAs = pool
	}
	return config, nil
}
