package main

import (
	"os"

	"github.com/BurntSushi/toml"
)

type config struct {
	// Addresses (without port) to listen on, UDP and TCP each.
	Listen []string

	// Port to listen on, for every address.
	Port int

	// Name of the built-in DoH provider to send queries to.
	Provider string

	// Pre-resolved IP of the provider endpoint. Avoids the circular
	// dependency of resolving the provider's own hostname through DNS.
	BootstrapAddress string `toml:"bootstrap-address"`

	// Resolution worker count and work queue capacity; zero for defaults.
	Workers   int
	QueueSize int `toml:"queue-size"`

	// "error", "warn", "info", "debug" or "trace".
	LogLevel string `toml:"log-level"`

	Syslog syslogConfig
}

type syslogConfig struct {
	Enabled   bool
	Network   string
	Address   string
	Priority  int
	Tag       string
	LogQuery  bool `toml:"log-query"`
	LogAnswer bool `toml:"log-answer"`
}

func defaultConfig() config {
	return config{
		Listen:   []string{"127.0.0.1", "::1"},
		Port:     53,
		Provider: "",
		LogLevel: "info",
	}
}

// LoadConfig reads a config file and returns the decoded structure.
func loadConfig(name string) (config, error) {
	c := defaultConfig()
	f, err := os.Open(name)
	if err != nil {
		return c, err
	}
	defer f.Close()
	_, err = toml.DecodeReader(f, &c)
	return c, err
}
