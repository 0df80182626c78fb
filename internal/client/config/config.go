// Package config holds the command-line client's settings.
package config

import (
	"flag"
	"os"
	"path/filepath"
	"time"
)

// Config holds runtime settings for the CLI client.
//
// Fields:
//   - ServerURL: base URL of the API, including the /api prefix.
//   - Timeout: per-request timeout.
//   - CredentialFile: where the bearer token is kept between runs.
type Config struct {
	ServerURL      string
	Timeout        time.Duration
	CredentialFile string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://localhost:5000/api"
	c.Timeout = 10 * time.Second
	c.CredentialFile = defaultCredentialFile()
}

// LoadConfig applies defaults and then flags from args. It returns the
// arguments left after the flags, which name the command to run.
func LoadConfig(args []string) (*Config, []string, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	rest, err := parseFlags(cfg, args)
	if err != nil {
		return nil, nil, err
	}
	return cfg, rest, nil
}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string     API base URL
//	-t duration   request timeout
//	-f string     credential file
func parseFlags(cfg *Config, args []string) ([]string, error) {
	fs := flag.NewFlagSet("client", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "API base URL")
	fs.DurationVar(&cfg.Timeout, "t", cfg.Timeout, "request timeout")
	fs.StringVar(&cfg.CredentialFile, "f", cfg.CredentialFile, "file holding the session token")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return fs.Args(), nil
}

func defaultCredentialFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "starterkit", "token")
}
