// Package config loads the process configuration: built-in defaults,
// overridden by an optional .env file, overridden by the real process
// environment, overridden by an optional JSON/JSONC config file for
// anything neither of those set. Grounded on
// xssnick-tonutils-storage-provider's config.LoadConfig
// (create-defaults-then-load-if-present) generalized from a single JSON
// file onto a layered env/file precedence, and on
// bureau-foundation-bureau's jsonc.ToJSON-then-json.Unmarshal idiom for
// comment-tolerant config files.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/tidwall/jsonc"
)

// Config holds every tunable the resolver, transfer engine and rapid
// pipeline read at startup.
type Config struct {
	SearchURL                string
	RepoMasterURL            string
	MaxHTTPRequestsPerSecond int
	UseStreamer              bool
	DisableCertCheck         bool
	SSLCertFile              string
	SSLCertDir               string
	SpringDir                string
	MaxParallelDownloads     int
}

func defaults() Config {
	return Config{
		SearchURL:                "https://springfiles.springrts.com/json.php",
		RepoMasterURL:            "https://repos.springrts.com/repos.gz",
		MaxHTTPRequestsPerSecond: 10,
		UseStreamer:              true,
		SpringDir:                ".",
		MaxParallelDownloads:     10,
	}
}

// envOverrides are the seven PRD_* variables named by the external
// interfaces list, each paired with the Config field it sets.
var envOverrides = []struct {
	key  string
	set  func(*Config, string)
}{
	{"PRD_RAPID_USE_STREAMER", func(c *Config, v string) { c.UseStreamer = parseBool(v, c.UseStreamer) }},
	{"PRD_RAPID_REPO_MASTER", func(c *Config, v string) { c.RepoMasterURL = v }},
	{"PRD_MAX_HTTP_REQS_PER_SEC", func(c *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxHTTPRequestsPerSecond = n
		}
	}},
	{"PRD_HTTP_SEARCH_URL", func(c *Config, v string) { c.SearchURL = v }},
	{"PRD_DISABLE_CERT_CHECK", func(c *Config, v string) { c.DisableCertCheck = parseBool(v, c.DisableCertCheck) }},
	{"PRD_SSL_CERT_FILE", func(c *Config, v string) { c.SSLCertFile = v }},
	{"PRD_SSL_CERT_DIR", func(c *Config, v string) { c.SSLCertDir = v }},
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// jsonOverrides is the JSON/JSONC config file shape: every field is a
// pointer so an absent key in the file leaves the corresponding Config
// field untouched, rather than zeroing it.
type jsonOverrides struct {
	SearchURL                *string `json:"searchURL"`
	RepoMasterURL            *string `json:"repoMasterURL"`
	MaxHTTPRequestsPerSecond *int    `json:"maxHTTPRequestsPerSecond"`
	UseStreamer              *bool   `json:"useStreamer"`
	DisableCertCheck         *bool   `json:"disableCertCheck"`
	SSLCertFile              *string `json:"sslCertFile"`
	SSLCertDir               *string `json:"sslCertDir"`
	SpringDir                *string `json:"springDir"`
	MaxParallelDownloads     *int    `json:"maxParallelDownloads"`
}

// Load builds the effective Config: defaults, then envPath (if it exists)
// loaded via godotenv without clobbering variables the real environment
// already set, then the seven PRD_* variables, then configPath (if
// non-empty and it exists) for anything still unset by the environment.
func Load(fs afero.Fs, envPath, configPath string) (Config, error) {
	cfg := defaults()

	if envPath != "" {
		if exists, err := afero.Exists(fs, envPath); err != nil {
			return Config{}, fmt.Errorf("config: stat %s: %w", envPath, err)
		} else if exists {
			data, err := afero.ReadFile(fs, envPath)
			if err != nil {
				return Config{}, fmt.Errorf("config: read %s: %w", envPath, err)
			}
			vars, err := godotenv.Parse(bytes.NewReader(data))
			if err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", envPath, err)
			}
			for k, v := range vars {
				if _, set := os.LookupEnv(k); !set {
					os.Setenv(k, v) //nolint:errcheck // Setenv only fails on an invalid key, never here
				}
			}
		}
	}

	setFromEnv := make(map[string]bool, len(envOverrides))
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.key); ok {
			o.set(&cfg, v)
			setFromEnv[o.key] = true
		}
	}

	if configPath != "" {
		if exists, err := afero.Exists(fs, configPath); err != nil {
			return Config{}, fmt.Errorf("config: stat %s: %w", configPath, err)
		} else if exists {
			if err := applyJSONFile(fs, configPath, &cfg, setFromEnv); err != nil {
				return Config{}, err
			}
		}
	}

	return cfg, nil
}

// applyJSONFile parses configPath as JSONC and overlays any field not
// already pinned by an environment variable, per the env-wins-over-file
// precedence.
func applyJSONFile(fs afero.Fs, configPath string, cfg *Config, setFromEnv map[string]bool) error {
	raw, err := afero.ReadFile(fs, configPath)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", configPath, err)
	}

	var overrides jsonOverrides
	if err := json.Unmarshal(jsonc.ToJSON(raw), &overrides); err != nil {
		return fmt.Errorf("config: parse %s: %w", configPath, err)
	}

	if overrides.SearchURL != nil && !setFromEnv["PRD_HTTP_SEARCH_URL"] {
		cfg.SearchURL = *overrides.SearchURL
	}
	if overrides.RepoMasterURL != nil && !setFromEnv["PRD_RAPID_REPO_MASTER"] {
		cfg.RepoMasterURL = *overrides.RepoMasterURL
	}
	if overrides.MaxHTTPRequestsPerSecond != nil && !setFromEnv["PRD_MAX_HTTP_REQS_PER_SEC"] {
		cfg.MaxHTTPRequestsPerSecond = *overrides.MaxHTTPRequestsPerSecond
	}
	if overrides.UseStreamer != nil && !setFromEnv["PRD_RAPID_USE_STREAMER"] {
		cfg.UseStreamer = *overrides.UseStreamer
	}
	if overrides.DisableCertCheck != nil && !setFromEnv["PRD_DISABLE_CERT_CHECK"] {
		cfg.DisableCertCheck = *overrides.DisableCertCheck
	}
	if overrides.SSLCertFile != nil && !setFromEnv["PRD_SSL_CERT_FILE"] {
		cfg.SSLCertFile = *overrides.SSLCertFile
	}
	if overrides.SSLCertDir != nil && !setFromEnv["PRD_SSL_CERT_DIR"] {
		cfg.SSLCertDir = *overrides.SSLCertDir
	}
	// SpringDir and MaxParallelDownloads have no environment-variable
	// counterpart, so the file always applies when present.
	if overrides.SpringDir != nil {
		cfg.SpringDir = *overrides.SpringDir
	}
	if overrides.MaxParallelDownloads != nil {
		cfg.MaxParallelDownloads = *overrides.MaxParallelDownloads
	}

	return nil
}
