// Package config loads the proxy's startup configuration: where the
// upstream lives, how to authenticate to it, and the knobs that control
// model overrides and streaming timeouts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spf13/afero"

	"anthrobridge/internal/logger"
	"anthrobridge/internal/secrets"
)

// Config is the proxy's resolved startup configuration.
type Config struct {
	Port                string
	UpstreamBaseURL     string
	UpstreamAPIKey      string
	ReasoningModel      string
	CompletionModel     string
	UpstreamIdleTimeout time.Duration
	PingInterval        time.Duration
}

// fileOverlay is the shape of the optional YAML config file. Every field
// is optional; anything set here is overridden by the matching
// environment variable. For upstream_api_key, Infisical in turn
// overrides both.
type fileOverlay struct {
	UpstreamBaseURL     string `yaml:"upstream_base_url"`
	UpstreamAPIKey      string `yaml:"upstream_api_key"`
	Port                string `yaml:"port"`
	ReasoningModel      string `yaml:"reasoning_model"`
	CompletionModel     string `yaml:"completion_model"`
	UpstreamIdleTimeout string `yaml:"upstream_idle_timeout"`
	PingInterval        string `yaml:"ping_interval"`
}

// Load builds a Config from, in ascending precedence: an optional YAML
// file at configPath (read through fs so this is testable against an
// in-memory filesystem), environment variables, and an Infisical-backed
// secrets loader for UPSTREAM_API_KEY specifically. configPath may be
// empty, in which case the file layer is skipped entirely.
//
// UPSTREAM_BASE_URL is the only required setting; Load returns an error
// rather than panicking when it is missing everywhere.
func Load(fs afero.Fs, configPath string) (Config, error) {
	log := logger.WithComponent("config")

	overlay := fileOverlay{}
	if configPath != "" {
		data, err := afero.ReadFile(fs, configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &overlay); err != nil {
				return Config{}, fmt.Errorf("parsing config file %s: %w", configPath, err)
			}
		case os.IsNotExist(err):
			log.Debug("no config file found, using environment only", "path", configPath)
		default:
			return Config{}, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
	}

	cfg := Config{
		Port:                firstNonEmpty(os.Getenv("PORT"), overlay.Port, "3000"),
		UpstreamBaseURL:     firstNonEmpty(os.Getenv("UPSTREAM_BASE_URL"), overlay.UpstreamBaseURL),
		UpstreamAPIKey:      firstNonEmpty(os.Getenv("UPSTREAM_API_KEY"), overlay.UpstreamAPIKey),
		ReasoningModel:      firstNonEmpty(os.Getenv("REASONING_MODEL"), overlay.ReasoningModel),
		CompletionModel:     firstNonEmpty(os.Getenv("COMPLETION_MODEL"), overlay.CompletionModel),
		UpstreamIdleTimeout: parseDuration(firstNonEmpty(os.Getenv("UPSTREAM_IDLE_TIMEOUT"), overlay.UpstreamIdleTimeout), 10*time.Minute),
		PingInterval:        parseDuration(firstNonEmpty(os.Getenv("PING_INTERVAL"), overlay.PingInterval), 15*time.Second),
	}

	if cfg.UpstreamBaseURL == "" {
		return Config{}, fmt.Errorf("UPSTREAM_BASE_URL is required")
	}
	cfg.UpstreamBaseURL = strings.TrimRight(cfg.UpstreamBaseURL, "/")

	loader, err := secrets.NewLoader()
	if err != nil {
		log.Warn("failed to initialize secrets loader, using env/file value", "error", err)
	} else {
		cfg.UpstreamAPIKey = loader.LoadUpstreamAPIKey(cfg.UpstreamAPIKey)
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
