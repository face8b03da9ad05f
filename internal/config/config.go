package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the audio router core.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	ScreamAddr        string
	RTPAddr           string
	RTPSampleRate     int
	RTPBitDepth       int
	RTPChannels       int
	DiscoverySideband string
	QueueDepth        int
	CPUAffinity       string // comma-separated CPU indices to pin dataplane goroutines to, empty disables pinning
	LogLevel          string
	LogFormat         string // "text" or "json"
}

// defaults
const (
	defaultScreamAddr        = ":4010"
	defaultRTPAddr           = ":5004"
	defaultRTPSampleRate     = 48000
	defaultRTPBitDepth       = 16
	defaultRTPChannels       = 2
	defaultDiscoverySideband = ""
	defaultQueueDepth        = 32
	defaultLogLevel          = "info"
	defaultLogFormat         = "text"
)

// envPrefix is the prefix for all audio router environment variables.
const envPrefix = "AUDIOROUTER_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("audiorouter", flag.ContinueOnError)

	fs.StringVar(&cfg.ScreamAddr, "scream-addr", defaultScreamAddr, "UDP listen address for Scream ingress")
	fs.StringVar(&cfg.RTPAddr, "rtp-addr", defaultRTPAddr, "UDP listen address for RTP ingress")
	fs.IntVar(&cfg.RTPSampleRate, "rtp-samplerate", defaultRTPSampleRate, "sample rate assumed for the RTP ingress stream")
	fs.IntVar(&cfg.RTPBitDepth, "rtp-bitdepth", defaultRTPBitDepth, "bit depth assumed for the RTP ingress stream")
	fs.IntVar(&cfg.RTPChannels, "rtp-channels", defaultRTPChannels, "channel count assumed for the RTP ingress stream")
	fs.StringVar(&cfg.DiscoverySideband, "discovery-sideband", defaultDiscoverySideband, "path to write newly-discovered source tags to, one per line (empty disables)")
	fs.IntVar(&cfg.QueueDepth, "queue-depth", defaultQueueDepth, "per-subscriber bounded queue depth for ingress fan-out")
	fs.StringVar(&cfg.CPUAffinity, "cpu-affinity", "", "comma-separated CPU indices to pin dataplane goroutines to (empty disables pinning)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"scream-addr":        envPrefix + "SCREAM_ADDR",
		"rtp-addr":           envPrefix + "RTP_ADDR",
		"rtp-samplerate":     envPrefix + "RTP_SAMPLERATE",
		"rtp-bitdepth":       envPrefix + "RTP_BITDEPTH",
		"rtp-channels":       envPrefix + "RTP_CHANNELS",
		"discovery-sideband": envPrefix + "DISCOVERY_SIDEBAND",
		"queue-depth":        envPrefix + "QUEUE_DEPTH",
		"cpu-affinity":       envPrefix + "CPU_AFFINITY",
		"log-level":          envPrefix + "LOG_LEVEL",
		"log-format":         envPrefix + "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "scream-addr":
			cfg.ScreamAddr = val
		case "rtp-addr":
			cfg.RTPAddr = val
		case "rtp-samplerate":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RTPSampleRate = v
			}
		case "rtp-bitdepth":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RTPBitDepth = v
			}
		case "rtp-channels":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RTPChannels = v
			}
		case "discovery-sideband":
			cfg.DiscoverySideband = val
		case "queue-depth":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.QueueDepth = v
			}
		case "cpu-affinity":
			cfg.CPUAffinity = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.RTPSampleRate <= 0 {
		return fmt.Errorf("rtp-samplerate must be positive, got %d", c.RTPSampleRate)
	}
	validBitDepths := map[int]bool{16: true, 24: true, 32: true}
	if !validBitDepths[c.RTPBitDepth] {
		return fmt.Errorf("rtp-bitdepth must be one of 16, 24, 32; got %d", c.RTPBitDepth)
	}
	if c.RTPChannels < 1 || c.RTPChannels > 8 {
		return fmt.Errorf("rtp-channels must be between 1 and 8, got %d", c.RTPChannels)
	}
	if c.QueueDepth < 1 {
		return fmt.Errorf("queue-depth must be positive, got %d", c.QueueDepth)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// CPUAffinityList parses CPUAffinity into a slice of CPU indices, or nil if
// affinity pinning is disabled.
func (c *Config) CPUAffinityList() ([]int, error) {
	if c.CPUAffinity == "" {
		return nil, nil
	}
	parts := strings.Split(c.CPUAffinity, ",")
	cpus := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid cpu-affinity entry %q: %w", p, err)
		}
		cpus = append(cpus, v)
	}
	return cpus, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
