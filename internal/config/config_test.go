package config

import (
	"log/slog"
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"AUDIOROUTER_SCREAM_ADDR", "AUDIOROUTER_RTP_ADDR", "AUDIOROUTER_RTP_SAMPLERATE",
		"AUDIOROUTER_RTP_BITDEPTH", "AUDIOROUTER_RTP_CHANNELS", "AUDIOROUTER_DISCOVERY_SIDEBAND",
		"AUDIOROUTER_QUEUE_DEPTH", "AUDIOROUTER_CPU_AFFINITY", "AUDIOROUTER_LOG_LEVEL", "AUDIOROUTER_LOG_FORMAT",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"audiorouter"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ScreamAddr != defaultScreamAddr {
		t.Errorf("ScreamAddr = %q, want %q", cfg.ScreamAddr, defaultScreamAddr)
	}
	if cfg.RTPAddr != defaultRTPAddr {
		t.Errorf("RTPAddr = %q, want %q", cfg.RTPAddr, defaultRTPAddr)
	}
	if cfg.RTPSampleRate != defaultRTPSampleRate {
		t.Errorf("RTPSampleRate = %d, want %d", cfg.RTPSampleRate, defaultRTPSampleRate)
	}
	if cfg.QueueDepth != defaultQueueDepth {
		t.Errorf("QueueDepth = %d, want %d", cfg.QueueDepth, defaultQueueDepth)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
}

func TestEnvVarOverride(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"audiorouter"}
	t.Setenv("AUDIOROUTER_RTP_ADDR", ":9999")
	t.Setenv("AUDIOROUTER_QUEUE_DEPTH", "64")
	t.Setenv("AUDIOROUTER_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.RTPAddr != ":9999" {
		t.Errorf("RTPAddr = %q, want :9999", cfg.RTPAddr)
	}
	if cfg.QueueDepth != 64 {
		t.Errorf("QueueDepth = %d, want 64", cfg.QueueDepth)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"audiorouter", "--queue-depth", "16", "--log-level", "warn"}
	t.Setenv("AUDIOROUTER_QUEUE_DEPTH", "64")
	t.Setenv("AUDIOROUTER_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.QueueDepth != 16 {
		t.Errorf("QueueDepth = %d, want 16 (CLI should override env)", cfg.QueueDepth)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestValidateInvalidBitDepth(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"audiorouter", "--rtp-bitdepth", "12"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid bit depth, got nil")
	}
}

func TestValidateInvalidChannelCount(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"audiorouter", "--rtp-channels", "0"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid channel count, got nil")
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"audiorouter", "--log-level", "verbose"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestCPUAffinityListParsesIndices(t *testing.T) {
	cfg := &Config{CPUAffinity: "0, 2,3"}
	cpus, err := cfg.CPUAffinityList()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{0, 2, 3}
	if len(cpus) != len(want) {
		t.Fatalf("CPUAffinityList() = %v, want %v", cpus, want)
	}
	for i := range want {
		if cpus[i] != want[i] {
			t.Errorf("CPUAffinityList()[%d] = %d, want %d", i, cpus[i], want[i])
		}
	}
}

func TestCPUAffinityListEmptyReturnsNil(t *testing.T) {
	cfg := &Config{}
	cpus, err := cfg.CPUAffinityList()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cpus != nil {
		t.Errorf("CPUAffinityList() = %v, want nil", cpus)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
