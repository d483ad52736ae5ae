package config

import "testing"

func validServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:              ":7070",
		MaxActiveSessions: 100,
		CPURejectPercent:  90,
		DataLossPolicy:    "fatal",
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

func TestServerConfigValidateAcceptsDefaults(t *testing.T) {
	if err := validServerConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestServerConfigValidateRejectsBadDataLossPolicy(t *testing.T) {
	cfg := validServerConfig()
	cfg.DataLossPolicy = "ignore"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for invalid data loss policy")
	}
}

func TestServerConfigValidateRejectsBadCPUPercent(t *testing.T) {
	cfg := validServerConfig()
	cfg.CPURejectPercent = 150
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for out-of-range CPU percent")
	}
}

func TestServerConfigValidateRequiresAddr(t *testing.T) {
	cfg := validServerConfig()
	cfg.Addr = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
