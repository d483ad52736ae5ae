package guard

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestShouldAcceptRejectsAtSessionCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxActiveSessions = 2
	cfg.SampleInterval = time.Hour // don't let the sampler interfere

	active := int64(2)
	a := NewAdmitter(cfg, func() int64 { return active }, zerolog.Nop())
	defer a.Close()

	ok, reason := a.ShouldAccept("10.0.0.1:1234")
	if ok {
		t.Fatalf("expected rejection at session ceiling")
	}
	if reason == "" {
		t.Fatalf("expected a non-empty rejection reason")
	}
}

func TestShouldAcceptAllowsBelowCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxActiveSessions = 100
	cfg.CPURejectPercent = 0 // disable the CPU brake for this check
	cfg.SampleInterval = time.Hour

	active := int64(1)
	a := NewAdmitter(cfg, func() int64 { return active }, zerolog.Nop())
	defer a.Close()

	ok, _ := a.ShouldAccept("10.0.0.2:1234")
	if !ok {
		t.Fatalf("expected acceptance below the session ceiling")
	}
}

func TestShouldAcceptRejectsPerAddressRateExceeded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxActiveSessions = 100
	cfg.CPURejectPercent = 0
	cfg.SampleInterval = time.Hour
	cfg.AddressAcceptRate = 1
	cfg.AddressAcceptBurst = 1

	active := int64(0)
	a := NewAdmitter(cfg, func() int64 { return active }, zerolog.Nop())
	defer a.Close()

	addr := "203.0.113.9:5555"
	if ok, _ := a.ShouldAccept(addr); !ok {
		t.Fatalf("expected first attempt from %s to be accepted", addr)
	}
	if ok, reason := a.ShouldAccept(addr); ok {
		t.Fatalf("expected second immediate attempt from %s to be rejected", addr)
	} else if reason == "" {
		t.Fatalf("expected a non-empty rejection reason")
	}

	// A different address has its own limiter and is unaffected.
	if ok, _ := a.ShouldAccept("203.0.113.10:5555"); !ok {
		t.Fatalf("expected a different address to be accepted independently")
	}
}

func TestCgroupMemoryLimitNonNegativeWithoutError(t *testing.T) {
	// On a bare-metal/test host neither cgroup path exists (or holds
	// "max"), so the helper must degrade to "no limit" rather than error.
	limit, err := cgroupMemoryLimit()
	if err != nil {
		t.Fatalf("cgroupMemoryLimit: %v", err)
	}
	if limit < 0 {
		t.Fatalf("expected non-negative limit, got %d", limit)
	}
}
