// Package guard implements admission control for new Lock sessions:
// static limits plus CPU/memory safety valves, adapted from the
// resource-guard pattern used for websocket connection admission.
package guard

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/time/rate"
)

// Config holds the static limits the Admitter enforces.
type Config struct {
	MaxActiveSessions int
	MaxGoroutines     int
	CPURejectPercent  float64 // reject new sessions above this process CPU%
	MemoryLimitBytes  int64   // 0 = unbounded (no cgroup limit detected)
	SampleInterval    time.Duration

	// GlobalAcceptRate/GlobalAcceptBurst bound total new-session
	// establishment across all remote addresses combined — a fast-path
	// check with no per-address map lookup.
	GlobalAcceptRate  float64
	GlobalAcceptBurst int

	// AddressAcceptRate/AddressAcceptBurst bound new-session attempts
	// from a single remote address.
	AddressAcceptRate  float64
	AddressAcceptBurst int
	// AddressTTL controls how long an idle address's limiter is kept
	// before the periodic cleanup evicts it.
	AddressTTL time.Duration
}

// DefaultConfig returns conservative defaults suitable for a
// single-process lock server.
func DefaultConfig() Config {
	return Config{
		MaxActiveSessions:  10000,
		MaxGoroutines:      20000,
		CPURejectPercent:   90.0,
		SampleInterval:     2 * time.Second,
		GlobalAcceptRate:   5000,
		GlobalAcceptBurst:  5000,
		AddressAcceptRate:  20,
		AddressAcceptBurst: 40,
		AddressTTL:         10 * time.Minute,
	}
}

// addrLimiterEntry is one remote address's rate limiter, plus the time
// it was last consulted so the cleanup loop can evict idle entries.
type addrLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Admitter gates new sessions: a hard active-session ceiling plus CPU,
// memory and goroutine-count emergency brakes, sampled periodically in
// the background so ShouldAccept never itself blocks on a syscall, and a
// global-plus-per-address rate limit on session establishment.
type Admitter struct {
	cfg Config
	log zerolog.Logger

	activeSessions func() int64
	proc           *process.Process

	currentCPU    atomic.Value // float64
	currentMemory atomic.Value // int64

	globalLimiter *rate.Limiter

	addrMu       sync.RWMutex
	addrLimiters map[string]*addrLimiterEntry

	stop chan struct{}
}

// NewAdmitter wires cfg against activeSessions, a callback the caller
// supplies to report its own live session count (e.g. the arbiter
// server's session counter).
func NewAdmitter(cfg Config, activeSessions func() int64, log zerolog.Logger) *Admitter {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 2 * time.Second
	}

	proc, err := process.NewProcess(int32(processPID()))
	if err != nil {
		log.Warn().Err(err).Msg("guard: failed to attach process sampler, CPU brake disabled")
	}

	if cfg.MemoryLimitBytes == 0 {
		if limit, err := cgroupMemoryLimit(); err == nil && limit > 0 {
			cfg.MemoryLimitBytes = limit
			log.Info().Int64("memory_limit_bytes", limit).Msg("guard: detected cgroup memory limit")
		}
	}

	a := &Admitter{
		cfg:            cfg,
		log:            log,
		activeSessions: activeSessions,
		proc:           proc,
		globalLimiter:  rate.NewLimiter(rate.Limit(cfg.GlobalAcceptRate), cfg.GlobalAcceptBurst),
		addrLimiters:   make(map[string]*addrLimiterEntry),
		stop:           make(chan struct{}),
	}
	a.currentCPU.Store(0.0)
	a.currentMemory.Store(int64(0))

	go a.sampleLoop()
	return a
}

// Close stops the background sampler.
func (a *Admitter) Close() {
	close(a.stop)
}

func (a *Admitter) sampleLoop() {
	ticker := time.NewTicker(a.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.sample()
			a.cleanupAddrLimiters()
		}
	}
}

func (a *Admitter) sample() {
	if a.proc != nil {
		if pct, err := a.proc.CPUPercent(); err == nil {
			a.currentCPU.Store(pct)
		}
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		a.currentMemory.Store(int64(vmem.Used))
	}
}

// getAddrLimiter retrieves or creates the rate limiter tracking addr,
// mirroring the teacher's per-IP limiter map: a read-locked fast path
// for the common case, a write-locked double-checked create otherwise.
func (a *Admitter) getAddrLimiter(addr string) *rate.Limiter {
	a.addrMu.RLock()
	entry, ok := a.addrLimiters[addr]
	a.addrMu.RUnlock()
	if ok {
		a.addrMu.Lock()
		entry.lastAccess = time.Now()
		a.addrMu.Unlock()
		return entry.limiter
	}

	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	if entry, ok = a.addrLimiters[addr]; ok {
		entry.lastAccess = time.Now()
		return entry.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(a.cfg.AddressAcceptRate), a.cfg.AddressAcceptBurst)
	a.addrLimiters[addr] = &addrLimiterEntry{limiter: limiter, lastAccess: time.Now()}
	return limiter
}

// cleanupAddrLimiters evicts address limiters idle longer than
// cfg.AddressTTL, so a long-running server doesn't accumulate one entry
// per distinct client address forever.
func (a *Admitter) cleanupAddrLimiters() {
	if a.cfg.AddressTTL <= 0 {
		return
	}
	now := time.Now()
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	for addr, entry := range a.addrLimiters {
		if now.Sub(entry.lastAccess) > a.cfg.AddressTTL {
			delete(a.addrLimiters, addr)
		}
	}
}

// ShouldAccept applies, in order: global acceptance-rate limit, per-
// address acceptance-rate limit, active-session ceiling, CPU brake,
// memory brake, goroutine brake. addr identifies the connecting remote
// address (e.g. the client IP) for the per-address limit.
func (a *Admitter) ShouldAccept(addr string) (accept bool, reason string) {
	if !a.globalLimiter.Allow() {
		return false, "global new-session rate exceeded"
	}
	if !a.getAddrLimiter(addr).Allow() {
		return false, fmt.Sprintf("new-session rate exceeded for %s", addr)
	}

	active := a.activeSessions()
	if active >= int64(a.cfg.MaxActiveSessions) {
		return false, fmt.Sprintf("at max active sessions (%d)", a.cfg.MaxActiveSessions)
	}

	cpu := a.currentCPU.Load().(float64)
	if a.cfg.CPURejectPercent > 0 && cpu > a.cfg.CPURejectPercent {
		return false, fmt.Sprintf("CPU %.1f%% > %.1f%%", cpu, a.cfg.CPURejectPercent)
	}

	if a.cfg.MemoryLimitBytes > 0 {
		memUsed := a.currentMemory.Load().(int64)
		if memUsed > a.cfg.MemoryLimitBytes {
			return false, "memory limit exceeded"
		}
	}

	if goros := runtime.NumGoroutine(); a.cfg.MaxGoroutines > 0 && goros > a.cfg.MaxGoroutines {
		return false, fmt.Sprintf("goroutine limit exceeded (%d > %d)", goros, a.cfg.MaxGoroutines)
	}

	return true, ""
}
