// Package ratelimit tracks rolling RPM/TPM/RPD windows for the embedding
// provider and paces calls so the indexer never exceeds its quota.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// dailyResetLocation is the fixed timezone used to decide when the daily
// quota rolls over. The provider's own reset boundary is undocumented, so
// this is an explicit implementation choice (see DESIGN.md).
var dailyResetLocation = func() *time.Location {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// ModelProfile describes the quota and dispatch shape for one embedding
// model: its rolling-window limits, safety margins, and whether callers
// should fan out in parallel batches or issue requests serially.
type ModelProfile struct {
	Name string

	RPMLimit int // requests per rolling 60s window
	TPMLimit int // tokens per rolling 60s window
	RPDLimit int // requests per calendar day in dailyResetLocation; 0 means unlimited (paid tier)

	SafetyFactorRPM float64
	SafetyFactorTPM float64
	SafetyFactorRPD float64

	Parallel   bool // true selects the parallel-profile dispatch in the embedding client
	BatchSize  int  // parallel batch width; ignored when Parallel is false
	Dimensions int
}

// withDefaults fills in the spec's default margins (0.9 for
// RPM/TPM, 0.95 for RPD) for any zero-valued field.
func (p ModelProfile) withDefaults() ModelProfile {
	if p.SafetyFactorRPM == 0 {
		p.SafetyFactorRPM = 0.9
	}
	if p.SafetyFactorTPM == 0 {
		p.SafetyFactorTPM = 0.9
	}
	if p.SafetyFactorRPD == 0 {
		p.SafetyFactorRPD = 0.95
	}
	return p
}

// Snapshot is a point-in-time view of governor usage, consumed by the
// status reporter. It never mutates governor state.
type Snapshot struct {
	RequestsThisMinute int
	TokensThisMinute   int
	RequestsToday       int
	RPMLimit            int
	TPMLimit            int
	RPDLimit             int
	WindowStart          time.Time
	Date                 string
}

// Governor enforces a model's RPM/TPM/RPD windows for every embedding
// caller sharing it. A single mutex guards the three counters; at this
// scale (tens of concurrent embedding tasks) a queue data structure would
// be overkill, and acquiring the mutex in call order already gives FIFO
// admission.
type Governor struct {
	profile ModelProfile

	mu          sync.Mutex
	windowStart time.Time
	requests    int
	tokens      int

	day      string
	dayCount int
}

// NewGovernor constructs a Governor for the given model profile, with
// default safety factors applied where unset.
func NewGovernor(profile ModelProfile) *Governor {
	return &Governor{
		profile:     profile.withDefaults(),
		windowStart: time.Now(),
		day:         currentDay(),
	}
}

func currentDay() string {
	return time.Now().In(dailyResetLocation).Format("2006-01-02")
}

// minSpacing is the minimum safe inter-request spacing that smooths
// bursts to exactly the RPM budget: 60s / (rpmLimit * safetyFactor).
func (g *Governor) minSpacing() time.Duration {
	if g.profile.RPMLimit <= 0 {
		return 0
	}
	allowed := float64(g.profile.RPMLimit) * g.profile.SafetyFactorRPM
	if allowed <= 0 {
		return time.Minute
	}
	return time.Duration(float64(time.Minute) / allowed)
}

func (g *Governor) rollWindowsLocked() {
	now := time.Now()
	if now.Sub(g.windowStart) >= time.Minute {
		g.windowStart = now
		g.requests = 0
		g.tokens = 0
	}
	if today := currentDay(); today != g.day {
		g.day = today
		g.dayCount = 0
	}
}

// Reserve blocks until a request carrying estimatedTokens can be admitted
// under all configured windows, then books the request and day counters
// immediately (so concurrent callers can't all observe "room available"
// and overshoot the RPM/RPD windows together). The token window is only
// checked here, not booked — Record books the actual token count once
// the call completes, since TPM is rarely the binding constraint and the
// estimate is allowed to be inexact.
func (g *Governor) Reserve(ctx context.Context, estimatedTokens int) error {
	for {
		wait, ok := g.tryReserve(estimatedTokens)
		if ok {
			return nil
		}
		if wait <= 0 {
			wait = g.minSpacing()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (g *Governor) tryReserve(estimatedTokens int) (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollWindowsLocked()

	rpmCap := capFor(g.profile.RPMLimit, g.profile.SafetyFactorRPM)
	tpmCap := capFor(g.profile.TPMLimit, g.profile.SafetyFactorTPM)

	if rpmCap > 0 && g.requests+1 > rpmCap {
		return time.Until(g.windowStart.Add(time.Minute)), false
	}
	if tpmCap > 0 && g.tokens+estimatedTokens > tpmCap {
		return time.Until(g.windowStart.Add(time.Minute)), false
	}
	if g.profile.RPDLimit > 0 {
		rpdCap := capFor(g.profile.RPDLimit, g.profile.SafetyFactorRPD)
		if rpdCap > 0 && g.dayCount+1 > rpdCap {
			return time.Until(nextMidnight()), false
		}
	}

	g.requests++
	g.dayCount++
	return 0, true
}

func capFor(limit int, safety float64) int {
	if limit <= 0 {
		return 0
	}
	n := int(float64(limit) * safety)
	if n < 1 {
		n = 1
	}
	return n
}

func nextMidnight() time.Time {
	now := time.Now().In(dailyResetLocation)
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, dailyResetLocation).AddDate(0, 0, 1)
	return midnight
}

// Record books the actual token usage from a completed call into the
// rolling TPM window.
func (g *Governor) Record(actualTokens int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollWindowsLocked()
	g.tokens += actualTokens
}

// Snapshot returns the current usage for status reporting. It never
// blocks and never mutates counters beyond the passive window roll.
func (g *Governor) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollWindowsLocked()
	return Snapshot{
		RequestsThisMinute: g.requests,
		TokensThisMinute:   g.tokens,
		RequestsToday:      g.dayCount,
		RPMLimit:           g.profile.RPMLimit,
		TPMLimit:           g.profile.TPMLimit,
		RPDLimit:           g.profile.RPDLimit,
		WindowStart:        g.windowStart,
		Date:               g.day,
	}
}

// EstimateTokens approximates token count for a chunk of text when no
// true tokenizer is available: ceil(len(content)/4). Over-estimation is
// preferred over under-estimation since TPM is not usually the binding
// constraint.
func EstimateTokens(content string) int {
	n := len(content)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
