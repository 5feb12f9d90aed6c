// Package status tracks live indexing progress for pull-only observers.
// The orchestrator pushes an update after each file; callers (the status
// CLI command, the MCP surface) only ever read a Snapshot. This one-way
// flow keeps the reporter from ever needing a reference back into
// orchestrator state.
package status

import (
	"sync"
	"time"

	"github.com/amanmcp/codesearch/internal/ratelimit"
	"github.com/amanmcp/codesearch/internal/state"
)

// Phase names the orchestrator's current state-machine phase, mirrored
// here so a snapshot can report it without importing internal/index.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseScanning      Phase = "scanning"
	PhaseCategorizing  Phase = "categorizing"
	PhaseEmbedding     Phase = "embedding"
	PhaseCheckpointing Phase = "checkpointing"
	PhaseShuttingDown  Phase = "shutting_down"
)

// ewmaAlpha is the smoothing factor for the per-file duration estimate
// used to derive ETA.
const ewmaAlpha = 0.2

// RecentError is one entry in the reporter's own view of the error ring,
// shaped for direct JSON/CLI rendering.
type RecentError struct {
	FilePath  string    `json:"file_path"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is an immutable, point-in-time view of indexing progress. It
// is safe to copy and to serialize directly.
type Snapshot struct {
	RunID        string `json:"run_id,omitempty"`
	IsIndexing   bool   `json:"is_indexing"`
	Phase        Phase  `json:"phase"`
	FilesTotal   int    `json:"files_total"`
	FilesDone    int    `json:"files_done"`
	CurrentFile  string `json:"current_file,omitempty"`
	PercentDone  float64 `json:"percent_done"`
	ETA          time.Duration `json:"eta_ns"`

	FilesPerSecond  float64       `json:"files_per_second"`
	AvgMsPerFile    float64       `json:"avg_ms_per_file"`
	ElapsedRuntime  time.Duration `json:"elapsed_runtime_ns"`

	Counters state.Counters `json:"counters"`

	Quota ratelimit.Snapshot `json:"quota"`

	PointsCount    int   `json:"points_count"`
	EstimatedBytes int64 `json:"estimated_bytes"`

	RecentErrors []RecentError `json:"recent_errors,omitempty"`

	LastResult string `json:"last_result,omitempty"` // "", "partial" (QuotaExhausted), "complete", "error"
}

// Reporter accumulates progress as the orchestrator drives it through a
// run and serves Snapshot on demand. All mutating calls are cheap and
// non-blocking; Snapshot never blocks a concurrent writer for more than
// the duration of a counter copy.
type Reporter struct {
	mu sync.RWMutex

	runID       string
	isIndexing  bool
	phase       Phase
	filesTotal  int
	filesDone   int
	currentFile string
	startedAt   time.Time
	lastFileAt  time.Time
	avgFileMs   float64 // EWMA of per-file duration, in milliseconds
	counters    state.Counters
	recentErrors []RecentError
	lastResult  string

	governor    *ratelimit.Governor
	vectorStats func() (count int, estBytes int64)
}

// New constructs an idle Reporter. governor and vectorStats supply the
// quota and storage snapshots; vectorStats may be nil before a vector
// store connection exists, in which case Snapshot reports zeros.
func New(governor *ratelimit.Governor, vectorStats func() (int, int64)) *Reporter {
	return &Reporter{
		phase:       PhaseIdle,
		governor:    governor,
		vectorStats: vectorStats,
	}
}

// StartRun marks the beginning of an indexing pass over filesTotal files.
// runID correlates this run's log lines and status snapshots; the
// orchestrator mints one with uuid.NewString() per Run call.
func (r *Reporter) StartRun(filesTotal int, runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runID = runID
	r.isIndexing = true
	r.phase = PhaseScanning
	r.filesTotal = filesTotal
	r.filesDone = 0
	r.currentFile = ""
	r.startedAt = time.Now()
	r.lastFileAt = r.startedAt
	r.avgFileMs = 0
	r.lastResult = ""
}

// SetPhase updates the orchestrator's current state-machine phase.
func (r *Reporter) SetPhase(phase Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = phase
}

// SetCounters records the outcome of the most recent categorization pass.
func (r *Reporter) SetCounters(c state.Counters) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = c
}

// BeginFile records which file is currently being processed.
func (r *Reporter) BeginFile(relativePath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentFile = relativePath
}

// FinishFile advances the completed-file counter and folds this file's
// duration into the EWMA used for ETA.
func (r *Reporter) FinishFile() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsedMs := float64(now.Sub(r.lastFileAt).Milliseconds())
	r.lastFileAt = now
	r.filesDone++
	r.currentFile = ""

	if r.avgFileMs == 0 {
		r.avgFileMs = elapsedMs
	} else {
		r.avgFileMs = ewmaAlpha*elapsedMs + (1-ewmaAlpha)*r.avgFileMs
	}
}

// RecordError appends a file-level failure to the bounded recent-errors
// ring, mirroring state.IncrementalState's FIFO eviction at state.MaxRecentErrors.
func (r *Reporter) RecordError(filePath, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recentErrors = append(r.recentErrors, RecentError{
		FilePath:  filePath,
		Message:   message,
		Timestamp: time.Now(),
	})
	if len(r.recentErrors) > state.MaxRecentErrors {
		r.recentErrors = r.recentErrors[len(r.recentErrors)-state.MaxRecentErrors:]
	}
}

// FinishRun marks the run complete with the given outcome ("complete",
// "partial", or "error") and clears isIndexing.
func (r *Reporter) FinishRun(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.isIndexing = false
	r.phase = PhaseIdle
	r.currentFile = ""
	r.lastResult = result
}

// Snapshot returns the current progress view. It never mutates Reporter
// state and never blocks on anything but its own short-held mutex.
func (r *Reporter) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var percent float64
	if r.filesTotal > 0 {
		percent = float64(r.filesDone) / float64(r.filesTotal) * 100.0
	}

	var eta time.Duration
	if r.avgFileMs > 0 && r.filesTotal > r.filesDone {
		remaining := r.filesTotal - r.filesDone
		eta = time.Duration(float64(remaining)*r.avgFileMs) * time.Millisecond
	}

	elapsed := time.Duration(0)
	var filesPerSec float64
	if !r.startedAt.IsZero() {
		elapsed = time.Since(r.startedAt)
		if elapsed > 0 {
			filesPerSec = float64(r.filesDone) / elapsed.Seconds()
		}
	}

	var quota ratelimit.Snapshot
	if r.governor != nil {
		quota = r.governor.Snapshot()
	}

	var pointsCount int
	var estBytes int64
	if r.vectorStats != nil {
		pointsCount, estBytes = r.vectorStats()
	}

	errs := make([]RecentError, len(r.recentErrors))
	copy(errs, r.recentErrors)

	return Snapshot{
		RunID:          r.runID,
		IsIndexing:     r.isIndexing,
		Phase:          r.phase,
		FilesTotal:     r.filesTotal,
		FilesDone:      r.filesDone,
		CurrentFile:    r.currentFile,
		PercentDone:    percent,
		ETA:            eta,
		FilesPerSecond: filesPerSec,
		AvgMsPerFile:   r.avgFileMs,
		ElapsedRuntime: elapsed,
		Counters:       r.counters,
		Quota:          quota,
		PointsCount:    pointsCount,
		EstimatedBytes: estBytes,
		RecentErrors:   errs,
		LastResult:     r.lastResult,
	}
}
