// Package state persists the incremental indexing snapshot — per-file
// hashes, pending work, and daily quota usage — as a single JSON document
// under <repo>/.memory/, so a restart resumes instead of re-indexing from
// scratch.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
)

// CurrentSchemaVersion is bumped whenever the on-disk shape changes in a
// way that isn't backward compatible. Loading an unknown version is
// treated as StateCorruption: Load returns an empty snapshot with its
// recovered flag set (the caller logs the warning), forcing a full re-index.
const CurrentSchemaVersion = "1.0.0"

// FileStatus is the lifecycle state of a single indexed file.
type FileStatus string

const (
	StatusIndexed FileStatus = "indexed"
	StatusPending FileStatus = "pending"
	StatusFailed  FileStatus = "failed"
)

// FileRecord is the per-file indexing metadata kept in the snapshot.
type FileRecord struct {
	RelativePath  string     `json:"relative_path"`
	ContentHash   string     `json:"content_hash"`
	LastIndexedAt time.Time  `json:"last_indexed_at"`
	ChunkCount    int        `json:"chunk_count"`
	Status        FileStatus `json:"status"`
}

// DailyQuota tracks chunks consumed against the daily budget for one
// local-calendar date.
type DailyQuota struct {
	Date               string `json:"date"`
	ChunksConsumedToday int   `json:"chunks_consumed_today"`
	DailyLimit          int   `json:"daily_limit"`
}

// Counters summarizes the outcome of the most recent scan categorization.
type Counters struct {
	New      int `json:"new"`
	Modified int `json:"modified"`
	Unchanged int `json:"unchanged"`
	Deleted  int `json:"deleted"`
}

// ErrorEntry is one entry in the bounded recentErrors ring.
type ErrorEntry struct {
	FilePath  string    `json:"file_path"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// MaxRecentErrors bounds the recentErrors ring (FIFO eviction).
const MaxRecentErrors = 10

// IncrementalState is the process-wide persistent snapshot described in
// spec §3. The Orchestrator is the sole mutator of an in-memory instance;
// the Store below only knows how to load/save it.
type IncrementalState struct {
	SchemaVersion   string                 `json:"schema_version"`
	LastUpdatedAt   time.Time              `json:"last_updated_at"`
	TotalFilesSeen  int                    `json:"total_files_seen"`
	Files           map[string]*FileRecord `json:"files"`
	PendingQueue    []string               `json:"pending_queue"`
	DailyQuota      DailyQuota             `json:"daily_quota"`
	Counters        Counters               `json:"counters"`
	RecentErrors    []ErrorEntry           `json:"recent_errors"`
	VectorCollection string                `json:"vector_collection"`
	VectorDimension  int                   `json:"vector_dimension"`
}

// New returns an empty snapshot, ready for a full index.
func New(dailyLimit int) *IncrementalState {
	return &IncrementalState{
		SchemaVersion: CurrentSchemaVersion,
		LastUpdatedAt: time.Now(),
		Files:         make(map[string]*FileRecord),
		DailyQuota: DailyQuota{
			Date:       currentLocalDate(),
			DailyLimit: dailyLimit,
		},
	}
}

func currentLocalDate() string {
	return time.Now().Format("2006-01-02")
}

// RollDailyQuotaIfNeeded resets ChunksConsumedToday when the stored date
// differs from today's local date.
func (s *IncrementalState) RollDailyQuotaIfNeeded() {
	today := currentLocalDate()
	if s.DailyQuota.Date != today {
		s.DailyQuota.Date = today
		s.DailyQuota.ChunksConsumedToday = 0
	}
}

// AddError pushes an entry onto the recentErrors ring, evicting the
// oldest entry once the cap is reached.
func (s *IncrementalState) AddError(filePath, message string) {
	s.RecentErrors = append(s.RecentErrors, ErrorEntry{
		FilePath:  filePath,
		Message:   message,
		Timestamp: time.Now(),
	})
	if len(s.RecentErrors) > MaxRecentErrors {
		s.RecentErrors = s.RecentErrors[len(s.RecentErrors)-MaxRecentErrors:]
	}
}

// IndexedPaths returns every relative path currently recorded with
// status=indexed, sorted for deterministic comparison in tests.
func (s *IncrementalState) IndexedPaths() []string {
	paths := make([]string, 0, len(s.Files))
	for p, rec := range s.Files {
		if rec.Status == StatusIndexed {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// Store owns the on-disk snapshot under <repoRoot>/.memory/. Only one
// process should hold the lock for a given repo at a time.
type Store struct {
	dir  string
	lock *flock.Flock
}

const (
	stateFileName = "incremental_state.json"
	lockFileName  = ".codesearch.lock"
)

// NewStore constructs a Store rooted at <repoRoot>/.memory.
func NewStore(repoRoot string) *Store {
	dir := filepath.Join(repoRoot, ".memory")
	return &Store{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFileName)),
	}
}

// Lock acquires the single-writer-per-repository lock, creating the
// .memory directory if needed. Callers must defer Unlock.
func (s *Store) Lock() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire state lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another codesearch process is already indexing this repository")
	}
	return nil
}

// Unlock releases the process lock. Safe to call even if Lock failed.
func (s *Store) Unlock() error {
	return s.lock.Unlock()
}

// statePath returns the path of the main state document.
func (s *Store) statePath() string {
	return filepath.Join(s.dir, stateFileName)
}

// Load reads the persisted snapshot. A missing file returns a fresh empty
// state (first run). An unparseable file or unrecognized schema version
// is StateCorruption: Load does not log; it sets the returned recovered
// flag so the caller can log a warning, and returns a fresh state, forcing
// a full re-index.
func (s *Store) Load(dailyLimit int) (snapshot *IncrementalState, recovered bool, err error) {
	data, err := os.ReadFile(s.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return New(dailyLimit), false, nil
		}
		return nil, false, fmt.Errorf("read state file: %w", err)
	}

	var parsed IncrementalState
	if err := json.Unmarshal(data, &parsed); err != nil {
		return New(dailyLimit), true, nil
	}
	if parsed.SchemaVersion != CurrentSchemaVersion {
		return New(dailyLimit), true, nil
	}
	if parsed.Files == nil {
		parsed.Files = make(map[string]*FileRecord)
	}
	parsed.RollDailyQuotaIfNeeded()
	parsed.DailyQuota.DailyLimit = dailyLimit
	return &parsed, false, nil
}

// Checkpoint atomically persists the snapshot: write to a temp file in
// the same directory, fsync, then rename over the target. A crash between
// write and rename leaves the previous checkpoint intact.
func (s *Store) Checkpoint(snapshot *IncrementalState) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	snapshot.LastUpdatedAt = time.Now()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, stateFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.statePath()); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}
