// Package store is the dredger's cross-run memory: durable mappings of
// URLs already rejected or already imported, keyed by canonical URL.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dredger/pkg/types"
)

// Store records classification outcomes across runs. A URL lands in at
// most one of the two mappings; the first classification wins and is never
// overwritten. Implementations must be safe for concurrent site workers.
type Store interface {
	IsRejected(ctx context.Context, rawURL string) bool
	IsImported(ctx context.Context, rawURL string) bool
	RecordReject(ctx context.Context, rawURL string, reason types.RejectReason) error
	RecordImported(ctx context.Context, rawURL, libraryID string) error
	SaveStats(ctx context.Context, stats types.SiteStats) error
	Flush() error
	Close() error
}

const (
	rejectsFile  = "rejects.json"
	importedFile = "imported.json"
	statsFile    = "stats.json"
)

// FileStore persists records as human-inspectable JSON files under a data
// directory. Each record write flushes the changed file so state survives
// abrupt termination.
type FileStore struct {
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	rejects  map[string]types.RejectRecord
	imported map[string]types.ImportedRecord
	stats    map[string]types.SiteStats
}

// NewFileStore opens (or initialises) a file-backed store. An unusable
// directory is fatal; missing or corrupt state files are not — they load
// as empty with a warning so the run can proceed.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory %s: %w", dir, err)
	}

	s := &FileStore{
		dir:      dir,
		logger:   logger,
		rejects:  make(map[string]types.RejectRecord),
		imported: make(map[string]types.ImportedRecord),
		stats:    make(map[string]types.SiteStats),
	}
	loadJSON(filepath.Join(dir, rejectsFile), &s.rejects, logger)
	loadJSON(filepath.Join(dir, importedFile), &s.imported, logger)
	loadJSON(filepath.Join(dir, statsFile), &s.stats, logger)
	return s, nil
}

func loadJSON[T any](path string, target *map[string]T, logger *slog.Logger) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("store file unreadable, starting empty", "path", path, "error", err)
		}
		return
	}
	if err := json.Unmarshal(raw, target); err != nil {
		logger.Warn("store file corrupt, starting empty", "path", path, "error", err)
		*target = make(map[string]T)
	}
}

func (s *FileStore) key(rawURL string) string {
	canonical, err := Canonicalize(rawURL)
	if err != nil {
		return rawURL
	}
	return canonical
}

func (s *FileStore) IsRejected(_ context.Context, rawURL string) bool {
	key := s.key(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rejects[key]
	return ok
}

func (s *FileStore) IsImported(_ context.Context, rawURL string) bool {
	key := s.key(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.imported[key]
	return ok
}

func (s *FileStore) RecordReject(_ context.Context, rawURL string, reason types.RejectReason) error {
	key := s.key(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.rejects[key]; done {
		return nil
	}
	if _, done := s.imported[key]; done {
		return nil
	}
	s.rejects[key] = types.RejectRecord{URL: key, Reason: reason, RecordedAt: time.Now().UTC()}
	return s.writeLocked(rejectsFile, s.rejects)
}

func (s *FileStore) RecordImported(_ context.Context, rawURL, libraryID string) error {
	key := s.key(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.imported[key]; done {
		return nil
	}
	if _, done := s.rejects[key]; done {
		return nil
	}
	s.imported[key] = types.ImportedRecord{URL: key, LibraryID: libraryID, RecordedAt: time.Now().UTC()}
	return s.writeLocked(importedFile, s.imported)
}

func (s *FileStore) SaveStats(_ context.Context, stats types.SiteStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[stats.Site] = stats
	return s.writeLocked(statsFile, s.stats)
}

// Flush rewrites every state file.
func (s *FileStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, write := range map[string]func() error{
		rejectsFile:  func() error { return s.writeLocked(rejectsFile, s.rejects) },
		importedFile: func() error { return s.writeLocked(importedFile, s.imported) },
		statsFile:    func() error { return s.writeLocked(statsFile, s.stats) },
	} {
		if err := write(); err != nil {
			return fmt.Errorf("flush %s: %w", name, err)
		}
	}
	return nil
}

// Close flushes any remaining state.
func (s *FileStore) Close() error {
	return s.Flush()
}

// writeLocked writes via a temp file and rename so a crash mid-write never
// corrupts the previous state.
func (s *FileStore) writeLocked(name string, data any) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
