package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"sherlock/utils"
)

// FileStore keeps one JSON record per completed task. Filenames are
// timestamp-prefixed so recency sorting by modification time is valid.
type FileStore struct {
	mu  sync.RWMutex
	dir string
}

// NewFileStore creates the storage directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := utils.CreateFolder(dir); err != nil {
		return nil, fmt.Errorf("failed to initialize results storage: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes the record to a new file and returns its path.
func (s *FileStore) Save(rec Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	filename := fmt.Sprintf("%s_%s.json", rec.Timestamp.Format("20060102_150405"), rec.TaskID)
	path := filepath.Join(s.dir, filename)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report record: %w", err)
	}

	// Write to a temporary file first, then rename for atomicity.
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report record: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to finalize report record: %w", err)
	}

	return path, nil
}

// Load scans for the newest record matching the task id.
func (s *FileStore) Load(taskID string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths, err := s.recordPaths()
	if err != nil {
		return Record{}, false, err
	}

	for _, path := range paths {
		if !strings.HasSuffix(path, "_"+taskID+".json") {
			continue
		}
		rec, err := readRecord(path)
		if err != nil {
			continue
		}
		if rec.TaskID == taskID {
			return rec, true, nil
		}
	}

	return Record{}, false, nil
}

// List returns record summaries ordered by modification time, newest
// first, with pagination. Unreadable files are skipped with a warning.
func (s *FileStore) List(limit, offset int) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths, err := s.recordPaths()
	if err != nil {
		return nil, err
	}

	if offset > len(paths) {
		offset = len(paths)
	}
	end := offset + limit
	if limit <= 0 || end > len(paths) {
		end = len(paths)
	}

	logger := utils.GetLogger()
	summaries := make([]Summary, 0, end-offset)
	for _, path := range paths[offset:end] {
		rec, err := readRecord(path)
		if err != nil {
			logger.WarnContext(context.Background(), "skipping unreadable report record",
				slog.String("path", path), slog.Any("error", err))
			continue
		}
		summaries = append(summaries, summarize(rec, path))
	}

	return summaries, nil
}

// Delete removes all records for the task id. Returns false when nothing
// matched.
func (s *FileStore) Delete(taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := s.recordPaths()
	if err != nil {
		return false, err
	}

	deleted := false
	for _, path := range paths {
		if !strings.HasSuffix(path, "_"+taskID+".json") {
			continue
		}
		rec, err := readRecord(path)
		if err != nil || rec.TaskID != taskID {
			continue
		}
		if err := os.Remove(path); err != nil {
			return deleted, fmt.Errorf("failed to delete record %s: %w", path, err)
		}
		deleted = true
	}

	return deleted, nil
}

// Stats reports record count and total size on disk.
func (s *FileStore) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read storage directory: %w", err)
	}

	stats := Stats{Location: s.dir}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stats.Count++
		stats.TotalSizeBytes += info.Size()
	}

	return stats, nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }

// recordPaths lists record files sorted by modification time, newest first.
func (s *FileStore) recordPaths() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	type pathInfo struct {
		path    string
		modTime time.Time
	}
	infos := make([]pathInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, pathInfo{path: filepath.Join(s.dir, entry.Name()), modTime: info.ModTime()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].modTime.After(infos[j].modTime) })

	paths := make([]string, len(infos))
	for i, info := range infos {
		paths[i] = info.path
	}
	return paths, nil
}

func readRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to parse record: %w", err)
	}
	return rec, nil
}
