// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned when a session id has no record file.
var ErrNotFound = errors.New("session not found")

// Store reads and removes session record files under a single root
// directory. It holds no state between calls; every scan reflects the
// directory as it is on disk.
type Store struct {
	root          string
	charsPerToken int
	logger        *slog.Logger
}

// NewStore returns a Store over root. charsPerToken is the cost
// estimation ratio. A nil logger falls back to slog.Default().
func NewStore(root string, charsPerToken int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	return &Store{root: root, charsPerToken: charsPerToken, logger: logger}
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// isRecordName reports whether a directory entry looks like a session
// record. Hidden files and foreign extensions are ignored so the
// store tolerates editor droppings and agent lockfiles.
func isRecordName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := filepath.Ext(name)
	return ext == ".json" || ext == ".jsonl"
}

// Scan reads every session record under the root and returns them
// sorted by id. A missing or unreadable root yields an empty slice:
// an empty store is a normal state, not an error. Individual files
// that cannot be read are skipped with a warning.
func (s *Store) Scan(ctx context.Context) ([]*Record, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("session root unreadable, treating store as empty",
				"root", s.root, "error", err)
		}
		return nil, nil
	}

	records := make([]*Record, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !isRecordName(entry.Name()) {
			continue
		}
		record, err := s.load(entry.Name())
		if err != nil {
			s.logger.Warn("skipping unreadable session record",
				"file", entry.Name(), "error", err)
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Load reads a single session record by id, trying the known record
// extensions. Returns ErrNotFound if no file matches.
func (s *Store) Load(id string) (*Record, error) {
	for _, ext := range []string{".json", ".jsonl"} {
		record, err := s.load(id + ext)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// load reads and parses one record file by base name.
func (s *Store) load(name string) (*Record, error) {
	path := filepath.Join(s.root, name)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	record := &Record{
		ID:        strings.TrimSuffix(name, filepath.Ext(name)),
		Path:      path,
		FileName:  name,
		Modified:  info.ModTime(),
		SizeBytes: info.Size(),
	}
	if record.parseContent(data) {
		record.Cost = estimateCost(record.TextChars, s.charsPerToken)
	} else {
		record.Malformed = true
		record.Cost = estimateCost(record.SizeBytes, s.charsPerToken)
	}
	return record, nil
}

// HasFile reports whether a record file with the given base name
// exists in the store. Used by restore to detect conflicts.
func (s *Store) HasFile(name string) bool {
	_, err := os.Stat(filepath.Join(s.root, name))
	return err == nil
}

// FilePath returns the absolute path a record file with the given
// base name would occupy.
func (s *Store) FilePath(name string) string {
	return filepath.Join(s.root, name)
}

// Remove deletes a session's record file. Removing a record whose
// file is already gone is a no-op: eviction is idempotent, and
// another actor deleting the file first is not a failure.
func (s *Store) Remove(record *Record) error {
	if err := os.Remove(record.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing session %s: %w", record.ID, err)
	}
	return nil
}
