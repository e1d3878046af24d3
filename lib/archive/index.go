// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// indexFileName is the catalog file next to the bundles.
const indexFileName = "index.json"

// BundleDescriptor is one index entry: everything an operator needs
// to audit a bundle without opening it.
type BundleDescriptor struct {
	// Name is the bundle file name, extensions included.
	Name string `json:"name"`

	// CreatedAt is the archive time.
	CreatedAt time.Time `json:"created_at"`

	// Reason is the caller-supplied free text.
	Reason string `json:"reason"`

	// SessionCount is len(Sessions), denormalized for listings.
	SessionCount int `json:"session_count"`

	// Codec is the compression codec the bundle was written with.
	Codec Codec `json:"codec"`

	// Encrypted marks age-encrypted bundles.
	Encrypted bool `json:"encrypted"`

	// SizeBytes is the bundle file size.
	SizeBytes int64 `json:"size_bytes"`

	// Checksum is the BLAKE3 digest of the bundle file, hex encoded.
	Checksum string `json:"checksum"`

	// Sessions carries the per-session audit tuples.
	Sessions []SessionEntry `json:"sessions"`
}

// index is the on-disk catalog document.
type index struct {
	Bundles []BundleDescriptor `json:"bundles"`
}

// loadIndex reads the catalog. A missing file is an empty catalog.
func loadIndex(root string) (*index, error) {
	data, err := os.ReadFile(filepath.Join(root, indexFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &index{}, nil
		}
		return nil, fmt.Errorf("reading archive index: %w", err)
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parsing archive index: %w", err)
	}
	return &idx, nil
}

// saveIndex writes the catalog atomically: write a temp file, fsync,
// rename over the old index, fsync the directory. A crash at any
// point leaves either the old or the new index, never a torn one.
func saveIndex(root string, idx *index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding archive index: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(root, indexFileName)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating temp index: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp index: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp index: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp index: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming index into place: %w", err)
	}
	return syncDir(root)
}

// syncDir fsyncs a directory so a rename within it is durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening %s for sync: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", dir, err)
	}
	return nil
}

// find returns the descriptor with the given bundle name.
func (idx *index) find(name string) (*BundleDescriptor, bool) {
	for i := range idx.Bundles {
		if idx.Bundles[i].Name == name {
			return &idx.Bundles[i], true
		}
	}
	return nil, false
}
