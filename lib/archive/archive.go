// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"

	"github.com/openclaw-foundation/curator/lib/clock"
	"github.com/openclaw-foundation/curator/lib/policy"
	"github.com/openclaw-foundation/curator/lib/session"
)

var (
	// ErrNoSessions is returned by Archive when the record list is
	// empty. Callers treat it as "nothing to do", not a failure.
	ErrNoSessions = errors.New("no sessions to archive")

	// ErrBundleNotFound is returned when a named bundle exists in
	// neither the index nor the archive directory.
	ErrBundleNotFound = errors.New("bundle not found")

	// ErrCorruptBundle is returned when a bundle's structure or a
	// member checksum does not match its manifest.
	ErrCorruptBundle = errors.New("corrupt bundle")
)

// scratchPrefix names the staging directories Archive creates while
// assembling a bundle. A crash can orphan one; SweepExpired removes
// stale ones.
const scratchPrefix = "scratch-"

// Archiver writes session bundles into a single archive directory and
// maintains the index describing them. Bundles are write-once: an
// existing bundle file is never modified or replaced.
type Archiver struct {
	root       string
	cfg        policy.ArchiveConfig
	codec      Codec
	recipients []age.Recipient
	clk        clock.Clock
	logger     *slog.Logger
}

// New builds an Archiver rooted at dir. The compression codec and any
// age recipients are parsed here so a bad configuration surfaces at
// startup rather than during an emergency cleanup.
func New(dir string, cfg policy.ArchiveConfig, clk clock.Clock, logger *slog.Logger) (*Archiver, error) {
	if dir == "" {
		return nil, errors.New("archive: directory is required")
	}
	codec, err := ParseCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}
	recipients, err := parseRecipients(cfg.AgeRecipients)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		root:       dir,
		cfg:        cfg,
		codec:      codec,
		recipients: recipients,
		clk:        clk,
		logger:     logger,
	}, nil
}

// Encrypted reports whether bundles written by this archiver are age
// encrypted.
func (a *Archiver) Encrypted() bool { return len(a.recipients) > 0 }

// RestoreResult reports the outcome of restoring a bundle.
type RestoreResult struct {
	Bundle   string `json:"bundle"`
	Restored int    `json:"restored"`
	Skipped  int    `json:"skipped"`
}

// SweepResult reports the outcome of a retention sweep.
type SweepResult struct {
	Deleted    int   `json:"deleted"`
	FreedBytes int64 `json:"freed_bytes"`
}

// Archive copies the given session files into a new compressed (and
// optionally encrypted) bundle, records it in the index, and returns
// its descriptor. The source files are not touched; deleting them
// afterwards is the caller's decision, and only a nil error here
// makes that deletion safe.
func (a *Archiver) Archive(ctx context.Context, records []*session.Record, reason string) (*BundleDescriptor, error) {
	if len(records) == 0 {
		return nil, ErrNoSessions
	}
	if err := checkFreeSpace(a.root, a.cfg.MinFreeMB); err != nil {
		return nil, err
	}

	scratch := filepath.Join(a.root, scratchPrefix+uuid.NewString())
	if err := os.Mkdir(scratch, 0o700); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	// Stage every session first. A file that cannot be read aborts
	// the whole bundle: a partial archive that silently dropped a
	// session would license deleting data that was never preserved.
	entries := make([]SessionEntry, 0, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(rec.Path)
		if err != nil {
			return nil, fmt.Errorf("staging session %s: %w", rec.ID, err)
		}
		staged := filepath.Join(scratch, rec.FileName)
		if err := os.WriteFile(staged, data, 0o644); err != nil {
			return nil, fmt.Errorf("staging session %s: %w", rec.ID, err)
		}
		entries = append(entries, SessionEntry{
			ID:        rec.ID,
			FileName:  rec.FileName,
			Cost:      rec.Cost,
			Messages:  rec.Messages,
			SizeBytes: int64(len(data)),
			Checksum:  digest(data),
		})
	}

	idx, err := loadIndex(a.root)
	if err != nil {
		return nil, err
	}
	now := a.clk.Now().UTC()
	name := a.allocateName(idx, now)

	manifest := &Manifest{
		Name:      name,
		CreatedAt: now,
		Reason:    reason,
		Sessions:  entries,
	}
	finalPath := filepath.Join(a.root, name)
	if err := a.writeBundle(finalPath, manifest, scratch); err != nil {
		return nil, err
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return nil, fmt.Errorf("stat bundle: %w", err)
	}
	sum, err := digestFile(finalPath)
	if err != nil {
		return nil, fmt.Errorf("hashing bundle: %w", err)
	}

	desc := BundleDescriptor{
		Name:         name,
		CreatedAt:    now,
		Reason:       reason,
		SessionCount: len(entries),
		Codec:        a.codec,
		Encrypted:    a.Encrypted(),
		SizeBytes:    info.Size(),
		Checksum:     sum,
		Sessions:     entries,
	}
	idx.Bundles = append(idx.Bundles, desc)
	if err := saveIndex(a.root, idx); err != nil {
		// An unindexed bundle would be invisible to list/sweep, so
		// treat the operation as failed and keep the directory
		// consistent with the index.
		os.Remove(finalPath)
		return nil, err
	}

	a.logger.Info("sessions archived",
		"bundle", name,
		"sessions", len(entries),
		"bytes", info.Size(),
		"reason", reason)
	return &desc, nil
}

// allocateName derives the bundle name from the archive date,
// suffixing -2, -3, ... until the name is unused in both the index
// and the directory. Names are never reused.
func (a *Archiver) allocateName(idx *index, now time.Time) string {
	base := "sessions-" + now.Format("2006-01-02")
	ext := a.codec.extension()
	if a.Encrypted() {
		ext += encryptedSuffix
	}
	name := base + ext
	for n := 2; a.nameTaken(idx, name); n++ {
		name = fmt.Sprintf("%s-%d%s", base, n, ext)
	}
	return name
}

func (a *Archiver) nameTaken(idx *index, name string) bool {
	if _, ok := idx.find(name); ok {
		return true
	}
	_, err := os.Lstat(filepath.Join(a.root, name))
	return err == nil
}

// writeBundle streams the manifest and the staged session files
// through tar, the compressor, and (when configured) age into a
// temporary file, then atomically renames it into place. The manifest
// is always the first tar entry so Show and Restore can read it
// without scanning the whole bundle.
func (a *Archiver) writeBundle(finalPath string, manifest *Manifest, scratch string) (err error) {
	tmp := finalPath + ".partial"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating bundle: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	var sink io.WriteCloser = f
	closers := []io.Closer{}
	if a.Encrypted() {
		ew, eerr := encryptWriter(f, a.recipients)
		if eerr != nil {
			err = eerr
			return err
		}
		sink = ew
		closers = append(closers, ew)
	}
	cw, err := a.codec.compress(sink)
	if err != nil {
		return err
	}
	closers = append(closers, cw)
	tw := tar.NewWriter(cw)

	manifestData, err := encodeManifest(manifest)
	if err != nil {
		return err
	}
	if err = writeTarFile(tw, manifestFileName, manifestData, manifest.CreatedAt); err != nil {
		return err
	}
	for _, entry := range manifest.Sessions {
		data, rerr := os.ReadFile(filepath.Join(scratch, entry.FileName))
		if rerr != nil {
			err = fmt.Errorf("reading staged session %s: %w", entry.ID, rerr)
			return err
		}
		if err = writeTarFile(tw, entry.FileName, data, manifest.CreatedAt); err != nil {
			return err
		}
	}

	if err = tw.Close(); err != nil {
		return fmt.Errorf("finalizing tar stream: %w", err)
	}
	// Close compressor, then encryptor, so each layer flushes into
	// the one beneath it before the file is synced.
	for i := len(closers) - 1; i >= 0; i-- {
		if err = closers[i].Close(); err != nil {
			return fmt.Errorf("finalizing bundle stream: %w", err)
		}
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("syncing bundle: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("closing bundle: %w", err)
	}
	if err = os.Rename(tmp, finalPath); err != nil {
		return fmt.Errorf("publishing bundle: %w", err)
	}
	if err = syncDir(a.root); err != nil {
		return err
	}
	return nil
}

func writeTarFile(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     int64(len(data)),
		Mode:     0o644,
		ModTime:  modTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("writing tar entry %s: %w", name, err)
	}
	return nil
}

// openBundle opens the named bundle and returns a tar reader
// positioned at its first entry, plus a closer for the underlying
// layers.
func (a *Archiver) openBundle(name string) (*tar.Reader, io.Closer, error) {
	codec, encrypted, ok := bundleNameInfo(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: unrecognized bundle name %q", ErrBundleNotFound, name)
	}
	f, err := os.Open(filepath.Join(a.root, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrBundleNotFound, name)
		}
		return nil, nil, fmt.Errorf("opening bundle: %w", err)
	}

	var src io.Reader = f
	closers := []io.Closer{f}
	if encrypted {
		dr, derr := decryptReader(f, a.cfg.AgeIdentity)
		if derr != nil {
			f.Close()
			return nil, nil, derr
		}
		src = dr
	}
	dc, err := codec.decompress(src)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	closers = append([]io.Closer{dc}, closers...)
	return tar.NewReader(dc), multiCloser(closers), nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// readManifest reads the manifest entry, which must be first in the
// tar stream.
func readManifest(tr *tar.Reader) (*Manifest, error) {
	hdr, err := tr.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: reading manifest: %v", ErrCorruptBundle, err)
	}
	if hdr.Name != manifestFileName {
		return nil, fmt.Errorf("%w: first entry is %q, want %q", ErrCorruptBundle, hdr.Name, manifestFileName)
	}
	data, err := io.ReadAll(tr)
	if err != nil {
		return nil, fmt.Errorf("%w: reading manifest: %v", ErrCorruptBundle, err)
	}
	m, err := decodeManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBundle, err)
	}
	return m, nil
}

// Show returns the manifest of the named bundle without extracting
// anything.
func (a *Archiver) Show(name string) (*Manifest, error) {
	tr, closer, err := a.openBundle(name)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return readManifest(tr)
}

// Restore extracts the named bundle's sessions into targetDir,
// verifying each file against its manifest checksum. Files that
// already exist in targetDir are skipped, never overwritten: a live
// session always wins over its archived copy. A checksum mismatch
// aborts the restore with ErrCorruptBundle; files restored before the
// mismatch are left in place.
func (a *Archiver) Restore(ctx context.Context, name, targetDir string) (*RestoreResult, error) {
	if targetDir == "" {
		return nil, errors.New("archive: restore target directory is required")
	}
	tr, closer, err := a.openBundle(name)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	manifest, err := readManifest(tr)
	if err != nil {
		return nil, err
	}
	byFile := make(map[string]SessionEntry, len(manifest.Sessions))
	for _, e := range manifest.Sessions {
		byFile[e.FileName] = e
	}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating restore directory: %w", err)
	}

	result := &RestoreResult{Bundle: name}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading entries: %v", ErrCorruptBundle, err)
		}
		base := filepath.Base(hdr.Name)
		entry, known := byFile[base]
		if !known {
			return nil, fmt.Errorf("%w: entry %q not in manifest", ErrCorruptBundle, hdr.Name)
		}
		target := filepath.Join(targetDir, base)
		if _, serr := os.Lstat(target); serr == nil {
			result.Skipped++
			a.logger.Debug("restore skipping existing session", "file", base)
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrCorruptBundle, base, err)
		}
		if sum := digest(data); sum != entry.Checksum {
			return nil, fmt.Errorf("%w: checksum mismatch for %s", ErrCorruptBundle, base)
		}
		if err := writeFileAtomic(target, data, 0o644); err != nil {
			return nil, fmt.Errorf("restoring %s: %w", base, err)
		}
		result.Restored++
	}

	a.logger.Info("bundle restored",
		"bundle", name,
		"restored", result.Restored,
		"skipped", result.Skipped,
		"target", targetDir)
	return result, nil
}

// writeFileAtomic writes data next to the target and renames it into
// place so a crash never leaves a half-written session file.
func writeFileAtomic(target string, data []byte, mode os.FileMode) error {
	tmp := target + ".partial"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// List returns the indexed bundles, newest first.
func (a *Archiver) List() ([]BundleDescriptor, error) {
	idx, err := loadIndex(a.root)
	if err != nil {
		return nil, err
	}
	bundles := make([]BundleDescriptor, len(idx.Bundles))
	copy(bundles, idx.Bundles)
	sort.SliceStable(bundles, func(i, j int) bool {
		return bundles[i].CreatedAt.After(bundles[j].CreatedAt)
	})
	return bundles, nil
}

// Verify re-hashes the named bundle file and compares it against the
// checksum recorded at archive time.
func (a *Archiver) Verify(name string) error {
	idx, err := loadIndex(a.root)
	if err != nil {
		return err
	}
	desc, ok := idx.find(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBundleNotFound, name)
	}
	sum, err := digestFile(filepath.Join(a.root, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrBundleNotFound, name)
		}
		return err
	}
	if sum != desc.Checksum {
		return fmt.Errorf("%w: %s: stored checksum %s, computed %s",
			ErrCorruptBundle, name, desc.Checksum, sum)
	}
	return nil
}

// SweepExpired deletes bundles older than the retention window and
// any staging directories left behind by an interrupted archive. With
// retention disabled (zero or negative days) only stale staging
// directories are removed.
func (a *Archiver) SweepExpired(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}
	a.sweepScratch()

	retention := a.cfg.Retention()
	if retention <= 0 {
		return result, nil
	}
	idx, err := loadIndex(a.root)
	if err != nil {
		return nil, err
	}
	cutoff := a.clk.Now().UTC().Add(-retention)
	kept := idx.Bundles[:0]
	for _, b := range idx.Bundles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !b.CreatedAt.Before(cutoff) {
			kept = append(kept, b)
			continue
		}
		path := filepath.Join(a.root, b.Name)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("failed to delete expired bundle", "bundle", b.Name, "error", err)
			kept = append(kept, b)
			continue
		}
		result.Deleted++
		result.FreedBytes += b.SizeBytes
		a.logger.Info("expired bundle deleted", "bundle", b.Name, "created_at", b.CreatedAt)
	}
	if result.Deleted > 0 {
		idx.Bundles = kept
		if err := saveIndex(a.root, idx); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// sweepScratch removes staging directories that have been around long
// enough that no live archive operation can still own them.
func (a *Archiver) sweepScratch() {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return
	}
	cutoff := a.clk.Now().Add(-24 * time.Hour)
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), scratchPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(a.root, e.Name())); err == nil {
			a.logger.Warn("removed stale staging directory", "dir", e.Name())
		}
	}
}
