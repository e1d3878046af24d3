// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive packages evicted sessions into durable bundles and
// brings them back.
//
// A bundle is a tar stream — optionally compressed (zstd or lz4) and
// optionally age-encrypted — holding the original session files
// byte-for-byte plus a deterministic CBOR manifest with per-file
// BLAKE3 checksums. Bundles are write-once and named by date
// (sessions-2026-03-10.tar.zst); same-day bundles get a numeric
// suffix rather than ever appending to an existing file.
//
// The archive index (index.json, written atomically next to the
// bundles) is the catalog: one descriptor per bundle with enough
// per-session detail to audit what was archived without opening
// anything. Restore works from the bundle alone — the manifest inside
// is authoritative — and never overwrites a live session file.
//
// The ordering rule that everything here serves: a session's live
// copy may only be deleted after a bundle containing it has been
// fully written and indexed. Archive failures must abort the caller's
// deletion step.
package archive
