// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

// Package session reads the live session store: a flat directory with
// one record file per session. Records are JSON conversations in
// either of the two shapes agents write — a single object with a
// "messages" array, or one message object per line (stream format).
//
// Parsing is deliberately tolerant. A record that cannot be parsed at
// all still yields a usable Record: its cost falls back to an estimate
// from the file size and its content signals are zero. Scanning never
// fails because one file is damaged.
package session
