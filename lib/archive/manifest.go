// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// manifestFileName is the first entry in every bundle's tar stream.
const manifestFileName = "manifest.cbor"

// Manifest is the bundle's embedded self-description. It is encoded
// with Core Deterministic Encoding so identical logical content
// always produces identical bundle bytes.
type Manifest struct {
	// Name is the bundle file name the manifest was written into.
	Name string `cbor:"name" json:"name"`

	// CreatedAt is the archive time.
	CreatedAt time.Time `cbor:"created_at" json:"created_at"`

	// Reason is free text from the caller ("auto-cleanup",
	// "emergency-cleanup", "manual").
	Reason string `cbor:"reason" json:"reason"`

	// Sessions describes every archived record.
	Sessions []SessionEntry `cbor:"sessions" json:"sessions"`
}

// SessionEntry is the audit record for one archived session.
type SessionEntry struct {
	// ID is the session id.
	ID string `cbor:"id" json:"id"`

	// FileName is the record's base name inside the bundle.
	FileName string `cbor:"file_name" json:"file_name"`

	// Cost is the estimated token cost at archive time.
	Cost int64 `cbor:"cost" json:"cost"`

	// Messages is the message count at archive time.
	Messages int `cbor:"messages" json:"messages"`

	// SizeBytes is the raw record size.
	SizeBytes int64 `cbor:"size_bytes" json:"size_bytes"`

	// Checksum is the BLAKE3 digest of the raw record, hex encoded.
	// Restore verifies extracted files against it.
	Checksum string `cbor:"checksum" json:"checksum"`
}

// encMode encodes with Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding, no indefinite-length
// items.
var encMode cbor.EncMode

// decMode accepts standard CBOR; unknown fields are ignored for
// forward compatibility.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("archive: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("archive: CBOR decoder initialization failed: " + err.Error())
	}
}

// encodeManifest serializes a manifest to deterministic CBOR.
func encodeManifest(m *Manifest) ([]byte, error) {
	data, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding bundle manifest: %w", err)
	}
	return data, nil
}

// decodeManifest parses a manifest from CBOR bytes.
func decodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := decMode.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding bundle manifest: %w", err)
	}
	return &m, nil
}
