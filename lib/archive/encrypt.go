// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"
	"io"
	"os"

	"filippo.io/age"
)

// parseRecipients parses configured age public keys. An empty list
// means bundles are written in the clear.
func parseRecipients(keys []string) ([]age.Recipient, error) {
	recipients := make([]age.Recipient, 0, len(keys))
	for _, key := range keys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing age recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}
	return recipients, nil
}

// loadIdentities reads the age identity file used to decrypt bundles
// on restore.
func loadIdentities(path string) ([]age.Identity, error) {
	if path == "" {
		return nil, fmt.Errorf("bundle is encrypted but archive.age_identity is not configured")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening age identity file: %w", err)
	}
	defer f.Close()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parsing age identity file %s: %w", path, err)
	}
	return identities, nil
}

// encryptWriter wraps w so everything written is encrypted to the
// recipients. The returned writer must be closed before w.
func encryptWriter(w io.Writer, recipients []age.Recipient) (io.WriteCloser, error) {
	encrypted, err := age.Encrypt(w, recipients...)
	if err != nil {
		return nil, fmt.Errorf("starting age encryption: %w", err)
	}
	return encrypted, nil
}

// decryptReader wraps r with age decryption using the identity file
// at identityPath.
func decryptReader(r io.Reader, identityPath string) (io.Reader, error) {
	identities, err := loadIdentities(identityPath)
	if err != nil {
		return nil, err
	}
	decrypted, err := age.Decrypt(r, identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting bundle: %w", err)
	}
	return decrypted, nil
}
