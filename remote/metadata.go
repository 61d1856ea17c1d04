// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package remote

import (
	"encoding/json"
	"os"

	kerrors "grimm.is/k2rule/internal/errors"
)

// Metadata is the small JSON sidecar recording the last successful
// update time and entity-tag. last_updated is epoch seconds, not
// RFC3339; both fields are nullable.
type Metadata struct {
	LastUpdated *int64  `json:"last_updated"`
	ETag        *string `json:"etag"`
}

// loadMetadata reads and parses the metadata sidecar at path. A
// missing file is not an error: it returns a zero Metadata (unknown
// last update, unknown etag). A present-but-corrupt file degrades the
// same way rather than failing Init/Update.
func loadMetadata(path string) Metadata {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}
	}
	return m
}

// saveMetadata writes the sidecar via write-then-rename so a crash
// mid-write can never leave a half-written file in the final path.
func saveMetadata(path string, m Metadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return kerrors.Wrap(err, kerrors.KindInternal, "marshal metadata sidecar")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return kerrors.Wrapf(err, kerrors.KindUnavailable, "write metadata sidecar %q", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return kerrors.Wrapf(err, kerrors.KindUnavailable, "rename metadata sidecar into place %q", path)
	}
	return nil
}
