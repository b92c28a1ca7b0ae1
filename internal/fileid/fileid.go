// Package fileid derives deterministic node ids for records read from drop-directory files.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
)

const prefix = "file:"

// SourceID returns a stable node id for the record at index within the file at path.
// The same path and index always yield the same id, so re-ingesting a file replaces its nodes.
func SourceID(path string, index int) string {
	normalized := filepath.Clean(path)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:8]) + "#" + strconv.Itoa(index)
}
