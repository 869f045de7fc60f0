package guard

import (
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// Fingerprint derives the content fingerprint for a dispatch request. Two
// requests collide when they target the same project with the same prompt
// text after trivial normalization, so a double-submitted form or a retried
// API call maps to one fingerprint while a genuinely edited prompt does not.
func Fingerprint(projectPath, content string) string {
	h := blake3.New()
	_, _ = h.WriteString(filepath.Clean(projectPath))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(strings.TrimSpace(content))
	return hex.EncodeToString(h.Sum(nil))
}
