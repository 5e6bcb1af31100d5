package fp

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeLink trims surrounding whitespace. Further normalization rules
// (e.g., URL normalization) can be added later as needed.
func NormalizeLink(s string) string {
	return strings.TrimSpace(s)
}

// Fingerprint computes a stable hex-encoded SHA-256 over the normalized link
// list and the archive password. Two submissions with the same fingerprint
// are considered the same download group.
func Fingerprint(files []string, password string) string {
	h := sha256.New()
	for _, f := range files {
		h.Write([]byte(NormalizeLink(f)))
		// NUL separates fields; it cannot occur in a link.
		h.Write([]byte{0})
	}
	h.Write([]byte(password))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)
}
