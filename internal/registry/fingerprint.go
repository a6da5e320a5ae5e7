package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/connor15mcc/patchpal/internal/protocol"
)

// Fingerprint computes the deduplication hash for a submission: SHA-256
// over every hunk's path, header, and content in submission order, with
// trailing whitespace stripped per content line so editor churn does not
// defeat duplicate detection. Scope is the whole patch: two submissions
// collide only if all their hunks match.
func Fingerprint(hunks []protocol.HunkContent) string {
	h := sha256.New()
	for _, hunk := range hunks {
		h.Write([]byte(hunk.Path))
		h.Write([]byte{0})
		h.Write([]byte(hunk.Header))
		h.Write([]byte{0})
		for _, line := range strings.Split(hunk.Content, "\n") {
			h.Write([]byte(strings.TrimRight(line, " \t\r")))
			h.Write([]byte{'\n'})
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
