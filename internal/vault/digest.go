package vault

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Digest returns a short BLAKE3 fingerprint of a serialized document. It lets
// logs and history rows correlate submissions without recording secrets.
func Digest(doc string) string {
	sum := blake3.Sum256([]byte(doc))
	return hex.EncodeToString(sum[:8])
}
