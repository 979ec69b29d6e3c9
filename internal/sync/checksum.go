package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"sync-service/pkg/models"
)

// Checksum hashes rows into a hex SHA-256 digest.
//
// Each row is hashed over its JSON encoding, which sorts map keys, so column
// order never matters. When ordered is false the row digests are sorted before
// the final hash and the result ignores row order; when true each digest is
// prefixed with its position.
func Checksum(rows []models.Row, ordered bool) (string, error) {
	digests := make([]string, len(rows))
	for i, row := range rows {
		raw, err := json.Marshal(row)
		if err != nil {
			return "", fmt.Errorf("encode row %d: %w", i, err)
		}
		sum := sha256.Sum256(raw)
		digests[i] = hex.EncodeToString(sum[:])
	}
	if !ordered {
		sort.Strings(digests)
	}

	h := sha256.New()
	for i, d := range digests {
		if ordered {
			h.Write([]byte(strconv.Itoa(i)))
			h.Write([]byte{':'})
		}
		h.Write([]byte(d))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
