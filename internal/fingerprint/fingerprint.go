// Package fingerprint produces stable content hashes of document
// snapshots, used to gate redundant persistence.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/avorein/quire/internal/models"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Snapshot fingerprints a document's persisted meaning: node order, type,
// text and persistent attributes. Ephemeral attributes (selection, marks)
// never affect the result, so cursor movement alone is not a change.
func Snapshot(doc *models.Document) string {
	var b strings.Builder
	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		writeField(&b, string(n.Type))
		writeField(&b, n.ID)
		writeField(&b, n.Text)
		for _, kv := range n.PersistentAttrs() {
			writeField(&b, kv.Key)
			writeField(&b, kv.Value)
		}
		b.WriteByte('\n')
	}
	return Sum([]byte(b.String()))
}

// writeField writes a length-prefixed field so that adjacent values can
// never collide after concatenation.
func writeField(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
	b.WriteByte(';')
}
