package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DocumentsHash computes a deterministic hash over a file's documents:
// every pair's field, value and flags in order. Two builds of the same
// source produce the same hash, so a reindex that leaves the hash
// unchanged did not change anything queryable.
func DocumentsHash(docs []*Document) string {
	h := sha256.New()
	for i, d := range docs {
		fmt.Fprintf(h, "doc:%d\n", i)
		for _, p := range d.Pairs {
			fmt.Fprintf(h, "%s=%s|%d%d\n", p.Field, p.Value, boolToInt(p.Indexed), boolToInt(p.Stored))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
