package ast

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Canonical renders the normalized form of a query as its canonical byte
// encoding. Struct field order is fixed, slices are pre-sorted by
// Normalize, so the encoding is byte-identical for semantically equivalent
// queries.
func Canonical(q *Query) ([]byte, error) {
	return json.Marshal(Normalize(q))
}

// Fingerprint hashes the canonical encoding. Registered queries with equal
// fingerprints share one compiled pipeline.
func Fingerprint(q *Query) (string, error) {
	canonical, err := Canonical(q)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
