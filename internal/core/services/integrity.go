package services

import (
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"hash"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

// IntegrityDomainTag is mixed into every integrity hash so hashes from
// other systems over the same bytes never collide with ours.
const IntegrityDomainTag = "memweave/record/v1"

// ComputeHash returns the integrity hash of content within namespace.
// The result is 128 lower-case hex characters and depends only on its inputs.
// Each field is length-prefixed so ("ab","c") and ("a","bc") differ.
func ComputeHash(content, namespace string) string {
	h := sha512.New()
	writeField(h, IntegrityDomainTag)
	writeField(h, content)
	writeField(h, namespace)
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

// VerifyRecord reports whether the record's stored hash matches its content.
func VerifyRecord(record domain.Record) bool {
	return record.IntegrityHash != "" &&
		record.IntegrityHash == ComputeHash(record.Content, record.Namespace)
}
