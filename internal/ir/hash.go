package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainFields   = "scratchpad/fields/v1"
	DomainSummary  = "scratchpad/publish-summary/v1"
	DomainWorkbook = "scratchpad/workbook-spec/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FieldsHash computes a content hash over a record's field values.
// Two field maps hash equal exactly when Equal would report them equal.
func FieldsHash(fields Fields) (string, error) {
	canonical, err := MarshalCanonical(fields)
	if err != nil {
		return "", fmt.Errorf("FieldsHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainFields, canonical), nil
}

// SummaryFingerprint hashes an already-canonical publish summary document.
func SummaryFingerprint(canonical []byte) string {
	return hashWithDomain(DomainSummary, canonical)
}

// WorkbookSpecHash computes a content hash over a compiled workbook spec.
// Used to detect schema drift between a stored workbook and its CUE source.
func WorkbookSpecHash(spec WorkbookSpec) (string, error) {
	canonical, err := spec.MarshalCanonical()
	if err != nil {
		return "", fmt.Errorf("WorkbookSpecHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainWorkbook, canonical), nil
}

// MustFieldsHash is like FieldsHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFieldsHash(fields Fields) string {
	hash, err := FieldsHash(fields)
	if err != nil {
		panic(err)
	}
	return hash
}
