// Package imagetag derives deterministic image tags from build inputs.
// This is part of the Functional Core - all functions are pure with no I/O.
package imagetag

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// =============================================================================
// Tag Derivation
// =============================================================================

const (
	shortRevisionLen = 7
	contentDigestLen = 12
	timestampLayout  = "20060102150405"
)

// FromRevision turns a source revision into a tag: whitespace trimmed,
// truncated to the conventional short-hash length. Returns "" for an empty
// revision so callers can fall through to the next derivation.
func FromRevision(rev string) string {
	rev = strings.TrimSpace(rev)
	if len(rev) > shortRevisionLen {
		rev = rev[:shortRevisionLen]
	}
	return rev
}

// FromContent digests the build inputs and returns the first 12 hex
// characters. Parts are separated by a NUL byte so adjacent inputs cannot
// collide by concatenation.
func FromContent(parts ...[]byte) string {
	if len(parts) == 0 {
		return ""
	}
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:contentDigestLen]
}

// FromTime formats a timestamp tag in UTC.
func FromTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// Derive picks the tag for a build: source revision when known, content
// digest when there is anything to digest, timestamp as the last resort.
//
// Examples:
//
//	Derive("4f2a91cd00", nil, now)
//	// Returns: "4f2a91c"
//
//	Derive("", [][]byte{dockerfile}, now)
//	// Returns: first 12 hex chars of the content digest
//
//	Derive("", nil, time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC))
//	// Returns: "20240601123000"
func Derive(revision string, content [][]byte, now time.Time) string {
	if tag := FromRevision(revision); tag != "" {
		return tag
	}
	if tag := FromContent(content...); tag != "" {
		return tag
	}
	return FromTime(now)
}
