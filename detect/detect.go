// Package detect decides whether the subject's avatar differs from the
// last published reference.
package detect

import (
	"crypto/sha256"
	"encoding/hex"
)

// Mode selects how references are compared.
type Mode string

const (
	// ModeURL compares avatar CDN URLs. Cheap (no download needed for
	// the comparison) but can miss a change if the CDN reuses a URL
	// for different content.
	ModeURL Mode = "url"
	// ModeHash compares content hashes of the downloaded image. Costs
	// an unconditional download but never false-negatives.
	ModeHash Mode = "hash"
)

// Detector compares a current reference against the previously
// persisted one under a fixed Mode.
type Detector struct {
	Mode Mode
}

// Changed reports whether current differs from prev. An empty prev
// means no record exists yet (first run) and always counts as changed.
func (d Detector) Changed(prev, current string) bool {
	if prev == "" {
		return true
	}
	return prev != current
}

// HashRef returns the canonical reference string for image content
// under ModeHash.
func HashRef(content []byte) string {
	sum := sha256.Sum256(content)
	return "sha256:" + hex.EncodeToString(sum[:])
}
