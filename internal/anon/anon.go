// Package anon maps network identifiers to short salted pseudonyms.
//
// Labels are the first 6 hex characters of SHA-256(identifier || salt), a
// 2^24 space. Distinct identifiers can collide; the labels hide raw
// addresses from casual inspection but are not a cryptographic guarantee.
package anon

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Unknown is returned for empty identifiers.
const Unknown = "Unknown"

// Prefix is prepended to every pseudonym.
const Prefix = "Node_"

const labelHexLen = 6

// ErrEmptySalt is returned by New when no salt is configured.
var ErrEmptySalt = errors.New("anonymization salt must not be empty")

// Anonymizer derives deterministic pseudonyms from a fixed secret salt.
type Anonymizer struct {
	salt string
}

// New returns an Anonymizer for the given salt.
func New(salt string) (*Anonymizer, error) {
	if salt == "" {
		return nil, ErrEmptySalt
	}
	return &Anonymizer{salt: salt}, nil
}

// Anonymize returns the pseudonym for identifier.
func (a *Anonymizer) Anonymize(identifier string) string {
	if identifier == "" {
		return Unknown
	}
	sum := sha256.Sum256([]byte(identifier + a.salt))
	return Prefix + hex.EncodeToString(sum[:])[:labelHexLen]
}
