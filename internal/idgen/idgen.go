// Package idgen generates the prefixed identifiers used across the API
// (ord_, dsp_, msg_, evt_, sub_, key_, usr_).
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns prefix followed by 24 random hex characters.
// IDs are unguessable; they double as capability-free references in URLs.
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex returns 2*numBytes random hex characters from crypto/rand.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the platform is broken.
		panic("idgen: " + err.Error())
	}
	return hex.EncodeToString(b)
}
