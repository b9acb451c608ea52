// Package machineid derives a stable, anonymized identifier of the host.
package machineid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/denisbrodbeck/machineid"
)

// Source returns the raw machine id of the operating system.
type Source func() (string, error)

// Get returns the SHA-256 hex digest of the operating system machine id.
func Get() (string, error) {
	return FromSource(machineid.ID)
}

// FromSource hashes the id returned by src. The raw id never leaves this
// function.
func FromSource(src Source) (string, error) {
	id, err := src()
	if err != nil {
		return "", fmt.Errorf("reading machine id: %w", err)
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:]), nil
}
