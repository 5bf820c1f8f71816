// Package sha256 digests dataset files with SHA-256.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Prefix tags every digest with its algorithm.
const Prefix = "sha256:"

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the tagged hex digest of data.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return Prefix + hex.EncodeToString(sum[:])
}

// HashFile streams path through SHA-256 and returns its tagged hex digest.
func (h *Hasher) HashFile(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- paths come from the run's own output config.
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	d := sha256.New()
	if _, err := io.Copy(d, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return Prefix + hex.EncodeToString(d.Sum(nil)), nil
}
