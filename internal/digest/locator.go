// Package digest validates content digests and maps them to physical blob
// paths.
package digest

import (
	_ "crypto/sha256"
	_ "crypto/sha512"
	"fmt"

	"github.com/dmitrijs2005/repostore/internal/common"
	godigest "github.com/opencontainers/go-digest"
)

// SHA256 is the default content hash for blocks and archive files.
const SHA256 = string(godigest.SHA256)

// Locator turns a hex digest into a fan-out path "ab/cd/abcd…".
// Two levels of 256 directories keep every directory small even with
// hundreds of millions of blobs.
type Locator struct {
	alg godigest.Algorithm
}

// NewLocator returns a Locator for the named algorithm ("sha256", "sha512").
func NewLocator(algorithm string) (*Locator, error) {
	alg := godigest.Algorithm(algorithm)
	if !alg.Available() {
		return nil, fmt.Errorf("unsupported digest algorithm %q: %w", algorithm, common.ErrInvalidInput)
	}
	return &Locator{alg: alg}, nil
}

// MustLocator is NewLocator for compile-time-known algorithms.
func MustLocator(algorithm string) *Locator {
	l, err := NewLocator(algorithm)
	if err != nil {
		panic(err)
	}
	return l
}

// Algorithm returns the configured hash name.
func (l *Locator) Algorithm() string {
	return string(l.alg)
}

// Validate checks that d is a lowercase hex string of the algorithm's size.
func (l *Locator) Validate(d string) error {
	if err := l.alg.Validate(d); err != nil {
		return fmt.Errorf("%q: %w", d, common.ErrInvalidDigest)
	}
	return nil
}

// Locate returns the relative storage path of the blob with digest d.
func (l *Locator) Locate(d string) (string, error) {
	if err := l.Validate(d); err != nil {
		return "", err
	}
	return d[0:2] + "/" + d[2:4] + "/" + d, nil
}

// FromBytes hashes b and returns the hex digest.
func (l *Locator) FromBytes(b []byte) string {
	return l.alg.FromBytes(b).Encoded()
}

// CompressedPath is where the compressed representation of path lives.
func CompressedPath(path, ext string) string {
	return path + "." + ext
}
