// Package ident derives stable target-system identifiers from legacy keys so
// that a migration or repair can be re-run without a lookup table.
//
// The md5 scheme is byte-compatible with the identifiers already written by
// the migration runs: md5("<table>_<year>_<key>") rendered as 8-4-4-4-12 hex.
package ident

import (
	"crypto/md5"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Scheme selects the digest behind an identifier.
type Scheme string

const (
	SchemeMD5     Scheme = "md5"
	SchemeBLAKE2b Scheme = "blake2b"
)

// Generator produces identifiers for one scheme. The zero value uses md5.
type Generator struct {
	scheme Scheme
}

// NewGenerator returns a Generator for scheme. An empty scheme means md5.
func NewGenerator(scheme Scheme) (*Generator, error) {
	switch Scheme(strings.ToLower(string(scheme))) {
	case "", SchemeMD5:
		return &Generator{scheme: SchemeMD5}, nil
	case SchemeBLAKE2b:
		return &Generator{scheme: SchemeBLAKE2b}, nil
	default:
		return nil, fmt.Errorf("ident: unknown scheme %q", scheme)
	}
}

// Scheme reports the digest in use.
func (g *Generator) Scheme() Scheme {
	if g == nil || g.scheme == "" {
		return SchemeMD5
	}
	return g.scheme
}

// ForRecord identifies a legacy row by table tag, fiscal year and numeric key.
func (g *Generator) ForRecord(table string, year int, key int64) string {
	return g.derive(fmt.Sprintf("%s_%d_%d", table, year, key))
}

// ForName identifies anything keyed by a string, e.g. attachment paths.
func (g *Generator) ForName(prefix, name string) string {
	return g.derive(prefix + "_" + name)
}

func (g *Generator) derive(seed string) string {
	var sum [16]byte
	switch g.Scheme() {
	case SchemeBLAKE2b:
		h, _ := blake2b.New(16, nil) // only errors on size > 64 or bad key
		h.Write([]byte(seed))
		copy(sum[:], h.Sum(nil))
	default:
		sum = md5.Sum([]byte(seed))
	}
	// Raw digest bytes, no version/variant bits: older runs did the same.
	return uuid.UUID(sum).String()
}

var defaultGenerator = &Generator{scheme: SchemeMD5}

// ForRecord uses the md5 scheme.
func ForRecord(table string, year int, key int64) string {
	return defaultGenerator.ForRecord(table, year, key)
}

// ForName uses the md5 scheme.
func ForName(prefix, name string) string {
	return defaultGenerator.ForName(prefix, name)
}
