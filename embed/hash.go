// Package embed provides the embedding backends and the selector that
// arbitrates between them: an accelerated in-process backend when one is
// registered, a loopback HTTP embedding service, and a deterministic hash
// fallback that is always available.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"golang.org/x/text/unicode/norm"

	"github.com/havenlab/haven"
)

// DefaultDimensions is the vector size of the hash fallback.
const DefaultDimensions = 384

// Hash is the deterministic fallback backend. It produces a unit-norm
// vector from a salted SHA-256 expansion of the NFC-normalized text.
// The output is stable across processes and platforms, so stored vectors
// stay comparable after restarts. It has no semantic power; it exists so
// the system keeps functioning when no real backend is reachable.
type Hash struct {
	dim  int
	salt []byte
}

var _ haven.Embedder = (*Hash)(nil)

// NewHash creates a hash backend with the given dimensionality.
// dim <= 0 selects DefaultDimensions.
func NewHash(dim int, salt string) *Hash {
	if dim <= 0 {
		dim = DefaultDimensions
	}
	return &Hash{dim: dim, salt: []byte(salt)}
}

// Embed returns one deterministic unit-norm vector per input text.
func (h *Hash) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

// Dimensions returns the embedding vector size.
func (h *Hash) Dimensions() int { return h.dim }

// Name returns "hash".
func (h *Hash) Name() string { return "hash" }

// vector expands the salted digest of the text into dim pseudo-random
// components in [-1, 1], then L2-normalizes.
func (h *Hash) vector(text string) []float32 {
	text = norm.NFC.String(text)

	seed := sha256.New()
	seed.Write(h.salt)
	seed.Write([]byte(text))
	base := seed.Sum(nil)

	v := make([]float32, h.dim)
	var block [sha256.Size]byte
	var counter [8]byte
	for i := 0; i < h.dim; i += sha256.Size / 4 {
		binary.BigEndian.PutUint64(counter[:], uint64(i))
		d := sha256.New()
		d.Write(base)
		d.Write(counter[:])
		copy(block[:], d.Sum(nil))
		for j := 0; j < sha256.Size/4 && i+j < h.dim; j++ {
			u := binary.BigEndian.Uint32(block[j*4 : j*4+4])
			v[i+j] = float32(u)/float32(math.MaxUint32)*2 - 1
		}
	}
	Normalize(v)
	return v
}

// Normalize scales v to unit length in place. Zero vectors are left as-is.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
