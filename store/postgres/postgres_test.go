package postgres

import (
	"testing"
)

func TestVectorLiteralRoundTrip(t *testing.T) {
	in := []float32{0.25, -1, 3.5}
	lit := serializeEmbedding(in)
	if lit != "[0.25,-1,3.5]" {
		t.Errorf("literal = %q", lit)
	}
	out := parseVector(lit)
	if len(out) != len(in) {
		t.Fatalf("parsed %d values, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("value %d = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestParseVectorEdgeCases(t *testing.T) {
	if got := parseVector("[]"); got != nil {
		t.Errorf("empty literal = %v, want nil", got)
	}
	if got := parseVector("[1,not-a-number]"); got != nil {
		t.Errorf("malformed literal = %v, want nil", got)
	}
	if got := parseVector("[ 1 , 2 ]"); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("whitespace literal = %v", got)
	}
}

func TestVectorType(t *testing.T) {
	s := &MemoryStore{}
	if got := s.vectorType(); got != "vector" {
		t.Errorf("untyped vector column = %q", got)
	}
	s.cfg.embeddingDimension = 768
	if got := s.vectorType(); got != "vector(768)" {
		t.Errorf("typed vector column = %q", got)
	}
}
