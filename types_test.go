package haven

import "testing"

func TestWordCount(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"one", 1},
		{"two words", 2},
		{"  leading and   internal  gaps ", 4},
		{"tabs\tand\nnewlines count", 4},
	}
	for _, c := range cases {
		if got := WordCount(c.in); got != c.want {
			t.Errorf("WordCount(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestNewIDIsSortableAndUnique(t *testing.T) {
	a := NewID()
	b := NewID()
	if a == b {
		t.Fatal("consecutive ids collided")
	}
	// UUIDv7 ids generated in order compare lexicographically in order.
	if b < a {
		t.Errorf("ids not time-sortable: %s then %s", a, b)
	}
}
