package haven

import (
	"strings"
	"testing"
)

func TestBuildSummaryTagsRolesAndModels(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "How do I rotate the key?", CreatedAt: 1},
		{Role: "assistant", Model: "llama3", Content: "Use the rotate command. Then restart.", CreatedAt: 2},
	}
	sum := BuildSummary("s1", msgs, 30, 1200)

	if len(sum.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(sum.Events))
	}
	if !strings.Contains(sum.Text, "- [user] How do I rotate the key?") {
		t.Errorf("missing user bullet in %q", sum.Text)
	}
	if !strings.Contains(sum.Text, "- [assistant/llama3] Use the rotate command.") {
		t.Errorf("missing assistant bullet in %q", sum.Text)
	}
	if len(sum.ModelsUsed) != 1 || sum.ModelsUsed[0] != "llama3" {
		t.Errorf("models used = %v", sum.ModelsUsed)
	}
}

func TestBuildSummaryKeepsOnlyTrailingEvents(t *testing.T) {
	msgs := make([]Message, 10)
	for i := range msgs {
		msgs[i] = Message{Role: "user", Content: strings.Repeat("x", 10), CreatedAt: int64(i)}
	}
	sum := BuildSummary("s1", msgs, 3, 1200)
	if len(sum.Events) != 3 {
		t.Fatalf("events = %d, want 3", len(sum.Events))
	}
	if sum.Events[0].At != 7 {
		t.Errorf("first kept event at %d, want 7", sum.Events[0].At)
	}
}

func TestBuildSummaryTruncatesText(t *testing.T) {
	msgs := []Message{{Role: "user", Content: strings.Repeat("a", 90)}}
	sum := BuildSummary("s1", msgs, 30, 20)
	if !strings.HasSuffix(sum.Text, "…") {
		t.Errorf("truncated text should end with ellipsis: %q", sum.Text)
	}
	if got := len([]rune(sum.Text)); got != 21 {
		t.Errorf("text length = %d runes, want 21", got)
	}
}

func TestExcerptFirstSentence(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Hello there. More text.", "Hello there."},
		{"No boundary here", "No boundary here"},
		{"line one\nline two", "line one"},
		{strings.Repeat("b", 150), strings.Repeat("b", 100)},
	}
	for _, c := range cases {
		if got := excerpt(c.in); got != c.want {
			t.Errorf("excerpt(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
