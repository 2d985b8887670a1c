package haven

import (
	"fmt"
	"strings"
)

const (
	// DefaultSummaryEvents is the number of trailing events folded into a
	// rolling summary.
	DefaultSummaryEvents = 30
	// DefaultSummaryChars is the character cap on the rendered digest.
	DefaultSummaryChars = 1200
)

// BuildSummary folds the last maxEvents messages into a rolling summary for
// the session. The digest is one bullet per event (first sentence or first
// 100 characters, role and model tagged) truncated to maxChars with an
// ellipsis marker. Full history stays in the messages table; the summary is
// the fixed-length recency view used for context budgeting.
func BuildSummary(sessionID string, msgs []Message, maxEvents, maxChars int) Summary {
	if maxEvents <= 0 {
		maxEvents = DefaultSummaryEvents
	}
	if maxChars <= 0 {
		maxChars = DefaultSummaryChars
	}
	if len(msgs) > maxEvents {
		msgs = msgs[len(msgs)-maxEvents:]
	}

	events := make([]SummaryEvent, 0, len(msgs))
	models := make([]string, 0, 2)
	seen := make(map[string]bool)
	var b strings.Builder
	for _, m := range msgs {
		ev := SummaryEvent{
			Role:    m.Role,
			Model:   m.Model,
			Excerpt: excerpt(m.Content),
			At:      m.CreatedAt,
		}
		events = append(events, ev)
		if m.Model != "" && !seen[m.Model] {
			seen[m.Model] = true
			models = append(models, m.Model)
		}
		if ev.Model != "" {
			fmt.Fprintf(&b, "- [%s/%s] %s\n", ev.Role, ev.Model, ev.Excerpt)
		} else {
			fmt.Fprintf(&b, "- [%s] %s\n", ev.Role, ev.Excerpt)
		}
	}

	text := b.String()
	if runes := []rune(text); len(runes) > maxChars {
		text = string(runes[:maxChars]) + "…"
	}

	return Summary{
		SessionID:  sessionID,
		Text:       text,
		Events:     events,
		ModelsUsed: models,
	}
}

// excerpt returns the first sentence of s, or the first 100 characters if no
// sentence boundary appears that early.
func excerpt(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	for i, r := range runes {
		if i >= 100 {
			break
		}
		if r == '.' || r == '!' || r == '?' {
			return string(runes[:i+1])
		}
		if r == '\n' {
			return strings.TrimSpace(string(runes[:i]))
		}
	}
	if len(runes) > 100 {
		return string(runes[:100])
	}
	return s
}
