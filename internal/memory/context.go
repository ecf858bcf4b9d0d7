package memory

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rcliao/clip-memory/internal/model"
)

// DefaultContextBudget is the character budget for recalled context.
const DefaultContextBudget = 12000

// ContextEntry is a recalled entry packed into a prompt context.
type ContextEntry struct {
	ID      int64   `json:"id"`
	Score   float64 `json:"score"`
	Text    string  `json:"text"`
	Excerpt bool    `json:"excerpt,omitempty"`
}

// Context is the assembled recall block for a question.
type Context struct {
	Budget  int            `json:"budget"`
	Used    int            `json:"used"`
	Entries []ContextEntry `json:"entries"`
}

// String renders the context as numbered blocks for a prompt.
func (c *Context) String() string {
	var sb strings.Builder
	for i, e := range c.Entries {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] %s", i+1, e.Text)
	}
	return sb.String()
}

// BuildContext packs results into at most budget characters. Entries are
// ordered by a blend of relevance and recency; the last one that does not
// fit is cut to an excerpt if at least 100 chars remain.
func BuildContext(results []model.ScoredEntry, budget int, now time.Time) *Context {
	if budget <= 0 {
		budget = DefaultContextBudget
	}
	out := &Context{Budget: budget, Entries: []ContextEntry{}}
	if len(results) == 0 {
		return out
	}

	type scored struct {
		entry model.ScoredEntry
		score float64
	}
	candidates := make([]scored, 0, len(results))
	for _, r := range results {
		// Keyword hits carry similarity 0; give them a base relevance.
		relevance := r.Similarity
		if relevance <= 0 {
			relevance = 0.5
		}
		// Recency: exponential decay by age in days.
		age := now.Sub(r.CreatedAt).Hours() / 24.0
		recency := math.Exp(-0.1 * math.Max(age, 0))

		candidates = append(candidates, scored{entry: r, score: relevance*0.8 + recency*0.2})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	used := 0
	for _, c := range candidates {
		text := entryText(c.entry.Entry)
		score := math.Round(c.score*100) / 100
		if used+len(text) <= budget {
			out.Entries = append(out.Entries, ContextEntry{ID: c.entry.ID, Score: score, Text: text})
			used += len(text)
			continue
		}
		if remaining := budget - used; remaining >= 100 {
			excerpt := cutBytes(text, remaining) + "..."
			out.Entries = append(out.Entries, ContextEntry{ID: c.entry.ID, Score: score, Text: excerpt, Excerpt: true})
			used += len(excerpt)
		}
		break
	}
	out.Used = used
	return out
}

func entryText(e model.Entry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s", e.CreatedAt.Format("2006-01-02"))
	if e.SourceURL != "" {
		fmt.Fprintf(&sb, " %s", e.SourceURL)
	}
	if e.Summary != "" {
		fmt.Fprintf(&sb, "\nSummary: %s", e.Summary)
	}
	fmt.Fprintf(&sb, "\nAnalysis: %s", e.Analysis)
	return sb.String()
}

// cutBytes trims s to at most n bytes without splitting a rune.
func cutBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
