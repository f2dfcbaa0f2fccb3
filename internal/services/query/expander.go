package query

import (
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/regula/internal/models"
)

// maxSubQueries bounds compound decomposition so one question can never fan
// out into unbounded retrieval passes.
const maxSubQueries = 3

// Expanded is a retrieval-ready rewrite of a raw question.
type Expanded struct {
	// Primary is the cleaned full question, always retrieved.
	Primary string
	// SubQueries are the decomposed parts of a compound question, each
	// retrieved independently and merged before fusion.
	SubQueries []string
}

// Queries returns the primary query plus sub-queries in retrieval order.
func (e *Expanded) Queries() []string {
	out := []string{e.Primary}
	out = append(out, e.SubQueries...)
	return out
}

// Expander rewrites raw questions into retrieval-optimized queries:
// conversational filler is stripped, short follow-ups inherit topic words
// from the history, and compound questions are decomposed.
type Expander struct {
	logger arbor.ILogger
}

func NewExpander(logger arbor.ILogger) *Expander {
	return &Expander{logger: logger}
}

var fillerPrefixes = []string{
	"can you tell me",
	"could you tell me",
	"i was wondering",
	"i would like to know",
	"i'd like to know",
	"quick question:",
	"quick question",
	"please explain",
	"hey,",
	"hi,",
}

var followUpRe = regexp.MustCompile(`(?i)^(what|how) about\b`)

// punctSplitRe separates independent questions joined by question marks or
// semicolons.
var punctSplitRe = regexp.MustCompile(`\?\s+|;\s+`)

// conjunctionRe finds a coordinating "and" directly followed by an
// interrogative, the seam of a compound question. The interrogative is kept
// with the following part.
var conjunctionRe = regexp.MustCompile(`(?i),?\s+and\s+(what|how|when|where|which|who|can|does|do|is|are)\b`)

// Expand produces the retrieval queries for a question.
func (e *Expander) Expand(q *models.Question) *Expanded {
	text := cleanQuestion(q.Text)

	if followUpRe.MatchString(text) {
		if topic := lastUserTopic(q.History); topic != "" {
			text = followUpRe.ReplaceAllString(text, "")
			text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "?"))
			text = topic + " " + text
		}
	}

	expanded := &Expanded{Primary: text}

	parts := splitCompound(text)
	if len(parts) > 1 {
		for _, part := range parts {
			part = cleanQuestion(part)
			// Fragments too short to stand alone stay covered by the
			// primary query.
			if len(strings.Fields(part)) < 3 {
				continue
			}
			expanded.SubQueries = append(expanded.SubQueries, part)
			if len(expanded.SubQueries) == maxSubQueries {
				break
			}
		}
		if len(expanded.SubQueries) == 1 {
			expanded.SubQueries = nil
		}
	}

	e.logger.Debug().
		Str("primary", expanded.Primary).
		Int("sub_queries", len(expanded.SubQueries)).
		Msg("Question expanded")

	return expanded
}

// splitCompound breaks a compound question at punctuation seams and at
// "and <interrogative>" conjunctions, keeping the interrogative with the
// part it introduces.
func splitCompound(text string) []string {
	var parts []string
	for _, piece := range punctSplitRe.Split(text, -1) {
		remaining := piece
		for {
			loc := conjunctionRe.FindStringSubmatchIndex(remaining)
			if loc == nil {
				break
			}
			parts = append(parts, strings.TrimSpace(remaining[:loc[0]]))
			// loc[2] is the start of the captured interrogative.
			remaining = remaining[loc[2]:]
		}
		if trimmed := strings.TrimSpace(remaining); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// cleanQuestion strips conversational filler and trailing punctuation while
// preserving the rule terminology retrieval depends on.
func cleanQuestion(text string) string {
	cleaned := strings.TrimSpace(text)

	lower := strings.ToLower(cleaned)
	for _, prefix := range fillerPrefixes {
		if strings.HasPrefix(lower, prefix) {
			cleaned = strings.TrimSpace(cleaned[len(prefix):])
			cleaned = strings.TrimPrefix(cleaned, ",")
			cleaned = strings.TrimSpace(cleaned)
			break
		}
	}

	cleaned = strings.TrimRight(cleaned, "?!. ")
	return cleaned
}

// lastUserTopic extracts content words from the most recent user turn, used
// to ground elliptical follow-ups like "what about thrown weapons?".
func lastUserTopic(history []models.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != "user" {
			continue
		}
		words := contentWords(history[i].Content)
		if len(words) == 0 {
			continue
		}
		if len(words) > 6 {
			words = words[:6]
		}
		return strings.Join(words, " ")
	}
	return ""
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"can": true, "does": true, "do": true, "did": true, "what": true,
	"how": true, "when": true, "where": true, "which": true, "who": true,
	"i": true, "my": true, "you": true, "your": true, "it": true, "its": true,
	"of": true, "in": true, "on": true, "to": true, "with": true, "for": true,
	"and": true, "or": true, "if": true, "about": true, "that": true, "this": true,
}

func contentWords(text string) []string {
	var out []string
	for _, w := range strings.Fields(strings.TrimRight(text, "?!. ")) {
		if !stopWords[strings.ToLower(w)] {
			out = append(out, w)
		}
	}
	return out
}
