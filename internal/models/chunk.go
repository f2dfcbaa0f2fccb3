package models

import "strings"

// Chunk is the atomic unit of retrievable text. The stored Text is
// header-prefixed ("Combat > Dice Roll > Modifiers\n\n<body>") so both the
// embedding and the lexical index capture structural context regardless of
// where the chunk lands in a result list.
type Chunk struct {
	ID       string `json:"id" badgerhold:"key"`
	SourceID string `json:"source_id" badgerhold:"index"`
	Ordinal  int    `json:"ordinal"`

	// Text is the indexed form: header path prefix + body.
	Text string `json:"text"`
	// Body is the raw chunk text without the header prefix, used for
	// citation excerpts.
	Body string `json:"body"`

	Page        int      `json:"page"`
	SectionPath []string `json:"section_path"`
	IsTable     bool     `json:"is_table"`
	TokenCount  int      `json:"token_count"`

	// Precedence and Official are denormalized from the owning Source for
	// fast tie-breaking during hierarchy resolution and fusion.
	Precedence int  `json:"precedence"`
	Official   bool `json:"official"`

	Embedding []float32 `json:"embedding,omitempty"`
}

// Section returns the section path rendered as "A > B > C".
func (c *Chunk) Section() string {
	return strings.Join(c.SectionPath, " > ")
}

// Excerpt returns the chunk body truncated to max runes, with an ellipsis
// when truncation occurred. Used to cap citation exposure of source text.
func (c *Chunk) Excerpt(max int) string {
	body := strings.TrimSpace(c.Body)
	runes := []rune(body)
	if max <= 0 || len(runes) <= max {
		return body
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
