package models

// BlockKind distinguishes the structural elements a layout parse produces.
type BlockKind string

const (
	BlockHeading   BlockKind = "heading"
	BlockParagraph BlockKind = "paragraph"
	BlockTable     BlockKind = "table"
)

// Block is one structural element of a parsed document in reading order.
type Block struct {
	Kind BlockKind `json:"kind"`
	// Level is the heading depth (1 = top-level). Zero for non-headings.
	Level int    `json:"level,omitempty"`
	Text  string `json:"text"`
	Page  int    `json:"page"`
	// Rows holds table cell text, row-major. Only set for BlockTable.
	Rows [][]string `json:"rows,omitempty"`
}

// ParsedDocument is the layout parser's output: reading-order blocks plus
// parse-quality metadata.
type ParsedDocument struct {
	Blocks []Block `json:"blocks"`
	Pages  int     `json:"pages"`

	// LowFidelity is set when the parser used the linear fallback path and
	// cannot guarantee multi-column reading order.
	LowFidelity bool `json:"low_fidelity"`
}

// LeadingText returns up to maxChars of text from the start of the document,
// used by the content classifier to gate expensive processing.
func (d *ParsedDocument) LeadingText(maxChars int) string {
	var b []byte
	for _, blk := range d.Blocks {
		if len(b) >= maxChars {
			break
		}
		if len(b) > 0 {
			b = append(b, '\n')
		}
		b = append(b, blk.Text...)
	}
	if len(b) > maxChars {
		b = b[:maxChars]
	}
	return string(b)
}
