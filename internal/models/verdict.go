package models

// CitationExcerptMax caps citation excerpt length in runes, bounding how
// much source text a single verdict can expose.
const CitationExcerptMax = 300

// Citation ties one claim in a verdict back to a specific passage.
type Citation struct {
	SourceID   string `json:"source_id"`
	SourceName string `json:"source_name"`
	Excerpt    string `json:"excerpt"`
	Page       int    `json:"page"`
	Section    string `json:"section"`
	Official   bool   `json:"official"`
}

// Conflict records two genuinely disagreeing rules from different
// precedence tiers, with both readings preserved.
type Conflict struct {
	Description string `json:"description"`
	Resolution  string `json:"resolution"`
}

// Confidence bands. A verdict's ConfidenceReason must state which band
// logic applied.
const (
	// ConfidenceDirect: evidence directly and unambiguously answers.
	ConfidenceDirect = 0.9
	// ConfidenceCombined: answer combines multiple rules, well supported.
	ConfidenceCombined = 0.7
	// ConfidenceInterpretive: requires interpretation, ambiguity remains.
	ConfidenceInterpretive = 0.5
)

// Verdict is the grounded answer to a Question. Every factual claim in
// Ruling must be traceable to a Citation; when grounding is insufficient
// the verdict says so explicitly instead of guessing.
type Verdict struct {
	Ruling    string `json:"ruling"`
	Reasoning string `json:"reasoning,omitempty"`

	Confidence       float64 `json:"confidence"`
	ConfidenceReason string  `json:"confidence_reason"`

	Citations []Citation `json:"citations"`
	Conflicts []Conflict `json:"conflicts,omitempty"`

	FollowUp string `json:"follow_up,omitempty"`

	// InsufficientContext marks the defined low-evidence verdict state.
	// SuggestedSection names the section the caller should check manually.
	InsufficientContext bool   `json:"insufficient_context"`
	SuggestedSection    string `json:"suggested_section,omitempty"`
}

// Grounded reports whether the verdict asserts an answer (as opposed to the
// explicit insufficient-context state).
func (v *Verdict) Grounded() bool {
	return !v.InsufficientContext && v.Confidence >= ConfidenceInterpretive
}

// Classification is the content classifier's gate decision.
type Classification struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
}
