package models

// Turn is a single prior exchange in the conversational history supplied
// by the caller. History is never persisted by the core.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Question is the ephemeral query input: raw text, the set of eligible
// Source IDs (the search scope) and short conversational history.
type Question struct {
	Text    string   `json:"text"`
	Scope   []string `json:"scope"`
	History []Turn   `json:"history,omitempty"`
}

// Evidence pairs a chunk with the scores it accumulated on its way through
// the query pipeline. Created per-query and never stored.
type Evidence struct {
	Chunk *Chunk

	// DenseRank and LexicalRank are 1-based positions in their respective
	// channel result lists; zero means absent from that list.
	DenseRank   int
	LexicalRank int

	// FusedScore is the reciprocal-rank-fusion score across channels.
	FusedScore float64

	// RerankScore is the cross-encoder relevance score, set after reranking.
	RerankScore float64
}
