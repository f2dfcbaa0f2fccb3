package rerank

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/regula/internal/common"
	"github.com/ternarybob/regula/internal/models"
)

// Resolver reorders near-duplicate evidence by source precedence and sizes
// the synthesis context window. When an errata chunk and a base chunk cover
// the same rule, the errata chunk must come first, and the base copy is the
// first to go when the context budget is tight.
type Resolver struct {
	threshold  float64
	contextMin int
	contextMax int
	logger     arbor.ILogger
}

func NewResolver(config *common.VerdictConfig, logger arbor.ILogger) *Resolver {
	return &Resolver{
		threshold:  config.JaccardThreshold,
		contextMin: config.ContextMin,
		contextMax: config.ContextMax,
		logger:     logger,
	}
}

// Resolve promotes higher-precedence members of near-duplicate pairs ahead
// of their lower-precedence twins, then trims to the context window,
// dropping superseded duplicates before anything else.
func (r *Resolver) Resolve(evidence []*models.Evidence) []*models.Evidence {
	if len(evidence) <= 1 {
		return evidence
	}

	out := make([]*models.Evidence, len(evidence))
	copy(out, evidence)

	// Promotion pass: whenever a near-duplicate pair is ordered with the
	// lower precedence first, move the higher-precedence chunk directly in
	// front of it. One sweep per promotion keeps the rest of the ordering
	// stable.
	for changed := true; changed; {
		changed = false
		for i := 0; i < len(out) && !changed; i++ {
			for j := i + 1; j < len(out); j++ {
				if out[i].Chunk.Precedence >= out[j].Chunk.Precedence {
					continue
				}
				if !r.nearDuplicate(out[i], out[j]) {
					continue
				}
				promoted := out[j]
				copy(out[i+1:j+1], out[i:j])
				out[i] = promoted
				changed = true
				r.logger.Debug().
					Str("promoted", promoted.Chunk.ID).
					Int("precedence", promoted.Chunk.Precedence).
					Msg("Near-duplicate promoted by precedence")
				break
			}
		}
	}

	if len(out) <= r.contextMax {
		return out
	}

	// Budget pass: drop superseded near-duplicates first, never going
	// below the minimum context size.
	kept := make([]*models.Evidence, 0, len(out))
	for idx, ev := range out {
		remaining := len(out) - idx - 1
		if len(kept)+remaining >= r.contextMin && r.supersededByAny(kept, ev) {
			r.logger.Debug().
				Str("dropped", ev.Chunk.ID).
				Msg("Superseded near-duplicate dropped for context budget")
			continue
		}
		kept = append(kept, ev)
	}

	if len(kept) > r.contextMax {
		kept = kept[:r.contextMax]
	}
	return kept
}

// supersededByAny reports whether ev duplicates a higher-precedence chunk
// already kept.
func (r *Resolver) supersededByAny(kept []*models.Evidence, ev *models.Evidence) bool {
	for _, k := range kept {
		if k.Chunk.Precedence > ev.Chunk.Precedence && r.nearDuplicate(k, ev) {
			return true
		}
	}
	return false
}

// nearDuplicate reports whether two chunks are near-duplicate coverage of
// the same rule.
func (r *Resolver) nearDuplicate(a, b *models.Evidence) bool {
	return common.Jaccard(a.Chunk.Body, b.Chunk.Body) >= r.threshold
}

// Superseded reports whether ev is a near-duplicate of a higher-precedence
// chunk in the context. The conflict detector uses this to exclude pairs
// that precedence already resolves.
func (r *Resolver) Superseded(ev *models.Evidence, context []*models.Evidence) bool {
	for _, other := range context {
		if other == ev {
			continue
		}
		if other.Chunk.Precedence > ev.Chunk.Precedence && r.nearDuplicate(other, ev) {
			return true
		}
	}
	return false
}
