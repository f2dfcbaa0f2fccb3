package retrieval

import (
	"sort"

	"github.com/ternarybob/regula/internal/models"
)

// channelKind tags which retrieval channel produced a ranked list, so
// fusion can record per-channel ranks on the evidence.
type channelKind int

const (
	channelDense channelKind = iota
	channelLexical
)

// fusedSet accumulates reciprocal-rank-fusion scores across any number of
// ranked lists: one per (query, source, channel). A chunk appearing in
// several lists sums a 1/(k+rank) contribution from each; chunks absent
// from a list contribute nothing for it. Official-source hits are boosted
// multiplicatively before their contribution is added, keeping the boost
// small relative to genuine rank signal.
type fusedSet struct {
	k        float64
	boost    float64
	evidence map[string]*models.Evidence
}

func newFusedSet(k, officialBoost float64) *fusedSet {
	if k <= 0 {
		k = 60
	}
	if officialBoost <= 0 {
		officialBoost = 1
	}
	return &fusedSet{
		k:        k,
		boost:    officialBoost,
		evidence: make(map[string]*models.Evidence),
	}
}

// add folds one ranked list into the set. Ranks are 1-based within the
// list; the best seen rank per channel is kept on the evidence.
func (f *fusedSet) add(kind channelKind, hits []channelHit) {
	for i, hit := range hits {
		rank := i + 1

		ev, ok := f.evidence[hit.chunk.ID]
		if !ok {
			ev = &models.Evidence{Chunk: hit.chunk}
			f.evidence[hit.chunk.ID] = ev
		}

		contribution := 1.0 / (f.k + float64(rank))
		if hit.chunk.Official {
			contribution *= f.boost
		}
		ev.FusedScore += contribution

		switch kind {
		case channelDense:
			if ev.DenseRank == 0 || rank < ev.DenseRank {
				ev.DenseRank = rank
			}
		case channelLexical:
			if ev.LexicalRank == 0 || rank < ev.LexicalRank {
				ev.LexicalRank = rank
			}
		}
	}
}

// ranked returns the fused evidence ordered by score descending, ties
// broken by precedence then chunk ID for determinism.
func (f *fusedSet) ranked(limit int) []*models.Evidence {
	out := make([]*models.Evidence, 0, len(f.evidence))
	for _, ev := range f.evidence {
		out = append(out, ev)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		if out[i].Chunk.Precedence != out[j].Chunk.Precedence {
			return out[i].Chunk.Precedence > out[j].Chunk.Precedence
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
