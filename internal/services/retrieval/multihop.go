package retrieval

import (
	"context"
	"regexp"
	"strings"
)

// Multi-hop bounds. One extra pass over at most two referenced sections
// keeps fan-out from compounding.
const (
	maxHopReferences = 2
	hopScanDepth     = 10
)

// sectionRefRe matches prose that points the reader at another section,
// e.g. `see "Grappling"`, `see the Combat Modifiers section`, or
// `described in the Stealth chapter`.
var sectionRefRe = regexp.MustCompile(
	`(?i)(?:see|refer to|described in|detailed in)\s+(?:the\s+)?` +
		`(?:"([^"]{3,60})"|“([^”]{3,60})”|([A-Z][A-Za-z' -]{2,50}?)\s+(?:section|chapter|rules|table))`)

// followReferences scans the current top candidates for textual references
// to other sections and issues one additional retrieval pass per reference,
// merging the results into the fused set before it is finalized. Errors are
// logged and skipped: a failed hop never fails the primary retrieval.
func (s *Service) followReferences(ctx context.Context, fused *fusedSet, scope []string) {
	top := fused.ranked(hopScanDepth)

	seen := make(map[string]bool)
	var references []string
	for _, ev := range top {
		for _, name := range extractSectionRefs(ev.Chunk.Body) {
			key := strings.ToLower(name)
			if seen[key] {
				continue
			}
			seen[key] = true
			// Skip self-references to the chunk's own section.
			if strings.EqualFold(name, lastSegment(ev.Chunk.SectionPath)) {
				continue
			}
			references = append(references, name)
			if len(references) == maxHopReferences {
				break
			}
		}
		if len(references) == maxHopReferences {
			break
		}
	}

	for _, ref := range references {
		if err := s.retrieveInto(ctx, fused, ref, scope); err != nil {
			s.logger.Warn().
				Err(err).
				Str("reference", ref).
				Msg("Multi-hop pass failed, continuing without it")
			continue
		}
		s.logger.Debug().
			Str("reference", ref).
			Msg("Multi-hop reference retrieved")
	}
}

// extractSectionRefs returns the section names a chunk points at.
func extractSectionRefs(body string) []string {
	var out []string
	for _, m := range sectionRefRe.FindAllStringSubmatch(body, -1) {
		for _, group := range m[1:] {
			if name := strings.TrimSpace(group); name != "" {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

func lastSegment(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return path[len(path)-1]
}
