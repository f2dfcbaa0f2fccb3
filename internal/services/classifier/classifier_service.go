package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/regula/internal/interfaces"
	"github.com/ternarybob/regula/internal/models"
)

// systemPrompt gates documents before the expensive parse/embed pipeline.
// The wording is deliberately reject-biased: re-upload is cheap, a full
// pipeline run on junk is not.
const systemPrompt = `You are a strict document classifier for a tabletop game rules service.

Decide whether the provided text is from a RULES DOCUMENT: a rulebook, quick-start guide, expansion rules, errata, FAQ, or official rules reference for a board game, card game, tabletop RPG, or miniatures game.

REJECT anything else, including:
- novels, fiction, and lore-only companion books
- marketing copy, storefront pages, press releases
- software manuals, legal contracts, academic papers
- random scanned text, receipts, or unreadable noise

When in doubt, reject.

Respond with ONLY a JSON object, no markdown fences:
{"accepted": true|false, "reason": "<one short sentence>"}`

// Keyword families that appear in virtually every rules document. The
// prefilter accepts when enough distinct families are present, which lets
// obvious rulebooks skip the LLM call entirely.
var rulesVocabulary = [][]string{
	{"player", "players"},
	{"turn", "round", "phase"},
	{"dice", "die", "roll", "card", "cards", "token", "tokens"},
	{"rule", "rules", "rulebook"},
	{"win", "wins", "victory", "score", "scoring", "points"},
	{"setup", "components", "gameplay", "objective"},
}

// Families that indicate the document is something else entirely. Any two
// hits force the LLM gate even when rules vocabulary is present.
var offDomainVocabulary = [][]string{
	{"invoice", "receipt", "subtotal", "payment due"},
	{"chapter one", "prologue", "she whispered", "he whispered"},
	{"terms and conditions", "hereinafter", "liability", "warranty"},
	{"abstract", "et al", "doi:"},
}

var wordRe = regexp.MustCompile(`[a-z]+`)

// Service implements ClassifierProvider with a cheap lexical prefilter in
// front of an LLM gate.
type Service struct {
	generator interfaces.GenerationProvider
	logger    arbor.ILogger
}

func NewService(generator interfaces.GenerationProvider, logger arbor.ILogger) *Service {
	return &Service{
		generator: generator,
		logger:    logger,
	}
}

// Classify decides whether leadingText comes from a rules document.
// Empty or near-empty input is rejected outright.
func (s *Service) Classify(ctx context.Context, leadingText string) (*models.Classification, error) {
	trimmed := strings.TrimSpace(leadingText)
	if len(trimmed) < 80 {
		return &models.Classification{
			Accepted: false,
			Reason:   "document contains too little text to classify",
		}, nil
	}

	families, offDomain := scoreVocabulary(trimmed)

	if families >= 4 && offDomain == 0 {
		s.logger.Debug().
			Int("vocabulary_families", families).
			Msg("Classifier prefilter accepted document")
		return &models.Classification{
			Accepted: true,
			Reason:   "strong rules vocabulary in leading pages",
		}, nil
	}

	if families == 0 {
		return &models.Classification{
			Accepted: false,
			Reason:   "no rules vocabulary found in leading pages",
		}, nil
	}

	return s.classifyWithModel(ctx, trimmed)
}

func (s *Service) classifyWithModel(ctx context.Context, leadingText string) (*models.Classification, error) {
	messages := []interfaces.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: leadingText},
	}

	response, err := s.generator.Complete(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("classifier model call failed: %w", err)
	}

	var result models.Classification
	if err := json.Unmarshal([]byte(extractJSON(response)), &result); err != nil {
		// An unparseable gate response counts as rejection, not acceptance.
		s.logger.Warn().
			Err(err).
			Str("response", truncate(response, 200)).
			Msg("Classifier returned malformed response, rejecting")
		return &models.Classification{
			Accepted: false,
			Reason:   "classifier response could not be parsed",
		}, nil
	}

	if result.Reason == "" {
		if result.Accepted {
			result.Reason = "classified as a rules document"
		} else {
			result.Reason = "classified as out of domain"
		}
	}

	s.logger.Debug().
		Bool("accepted", result.Accepted).
		Str("reason", result.Reason).
		Msg("Classifier model decision")

	return &result, nil
}

// scoreVocabulary counts how many distinct rules-vocabulary families and
// off-domain families appear in the text.
func scoreVocabulary(text string) (families int, offDomain int) {
	lower := strings.ToLower(text)
	words := make(map[string]bool)
	for _, w := range wordRe.FindAllString(lower, -1) {
		words[w] = true
	}

	for _, family := range rulesVocabulary {
		for _, term := range family {
			if words[term] {
				families++
				break
			}
		}
	}

	for _, family := range offDomainVocabulary {
		for _, phrase := range family {
			if strings.Contains(lower, phrase) {
				offDomain++
				break
			}
		}
	}

	return families, offDomain
}

// extractJSON strips markdown fences and surrounding prose, returning the
// first top-level JSON object in the response.
func extractJSON(response string) string {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		return response[start : end+1]
	}
	return response
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

var _ interfaces.ClassifierProvider = (*Service)(nil)
