package quality

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"curator/internal/config"
	"curator/internal/workitem"
)

// Keyword match weights: the first two matches carry most of the signal,
// later ones add diminishing value.
const (
	primaryKeywordWeight    = 6
	additionalKeywordWeight = 2
	entityWeight            = 4
)

// Result is the evaluator's verdict with every contributing reason, returned
// for audit logging.
type Result struct {
	Score    int
	MaxScore int
	Passed   bool
	Reasons  []string
}

// Evaluator scores field sets against a configured rubric.
type Evaluator struct {
	cfg       config.Quality
	threshold int
	maxScore  int
}

var (
	durationPattern = regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?\b`)
	yearPattern     = regexp.MustCompile(`^(1[89]|20)\d{2}s?$`)
)

// New builds an evaluator. The rubric values come from configuration; they
// were tuned empirically and the generous pass threshold is intentional
// (pausing for review costs more than a weak description).
func New(cfg config.Quality) *Evaluator {
	maxScore := cfg.LengthCap + cfg.KeywordCap + cfg.EntityCap + cfg.TechnicalBonus
	threshold := maxScore * cfg.PassPercent / 100
	if threshold < 1 {
		threshold = 1
	}
	return &Evaluator{cfg: cfg, threshold: threshold, maxScore: maxScore}
}

// Threshold returns the minimum passing score.
func (e *Evaluator) Threshold() int {
	return e.threshold
}

// Evaluate scores the fields. It never panics: an internal rubric failure
// falls back to a conservative length check rather than blocking the
// pipeline.
func (e *Evaluator) Evaluate(fields workitem.Fields) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = e.fallback(fields, fmt.Sprintf("rubric failure: %v", r))
		}
	}()
	return e.score(fields)
}

func (e *Evaluator) score(fields workitem.Fields) Result {
	text := combinedText(fields)
	result := Result{MaxScore: e.maxScore}

	lengthScore := len(text) / e.cfg.LengthDivisor
	if lengthScore > e.cfg.LengthCap {
		lengthScore = e.cfg.LengthCap
	}
	if lengthScore > 0 {
		result.Score += lengthScore
		result.Reasons = append(result.Reasons, fmt.Sprintf("text length %d chars: +%d", len(text), lengthScore))
	} else {
		result.Reasons = append(result.Reasons, "no descriptive text")
	}

	if matched, keywordScore := e.keywordScore(text); keywordScore > 0 {
		result.Score += keywordScore
		result.Reasons = append(result.Reasons, fmt.Sprintf("domain keywords (%s): +%d", strings.Join(matched, ", "), keywordScore))
	}

	if entities, entityScore := e.entityScore(text); entityScore > 0 {
		result.Score += entityScore
		result.Reasons = append(result.Reasons, fmt.Sprintf("named entities (%s): +%d", strings.Join(entities, ", "), entityScore))
	}

	if reason, ok := e.technicalSignal(fields, text); ok {
		result.Score += e.cfg.TechnicalBonus
		result.Reasons = append(result.Reasons, fmt.Sprintf("%s: +%d", reason, e.cfg.TechnicalBonus))
	}

	if phrases, penalty := e.boilerplatePenalty(text); penalty > 0 {
		result.Score -= penalty
		result.Reasons = append(result.Reasons, fmt.Sprintf("boilerplate (%s): -%d", strings.Join(phrases, ", "), penalty))
	}

	if result.Score < 0 {
		result.Score = 0
	}
	result.Passed = result.Score >= e.threshold
	return result
}

// fallback is the conservative rule used when the rubric itself fails: pass
// anything with a reasonable amount of text instead of stalling the item.
func (e *Evaluator) fallback(fields workitem.Fields, cause string) Result {
	text := combinedText(fields)
	passed := len(text) >= e.cfg.FallbackMinLength
	return Result{
		Score:    0,
		MaxScore: e.maxScore,
		Passed:   passed,
		Reasons:  []string{cause, fmt.Sprintf("fallback length check: %d chars (minimum %d)", len(text), e.cfg.FallbackMinLength)},
	}
}

func (e *Evaluator) keywordScore(text string) ([]string, int) {
	lowered := strings.ToLower(text)
	var matched []string
	for _, keyword := range e.cfg.Keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		if strings.Contains(lowered, keyword) {
			matched = append(matched, keyword)
		}
	}
	sort.Strings(matched)

	score := 0
	for i := range matched {
		if i < 2 {
			score += primaryKeywordWeight
		} else {
			score += additionalKeywordWeight
		}
	}
	if score > e.cfg.KeywordCap {
		score = e.cfg.KeywordCap
	}
	return matched, score
}

// entityScore counts probable proper nouns: capitalized words past a sentence
// start, all-caps tokens, and decade/year forms.
func (e *Evaluator) entityScore(text string) ([]string, int) {
	tokens := strings.Fields(text)
	seen := make(map[string]struct{})
	var entities []string
	sentenceStart := true

	for _, token := range tokens {
		word := strings.TrimFunc(token, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		endsSentence := strings.HasSuffix(token, ".") || strings.HasSuffix(token, "!") || strings.HasSuffix(token, "?")
		if word == "" {
			sentenceStart = endsSentence || sentenceStart
			continue
		}

		isEntity := false
		switch {
		case yearPattern.MatchString(word):
			isEntity = true
		case len(word) >= 2 && word == strings.ToUpper(word) && strings.IndexFunc(word, unicode.IsLetter) >= 0:
			isEntity = true
		case !sentenceStart && unicode.IsUpper([]rune(word)[0]):
			isEntity = true
		}

		if isEntity {
			if _, dup := seen[word]; !dup {
				seen[word] = struct{}{}
				entities = append(entities, word)
			}
		}
		sentenceStart = endsSentence
	}

	score := len(entities) * entityWeight
	if score > e.cfg.EntityCap {
		score = e.cfg.EntityCap
	}
	return entities, score
}

func (e *Evaluator) technicalSignal(fields workitem.Fields, text string) (string, bool) {
	for _, name := range []string{workitem.FieldDuration, workitem.FieldFormat, workitem.FieldResolution} {
		if strings.TrimSpace(fields.Get(name)) != "" {
			return "technical metadata field " + name, true
		}
	}
	if durationPattern.MatchString(text) {
		return "duration marker in text", true
	}
	return "", false
}

func (e *Evaluator) boilerplatePenalty(text string) ([]string, int) {
	lowered := strings.ToLower(text)
	var matched []string
	for _, phrase := range e.cfg.BoilerplatePhrases {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase == "" {
			continue
		}
		if strings.Contains(lowered, phrase) {
			matched = append(matched, phrase)
		}
	}
	sort.Strings(matched)

	penalty := len(matched) * primaryKeywordWeight
	if penalty > e.cfg.BoilerplateCap {
		penalty = e.cfg.BoilerplateCap
	}
	return matched, penalty
}

// combinedText joins the descriptive fields the evaluator considers, in a
// fixed order so scoring stays deterministic.
func combinedText(fields workitem.Fields) string {
	parts := make([]string, 0, 3)
	for _, name := range []string{workitem.FieldTitle, workitem.FieldDescription, workitem.FieldUserPrompt} {
		if value := strings.TrimSpace(fields.Get(name)); value != "" {
			parts = append(parts, value)
		}
	}
	return strings.Join(parts, " ")
}
