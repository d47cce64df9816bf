package classify

import (
	"sort"
	"strings"

	"stashbot/pkg/domain"
)

// Signal weights and fixed scoring constants.
const (
	keywordWeight = 0.4
	labelWeight   = 0.4
	textWeight    = 0.3

	// antiLabelPenalty is subtracted per matched anti-label, scaled by
	// the detected label's confidence.
	antiLabelPenalty = 0.15

	// presenceTextMin is the character count under which an image is
	// treated as having no meaningful text.
	presenceTextMin = 10
	// mismatchScore is the text-presence score when the expectation
	// does not match reality.
	mismatchScore = 0.2
	// textLenScale normalizes text length into a 0..1 score.
	textLenScale = 100.0

	// Override adjustment sizes, applied in fixed order.
	soloFaceBoost     = 0.30
	groupFaceBoost    = 0.30
	soloPenalty       = 0.20
	zeroFaceUIBoost   = 0.10
	shortTextBoost    = 0.10
	brandBoost        = 0.05
	colorBoost        = 0.05
	dominantFraction  = 0.60
	scatteredFraction = 0.30
	scatteredMinColor = 4

	// Default learned text-length medians, replaced by overlay values.
	defaultShortTextMax = 25
	defaultLongTextMin  = 180

	// Sub-score threshold for method determination.
	methodThreshold = 0.5
)

// brandMarkers are known platform/brand substrings whose presence in
// short OCR text hints at a watermarked solo shot.
var brandMarkers = []string{"instagram", "twitter", "weverse", "tiktok", "youtube"}

// Scorer ranks categories for one image. It is a pure function of its
// inputs: fixed signals, context, and rule table always produce the
// same ranking.
type Scorer struct {
	rules        []Rule
	shortTextMax int
	longTextMin  int
}

// NewScorer builds a scorer over an already-merged rule table. The
// overlay, when present, supplies the learned text-length medians.
func NewScorer(rules []Rule, overlay *Overlay) *Scorer {
	s := &Scorer{
		rules:        rules,
		shortTextMax: defaultShortTextMax,
		longTextMin:  defaultLongTextMin,
	}
	if overlay != nil {
		if overlay.ShortTextMedian > 0 {
			s.shortTextMax = overlay.ShortTextMedian
		}
		if overlay.LongTextMedian > 0 {
			s.longTextMin = overlay.LongTextMedian
		}
	}
	return s
}

// Classify scores every category and returns the winner with up to two
// alternatives. Empty signals and context degrade to the fallback
// category instead of failing. When knownCategories is non-empty, only
// those categories compete.
func (s *Scorer) Classify(signals domain.Signals, contextText string, knownCategories ...string) domain.Classification {
	rules := s.rules
	if len(knownCategories) > 0 {
		rules = filterRules(rules, knownCategories)
	}
	if len(rules) == 0 || (signals.Empty() && strings.TrimSpace(contextText) == "") {
		return domain.Classification{
			Category:   FallbackCategory,
			Confidence: 0,
			Method:     domain.MethodLowConfidence,
		}
	}

	type scored struct {
		rule     Rule
		keyword  float64
		label    float64
		adjusted float64
		final    float64
	}
	results := make([]scored, len(rules))
	for i, rule := range rules {
		keyword := keywordScore(rule, contextText)
		label := labelScore(rule, signals.Labels)
		text := textPresenceScore(rule, signals.Text)
		results[i] = scored{
			rule:     rule,
			keyword:  keyword,
			label:    label,
			adjusted: keyword*keywordWeight + label*labelWeight + text*textWeight,
		}
	}

	// Override adjustments, in fixed order, each clamped after application.
	adjust := func(category string, delta float64) {
		for i := range results {
			if results[i].rule.Category == category {
				results[i].adjusted = clamp(results[i].adjusted+delta, 0, 1)
			}
		}
	}

	// (a) face count
	switch {
	case signals.FaceCount == 1:
		adjust(CategoryMember, soloFaceBoost)
	case signals.FaceCount >= 2:
		adjust(CategoryGroup, groupFaceBoost)
		adjust(CategoryMember, -soloPenalty)
	case signals.FaceCount == 0:
		adjust(CategoryScreenshot, zeroFaceUIBoost)
		adjust(CategoryDocument, zeroFaceUIBoost)
	}

	// (b) OCR text length against learned medians
	textLen := len(strings.TrimSpace(signals.Text))
	if textLen > 0 && textLen < s.shortTextMax {
		adjust(CategoryMember, shortTextBoost)
	}
	if textLen > s.longTextMin {
		adjust(CategoryGroup, shortTextBoost)
		adjust(CategoryMember, -soloPenalty)
	}

	// (c) brand watermark in short text
	if textLen > 0 && textLen < s.shortTextMax && containsBrand(signals.Text) {
		adjust(CategoryMember, brandBoost)
	}

	// (d) color dominance
	if top, n := topColorFraction(signals.Colors); n > 0 {
		if top >= dominantFraction {
			adjust(CategoryMember, colorBoost)
		}
		if n >= scatteredMinColor && top < scatteredFraction {
			adjust(CategoryGroup, colorBoost)
		}
	}

	for i := range results {
		results[i].final = results[i].adjusted * results[i].rule.Priority
	}

	// Stable sort keeps table order on ties, so output is reproducible.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].final > results[j].final
	})

	winner := results[0]
	method := domain.MethodLowConfidence
	switch {
	case winner.keyword > methodThreshold && winner.label > methodThreshold:
		method = domain.MethodHybrid
	case winner.keyword > methodThreshold:
		method = domain.MethodKeywordMatch
	case winner.label > methodThreshold:
		method = domain.MethodVisionAPI
	}

	alternatives := make([]domain.Candidate, 0, 2)
	for _, r := range results[1:] {
		if len(alternatives) == 2 {
			break
		}
		alternatives = append(alternatives, domain.Candidate{
			Category: r.rule.Category,
			Score:    r.final,
		})
	}

	return domain.Classification{
		Category:     winner.rule.Category,
		Confidence:   clamp(winner.final, 0, 1),
		Method:       method,
		Alternatives: alternatives,
	}
}

// keywordScore counts rule keywords found in the context text:
// min(matches/2, 1.0).
func keywordScore(rule Rule, contextText string) float64 {
	if len(rule.Keywords) == 0 || contextText == "" {
		return 0
	}
	haystack := strings.ToLower(contextText)
	matches := 0
	for _, kw := range rule.Keywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			matches++
		}
	}
	score := float64(matches) / 2
	if score > 1 {
		return 1
	}
	return score
}

// labelScore takes the best-matching positive label's confidence and
// subtracts a fraction of every matched anti-label's confidence.
func labelScore(rule Rule, detected []domain.Label) float64 {
	if len(detected) == 0 {
		return 0
	}
	base := 0.0
	for _, want := range rule.Labels {
		if conf, ok := bestLabelMatch(want, detected); ok && conf > base {
			base = conf
		}
	}
	for _, anti := range rule.AntiLabels {
		if conf, ok := bestLabelMatch(anti, detected); ok {
			base -= antiLabelPenalty * conf
		}
	}
	if base < 0 {
		return 0
	}
	return base
}

// bestLabelMatch finds the highest-confidence detected label matching
// name by case-insensitive substring in either direction.
func bestLabelMatch(name string, detected []domain.Label) (float64, bool) {
	name = strings.ToLower(name)
	best, found := 0.0, false
	for _, l := range detected {
		got := strings.ToLower(l.Name)
		if strings.Contains(got, name) || strings.Contains(name, got) {
			found = true
			if l.Confidence > best {
				best = l.Confidence
			}
		}
	}
	return best, found
}

// textPresenceScore rewards categories whose text expectation matches
// what OCR found. No expectation contributes nothing.
func textPresenceScore(rule Rule, text string) float64 {
	if rule.ExpectText == nil {
		return 0
	}
	textLen := len(strings.TrimSpace(text))
	hasText := textLen >= presenceTextMin
	if *rule.ExpectText {
		if hasText {
			score := float64(textLen) / textLenScale
			if score > 1 {
				return 1
			}
			return score
		}
		return mismatchScore
	}
	if !hasText {
		return 1
	}
	return mismatchScore
}

func containsBrand(text string) bool {
	lower := strings.ToLower(text)
	for _, brand := range brandMarkers {
		if strings.Contains(lower, brand) {
			return true
		}
	}
	return false
}

func topColorFraction(colors []domain.Color) (float64, int) {
	top := 0.0
	for _, c := range colors {
		if c.Fraction > top {
			top = c.Fraction
		}
	}
	return top, len(colors)
}

func filterRules(rules []Rule, categories []string) []Rule {
	allowed := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		allowed[c] = struct{}{}
	}
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if _, ok := allowed[r.Category]; ok {
			out = append(out, r)
		}
	}
	return out
}
