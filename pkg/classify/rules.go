// Package classify ranks upload content into categories using a
// weighted multi-signal scorer over a static rule table merged with an
// optional learned overlay.
package classify

// Category names used by the static rule table.
const (
	CategoryMember     = "member"
	CategoryGroup      = "group"
	CategoryScreenshot = "screenshot"
	CategoryMeme       = "meme"
	CategoryDocument   = "document"
	CategoryMisc       = "misc"
)

// FallbackCategory is the lowest-priority category classification
// degrades to when signals are empty or scoring fails.
const FallbackCategory = CategoryMisc

// Priority weights stay inside this range, static and learned alike.
const (
	MinPriority = 0.70
	MaxPriority = 0.95
)

// Rule describes one category. Table order is significant: ties keep
// the table's order, so results stay reproducible.
type Rule struct {
	Category   string
	Keywords   []string
	Labels     []string
	AntiLabels []string
	// ExpectText is nil when the category has no text expectation.
	ExpectText *bool
	Priority   float64
}

// StaticRules returns a fresh copy of the ordered static rule table.
func StaticRules() []Rule {
	return []Rule{
		{
			Category:   CategoryMember,
			Keywords:   []string{"selca", "selfie", "solo", "photocard", "fancam"},
			Labels:     []string{"face", "portrait", "person", "selfie", "smile", "character"},
			AntiLabels: []string{"crowd", "screenshot", "text"},
			ExpectText: boolPtr(false),
			Priority:   0.95,
		},
		{
			Category:   CategoryGroup,
			Keywords:   []string{"group", "team", "everyone", "unit", "ot"},
			Labels:     []string{"crowd", "people", "group", "audience"},
			AntiLabels: []string{"screenshot"},
			ExpectText: boolPtr(false),
			Priority:   0.90,
		},
		{
			Category:   CategoryScreenshot,
			Keywords:   []string{"screenshot", "screen", "capture", "app"},
			Labels:     []string{"screenshot", "text", "font", "software", "web page"},
			AntiLabels: []string{"person"},
			ExpectText: boolPtr(true),
			Priority:   0.85,
		},
		{
			Category:   CategoryMeme,
			Keywords:   []string{"meme", "funny", "lol", "joke"},
			Labels:     []string{"cartoon", "comics", "poster", "humour"},
			ExpectText: boolPtr(true),
			Priority:   0.80,
		},
		{
			Category:   CategoryDocument,
			Keywords:   []string{"doc", "document", "scan", "receipt", "form", "ticket"},
			Labels:     []string{"document", "paper", "text", "receipt"},
			AntiLabels: []string{"person"},
			ExpectText: boolPtr(true),
			Priority:   0.75,
		},
		{
			Category: CategoryMisc,
			Priority: 0.70,
		},
	}
}

func boolPtr(v bool) *bool { return &v }
