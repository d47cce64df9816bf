package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// OverlayEntry is one category's learned adjustment. NoChanges marks a
// category the offline batch reviewed and left alone.
type OverlayEntry struct {
	NoChanges         bool     `json:"noChanges"`
	Priority          float64  `json:"priority"`
	ExpectText        *bool    `json:"expectText"`
	RequiredLabels    []string `json:"requiredLabels"`
	RecommendedLabels []string `json:"recommendedLabels"`
	AntiLabels        []string `json:"antiLabels"`
	SampleCount       int      `json:"sampleCount"`
	AvgConfidence     float64  `json:"avgConfidence"`
}

// Overlay is the versioned learned-rule document produced offline.
type Overlay struct {
	Version         int                     `json:"version"`
	GeneratedAt     time.Time               `json:"generatedAt"`
	ShortTextMedian int                     `json:"shortTextMedian"`
	LongTextMedian  int                     `json:"longTextMedian"`
	Categories      map[string]OverlayEntry `json:"categories"`
}

// LoadOverlay reads the overlay document from path. A missing file is a
// normal, fully supported state and returns (nil, nil): the static
// rules apply unmodified.
func LoadOverlay(path string) (*Overlay, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read overlay: %w", err)
	}
	var overlay Overlay
	if err := json.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parse overlay: %w", err)
	}
	return &overlay, nil
}

// Merge applies the overlay to the static table and returns a new rule
// slice. It runs once at load time; the result is immutable for the
// process lifetime — picking up a new overlay requires a restart.
//
// Per category with an active overlay entry: the priority weight and
// text expectation are replaced, and learned required/recommended
// labels and anti-labels are prepended ahead of the static lists,
// de-duplicated by exact value. Categories absent from the overlay or
// flagged noChanges keep their static rule.
func Merge(static []Rule, overlay *Overlay) []Rule {
	merged := make([]Rule, len(static))
	copy(merged, static)
	if overlay == nil {
		return merged
	}
	for i, rule := range merged {
		entry, ok := overlay.Categories[rule.Category]
		if !ok || entry.NoChanges {
			continue
		}
		if entry.Priority > 0 {
			rule.Priority = clamp(entry.Priority, MinPriority, MaxPriority)
		}
		if entry.ExpectText != nil {
			rule.ExpectText = entry.ExpectText
		}
		learned := append(append([]string{}, entry.RequiredLabels...), entry.RecommendedLabels...)
		rule.Labels = prependUnique(learned, rule.Labels)
		rule.AntiLabels = prependUnique(entry.AntiLabels, rule.AntiLabels)
		merged[i] = rule
	}
	return merged
}

// prependUnique puts head values ahead of tail, dropping exact
// duplicates while keeping first-occurrence order.
func prependUnique(head, tail []string) []string {
	out := make([]string, 0, len(head)+len(tail))
	seen := make(map[string]struct{}, len(head)+len(tail))
	for _, lists := range [][]string{head, tail} {
		for _, v := range lists {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
