package classify

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"stashbot/pkg/domain"
)

func TestLoadOverlayMissingFileIsNormal(t *testing.T) {
	overlay, err := LoadOverlay(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing overlay must not error: %v", err)
	}
	if overlay != nil {
		t.Fatal("expected nil overlay for missing file")
	}
}

func TestLoadOverlayParsesDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.json")
	doc := `{
		"version": 3,
		"shortTextMedian": 22,
		"categories": {
			"member": {"priority": 0.93, "requiredLabels": ["face"], "sampleCount": 412},
			"meme": {"noChanges": true}
		}
	}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	overlay, err := LoadOverlay(path)
	if err != nil {
		t.Fatalf("load overlay: %v", err)
	}
	if overlay.Version != 3 || overlay.ShortTextMedian != 22 {
		t.Fatalf("unexpected overlay header: %+v", overlay)
	}
	if !overlay.Categories["meme"].NoChanges {
		t.Fatal("noChanges flag lost")
	}
	if overlay.Categories["member"].SampleCount != 412 {
		t.Fatalf("provenance lost: %+v", overlay.Categories["member"])
	}
}

func TestMergeReplacesAndPrepends(t *testing.T) {
	expect := true
	overlay := &Overlay{Categories: map[string]OverlayEntry{
		CategoryMember: {
			Priority:          0.88,
			ExpectText:        &expect,
			RequiredLabels:    []string{"idol"},
			RecommendedLabels: []string{"face", "stage"},
			AntiLabels:        []string{"meme"},
		},
	}}
	merged := Merge(StaticRules(), overlay)

	var member Rule
	for _, r := range merged {
		if r.Category == CategoryMember {
			member = r
		}
	}
	if member.Priority != 0.88 {
		t.Fatalf("priority not replaced: %v", member.Priority)
	}
	if member.ExpectText == nil || !*member.ExpectText {
		t.Fatal("text expectation not replaced")
	}
	// Learned labels come first; "face" already in the static list and
	// must not repeat.
	if member.Labels[0] != "idol" || member.Labels[1] != "face" || member.Labels[2] != "stage" {
		t.Fatalf("learned labels not prepended: %v", member.Labels)
	}
	for i, l := range member.Labels {
		for j, other := range member.Labels {
			if i != j && l == other {
				t.Fatalf("duplicate label %q in %v", l, member.Labels)
			}
		}
	}
	if member.AntiLabels[0] != "meme" {
		t.Fatalf("learned anti-labels not prepended: %v", member.AntiLabels)
	}
}

func TestMergeClampsLearnedPriority(t *testing.T) {
	overlay := &Overlay{Categories: map[string]OverlayEntry{
		CategoryMember: {Priority: 2.5},
	}}
	merged := Merge(StaticRules(), overlay)
	for _, r := range merged {
		if r.Category == CategoryMember && r.Priority != MaxPriority {
			t.Fatalf("learned priority not clamped: %v", r.Priority)
		}
	}
}

func TestMergeLeavesOtherCategoriesAlone(t *testing.T) {
	overlay := &Overlay{Categories: map[string]OverlayEntry{
		CategoryMember: {Priority: 0.8},
	}}
	static := StaticRules()
	merged := Merge(static, overlay)
	for i, r := range merged {
		if r.Category == CategoryMember {
			continue
		}
		if !reflect.DeepEqual(r, static[i]) {
			t.Fatalf("category %s changed without an overlay entry", r.Category)
		}
	}
}

func TestNoChangesOverlayScoresIdentically(t *testing.T) {
	overlay := &Overlay{Categories: map[string]OverlayEntry{
		CategoryMember: {NoChanges: true, Priority: 0.5, RequiredLabels: []string{"bogus"}},
	}}
	plain := NewScorer(Merge(StaticRules(), nil), nil)
	flagged := NewScorer(Merge(StaticRules(), overlay), overlay)

	signals := domain.Signals{
		Labels:    []domain.Label{{Name: "face", Confidence: 0.85}},
		FaceCount: 1,
	}
	want := plain.Classify(signals, "selca from today")
	got := flagged.Classify(signals, "selca from today")
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("noChanges overlay altered scoring: %+v vs %+v", want, got)
	}
}
