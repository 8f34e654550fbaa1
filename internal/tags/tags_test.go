package tags

import (
	"context"
	"testing"

	"github.com/csirt-tools/threatbrief/internal/config"
	"github.com/csirt-tools/threatbrief/internal/database"
)

func ptr(s string) *string { return &s }

func testTagConfig() *config.Config {
	return &config.Config{
		Tags: config.Tags{
			DefaultTags: []string{"cybersecurity", "threat-intelligence"},
			Vocabulary: []config.TagEntry{
				{Label: "ransomware", Category: "technical", Keywords: []string{"ransomware", "encryptor"}, BaseConfidence: 1.0},
				{Label: "microsoft", Category: "vendors", Keywords: []string{"microsoft", "windows"}, BaseConfidence: 1.0},
				{Label: "healthcare", Category: "industries", Keywords: []string{"hospital", "healthcare"}, BaseConfidence: 0.9},
			},
			Semantic: config.Semantic{Enabled: false, MinSimilarity: 0.5},
		},
	}
}

func TestDefaultTagsOnEmptyInput(t *testing.T) {
	s := NewSynthesizer(testTagConfig(), nil)

	tags := s.Synthesize(context.Background(), "2026-08-29", nil)
	if len(tags) != 2 {
		t.Fatalf("expected 2 default tags, got %d", len(tags))
	}
	for _, tag := range tags {
		if tag.Confidence != 0.5 {
			t.Errorf("default tag %q: expected confidence 0.5, got %v", tag.Label, tag.Confidence)
		}
		if tag.Count != 0 {
			t.Errorf("default tag %q: expected count 0, got %d", tag.Label, tag.Count)
		}
	}
	if tags[0].Label != "cybersecurity" || tags[1].Label != "threat-intelligence" {
		t.Errorf("unexpected default tag order: %q, %q", tags[0].Label, tags[1].Label)
	}
}

func TestExactMatchFrequencyScaling(t *testing.T) {
	s := NewSynthesizer(testTagConfig(), nil)

	articles := []database.Article{
		{Title: "Ransomware crew hits hospital network", Content: ptr("The encryptor spread fast.")},
		{Title: "Windows servers patched", Content: ptr("Microsoft released fixes.")},
	}

	tags := s.Synthesize(context.Background(), "2026-08-29", articles)

	var ransomware, microsoft *database.Tag
	for i := range tags {
		switch tags[i].Label {
		case "ransomware":
			ransomware = &tags[i]
		case "microsoft":
			microsoft = &tags[i]
		}
	}

	if ransomware == nil || microsoft == nil {
		t.Fatalf("expected ransomware and microsoft tags, got %+v", tags)
	}
	// One of two articles matches: 1.0 * (0.5 + 0.5*0.5) = 0.75
	if ransomware.Confidence != 0.75 {
		t.Errorf("expected confidence 0.75, got %v", ransomware.Confidence)
	}
	if ransomware.Count != 1 {
		t.Errorf("expected count 1, got %d", ransomware.Count)
	}
	if len(ransomware.Sources) != 1 || ransomware.Sources[0] != "pattern-matching" {
		t.Errorf("expected pattern-matching provenance, got %v", ransomware.Sources)
	}
}

func TestFullCoverageGetsBaseConfidence(t *testing.T) {
	s := NewSynthesizer(testTagConfig(), nil)

	articles := []database.Article{
		{Title: "Ransomware wave one"},
		{Title: "Ransomware wave two"},
	}

	tags := s.Synthesize(context.Background(), "2026-08-29", articles)
	if len(tags) != 1 {
		t.Fatalf("expected 1 tag, got %d", len(tags))
	}
	// Every article matches: factor 1.0, so full base confidence
	if tags[0].Confidence != 1.0 || tags[0].Count != 2 {
		t.Errorf("expected confidence 1.0 count 2, got %v/%d", tags[0].Confidence, tags[0].Count)
	}
}

func TestNoMatchesFallsBackToDefaults(t *testing.T) {
	s := NewSynthesizer(testTagConfig(), nil)

	articles := []database.Article{{Title: "Quarterly earnings call recap"}}
	tags := s.Synthesize(context.Background(), "2026-08-29", articles)

	if len(tags) != 2 {
		t.Fatalf("expected default tags when nothing matches, got %d", len(tags))
	}
	if tags[0].Label != "cybersecurity" {
		t.Errorf("expected default tag set, got %q", tags[0].Label)
	}
}

func TestOrderingConfidenceThenCountThenLabel(t *testing.T) {
	s := NewSynthesizer(testTagConfig(), nil)

	articles := []database.Article{
		{Title: "Ransomware hits hospital", Content: ptr("healthcare impact rising")},
		{Title: "Another ransomware note"},
	}

	tags := s.Synthesize(context.Background(), "2026-08-29", articles)
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %d", len(tags))
	}
	// ransomware: 1.0 conf, count 2. healthcare: 0.9*0.75, count 1.
	if tags[0].Label != "ransomware" || tags[1].Label != "healthcare" {
		t.Errorf("unexpected order: %q, %q", tags[0].Label, tags[1].Label)
	}
}

// mockEmbedder returns fixed vectors: the first vocabulary label and all
// texts share a direction, so only that label matches semantically.
type mockEmbedder struct {
	err error
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	if m.err != nil {
		return nil, m.err
	}
	vecs := make([][]float64, len(texts))
	for i := range texts {
		if i == 0 || len(texts) == 1 {
			vecs[i] = []float64{1, 0}
		} else {
			vecs[i] = []float64{0, 1}
		}
	}
	return vecs, nil
}

func TestSemanticTagsLandInFuzzyBand(t *testing.T) {
	cfg := testTagConfig()
	cfg.Tags.Semantic.Enabled = true

	s := NewSynthesizer(cfg, &mockEmbedder{})

	// No exact keyword hits, so only the semantic pass contributes.
	articles := []database.Article{{Title: "File-locking crews escalate attacks"}}
	tags := s.Synthesize(context.Background(), "2026-08-29", articles)

	if len(tags) != 1 {
		t.Fatalf("expected 1 semantic tag, got %d: %+v", len(tags), tags)
	}
	tag := tags[0]
	if tag.Label != "ransomware" {
		t.Errorf("expected ransomware from first vocabulary entry, got %q", tag.Label)
	}
	if tag.Confidence < 0.39 || tag.Confidence > 0.79 {
		t.Errorf("semantic confidence %v outside fuzzy band [0.39, 0.79]", tag.Confidence)
	}
	if len(tag.Sources) != 1 || tag.Sources[0] != "model-derived" {
		t.Errorf("expected model-derived provenance, got %v", tag.Sources)
	}
}

func TestSemanticMergeKeepsMaxConfidence(t *testing.T) {
	cfg := testTagConfig()
	cfg.Tags.Semantic.Enabled = true

	s := NewSynthesizer(cfg, &mockEmbedder{})

	// Exact hit gives confidence 1.0; the semantic match for the same
	// (label, category) must not lower it, only add provenance.
	articles := []database.Article{{Title: "Ransomware attack confirmed"}}
	tags := s.Synthesize(context.Background(), "2026-08-29", articles)

	if len(tags) != 1 {
		t.Fatalf("expected merged tag, got %d", len(tags))
	}
	if tags[0].Confidence != 1.0 {
		t.Errorf("expected exact-match confidence preserved, got %v", tags[0].Confidence)
	}
	if len(tags[0].Sources) != 2 {
		t.Errorf("expected both provenance sources, got %v", tags[0].Sources)
	}
}

func TestEmbedderFailureDegradesToExactPass(t *testing.T) {
	cfg := testTagConfig()
	cfg.Tags.Semantic.Enabled = true

	s := NewSynthesizer(cfg, &mockEmbedder{err: context.DeadlineExceeded})

	articles := []database.Article{{Title: "Ransomware attack confirmed"}}
	tags := s.Synthesize(context.Background(), "2026-08-29", articles)

	if len(tags) != 1 || tags[0].Label != "ransomware" {
		t.Fatalf("expected exact pass to survive embedder failure, got %+v", tags)
	}
}
