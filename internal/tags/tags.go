// Package tags derives frontmatter tags for a briefing from qualifying
// article text. Exact keyword hits carry pattern-matching provenance;
// optional embedding similarity adds model-derived tags at lower
// confidence. Output ordering is stable for reproducible briefings.
package tags

import (
	"context"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/csirt-tools/threatbrief/internal/config"
	"github.com/csirt-tools/threatbrief/internal/database"
	"github.com/csirt-tools/threatbrief/internal/llm"
)

const (
	sourcePattern = "pattern-matching"
	sourceModel   = "model-derived"
	sourceDefault = "default"

	// Fuzzy semantic matches land in this confidence band.
	fuzzyLow  = 0.39
	fuzzyHigh = 0.79

	defaultConfidence = 0.5
)

// Synthesizer derives tags for a briefing date.
type Synthesizer struct {
	vocabulary []config.TagEntry
	defaults   []string
	semantic   config.Semantic
	embedder   llm.Embedder
}

// NewSynthesizer creates a tag synthesizer. The embedder may be nil;
// semantic matching is skipped without one.
func NewSynthesizer(cfg *config.Config, embedder llm.Embedder) *Synthesizer {
	return &Synthesizer{
		vocabulary: cfg.Tags.Vocabulary,
		defaults:   cfg.Tags.DefaultTags,
		semantic:   cfg.Tags.Semantic,
		embedder:   embedder,
	}
}

// Synthesize derives the tag set for the qualifying articles of a date.
// Zero qualifying articles yields exactly the default tag set at fixed
// confidence and zero count; the document schema is never empty.
func (s *Synthesizer) Synthesize(ctx context.Context, briefingDate string, articles []database.Article) []database.Tag {
	if len(articles) == 0 {
		return s.defaultTags(briefingDate)
	}

	texts := make([]string, len(articles))
	for i, a := range articles {
		texts[i] = strings.ToLower(articleText(a))
	}

	type key struct{ label, category string }
	merged := make(map[key]*database.Tag)

	// Exact keyword pass
	for _, entry := range s.vocabulary {
		count := 0
		for _, text := range texts {
			if matchesAnyKeyword(text, entry.Keywords) {
				count++
			}
		}
		if count == 0 {
			continue
		}

		confidence := entry.BaseConfidence * frequencyFactor(count, len(articles))
		merged[key{entry.Label, entry.Category}] = &database.Tag{
			BriefingDate: briefingDate,
			Label:        entry.Label,
			Category:     entry.Category,
			Confidence:   confidence,
			Count:        count,
			Sources:      []string{sourcePattern},
		}
	}

	// Fuzzy semantic pass
	if s.semantic.Enabled && s.embedder != nil {
		for _, tag := range s.semanticTags(ctx, briefingDate, texts) {
			k := key{tag.Label, tag.Category}
			if existing, ok := merged[k]; ok {
				if tag.Confidence > existing.Confidence {
					existing.Confidence = tag.Confidence
				}
				if !containsString(existing.Sources, sourceModel) {
					existing.Sources = append(existing.Sources, sourceModel)
				}
				continue
			}
			t := tag
			merged[k] = &t
		}
	}

	if len(merged) == 0 {
		return s.defaultTags(briefingDate)
	}

	tags := make([]database.Tag, 0, len(merged))
	for _, t := range merged {
		tags = append(tags, *t)
	}
	sortTags(tags)
	return tags
}

// semanticTags matches vocabulary labels against article text by
// embedding similarity. Similarities in [MinSimilarity, 1] map linearly
// into the fuzzy confidence band.
func (s *Synthesizer) semanticTags(ctx context.Context, briefingDate string, texts []string) []database.Tag {
	labels := make([]string, len(s.vocabulary))
	for i, entry := range s.vocabulary {
		labels[i] = entry.Label
	}

	labelVecs, err := s.embedder.Embed(ctx, labels)
	if err != nil {
		log.Printf("Semantic tagging unavailable: %v", err)
		return nil
	}
	textVecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		log.Printf("Semantic tagging unavailable: %v", err)
		return nil
	}
	if len(labelVecs) != len(labels) || len(textVecs) != len(texts) {
		log.Println("Semantic tagging skipped: embedding count mismatch")
		return nil
	}

	var tags []database.Tag
	for i, entry := range s.vocabulary {
		best := 0.0
		count := 0
		for _, tv := range textVecs {
			sim := cosineSimilarity(labelVecs[i], tv)
			if sim >= s.semantic.MinSimilarity {
				count++
				if sim > best {
					best = sim
				}
			}
		}
		if count == 0 {
			continue
		}

		span := 1.0 - s.semantic.MinSimilarity
		scaled := fuzzyLow
		if span > 0 {
			scaled = fuzzyLow + (best-s.semantic.MinSimilarity)/span*(fuzzyHigh-fuzzyLow)
		}
		if scaled > fuzzyHigh {
			scaled = fuzzyHigh
		}

		tags = append(tags, database.Tag{
			BriefingDate: briefingDate,
			Label:        entry.Label,
			Category:     entry.Category,
			Confidence:   scaled,
			Count:        count,
			Sources:      []string{sourceModel},
		})
	}
	return tags
}

func (s *Synthesizer) defaultTags(briefingDate string) []database.Tag {
	tags := make([]database.Tag, 0, len(s.defaults))
	for _, label := range s.defaults {
		tags = append(tags, database.Tag{
			BriefingDate: briefingDate,
			Label:        label,
			Category:     "technical",
			Confidence:   defaultConfidence,
			Count:        0,
			Sources:      []string{sourceDefault},
		})
	}
	sortTags(tags)
	return tags
}

// frequencyFactor scales base confidence by how widely a tag's keywords
// occur: 0.5 for a single hit in a large set up to 1.0 for every article.
func frequencyFactor(count, articles int) float64 {
	ratio := float64(count) / float64(articles)
	if ratio > 1 {
		ratio = 1
	}
	return 0.5 + 0.5*ratio
}

func sortTags(tags []database.Tag) {
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Confidence != tags[j].Confidence {
			return tags[i].Confidence > tags[j].Confidence
		}
		if tags[i].Count != tags[j].Count {
			return tags[i].Count > tags[j].Count
		}
		return tags[i].Label < tags[j].Label
	})
}

func matchesAnyKeyword(text string, keywords []string) bool {
	for _, kw := range keywords {
		if containsKeyword(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// containsKeyword reports whether text contains kw bounded by
// non-alphanumeric characters.
func containsKeyword(text, kw string) bool {
	if kw == "" {
		return false
	}
	for start := 0; ; {
		idx := strings.Index(text[start:], kw)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(kw)
		beforeOK := idx == 0 || !isWordChar(text[idx-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		start = idx + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func articleText(a database.Article) string {
	if a.Content != nil && *a.Content != "" {
		return a.Title + " " + *a.Content
	}
	return a.Title
}
