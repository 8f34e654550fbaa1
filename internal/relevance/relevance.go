// Package relevance scores collected articles for briefing inclusion.
// Scoring is deterministic keyword matching so that regenerating a
// briefing from the same inputs yields identical results.
package relevance

import (
	"fmt"
	"log"
	"strings"

	"github.com/csirt-tools/threatbrief/internal/config"
	"github.com/csirt-tools/threatbrief/internal/database"
)

// Result holds the results of a scoring run.
type Result struct {
	Scored   int
	Relevant int
	Dropped  int // empty-text articles, skipped silently
}

// Scorer assigns relevance scores (0-100) and categories to articles.
type Scorer struct {
	db          *database.DB
	threshold   int
	sourceBoost int
	weights     []config.KeywordWeight
}

// NewScorer creates a new relevance scorer from config.
func NewScorer(cfg *config.Config, db *database.DB) *Scorer {
	return &Scorer{
		db:          db,
		threshold:   cfg.Relevance.Threshold,
		sourceBoost: cfg.Relevance.SourceBoost,
		weights:     cfg.Relevance.KeywordWeights,
	}
}

// Threshold returns the configured inclusion threshold.
func (s *Scorer) Threshold() int {
	return s.threshold
}

// ScoreArticles scores all unscored articles for a briefing date.
// A returned error means scoring itself failed; callers must treat that
// differently from a clean run that found nothing relevant.
func (s *Scorer) ScoreArticles(briefingDate string) (*Result, error) {
	articles, err := s.db.GetUnscoredArticles(&briefingDate)
	if err != nil {
		return nil, fmt.Errorf("getting unscored articles: %w", err)
	}

	if len(articles) == 0 {
		log.Println("No articles pending scoring")
		return &Result{}, nil
	}

	boosts, err := s.sourceBoosts()
	if err != nil {
		return nil, fmt.Errorf("loading source feedback: %w", err)
	}

	r := &Result{}
	for _, article := range articles {
		text := articleText(article)
		if strings.TrimSpace(text) == "" {
			// No text to score. Not an error: the article simply
			// never qualifies.
			r.Dropped++
			continue
		}

		score, category, matched := s.score(text, article.Source, boosts)
		if err := s.db.InsertScore(article.ID, score, category, matched); err != nil {
			return nil, fmt.Errorf("storing score for article %d: %w", article.ID, err)
		}

		r.Scored++
		if score > s.threshold {
			r.Relevant++
		}
		log.Printf("Scored [%d/%s]: %s", score, category, article.Title)
	}

	log.Printf("Scoring complete: %d scored (%d relevant), %d dropped (empty text)",
		r.Scored, r.Relevant, r.Dropped)
	return r, nil
}

// Qualifying returns the articles scoring above the threshold for a date.
func (s *Scorer) Qualifying(briefingDate string) ([]database.Article, error) {
	return s.db.GetQualifyingArticles(briefingDate, s.threshold)
}

// score computes the relevance score, assigned category, and matched
// keywords for one article text.
func (s *Scorer) score(text string, source *string, boosts map[string]int) (int, string, []string) {
	lowered := strings.ToLower(text)

	var matched []string
	bestCategory := "general"
	bestWeight := 0
	total := 0

	for _, group := range s.weights {
		groupTotal := 0
		for _, kw := range group.Keywords {
			if containsKeyword(lowered, strings.ToLower(kw)) {
				matched = append(matched, kw)
				groupTotal += group.Weight
			}
		}
		total += groupTotal
		// Category follows the heaviest-matching group; config order
		// breaks ties so results stay reproducible.
		if groupTotal > bestWeight {
			bestWeight = groupTotal
			bestCategory = group.Category
		}
	}

	if source != nil {
		total += boosts[*source] * s.sourceBoost
	}

	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}
	return total, bestCategory, matched
}

// sourceBoosts maps source name to +1/-1 depending on net analyst feedback.
func (s *Scorer) sourceBoosts() (map[string]int, error) {
	feedback, err := s.db.GetSourceFeedback()
	if err != nil {
		return nil, err
	}

	boosts := make(map[string]int)
	for _, sf := range feedback {
		switch {
		case sf.Positive > sf.Negative:
			boosts[sf.Source] = 1
		case sf.Negative > sf.Positive:
			boosts[sf.Source] = -1
		}
	}
	return boosts, nil
}

func articleText(a database.Article) string {
	if a.Content != nil && *a.Content != "" {
		return a.Title + " " + *a.Content
	}
	return a.Title
}

// containsKeyword reports whether text contains kw bounded by
// non-alphanumeric characters, so "cve" does not match inside "scavenger".
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
