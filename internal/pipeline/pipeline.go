// Package pipeline orchestrates the daily briefing run: collect, fetch,
// score, extract, synthesize, publish. Steps degrade rather than block;
// a briefing document is always produced for the target date.
package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/csirt-tools/threatbrief/internal/collect"
	"github.com/csirt-tools/threatbrief/internal/config"
	"github.com/csirt-tools/threatbrief/internal/database"
	"github.com/csirt-tools/threatbrief/internal/fetch"
	"github.com/csirt-tools/threatbrief/internal/ioc"
	"github.com/csirt-tools/threatbrief/internal/llm"
	"github.com/csirt-tools/threatbrief/internal/publish"
	"github.com/csirt-tools/threatbrief/internal/relevance"
	"github.com/csirt-tools/threatbrief/internal/synthesize"
	"github.com/csirt-tools/threatbrief/internal/tags"
)

// Options control a pipeline run.
type Options struct {
	Date     string // briefing date, defaults to today
	DaysBack int    // collection lookback window
	DryRun   bool   // stop short of writing the document and briefing row
}

// StepResult records the outcome of one pipeline step.
type StepResult struct {
	Name   string
	Detail string
	Err    error
}

// Result summarizes a complete run.
type Result struct {
	BriefingDate string
	Steps        []StepResult
	Briefing     *database.Briefing
	OutputPath   string
}

// Failed reports whether any step recorded an error.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Pipeline wires the briefing stages together.
type Pipeline struct {
	cfg      *config.Config
	db       *database.DB
	provider llm.Provider
	embedder llm.Embedder
}

// New creates a pipeline. The LLM provider is resolved from config with
// fallback; a nil provider is valid and routes synthesis to the template
// fallback.
func New(cfg *config.Config, db *database.DB) *Pipeline {
	p := &Pipeline{
		cfg: cfg,
		db:  db,
		provider: llm.CreateProvider(
			cfg.Synthesis.Provider,
			cfg.Synthesis.Model,
			cfg.Synthesis.OllamaURL,
			cfg.Synthesis.OpenAIModel,
			cfg.Synthesis.APIKeyEnv,
		),
	}
	if cfg.Tags.Semantic.Enabled {
		p.embedder = llm.NewOllamaEmbedder(cfg.Synthesis.EmbeddingModel, cfg.Synthesis.OllamaURL)
	}
	return p
}

// Run executes the full pipeline for one briefing date.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	date := opts.Date
	if date == "" {
		date = database.GetToday()
	}
	daysBack := opts.DaysBack
	if daysBack <= 0 {
		daysBack = 1
	}

	r := &Result{BriefingDate: date}
	log.Printf("Starting briefing run for %s", date)

	// Collect
	collector := collect.NewCollector(p.cfg, p.db, daysBack)
	cr := collector.Collect(date)
	r.step("collect", fmt.Sprintf("%d found, %d new, %d duplicates", cr.TotalFound, cr.NewArticles, cr.Duplicates), nil)

	// Fetch full content
	fetcher := fetch.NewContentFetcher(p.db, 0)
	fr := fetcher.FetchMissingContent(&date)
	r.step("fetch", fmt.Sprintf("%d fetched, %d failed", fr.Fetched, fr.Failed), nil)

	// Score
	scorer := relevance.NewScorer(p.cfg, p.db)
	if sr, err := scorer.ScoreArticles(date); err != nil {
		r.step("score", "", err)
	} else {
		r.step("score", fmt.Sprintf("%d scored, %d relevant, %d dropped", sr.Scored, sr.Relevant, sr.Dropped), nil)
	}

	// Qualifying set drives everything downstream. A scoring failure
	// above still leaves previously scored articles usable.
	articles, err := scorer.Qualifying(date)
	if err != nil {
		return r, fmt.Errorf("loading qualifying articles: %w", err)
	}
	scores, err := p.db.GetScoreMap(date)
	if err != nil {
		return r, fmt.Errorf("loading scores: %w", err)
	}

	// Extract IOCs
	iocs := p.extractIOCs(r, date, articles)

	// Derive tags
	tagSet := p.deriveTags(ctx, r, date, articles)

	// Synthesize
	outcome := p.synthesize(ctx, r, date, articles, scores)

	// Publish
	publisher := publish.NewPublisher(p.cfg.GetContentDir(), p.cfg.Output.Author)
	in := &publish.Input{
		BriefingDate: date,
		Articles:     articles,
		Scores:       scores,
		IOCs:         iocs,
		Tags:         tagSet,
		Outcome:      outcome,
	}

	if opts.DryRun {
		briefing, _ := publisher.Render(in)
		r.Briefing = briefing
		r.step("publish", "dry run, document not written", nil)
		return r, nil
	}

	briefing, path, err := publisher.Publish(in)
	if err != nil {
		r.step("publish", "", err)
		return r, fmt.Errorf("publishing briefing: %w", err)
	}
	if _, err := p.db.UpsertBriefing(briefing); err != nil {
		r.step("publish", "", err)
		return r, fmt.Errorf("storing briefing: %w", err)
	}
	if _, err := p.db.InsertReport(date, len(articles), len(iocs)); err != nil {
		log.Printf("Failed to record run report: %v", err)
	}

	r.Briefing = briefing
	r.OutputPath = path
	r.step("publish", path, nil)

	log.Printf("Briefing published: %s", path)
	return r, nil
}

func (p *Pipeline) extractIOCs(r *Result, date string, articles []database.Article) []database.IOC {
	extractor, err := ioc.NewExtractor(p.cfg.IOC, p.watchlistKeywords())
	if err != nil {
		r.step("extract-iocs", "", err)
		return nil
	}

	iocs := extractor.Extract(date, articles)
	if err := p.db.ReplaceIOCs(date, iocs); err != nil {
		r.step("extract-iocs", "", err)
		return iocs
	}
	r.step("extract-iocs", fmt.Sprintf("%d indicators", len(iocs)), nil)
	return iocs
}

func (p *Pipeline) deriveTags(ctx context.Context, r *Result, date string, articles []database.Article) []database.Tag {
	synth := tags.NewSynthesizer(p.cfg, p.embedder)
	tagSet := synth.Synthesize(ctx, date, articles)
	if err := p.db.ReplaceTags(date, tagSet); err != nil {
		r.step("derive-tags", "", err)
		return tagSet
	}
	r.step("derive-tags", fmt.Sprintf("%d tags", len(tagSet)), nil)
	return tagSet
}

func (p *Pipeline) synthesize(ctx context.Context, r *Result, date string, articles []database.Article, scores map[int64]database.ArticleScore) *synthesize.Outcome {
	// Seed the briefing row so lifecycle transitions have somewhere to land.
	seed := &database.Briefing{
		BriefingDate:    date,
		State:           synthesize.StatePending,
		SynthesisMethod: synthesize.MethodNone,
		TotalArticles:   len(articles),
	}
	if _, err := p.db.UpsertBriefing(seed); err != nil {
		log.Printf("Failed to seed briefing row: %v", err)
	}

	categories := make(map[int64]string, len(scores))
	for id, s := range scores {
		categories[id] = s.Category
	}

	s := synthesize.NewSynthesizer(p.provider, p.cfg.Synthesis.Tier1Budget, p.cfg.Synthesis.Tier2Budget)
	s.OnStateChange(func(state string) {
		if err := p.db.SetBriefingState(date, state); err != nil {
			log.Printf("Failed to record state %s: %v", state, err)
		}
	})

	outcome := s.Synthesize(ctx, articles, categories)
	r.step("synthesize", fmt.Sprintf("method=%s tier1=%v tier2=%v fallback=%v",
		outcome.Method, outcome.Tier1.Success, outcome.Tier2.Success, outcome.FallbackUsed), nil)
	return outcome
}

// watchlistKeywords flattens active watchlist entries into the keyword
// list the IOC extractor uses for confidence upgrades.
func (p *Pipeline) watchlistKeywords() []string {
	entries, err := p.db.GetActiveWatchlist()
	if err != nil {
		log.Printf("Failed to load watchlist: %v", err)
		return nil
	}

	var keywords []string
	for _, e := range entries {
		keywords = append(keywords, e.Title)
		keywords = append(keywords, e.Keywords...)
	}
	return keywords
}

func (r *Result) step(name, detail string, err error) {
	r.Steps = append(r.Steps, StepResult{Name: name, Detail: detail, Err: err})
	if err != nil {
		log.Printf("Step %s failed: %v", name, err)
	}
}
