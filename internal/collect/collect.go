package collect

import (
	"log"

	"github.com/csirt-tools/threatbrief/internal/config"
	"github.com/csirt-tools/threatbrief/internal/database"
)

// Result holds the results of a collection run.
type Result struct {
	TotalFound  int
	NewArticles int
	Duplicates  int
	Sources     map[string]int
}

// Collector gathers candidate articles from RSS feeds and NewsAPI for a
// single briefing date. Collection is one-shot per run; recurring polling
// is left to whatever invokes the binary.
type Collector struct {
	db         *database.DB
	feedParser *FeedParser
	newsClient *NewsAPIClient
	newsQuery  string
	daysBack   int
}

// NewCollector creates a new article collector.
func NewCollector(cfg *config.Config, db *database.DB, daysBack int) *Collector {
	c := &Collector{
		db:       db,
		daysBack: daysBack,
	}

	if len(cfg.Sources.Feeds) > 0 {
		feeds := make([]FeedConfig, len(cfg.Sources.Feeds))
		for i, f := range cfg.Sources.Feeds {
			feeds[i] = FeedConfig{URL: f.URL, Name: f.Name}
		}
		c.feedParser = NewFeedParser(feeds)
	}

	apiCfg := cfg.Sources.APIs.NewsAPI
	if apiCfg.Enabled {
		c.newsClient = NewNewsAPIClient(apiCfg.APIKeyEnv)
		c.newsQuery = apiCfg.Query
		if c.newsQuery == "" {
			c.newsQuery = "cybersecurity vulnerability ransomware breach"
		}
	}

	return c
}

// Collect collects articles from all configured sources for a briefing date.
func (c *Collector) Collect(briefingDate string) *Result {
	r := &Result{Sources: make(map[string]int)}

	// Collect from RSS feeds
	if c.feedParser != nil {
		log.Println("Collecting from RSS feeds...")
		entries := c.feedParser.ParseAll(c.daysBack)
		r.TotalFound += len(entries)

		for _, entry := range entries {
			c.insert(r, entry.URL, entry.Title, entry.Source, entry.PublishedDate, entry.Content, briefingDate)
		}
	}

	// Collect from NewsAPI, expanding queries with active watchlist entries
	if c.newsClient != nil && c.newsClient.IsConfigured() {
		log.Println("Collecting from NewsAPI...")

		watchlist, _ := c.db.GetActiveWatchlist()
		var tracked []string
		for _, w := range watchlist {
			tracked = append(tracked, w.Title)
		}

		var articles []NewsArticle
		if len(tracked) > 0 {
			log.Printf("Using %d active watchlist entries for search", len(tracked))
			articles = c.newsClient.SearchWithWatchlist(c.newsQuery, tracked, c.daysBack)
		} else {
			articles = c.newsClient.Search(c.newsQuery, c.daysBack, 100)
		}

		r.TotalFound += len(articles)

		for _, article := range articles {
			c.insert(r, article.URL, article.Title, article.Source, article.PublishedDate, article.Content, briefingDate)
		}
	}

	log.Printf("Collection complete: %d found, %d new, %d duplicates", r.TotalFound, r.NewArticles, r.Duplicates)
	return r
}

func (c *Collector) insert(r *Result, articleURL, title, source, pubDate, content, briefingDate string) {
	var src, pd, ct *string
	if source != "" {
		src = &source
	}
	if pubDate != "" {
		pd = &pubDate
	}
	if content != "" {
		ct = &content
	}
	date := briefingDate

	id, _ := c.db.InsertArticle(articleURL, title, src, pd, ct, &date)
	if id > 0 {
		r.NewArticles++
		r.Sources[source]++
	} else {
		r.Duplicates++
	}
}
