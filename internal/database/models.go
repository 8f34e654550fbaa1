package database

// Article represents a collected article.
type Article struct {
	ID             int64
	URL            string
	Title          string
	Source         *string
	PublishedDate  *string
	Content        *string
	ContentFetched bool
	BriefingDate   *string
	CollectedAt    *string
}

// ArticleScore holds the relevance score assigned to an article.
type ArticleScore struct {
	ArticleID       int64
	Score           int // 0-100
	Category        string
	MatchedKeywords []string
	ScoredAt        *string
}

// IOC is an indicator of compromise extracted for a briefing.
// (Kind, Value) is unique per briefing date.
type IOC struct {
	BriefingDate string
	Kind         string
	Value        string
	Confidence   string // low, medium, high
	Description  string
}

// Tag is a derived topical tag for a briefing.
// (Label, Category) is unique per briefing date.
type Tag struct {
	BriefingDate string
	Label        string
	Category     string // technical, vendors, industries, severity, malware_families
	Confidence   float64
	Count        int
	Sources      []string // provenance: pattern-matching, model-derived, default
}

// Briefing is one dated published digest. Its identity is the date.
type Briefing struct {
	ID                 int64
	BriefingDate       string
	Title              string
	ExecutiveSummary   string
	BodyMarkdown       string
	State              string
	SynthesisMethod    string // two_tier, template, none
	TotalArticles      int
	TotalIOCs          int
	UniqueSources      int
	GeneratedTagsCount int
	Tier1Success       bool
	Tier2Success       bool
	Tier1Tokens        int
	Tier2Tokens        int
	FallbackUsed       bool
	GeneratedAt        *string
}

// WatchlistEntry is a tracked threat actor, vendor, or product that
// boosts collection queries and IOC confidence.
type WatchlistEntry struct {
	ID          int64
	Title       string
	Description *string
	Keywords    []string
	IsActive    bool
	CreatedAt   *string
	UpdatedAt   *string
}

// ArticleFeedback is an analyst rating of a collected article.
type ArticleFeedback struct {
	ArticleID int64
	Rating    string // "positive" or "negative"
	CreatedAt *string
}

// SourceFeedback aggregates feedback per source for relevance boosts.
type SourceFeedback struct {
	Source   string
	Positive int
	Negative int
}

// RunReport holds metadata about a pipeline run.
type RunReport struct {
	ID           int64
	BriefingDate string
	GeneratedAt  *string
	ArticleCount int
	IOCCount     int
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalArticles    int
	ScoredArticles   int
	RelevantArticles int
	DaysWithArticles int
	Briefings        int
	TotalIOCs        int
	TotalWatchlist   int
	ActiveWatchlist  int
}
