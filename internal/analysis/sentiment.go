package analysis

import (
	"math"
	"sort"
	"strings"
	"time"

	"consensus-trader/internal/models"
)

type keyword struct {
	phrase string
	weight float64
}

// Finance phrases matched as substrings of the lower-cased headline and summary.
var (
	bullishKeywords = []keyword{
		{"beat", 3}, {"beats", 3}, {"record", 2}, {"record high", 3},
		{"raised guidance", 3}, {"upgrade", 2}, {"buy rating", 2},
		{"strong earnings", 3}, {"revenue growth", 2}, {"profit surge", 3},
		{"acquisition", 1}, {"buyback", 2}, {"dividend increase", 2},
		{"positive", 1}, {"growth", 1}, {"bullish", 2}, {"outperform", 2},
		{"breakthrough", 2}, {"approval", 2}, {"fda approved", 3},
		{"partnership", 1}, {"deal", 1}, {"contract", 1},
	}
	bearishKeywords = []keyword{
		{"miss", 3}, {"misses", 3}, {"below expectations", 3},
		{"lowered guidance", 3}, {"downgrade", 2}, {"sell rating", 2},
		{"revenue decline", 2}, {"profit drop", 3}, {"layoffs", 2},
		{"investigation", 2}, {"lawsuit", 2}, {"recall", 2},
		{"negative", 1}, {"bearish", 2}, {"underperform", 2},
		{"loss", 2}, {"debt", 1}, {"bankruptcy", 3}, {"default", 3},
		{"warning", 2}, {"cut", 1},
	}
	earningsKeywords = []string{
		"earnings", " eps ", "quarterly results", "quarterly earnings",
		"q1 results", "q2 results", "q3 results", "q4 results",
		"beats estimates", "misses estimates", "revenue beat", "revenue miss",
		"reports earnings", "after the bell", "before the open",
		"earnings call", "earnings release", "earnings report",
		"fiscal quarter", "profit report", "income report",
	}
	// Catalyst groups, each contributing once.
	catalystGroups = []struct {
		weight  float64
		phrases []string
	}{
		{0.3, []string{"revenue growth", "revenue beat", "record revenue", "sales growth"}},
		{0.3, []string{"earnings growth", "strong earnings", "profit surge", "beats estimates", "raised guidance"}},
		{0.2, []string{"upgrade", "undervalued", "buy rating", "price target raised"}},
	}
)

// Earnings window around the scan time.
const (
	EarningsDaysBefore = 3
	EarningsDaysAfter  = 1
)

// ScoreText scores free text in [-1, 1]: matched bullish weight minus matched
// bearish weight over the total matched weight. No match scores 0.
func ScoreText(text string) float64 {
	if text == "" {
		return 0
	}
	lower := strings.ToLower(text)
	var score, total float64
	for _, k := range bullishKeywords {
		if strings.Contains(lower, k.phrase) {
			score += k.weight
			total += k.weight
		}
	}
	for _, k := range bearishKeywords {
		if strings.Contains(lower, k.phrase) {
			score -= k.weight
			total += k.weight
		}
	}
	if total == 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, score/total))
}

// ScoredArticle is one article with its sentiment score.
type ScoredArticle struct {
	Headline  string    `json:"headline"`
	Source    string    `json:"source"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// ArticleScores is the aggregate sentiment of a batch of articles.
type ArticleScores struct {
	Score       float64         `json:"score"`
	Count       int             `json:"count"`
	TopHeadline string          `json:"top_headline"`
	Articles    []ScoredArticle `json:"articles"`
}

// ScoreArticles averages ScoreText over headline plus summary, rounded to
// three decimals. The newest article provides the top headline.
func ScoreArticles(articles []models.Article) ArticleScores {
	if len(articles) == 0 {
		return ArticleScores{}
	}
	sorted := make([]models.Article, len(articles))
	copy(sorted, articles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	out := ArticleScores{Count: len(sorted), Articles: make([]ScoredArticle, 0, len(sorted))}
	var total float64
	for _, a := range sorted {
		s := ScoreText(a.Headline + " " + a.Summary)
		total += s
		out.Articles = append(out.Articles, ScoredArticle{
			Headline:  a.Headline,
			Source:    a.Source,
			Score:     s,
			CreatedAt: a.CreatedAt,
		})
	}
	out.Score = math.Round(total/float64(len(sorted))*1000) / 1000
	out.TopHeadline = sorted[0].Headline
	return out
}

// CatalystScore rates news-derived fundamental catalysts in [0, 0.8].
func CatalystScore(articles []models.Article) float64 {
	var score float64
	for _, g := range catalystGroups {
		if anyArticleContains(articles, g.phrases) {
			score += g.weight
		}
	}
	return math.Round(score*100) / 100
}

// InEarningsWindow reports whether any article dated within
// [at-1d, at+3d] mentions earnings. Undated articles are checked by content.
func InEarningsWindow(articles []models.Article, at time.Time) bool {
	start := at.AddDate(0, 0, -EarningsDaysAfter)
	end := at.AddDate(0, 0, EarningsDaysBefore)
	for _, a := range articles {
		if !a.CreatedAt.IsZero() && (a.CreatedAt.Before(start) || a.CreatedAt.After(end)) {
			continue
		}
		if containsAny(" "+strings.ToLower(a.Headline+" "+a.Summary)+" ", earningsKeywords) {
			return true
		}
	}
	return false
}

// SentimentSnapshot is the news view of one symbol for one cycle.
type SentimentSnapshot struct {
	Symbol         string          `json:"symbol"`
	Timestamp      time.Time       `json:"timestamp"`
	Score          float64         `json:"score"`
	ArticleCount   int             `json:"article_count"`
	TopHeadline    string          `json:"top_headline"`
	Catalyst       float64         `json:"catalyst"`
	EarningsWindow bool            `json:"earnings_window"`
	Articles       []ScoredArticle `json:"articles,omitempty"`
}

// BuildSentimentSnapshot scores articles for symbol at the given time. A
// negative catalyst is derived from the articles.
func BuildSentimentSnapshot(symbol string, articles []models.Article, catalyst float64, at time.Time) SentimentSnapshot {
	scores := ScoreArticles(articles)
	if catalyst < 0 {
		catalyst = CatalystScore(articles)
	}
	return SentimentSnapshot{
		Symbol:         symbol,
		Timestamp:      at,
		Score:          scores.Score,
		ArticleCount:   scores.Count,
		TopHeadline:    scores.TopHeadline,
		Catalyst:       catalyst,
		EarningsWindow: InEarningsWindow(articles, at),
		Articles:       scores.Articles,
	}
}

func anyArticleContains(articles []models.Article, phrases []string) bool {
	for _, a := range articles {
		if containsAny(strings.ToLower(a.Headline+" "+a.Summary), phrases) {
			return true
		}
	}
	return false
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
