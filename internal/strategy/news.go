package strategy

import (
	"context"
	"fmt"

	"consensus-trader/internal/analysis"
	"consensus-trader/internal/models"
)

const (
	newsCatalystMin  = 0.3
	newsTooLatePct   = 3.0
	newsBuyMax       = 7.5
	newsSellMax      = 6.5
	newsReactionBars = 5
)

// Reaction classifies the recent price move relative to volume.
type Reaction string

const (
	ReactionStrongPositive Reaction = "strong_positive"
	ReactionMildPositive   Reaction = "mild_positive"
	ReactionNeutral        Reaction = "neutral"
	ReactionMildNegative   Reaction = "mild_negative"
	ReactionStrongNegative Reaction = "strong_negative"
)

// PriceReaction classifies the 3-bar price change. Strong reactions need
// volume above 1.5x average; fewer than 5 bars is neutral.
func PriceReaction(f analysis.FeatureSnapshot) Reaction {
	if f.Bars < newsReactionBars {
		return ReactionNeutral
	}
	change := f.PriceChangePct
	switch {
	case change > 1.5 && f.VolumeRatio > 1.5:
		return ReactionStrongPositive
	case change > 0.5:
		return ReactionMildPositive
	case change < -1.5 && f.VolumeRatio > 1.5:
		return ReactionStrongNegative
	case change < -0.5:
		return ReactionMildNegative
	}
	return ReactionNeutral
}

// NewsSentiment trades on scored news, earnings catalysts and the price
// reaction to them, fading moves that already ran.
type NewsSentiment struct {
	BaseProducer
	sentimentThreshold float64
	minArticles        int
}

// NewNewsSentiment creates the news sentiment producer.
func NewNewsSentiment(threshold, sentimentThreshold float64, minArticles int) *NewsSentiment {
	if sentimentThreshold <= 0 {
		sentimentThreshold = 0.3
	}
	if minArticles < 1 {
		minArticles = 1
	}
	return &NewsSentiment{
		BaseProducer:       NewBaseProducer(models.StrategyNewsSentiment, threshold),
		sentimentThreshold: sentimentThreshold,
		minArticles:        minArticles,
	}
}

// Evaluate scores the sentiment snapshot against the recent price reaction.
func (n *NewsSentiment) Evaluate(_ context.Context, f analysis.FeatureSnapshot, s analysis.SentimentSnapshot) (models.StrategySignal, error) {
	if s.ArticleCount == 0 {
		return n.Hold("no recent news"), nil
	}

	reaction := PriceReaction(f)
	change := f.PriceChangePct
	if f.Bars < newsReactionBars {
		change = 0
	}
	enough := s.ArticleCount >= n.minArticles

	buy := newScore(newsBuyMax)
	buy.add(s.Score >= n.sentimentThreshold && enough, 3.0,
		fmt.Sprintf("positive news (%d articles, score %.2f)", s.ArticleCount, s.Score))
	buy.add(s.Catalyst >= newsCatalystMin, 2.0, fmt.Sprintf("earnings catalyst (%.2f)", s.Catalyst))
	buy.add(reaction == ReactionStrongPositive || reaction == ReactionMildPositive, 1.5,
		fmt.Sprintf("price up %.1f%%", change))
	buy.add(change < newsTooLatePct, 1.0, "")

	sell := newScore(newsSellMax)
	sell.add(s.Score <= -n.sentimentThreshold && enough, 3.0, fmt.Sprintf("negative news (score %.2f)", s.Score))
	sell.add(reaction == ReactionStrongNegative || reaction == ReactionMildNegative, 1.5,
		fmt.Sprintf("price down %.1f%%", change))
	sell.add(change >= newsTooLatePct && s.Score > 0, 2.0, "fading the news")

	return n.decide(buy, sell, fmt.Sprintf("neutral news | score %.2f articles %d", s.Score, s.ArticleCount)), nil
}
