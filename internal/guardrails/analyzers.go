package guardrails

import (
	"regexp"
	"strings"
)

// Scoring analyzers. Unlike the pattern detectors these never produce
// violations directly; they feed the weighted risk aggregation. All three
// are deterministic lexicon scorers, so validating the same content twice
// yields identical scores.

// SentimentScores is a distribution over {positive, negative, neutral}
// summing to 1.0.
type SentimentScores struct {
	Positive float64
	Negative float64
	Neutral  float64
}

var positiveWords = map[string]struct{}{
	"good": {}, "great": {}, "excellent": {}, "helpful": {}, "thanks": {},
	"thank": {}, "please": {}, "wonderful": {}, "love": {}, "nice": {},
	"appreciate": {}, "happy": {}, "perfect": {}, "useful": {}, "glad": {},
}

var negativeWords = map[string]struct{}{
	"bad": {}, "terrible": {}, "awful": {}, "hate": {}, "horrible": {},
	"angry": {}, "stupid": {}, "useless": {}, "worst": {}, "disgusting": {},
	"furious": {}, "miserable": {}, "garbage": {}, "pathetic": {}, "kill": {},
}

var toxicityWords = map[string]float64{
	"idiot": 0.6, "moron": 0.6, "stupid": 0.5, "hate": 0.5,
	"kill": 0.7, "die": 0.6, "worthless": 0.6, "pathetic": 0.5,
	"disgusting": 0.5, "trash": 0.4, "loser": 0.5, "shut": 0.3,
}

var biasLexicon = map[string][]string{
	"gender":    {"women can't", "men are better", "girls should", "boys don't", "a woman's place"},
	"racial":    {"those people", "their kind", "go back to", "all immigrants"},
	"religious": {"all muslims", "all christians", "all jews", "infidels", "heathens"},
	"age":       {"too old to", "boomers are", "millennials are lazy", "kids these days"},
	"political": {"all liberals", "all conservatives", "libtards", "fascist pigs"},
}

var wordSplitter = regexp.MustCompile(`[a-zA-Z']+`)

// AnalyzeSentiment estimates a sentiment distribution from word counts.
func AnalyzeSentiment(content string) SentimentScores {
	words := wordSplitter.FindAllString(strings.ToLower(content), -1)
	if len(words) == 0 {
		return SentimentScores{Neutral: 1.0}
	}

	var pos, neg float64
	for _, w := range words {
		if _, ok := positiveWords[w]; ok {
			pos++
		}
		if _, ok := negativeWords[w]; ok {
			neg++
		}
	}

	total := float64(len(words))
	s := SentimentScores{
		Positive: pos / total,
		Negative: neg / total,
	}
	s.Neutral = 1.0 - s.Positive - s.Negative
	if s.Neutral < 0 {
		s.Neutral = 0
	}
	return s
}

// AnalyzeToxicity scores content toxicity in [0,1] from a weighted lexicon.
func AnalyzeToxicity(content string) float64 {
	words := wordSplitter.FindAllString(strings.ToLower(content), -1)
	if len(words) == 0 {
		return 0
	}

	var score float64
	for _, w := range words {
		if weight, ok := toxicityWords[w]; ok && weight > score {
			score = weight
		}
	}

	// Repeated toxic vocabulary pushes the score up.
	var hits float64
	for _, w := range words {
		if _, ok := toxicityWords[w]; ok {
			hits++
		}
	}
	score += 0.1 * (hits - 1)
	if hits == 0 {
		return 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// AnalyzeBias scores bias per category in [0,1] for
// {gender, racial, religious, age, political}.
func AnalyzeBias(content string) map[string]float64 {
	lowered := strings.ToLower(content)

	scores := make(map[string]float64, len(biasLexicon))
	for category, phrases := range biasLexicon {
		var score float64
		for _, phrase := range phrases {
			if strings.Contains(lowered, phrase) {
				score += 0.4
			}
		}
		if score > 1 {
			score = 1
		}
		scores[category] = score
	}
	return scores
}

func maxBias(scores map[string]float64) float64 {
	var max float64
	for _, v := range scores {
		if v > max {
			max = v
		}
	}
	return max
}
