package intent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hrygo/modelmux/cache"
)

// Classifier produces an intent profile for a piece of request text.
// Implementations must be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, text string) Profile
}

// CacheMetrics receives classifier cache events. The metrics exporter
// satisfies it; a nil recorder disables reporting.
type CacheMetrics interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// cacheKindIntent labels classifier cache events on the exporter.
const cacheKindIntent = "intent"

// Classification thresholds and tuning knobs.
const (
	// fastMaxWords is the upper word count for the fast lane.
	fastMaxWords = 8
	// fastConfidence is what a clean fast-lane match reports. It sits above
	// the strategy table's high-confidence gate on purpose.
	fastConfidence = 0.92

	baseConfidence    = 0.45
	perHitConfidence  = 0.12
	maxRuleConfidence = 0.95

	// Complexity word count boundaries.
	mediumMinWords = 20
	highMinWords   = 80
	deepMinWords   = 220

	classifyCacheCapacity = 500
	classifyCacheTTL      = 5 * time.Minute
)

// Pre-compiled structural patterns. Matching any of these carries more
// signal than single keywords.
var (
	codeBlockPattern  = regexp.MustCompile("```|\\bfunc \\w+\\(|\\bdef \\w+\\(|\\bclass \\w+|;\\s*$")
	stepwisePattern   = regexp.MustCompile(`(?i)step[- ]by[- ]step|first[,.].*\bthen\b|^\s*\d+[.)]\s`)
	interrogatives    = regexp.MustCompile(`(?i)^(what|who|when|where|how much|how many)\b`)
	multiplePartsHint = regexp.MustCompile(`(?im)^\s*[-*\d][.)]?\s+\S`)
)

var categoryKeywords = map[Category][]string{
	CategoryCode:      {"code", "function", "bug", "compile", "refactor", "implement", "debug", "stack trace", "regex", "sql", "script", "api"},
	CategoryReasoning: {"why", "analyze", "analyse", "compare", "evaluate", "prove", "reason", "trade-off", "tradeoff", "pros and cons", "architecture", "design decision"},
	CategoryCreative:  {"write a story", "poem", "creative", "brainstorm", "slogan", "fiction", "imagine", "lyrics", "screenplay"},
	CategorySummary:   {"summarize", "summarise", "summary", "tl;dr", "tldr", "condense", "shorten", "key points", "abstract"},
	CategorySearch:    {"find", "search", "look up", "lookup", "latest", "news", "current", "recent", "list of"},
	CategoryChat:      {"hello", "hi ", "hey", "thanks", "thank you", "how are you", "good morning", "good evening"},
}

// KeywordClassifier is the rule-based default Classifier. Results are
// cached by content hash so repeated dispatches of identical text skip
// the rule pass.
type KeywordClassifier struct {
	cache   *cache.LRU[string, Profile]
	mu      sync.Mutex
	hits    int64
	misses  int64
	metrics CacheMetrics
}

var _ Classifier = (*KeywordClassifier)(nil)

// NewKeywordClassifier creates a classifier with a bounded result cache.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		cache: cache.NewLRU[string, Profile](classifyCacheCapacity, classifyCacheTTL),
	}
}

// Classify buckets text into a category, estimates confidence from match
// density, and grades complexity from length and structure. It never
// fails; unmatchable text lands in CategoryOther with low confidence.
func (c *KeywordClassifier) Classify(_ context.Context, text string) Profile {
	key := hashKey(text)
	if p, ok := c.cache.Get(key); ok {
		c.mu.Lock()
		c.hits++
		m := c.metrics
		c.mu.Unlock()
		if m != nil {
			m.RecordCacheHit(cacheKindIntent)
		}
		return p
	}

	p := c.classify(text)
	c.cache.Set(key, p, 0)

	c.mu.Lock()
	c.misses++
	m := c.metrics
	c.mu.Unlock()
	if m != nil {
		m.RecordCacheMiss(cacheKindIntent)
	}

	slog.Debug("intent: classified",
		"category", p.Category,
		"confidence", p.Confidence,
		"complexity", p.Complexity)
	return p
}

// CacheStats returns cumulative cache hits and misses.
func (c *KeywordClassifier) CacheStats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// SetCacheMetrics installs a cache event recorder.
func (c *KeywordClassifier) SetCacheMetrics(m CacheMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

func (c *KeywordClassifier) classify(text string) Profile {
	lower := strings.ToLower(strings.TrimSpace(text))
	words := len(strings.Fields(lower))
	complexity := gradeComplexity(lower, words)

	category, hitCount := bestCategory(lower)

	// Short plain requests with no stronger signal ride the fast lane.
	if hitCount == 0 || category == CategoryChat {
		if words > 0 && words <= fastMaxWords && complexity == ComplexityLow &&
			!codeBlockPattern.MatchString(text) {
			return Profile{
				Category:   CategoryFast,
				Confidence: fastConfidence,
				Complexity: ComplexityLow,
			}
		}
	}

	if hitCount == 0 {
		if interrogatives.MatchString(lower) {
			return Profile{Category: CategorySearch, Confidence: baseConfidence, Complexity: complexity}
		}
		return Profile{Category: CategoryOther, Confidence: 0.3, Complexity: complexity}
	}

	confidence := baseConfidence + perHitConfidence*float64(hitCount)
	if confidence > maxRuleConfidence {
		confidence = maxRuleConfidence
	}
	return Profile{Category: category, Confidence: confidence, Complexity: complexity}
}

// bestCategory returns the category with the most keyword hits and the
// hit count. Structural code markers outweigh single keywords. Ties keep
// the first category in scan order; scan order is fixed so results stay
// deterministic.
func bestCategory(lower string) (Category, int) {
	scanOrder := []Category{
		CategoryCode, CategoryReasoning, CategoryCreative,
		CategorySummary, CategorySearch, CategoryChat,
	}

	best := CategoryOther
	bestHits := 0
	for _, cat := range scanOrder {
		hits := 0
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if cat == CategoryCode && codeBlockPattern.MatchString(lower) {
			hits += 2
		}
		if hits > bestHits {
			best = cat
			bestHits = hits
		}
	}
	return best, bestHits
}

func gradeComplexity(lower string, words int) Complexity {
	var grade Complexity
	switch {
	case words >= deepMinWords:
		grade = ComplexityDeep
	case words >= highMinWords:
		grade = ComplexityHigh
	case words >= mediumMinWords:
		grade = ComplexityMedium
	default:
		grade = ComplexityLow
	}

	// Multi-step or multi-part structure bumps the grade one tier.
	if stepwisePattern.MatchString(lower) || multiplePartsHint.MatchString(lower) {
		switch grade {
		case ComplexityLow:
			grade = ComplexityMedium
		case ComplexityMedium:
			grade = ComplexityHigh
		case ComplexityHigh:
			grade = ComplexityDeep
		}
	}
	return grade
}

func hashKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "intent:" + hex.EncodeToString(sum[:8])
}
