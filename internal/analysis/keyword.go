package analysis

import (
	"context"
	"math"
	"regexp"
	"strings"
	"time"
)

// KeywordProvider is a deterministic, in-process provider built on
// lexicon matching. It needs no network and never fails, which makes it
// the default provider and a convenient substrate for tests. Quality is
// deliberately modest; a remote model slots in behind the same
// interface.
type KeywordProvider struct{}

// NewKeywordProvider returns the lexicon-based provider.
func NewKeywordProvider() *KeywordProvider { return &KeywordProvider{} }

// Name implements Provider.
func (p *KeywordProvider) Name() string { return "keyword" }

// Analyze implements Provider. Pure function of the text.
func (p *KeywordProvider) Analyze(_ context.Context, _ Kind, text string) (Result, error) {
	lower := strings.ToLower(text)
	compound := sentimentScore(lower)
	return Result{
		Sentiment:      compound,
		SentimentLabel: SentimentLabel(compound),
		Entities:       extractEntities(text, lower),
		Topics:         topicDistribution(lower),
		Bias:           biasScore(lower),
		ComputedAt:     time.Now(),
	}, nil
}

// topicKeywords maps each vocabulary topic to its trigger phrases.
// Order matches TopicVocabulary.
var topicKeywords = map[string][]string{
	"markets":      {"stock", "market", "shares", "invest", "trading", "index", "rally", "selloff"},
	"finance":      {"financial", "revenue", "profit", "sales", "earnings", "dividend", "quarter", "rates", "inflation", "fed"},
	"regulation":   {"regulation", "regulatory", "law", "policy", "compliance", "antitrust", "tariff"},
	"legal":        {"lawsuit", "legal", "court", "dispute", "settlement", "appeal", "verdict"},
	"innovation":   {"innovation", "new product", "research", "breakthrough", "patent", "prototype"},
	"partnerships": {"partnership", "collaboration", "deal", "agreement", "merger", "acquisition", "joint venture"},
	"energy":       {"energy", "battery", "oil", "gas", "solar", "grid", "electric vehicle", " ev "},
	"automotive":   {"autonomous", "self-driving", "driverless", "autopilot", "vehicle", "automaker"},
	"conflict":     {"war", "strike", "attack", "sanctions", "military", "ceasefire", "troops"},
	"politics":     {"election", "senate", "congress", "parliament", "minister", "president", "campaign"},
	"health":       {"health", "vaccine", "drug", "clinical", "hospital", "fda approval", "outbreak"},
	"technology":   {"technology", "software", "chip", "cloud", "cyber", "artificial intelligence", " ai "},
}

// topicDistribution counts keyword occurrences per topic and normalizes
// to a distribution. No matches yields the all-zero vector.
func topicDistribution(lower string) []float64 {
	vec := make([]float64, TopicDim)
	var total float64
	for i, topic := range TopicVocabulary {
		for _, kw := range topicKeywords[topic] {
			if n := countOccurrences(lower, kw); n > 0 {
				vec[i] += float64(n)
				total += float64(n)
			}
		}
	}
	if total == 0 {
		return vec
	}
	for i := range vec {
		vec[i] /= total
	}
	return vec
}

var positiveWords = []string{
	"gain", "gains", "growth", "surge", "soar", "record", "beat", "profit",
	"strong", "upbeat", "optimism", "rally", "success", "approval", "boost",
	"improve", "improved", "win", "breakthrough", "upgrade",
}

var negativeWords = []string{
	"loss", "losses", "decline", "drop", "plunge", "fall", "miss", "weak",
	"concern", "concerns", "fear", "risk", "lawsuit", "recall", "fraud",
	"cut", "cuts", "layoff", "layoffs", "downgrade", "crisis", "crash",
	"warning", "slump",
}

// sentimentScore sums lexicon hits and squashes the raw tally into
// [-1, 1] the way VADER normalizes its compound score.
func sentimentScore(lower string) float64 {
	var raw float64
	for _, w := range positiveWords {
		raw += float64(countWord(lower, w))
	}
	for _, w := range negativeWords {
		raw -= float64(countWord(lower, w))
	}
	if raw == 0 {
		return 0
	}
	return raw / math.Sqrt(raw*raw+15)
}

// Loaded-language lexicons for framing bias. Approving spin scores
// positive, hostile spin negative.
var approvingSpin = []string{
	"heroic", "visionary", "bold", "landmark", "historic", "triumph",
	"masterstroke", "decisive",
}

var hostileSpin = []string{
	"slams", "blasts", "destroys", "radical", "disaster", "shocking",
	"outrageous", "chaos", "scandal", "debacle", "botched",
}

func biasScore(lower string) float64 {
	var raw float64
	for _, w := range approvingSpin {
		raw += float64(countWord(lower, w))
	}
	for _, w := range hostileSpin {
		raw -= float64(countWord(lower, w))
	}
	if raw == 0 {
		return 0
	}
	return raw / math.Sqrt(raw*raw+6)
}

// tickerRegex matches stock tickers like $AAPL, $TSLA, $BRK.A
var tickerRegex = regexp.MustCompile(`\$([A-Z]{1,5}(?:\.[A-Z])?)`)

// countryNames maps common mentions to a canonical location entity.
var countryNames = map[string]string{
	"united states": "United States", "usa": "United States", "u.s.": "United States",
	"america": "United States", "washington": "United States",
	"china": "China", "beijing": "China",
	"russia": "Russia", "moscow": "Russia", "kremlin": "Russia",
	"united kingdom": "United Kingdom", "britain": "United Kingdom", "uk": "United Kingdom",
	"germany": "Germany", "berlin": "Germany",
	"france": "France", "paris": "France",
	"japan": "Japan", "tokyo": "Japan",
	"india": "India", "new delhi": "India",
	"ukraine": "Ukraine", "kyiv": "Ukraine",
	"israel": "Israel", "jerusalem": "Israel",
	"iran": "Iran", "tehran": "Iran",
	"taiwan": "Taiwan", "taipei": "Taiwan",
	"european union": "European Union", "eu": "European Union", "brussels": "European Union",
	"canada": "Canada", "brazil": "Brazil", "mexico": "Mexico",
	"south korea": "South Korea", "seoul": "South Korea",
	"saudi arabia": "Saudi Arabia", "turkey": "Turkey",
}

// organizationNames maps frequent newsroom organizations.
var organizationNames = map[string]string{
	"fed": "Federal Reserve", "federal reserve": "Federal Reserve",
	"ecb": "European Central Bank", "european central bank": "European Central Bank",
	"congress": "US Congress", "senate": "US Senate",
	"white house": "White House", "pentagon": "Pentagon",
	"sec": "SEC", "fda": "FDA", "doj": "DOJ",
	"nato": "NATO", "opec": "OPEC", "imf": "IMF",
	"united nations": "United Nations", "un security council": "United Nations",
}

func extractEntities(text, lower string) []Entity {
	var out []Entity
	seen := make(map[string]bool)
	add := func(name string, typ EntityType) {
		key := string(typ) + ":" + name
		if !seen[key] {
			seen[key] = true
			out = append(out, Entity{Text: name, Type: typ})
		}
	}

	for _, match := range tickerRegex.FindAllStringSubmatch(text, -1) {
		if len(match) > 1 {
			add(match[1], EntityTicker)
		}
	}
	for name, canonical := range countryNames {
		if containsWord(lower, name) {
			add(canonical, EntityLocation)
		}
	}
	for name, canonical := range organizationNames {
		if containsWord(lower, name) {
			add(canonical, EntityOrganization)
		}
	}
	return out
}

// containsWord checks if text contains word as a whole word, not a
// substring of a longer token.
func containsWord(text, word string) bool {
	idx := strings.Index(text, word)
	if idx < 0 {
		return false
	}
	if idx > 0 && isAlphaNum(text[idx-1]) {
		return containsWord(text[idx+len(word):], word)
	}
	end := idx + len(word)
	if end < len(text) && isAlphaNum(text[end]) {
		return containsWord(text[end:], word)
	}
	return true
}

// countWord counts whole-word occurrences.
func countWord(text, word string) int {
	count := 0
	for {
		idx := strings.Index(text, word)
		if idx < 0 {
			return count
		}
		leftOK := idx == 0 || !isAlphaNum(text[idx-1])
		end := idx + len(word)
		rightOK := end >= len(text) || !isAlphaNum(text[end])
		if leftOK && rightOK {
			count++
		}
		text = text[end:]
	}
}

// countOccurrences counts substring hits for multi-word phrases, falling
// back to whole-word matching for single tokens.
func countOccurrences(text, phrase string) int {
	if !strings.Contains(phrase, " ") && !strings.Contains(phrase, "-") {
		return countWord(text, phrase)
	}
	return strings.Count(text, phrase)
}

func isAlphaNum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
