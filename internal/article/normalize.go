package article

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"storywatch/internal/analysis"
	"storywatch/internal/fingerprint"
	"storywatch/internal/source"
)

// ErrMalformedInput marks raw records missing required fields. Such
// articles are dropped and counted, never partially ingested.
var ErrMalformedInput = errors.New("malformed article input")

// htmlTagRe matches HTML tags.
var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// whitespaceRe matches runs of whitespace.
var whitespaceRe = regexp.MustCompile(`\s+`)

// trackingParams are query parameters stripped during URL
// canonicalization.
var trackingParams = map[string]bool{
	"utm_source": true, "utm_medium": true, "utm_campaign": true,
	"utm_term": true, "utm_content": true, "fbclid": true, "gclid": true,
	"ref": true,
}

// Analyzer is the slice of the analysis cache the normalizer needs.
type Analyzer interface {
	Analyze(ctx context.Context, kind analysis.Kind, text string) (analysis.Result, error)
}

// Normalizer assembles Articles from raw source records.
type Normalizer struct {
	hasher   *fingerprint.Hasher
	analyzer Analyzer
	maxText  int
}

// NewNormalizer creates a Normalizer. maxText bounds the cleaned body
// length in bytes; non-positive means no truncation.
func NewNormalizer(hasher *fingerprint.Hasher, analyzer Analyzer, maxText int) *Normalizer {
	return &Normalizer{hasher: hasher, analyzer: analyzer, maxText: maxText}
}

// Normalize cleans raw, analyzes it, and returns the immutable Article.
// Deterministic for identical input apart from FetchedAt and analysis
// timestamps: the ID and fingerprint are pure functions of the content.
func (n *Normalizer) Normalize(ctx context.Context, raw source.RawArticle) (Article, error) {
	canonical, err := CanonicalURL(raw.URL)
	if err != nil {
		return Article{}, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if raw.PublishedAt.IsZero() {
		return Article{}, fmt.Errorf("%w: missing publish timestamp for %s", ErrMalformedInput, canonical)
	}

	text := CleanText(raw.RawText)
	if n.maxText > 0 && len(text) > n.maxText {
		text = text[:n.maxText]
	}
	title := CleanText(raw.Title)

	res, err := n.analyzer.Analyze(ctx, analysis.KindFull, title+" "+text)
	if err != nil {
		return Article{}, err
	}

	return Article{
		ID:          IDFromURL(canonical),
		Source:      raw.SourceName,
		Title:       title,
		URL:         canonical,
		Published:   raw.PublishedAt,
		FetchedAt:   raw.FetchedAt,
		RawText:     raw.RawText,
		Text:        text,
		Fingerprint: n.hasher.Hash(title + " " + text),
		Analysis:    res,
	}, nil
}

// CanonicalURL normalizes a URL for identity: lowercase scheme and
// host, no fragment, no tracking parameters, no trailing slash.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("URL %q lacks scheme or host", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for param := range q {
		if trackingParams[strings.ToLower(param)] {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode()
	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String(), nil
}

// IDFromURL derives the article ID from an already-canonical URL.
func IDFromURL(canonical string) string {
	h := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(h[:8])
}

// CleanText strips markup and collapses whitespace.
func CleanText(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = strings.NewReplacer(
		"&amp;", "&", "&lt;", "<", "&gt;", ">",
		"&quot;", `"`, "&#39;", "'", "&nbsp;", " ",
	).Replace(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
