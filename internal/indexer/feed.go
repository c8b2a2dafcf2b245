package indexer

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
)

// FeedConfig describes a single keyword feed's matching rules.
type FeedConfig struct {
	// URI is the AT-URI of the feed generator record.
	URI string

	// Keywords are the terms to match against post text using word boundaries.
	Keywords []string

	// Langs restricts matches to posts tagged with at least one of these
	// language codes. An empty slice means no language filter.
	Langs []string
}

// DefaultFeedConfigs returns the keyword feeds published by publisherDID.
func DefaultFeedConfigs(publisherDID string) []FeedConfig {
	if publisherDID == "" {
		return nil
	}
	return []FeedConfig{{
		URI:      bluesky.MakeURI(publisherDID, bluesky.CollectionGenerator, "agentic"),
		Keywords: []string{"agentic", "agentic engineering", "llm agents", "multi-agent", "ai workflows", "llm orchestration", "context window"},
		Langs:    []string{"en"},
	}}
}

// keywordFeed holds the compiled matching state for a single feed.
type keywordFeed struct {
	uri     string
	pattern *regexp.Regexp
	langs   map[string]struct{} // nil means no filter
}

func compileFeed(cfg FeedConfig) (*keywordFeed, error) {
	if len(cfg.Keywords) == 0 {
		return nil, fmt.Errorf("feed %s: at least one keyword is required", cfg.URI)
	}
	escaped := make([]string, len(cfg.Keywords))
	for i, kw := range cfg.Keywords {
		escaped[i] = regexp.QuoteMeta(kw)
	}
	pattern, err := regexp.Compile(`(?i)\b(?:` + strings.Join(escaped, "|") + `)\b`)
	if err != nil {
		return nil, fmt.Errorf("feed %s: compile keyword pattern: %w", cfg.URI, err)
	}
	f := &keywordFeed{uri: cfg.URI, pattern: pattern}
	if len(cfg.Langs) > 0 {
		f.langs = make(map[string]struct{}, len(cfg.Langs))
		for _, l := range cfg.Langs {
			f.langs[l] = struct{}{}
		}
	}
	return f, nil
}

func (f *keywordFeed) matches(post *bluesky.PostRecord) bool {
	if f.langs != nil && !slices.ContainsFunc(post.Langs, func(l string) bool {
		_, ok := f.langs[l]
		return ok
	}) {
		return false
	}
	return f.pattern.MatchString(post.Text)
}
