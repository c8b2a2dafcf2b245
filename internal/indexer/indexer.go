// Package indexer turns firehose events into data plane rows: records and
// the graph edges, thread structure, author feed items, notifications and
// keyword feed entries derived from them.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
)

// Indexer is the write side of the appview. It owns the rules for what a
// record means to the read path.
type Indexer struct {
	feeds   []*keywordFeed
	store   Store
	cursors CursorStore
	logger  *slog.Logger
}

// New creates an Indexer that maintains the given keyword feeds.
func New(configs []FeedConfig, store Store, cursors CursorStore, logger *slog.Logger) (*Indexer, error) {
	feeds := make([]*keywordFeed, 0, len(configs))
	for _, cfg := range configs {
		f, err := compileFeed(cfg)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}
	return &Indexer{feeds: feeds, store: store, cursors: cursors, logger: logger}, nil
}

// FeedURIs returns the AT-URIs of the keyword feeds, in configuration order.
func (ix *Indexer) FeedURIs() []string {
	uris := make([]string, len(ix.feeds))
	for i, f := range ix.feeds {
		uris[i] = f.uri
	}
	return uris
}

// WantedCollections lists the collections the indexer understands.
func WantedCollections() []string {
	return append(slices.Clone(bluesky.Collections), CollectionLabeler)
}

// ProcessCommit applies a record operation. It reports whether a new post
// matched at least one keyword feed.
func (ix *Indexer) ProcessCommit(ctx context.Context, c *Commit) (bool, error) {
	if err := ix.store.TouchActor(ctx, c.DID, c.Rev, c.Time); err != nil {
		return false, fmt.Errorf("touch actor: %w", err)
	}
	if c.Collection == CollectionLabeler {
		if c.RKey != "self" {
			return false, nil
		}
		if err := ix.store.SetLabeler(ctx, c.DID, c.Operation != OpDelete); err != nil {
			return false, fmt.Errorf("set labeler: %w", err)
		}
		return false, nil
	}

	uri := bluesky.MakeURI(c.DID, c.Collection, c.RKey)
	switch c.Operation {
	case OpDelete:
		if err := ix.store.DeleteRecord(ctx, uri); err != nil {
			return false, fmt.Errorf("delete record: %w", err)
		}
		return false, nil
	case OpCreate, OpUpdate:
	default:
		return false, nil
	}
	if len(c.Record) == 0 {
		return false, nil
	}

	rec, post, err := buildRecord(uri, c)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	if err := ix.store.PutRecord(ctx, rec); err != nil {
		return false, fmt.Errorf("put record: %w", err)
	}
	if notifs := notificationsFor(rec, post); len(notifs) > 0 {
		if err := ix.store.AddNotifications(ctx, notifs); err != nil {
			return false, fmt.Errorf("add notifications: %w", err)
		}
	}
	if post == nil {
		return false, nil
	}

	matched := false
	for _, f := range ix.feeds {
		if !f.matches(post) {
			continue
		}
		if err := ix.store.AddFeedPost(ctx, f.uri, uri, rec.SortAt); err != nil {
			return false, fmt.Errorf("add feed post: %w", err)
		}
		matched = true
	}
	return matched, nil
}

// ProcessIdentity applies a handle change.
func (ix *Indexer) ProcessIdentity(ctx context.Context, id *Identity) error {
	if id.Handle == "" {
		return nil
	}
	if err := ix.store.SetHandle(ctx, id.DID, id.Handle, id.Time); err != nil {
		return fmt.Errorf("set handle: %w", err)
	}
	return nil
}

// ProcessAccount applies an account status change.
func (ix *Indexer) ProcessAccount(ctx context.Context, acct *Account) error {
	status := dataplane.StatusActive
	if !acct.Active {
		status = acct.Status
		if status == "" {
			status = dataplane.StatusDeactivated
		}
	}
	if err := ix.store.SetStatus(ctx, acct.DID, status); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// GetCursor retrieves the last-processed firehose cursor for the given service.
func (ix *Indexer) GetCursor(ctx context.Context, service string) (int64, error) {
	return ix.cursors.GetCursor(ctx, service)
}

// UpdateCursor persists the firehose cursor for the given service.
func (ix *Indexer) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	return ix.cursors.UpdateCursor(ctx, service, cursor)
}

// StartPruneJob runs a background loop that removes keyword feed entries
// older than maxAge and caps each feed at maxRows. It runs immediately on
// start and then repeats at the given interval. It blocks until ctx is
// cancelled.
func (ix *Indexer) StartPruneJob(ctx context.Context, interval, maxAge time.Duration, maxRows int) {
	ix.prune(ctx, maxAge, maxRows)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ix.prune(ctx, maxAge, maxRows)
		}
	}
}

func (ix *Indexer) prune(ctx context.Context, maxAge time.Duration, maxRows int) {
	deleted, err := ix.store.PruneFeedPosts(ctx, maxAge, maxRows)
	if err != nil {
		ix.logger.Error("feed prune failed", "error", err)
	} else if deleted > 0 {
		ix.logger.Info("feed prune complete", "deleted", deleted)
	}
}

// buildRecord decodes a commit into a storable record. Collections the read
// path does not use yield a nil record. The decoded post is returned for
// posts so callers can match it against keyword feeds.
func buildRecord(uri string, c *Commit) (*Record, *bluesky.PostRecord, error) {
	if !slices.Contains(bluesky.Collections, c.Collection) {
		return nil, nil, nil
	}
	var stamp struct {
		CreatedAt string `json:"createdAt"`
	}
	if err := json.Unmarshal(c.Record, &stamp); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", c.Collection, err)
	}
	indexedAt := c.Time.UTC()
	rec := &Record{
		URI:        uri,
		DID:        c.DID,
		Collection: c.Collection,
		CID:        c.CID,
		Value:      c.Record,
		IndexedAt:  indexedAt,
		SortAt:     bluesky.SortAt(stamp.CreatedAt, indexedAt),
	}

	var err error
	var post *bluesky.PostRecord
	switch c.Collection {
	case bluesky.CollectionPost:
		post, err = decode[bluesky.PostRecord](c.Record)
		if err == nil {
			rec.Post = &PostIndex{Root: post.RootURI(), Parent: post.ParentURI(), HasMedia: post.Embed.HasMedia()}
			if ref := post.Embed.QuotedRef(); ref != nil {
				rec.Post.Quote = ref.URI
			}
			rec.FeedPost = uri
		}
	case bluesky.CollectionLike:
		var like *bluesky.LikeRecord
		if like, err = decode[bluesky.LikeRecord](c.Record); err == nil {
			rec.Edge = &Edge{Subject: like.Subject.URI}
		}
	case bluesky.CollectionRepost:
		var repost *bluesky.RepostRecord
		if repost, err = decode[bluesky.RepostRecord](c.Record); err == nil {
			rec.Edge = &Edge{Subject: repost.Subject.URI}
			rec.FeedPost = repost.Subject.URI
		}
	case bluesky.CollectionFollow, bluesky.CollectionBlock:
		var follow *bluesky.FollowRecord
		if follow, err = decode[bluesky.FollowRecord](c.Record); err == nil {
			rec.Edge = &Edge{Subject: follow.Subject}
		}
	case bluesky.CollectionListItem:
		var item *bluesky.ListItemRecord
		if item, err = decode[bluesky.ListItemRecord](c.Record); err == nil {
			rec.Edge = &Edge{Subject: item.Subject, List: item.List}
		}
	case bluesky.CollectionListBlock:
		var block *bluesky.ListBlockRecord
		if block, err = decode[bluesky.ListBlockRecord](c.Record); err == nil {
			rec.Edge = &Edge{Subject: block.Subject}
		}
	case bluesky.CollectionVouch:
		var vouch *bluesky.VouchRecord
		if vouch, err = decode[bluesky.VouchRecord](c.Record); err == nil {
			rec.Edge = &Edge{Subject: vouch.Subject}
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", c.Collection, err)
	}
	return rec, post, nil
}

func decode[T any](raw json.RawMessage) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	return v, nil
}

// notificationsFor derives the notifications a new record sends. An actor
// is notified at most once per record and never about their own records.
// For posts, mentions take precedence over quotes, and quotes over replies.
func notificationsFor(rec *Record, post *bluesky.PostRecord) []dataplane.Notification {
	notified := map[string]bool{rec.DID: true}
	var out []dataplane.Notification
	notify := func(recipient, reason, subject string) {
		if recipient == "" || notified[recipient] {
			return
		}
		notified[recipient] = true
		out = append(out, dataplane.Notification{
			URI:           rec.URI,
			Recipient:     recipient,
			Author:        rec.DID,
			Reason:        reason,
			ReasonSubject: subject,
			SortAt:        rec.SortAt,
		})
	}

	switch rec.Collection {
	case bluesky.CollectionPost:
		for _, did := range post.Mentions() {
			notify(did, dataplane.ReasonMention, "")
		}
		if q := rec.Post.Quote; q != "" && bluesky.CollectionFromURI(q) == bluesky.CollectionPost {
			notify(bluesky.DIDFromURI(q), dataplane.ReasonQuote, q)
		}
		for _, ancestor := range []string{rec.Post.Parent, rec.Post.Root} {
			if ancestor != "" {
				notify(bluesky.DIDFromURI(ancestor), dataplane.ReasonReply, ancestor)
			}
		}
	case bluesky.CollectionLike, bluesky.CollectionRepost:
		reason := dataplane.ReasonLike
		if rec.Collection == bluesky.CollectionRepost {
			reason = dataplane.ReasonRepost
		}
		notify(bluesky.DIDFromURI(rec.Edge.Subject), reason, rec.Edge.Subject)
	case bluesky.CollectionFollow:
		notify(rec.Edge.Subject, dataplane.ReasonFollow, "")
	}
	return out
}
