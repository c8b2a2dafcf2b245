package indexer

import (
	"context"
	"time"

	"github.com/blackmichael/bluesky-appview/internal/dataplane"
)

// Store defines the writes the indexer makes as it follows the network.
type Store interface {
	// TouchActor records that did has been seen at rev, creating the actor
	// if it is new.
	TouchActor(ctx context.Context, did, rev string, at time.Time) error

	// SetHandle updates the handle an actor currently resolves to.
	SetHandle(ctx context.Context, did, handle string, at time.Time) error

	// SetStatus records an account status change. An empty status means the
	// account is active again.
	SetStatus(ctx context.Context, did, status string) error

	// SetLabeler marks whether did runs a labeler service.
	SetLabeler(ctx context.Context, did string, isLabeler bool) error

	// PutRecord inserts or replaces a record together with the rows derived
	// from it.
	PutRecord(ctx context.Context, rec *Record) error

	// DeleteRecord removes a record and everything derived from it, including
	// its notifications and keyword feed entries.
	DeleteRecord(ctx context.Context, uri string) error

	// AddNotifications stores notifications. Duplicates are ignored.
	AddNotifications(ctx context.Context, notifs []dataplane.Notification) error

	// AddFeedPost places a post on a keyword feed.
	AddFeedPost(ctx context.Context, feed, post string, sortAt time.Time) error

	// PruneFeedPosts removes keyword feed entries older than maxAge and any
	// excess beyond maxRows per feed, keeping the most recent. Returns the
	// number of rows deleted.
	PruneFeedPosts(ctx context.Context, maxAge time.Duration, maxRows int) (int64, error)
}

// CursorStore defines persistence operations for firehose cursors.
type CursorStore interface {
	// GetCursor retrieves the last-processed firehose cursor for the given
	// service name. Returns 0 if no cursor has been saved.
	GetCursor(ctx context.Context, service string) (int64, error)

	// UpdateCursor persists the firehose cursor so we can resume on restart.
	UpdateCursor(ctx context.Context, service string, cursor int64) error
}
