// Package dataplane defines the upstream store the appview reads from.
//
// Every batch lookup is positional: the i-th result corresponds to the i-th
// input, and a missing entity is reported through a zero value rather than
// by shortening the result.
package dataplane

import "context"

// ActorReader reads accounts and profile-level aggregates.
type ActorReader interface {
	GetActors(ctx context.Context, dids []string) ([]Actor, error)
	GetDidsByHandles(ctx context.Context, handles []string) ([]string, error)
	GetProfileCounts(ctx context.Context, dids []string) ([]ProfileCounts, error)
	GetLatestRev(ctx context.Context, did string) (string, error)
	GetVouches(ctx context.Context, subjects []string) ([][]Vouch, error)
}

// RecordReader reads raw records of a single collection.
type RecordReader interface {
	GetRecords(ctx context.Context, collection string, uris []string) ([]Record, error)
}

// GraphReader reads social graph state relative to a viewer.
type GraphReader interface {
	GetRelationships(ctx context.Context, viewer string, targets []string) ([]Relationship, error)
	GetBidirectionalBlocks(ctx context.Context, pairs []ActorPair) ([]bool, error)
	// GetFollowsFollowing returns, per target, the accounts the viewer
	// follows that also follow the target.
	GetFollowsFollowing(ctx context.Context, viewer string, targets []string) ([][]string, error)
	GetActivitySubscriptions(ctx context.Context, viewer string, targets []string) ([]ActivitySubscription, error)
	GetListViewerStates(ctx context.Context, viewer string, lists []string) ([]ListViewerState, error)
	// GetListMemberships returns, per list, the list item URI that adds
	// actor to it, or "".
	GetListMemberships(ctx context.Context, actor string, lists []string) ([]string, error)
	GetListCounts(ctx context.Context, lists []string) ([]ListCounts, error)
	GetListItems(ctx context.Context, list, cursor string, limit int) (Page, error)
}

// FeedReader reads posts, interactions and feed skeletons.
type FeedReader interface {
	GetPostCounts(ctx context.Context, uris []string) ([]PostCounts, error)
	GetPostViewerStates(ctx context.Context, viewer string, uris []string) ([]PostViewerState, error)
	// GetLikesByActorAndSubjects returns the like URI per pair, or "".
	GetLikesByActorAndSubjects(ctx context.Context, pairs []ActorSubject) ([]string, error)
	GetFeedGenCounts(ctx context.Context, uris []string) ([]FeedGenCounts, error)
	GetThread(ctx context.Context, anchor string, above, below int) (Thread, error)
	GetAuthorFeed(ctx context.Context, actor, filter, cursor string, limit int) (FeedPage, error)
	GetTimeline(ctx context.Context, viewer, cursor string, limit int) (FeedPage, error)
	GetFeedItems(ctx context.Context, feed, cursor string, limit int) (Page, error)
	GetLikesBySubject(ctx context.Context, subject, cursor string, limit int) (Page, error)
	GetRepostsBySubject(ctx context.Context, subject, cursor string, limit int) (Page, error)
	GetBookmarks(ctx context.Context, actor, cursor string, limit int) (BookmarkPage, error)
}

// LabelReader reads moderation labels.
type LabelReader interface {
	GetLabels(ctx context.Context, subjects, issuers []string) ([]Label, error)
}

// NotificationReader reads notification streams.
type NotificationReader interface {
	GetNotifications(ctx context.Context, actor, cursor string, limit int) (NotificationPage, error)
}

// Client is the full data plane. Implementations must be safe for
// concurrent use.
type Client interface {
	ActorReader
	RecordReader
	GraphReader
	FeedReader
	LabelReader
	NotificationReader
}
