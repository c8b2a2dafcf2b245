package hydration

import (
	"time"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
)

// RecordInfo is a hydrated record.
type RecordInfo[T any] struct {
	Record      T
	CID         string
	IndexedAt   time.Time
	SortedAt    time.Time
	TakedownRef string
}

type (
	Post       = RecordInfo[*bluesky.PostRecord]
	Like       = RecordInfo[*bluesky.LikeRecord]
	Repost     = RecordInfo[*bluesky.RepostRecord]
	Follow     = RecordInfo[*bluesky.FollowRecord]
	List       = RecordInfo[*bluesky.ListRecord]
	ListItem   = RecordInfo[*bluesky.ListItemRecord]
	FeedGen    = RecordInfo[*bluesky.FeedGeneratorRecord]
	Threadgate = RecordInfo[*bluesky.ThreadgateRecord]
	Postgate   = RecordInfo[*bluesky.PostgateRecord]
)

// Actor is a hydrated account. Profile is nil when the account has no
// profile record or the record was taken down.
type Actor struct {
	DID                string
	Handle             string
	Profile            *bluesky.ProfileRecord
	ProfileCID         string
	ProfileTakedownRef string
	SortedAt           time.Time
	IndexedAt          time.Time
	CreatedAt          time.Time
	TakedownRef        string
	Status             string
	IsLabeler          bool
	TrustedVerifier    bool
}

type (
	ProfileViewer        = dataplane.Relationship
	ProfileAgg           = dataplane.ProfileCounts
	ActivitySubscription = dataplane.ActivitySubscription
	PostAgg              = dataplane.PostCounts
	PostViewer           = dataplane.PostViewerState
	ListViewer           = dataplane.ListViewerState
	ListAgg              = dataplane.ListCounts
	FeedGenAgg           = dataplane.FeedGenCounts
	Label                = dataplane.Label
	Vouch                = dataplane.Vouch
	Bookmark             = dataplane.Bookmark
)

// KnownFollowers are accounts the viewer follows that also follow a
// subject.
type KnownFollowers struct {
	Count     int
	Followers []string
}

// PostBlock records whether a post is blocked from its reply parent, its
// thread root or the record it embeds.
type PostBlock struct {
	Parent bool
	Root   bool
	Embed  bool
}

// ThreadContext holds per-post facts relative to its thread, currently
// whether the thread root's author liked it.
type ThreadContext struct {
	RootAuthorLike string
}

// FeedGenViewer is the viewer's relationship to a feed generator.
type FeedGenViewer struct {
	Like string
}

// LabelKey identifies a label on a subject.
type LabelKey struct {
	Src string
	Val string
}

// State is everything hydrated for one request. Each map is optional and
// only populated when the rendering path needs it.
type State struct {
	Ctx Context

	Actors                *Map[string, Actor]
	ProfileViewers        *Map[string, ProfileViewer]
	ProfileAggs           *Map[string, ProfileAgg]
	KnownFollowers        *Map[string, KnownFollowers]
	ActivitySubscriptions *Map[string, ActivitySubscription]
	Vouches               *NestedMap[string, string, Vouch]

	Posts          *Map[string, Post]
	PostAggs       *Map[string, PostAgg]
	PostViewers    *Map[string, PostViewer]
	PostBlocks     *Map[string, PostBlock]
	ThreadContexts *Map[string, ThreadContext]
	Reposts        *Map[string, Repost]
	Likes          *Map[string, Like]
	Follows        *Map[string, Follow]
	Threadgates    *Map[string, Threadgate]
	Postgates      *Map[string, Postgate]

	Lists           *Map[string, List]
	ListViewers     *Map[string, ListViewer]
	ListAggs        *Map[string, ListAgg]
	ListItems       *Map[string, ListItem]
	ListMemberships *NestedMap[string, string, string]

	FeedGens       *Map[string, FeedGen]
	FeedGenAggs    *Map[string, FeedGenAgg]
	FeedGenViewers *Map[string, FeedGenViewer]

	Labels              *NestedMap[string, LabelKey, Label]
	Bookmarks           *Map[string, Bookmark]
	BidirectionalBlocks *NestedMap[string, string, bool]
}

// MergeStates returns b merged over a. Neither argument is modified.
// Context is taken from a unless a has none.
func MergeStates(a, b State) State {
	ctx := a.Ctx
	if ctx.Viewer == "" && len(ctx.Labelers.DIDs) == 0 {
		ctx = b.Ctx
	}
	return State{
		Ctx: ctx,

		Actors:                MergeMaps(a.Actors, b.Actors),
		ProfileViewers:        MergeMaps(a.ProfileViewers, b.ProfileViewers),
		ProfileAggs:           MergeMaps(a.ProfileAggs, b.ProfileAggs),
		KnownFollowers:        MergeMaps(a.KnownFollowers, b.KnownFollowers),
		ActivitySubscriptions: MergeMaps(a.ActivitySubscriptions, b.ActivitySubscriptions),
		Vouches:               MergeNested(a.Vouches, b.Vouches),

		Posts:          MergeMaps(a.Posts, b.Posts),
		PostAggs:       MergeMaps(a.PostAggs, b.PostAggs),
		PostViewers:    MergeMaps(a.PostViewers, b.PostViewers),
		PostBlocks:     MergeMaps(a.PostBlocks, b.PostBlocks),
		ThreadContexts: MergeMaps(a.ThreadContexts, b.ThreadContexts),
		Reposts:        MergeMaps(a.Reposts, b.Reposts),
		Likes:          MergeMaps(a.Likes, b.Likes),
		Follows:        MergeMaps(a.Follows, b.Follows),
		Threadgates:    MergeMaps(a.Threadgates, b.Threadgates),
		Postgates:      MergeMaps(a.Postgates, b.Postgates),

		Lists:           MergeMaps(a.Lists, b.Lists),
		ListViewers:     MergeMaps(a.ListViewers, b.ListViewers),
		ListAggs:        MergeMaps(a.ListAggs, b.ListAggs),
		ListItems:       MergeMaps(a.ListItems, b.ListItems),
		ListMemberships: MergeNested(a.ListMemberships, b.ListMemberships),

		FeedGens:       MergeMaps(a.FeedGens, b.FeedGens),
		FeedGenAggs:    MergeMaps(a.FeedGenAggs, b.FeedGenAggs),
		FeedGenViewers: MergeMaps(a.FeedGenViewers, b.FeedGenViewers),

		Labels:              MergeNested(a.Labels, b.Labels),
		Bookmarks:           MergeMaps(a.Bookmarks, b.Bookmarks),
		BidirectionalBlocks: MergeNested(a.BidirectionalBlocks, b.BidirectionalBlocks),
	}
}

// mergeAll folds states left to right.
func mergeAll(ctx Context, states ...State) State {
	out := State{Ctx: ctx}
	for _, s := range states {
		out = MergeStates(out, s)
	}
	out.Ctx = ctx
	return out
}
