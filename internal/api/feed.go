package api

import (
	"context"
	"fmt"
	"net/url"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
	"github.com/blackmichael/bluesky-appview/internal/hydration"
	"github.com/blackmichael/bluesky-appview/internal/pagination"
	"github.com/blackmichael/bluesky-appview/internal/pipeline"
	"github.com/blackmichael/bluesky-appview/internal/views"
	"github.com/blackmichael/bluesky-appview/internal/xrpcerr"
)

const maxPosts = 25

type feedParams struct {
	Common
	Actor       string
	Feed        string
	Filter      string
	IncludePins bool
	Limit       int
	Cursor      string
}

type feedSkeleton struct {
	// Actor is set for author feeds. Their own posts are never muted.
	Actor  string
	Items  []dataplane.FeedItem
	Cursor string
}

// FeedBody is the response of every hydrated feed endpoint.
type FeedBody struct {
	Feed   []*views.FeedViewPost `json:"feed"`
	Cursor string                `json:"cursor,omitempty"`
}

var authorFeedFilters = []string{
	dataplane.FilterPostsWithReplies,
	dataplane.FilterPostsNoReplies,
	dataplane.FilterPostsWithMedia,
	dataplane.FilterPostsAndAuthorThread,
}

func parsePage(q url.Values, hctx hydration.Context) (feedParams, error) {
	limit, err := parseLimit(q, pagination.DefaultLimit, pagination.MaxLimit)
	if err != nil {
		return feedParams{}, err
	}
	return feedParams{Common: Common{hctx}, Limit: limit, Cursor: q.Get("cursor")}, nil
}

func parseGetAuthorFeed(q url.Values, hctx hydration.Context) (feedParams, error) {
	p, err := parsePage(q, hctx)
	if err != nil {
		return feedParams{}, err
	}
	if p.Actor, err = required(q, "actor"); err != nil {
		return feedParams{}, err
	}
	p.Filter = q.Get("filter")
	if p.Filter == "" {
		p.Filter = dataplane.FilterPostsWithReplies
	}
	if !slices.Contains(authorFeedFilters, p.Filter) {
		return feedParams{}, xrpcerr.InvalidRequest("unknown filter %q", p.Filter)
	}
	if p.IncludePins, err = parseBool(q, "includePins", false); err != nil {
		return feedParams{}, err
	}
	return p, nil
}

func parseGetTimeline(q url.Values, hctx hydration.Context) (feedParams, error) {
	if err := requireViewer(hctx); err != nil {
		return feedParams{}, err
	}
	return parsePage(q, hctx)
}

func parseGetFeed(q url.Values, hctx hydration.Context) (feedParams, error) {
	p, err := parsePage(q, hctx)
	if err != nil {
		return feedParams{}, err
	}
	if p.Feed, err = required(q, "feed"); err != nil {
		return feedParams{}, err
	}
	return p, nil
}

func (a *API) getAuthorFeed() *pipeline.Pipeline[feedParams, feedSkeleton, hydration.State, FeedBody] {
	return newPipeline("app.bsky.feed.getAuthorFeed", a.authorFeedSkeleton, a.hydrateFeed, feedRules, a.presentFeed)
}

func (a *API) getTimeline() *pipeline.Pipeline[feedParams, feedSkeleton, hydration.State, FeedBody] {
	return newPipeline("app.bsky.feed.getTimeline", a.timelineSkeleton, a.hydrateFeed, feedRules, a.presentFeed)
}

func (a *API) getFeed() *pipeline.Pipeline[feedParams, feedSkeleton, hydration.State, FeedBody] {
	return newPipeline("app.bsky.feed.getFeed", a.generatorSkeleton, a.hydrateFeed, feedRules, a.presentFeed)
}

func (a *API) authorFeedSkeleton(ctx context.Context, p feedParams) (feedSkeleton, error) {
	if pagination.Invalid(p.Cursor) {
		return feedSkeleton{}, nil
	}
	dids, err := a.hydrator.Actor.ResolveDIDs(ctx, []string{p.Actor})
	if err != nil {
		return feedSkeleton{}, err
	}
	did := dids[0]
	if did == "" {
		return feedSkeleton{}, xrpcerr.NotFound("", "Profile not found")
	}
	actors, err := a.hydrator.Actor.GetActors(ctx, []string{did}, p.Ctx.IncludeTakedowns, nil)
	if err != nil {
		return feedSkeleton{}, err
	}
	actor, ok := actors.Get(did)
	if !ok {
		return feedSkeleton{}, xrpcerr.NotFound("", "Profile not found")
	}
	page, err := a.dp.GetAuthorFeed(ctx, did, p.Filter, p.Cursor, p.Limit)
	if err != nil {
		return feedSkeleton{}, fmt.Errorf("get author feed: %w", err)
	}
	items := page.Items
	if pinned := pinnedPost(actor); p.IncludePins && p.Cursor == "" && pinned != "" {
		items = slices.DeleteFunc(items, func(it dataplane.FeedItem) bool {
			return it.Repost == "" && it.Post == pinned
		})
		items = append([]dataplane.FeedItem{{Post: pinned, AuthorPinned: true}}, items...)
	}
	return feedSkeleton{Actor: did, Items: items, Cursor: page.Cursor}, nil
}

// pinnedPost returns the actor's pinned post if it is one of their own.
func pinnedPost(actor hydration.Actor) string {
	if actor.Profile == nil || actor.Profile.PinnedPost == nil {
		return ""
	}
	uri := actor.Profile.PinnedPost.URI
	if bluesky.DIDFromURI(uri) != actor.DID || bluesky.CollectionFromURI(uri) != bluesky.CollectionPost {
		return ""
	}
	return uri
}

func (a *API) timelineSkeleton(ctx context.Context, p feedParams) (feedSkeleton, error) {
	if pagination.Invalid(p.Cursor) {
		return feedSkeleton{}, nil
	}
	page, err := a.dp.GetTimeline(ctx, p.Ctx.Viewer, p.Cursor, p.Limit)
	if err != nil {
		return feedSkeleton{}, fmt.Errorf("get timeline: %w", err)
	}
	return feedSkeleton{Items: page.Items, Cursor: page.Cursor}, nil
}

// generatorSkeleton reads a locally served feed.
func (a *API) generatorSkeleton(ctx context.Context, p feedParams) (feedSkeleton, error) {
	if !slices.Contains(a.cfg.Feeds, p.Feed) {
		return feedSkeleton{}, xrpcerr.NotFound("UnknownFeed", "unknown feed: %s", p.Feed)
	}
	if pagination.Invalid(p.Cursor) {
		return feedSkeleton{}, nil
	}
	page, err := a.dp.GetFeedItems(ctx, p.Feed, p.Cursor, p.Limit)
	if err != nil {
		return feedSkeleton{}, fmt.Errorf("get feed items: %w", err)
	}
	items := make([]dataplane.FeedItem, len(page.URIs))
	for i, uri := range page.URIs {
		items[i] = dataplane.FeedItem{Post: uri}
	}
	return feedSkeleton{Items: items, Cursor: page.Cursor}, nil
}

func (a *API) hydrateFeed(ctx context.Context, p feedParams, sk feedSkeleton) (hydration.State, error) {
	var items, actor hydration.State
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = a.hydrator.HydrateFeedItems(gctx, sk.Items, p.Ctx)
		return err
	})
	if sk.Actor != "" {
		g.Go(func() error {
			var err error
			actor, err = a.hydrator.HydrateProfileViewers(gctx, []string{sk.Actor}, p.Ctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return hydration.State{}, err
	}
	return hydration.MergeStates(items, actor), nil
}

// feedRules drops items involving an account the viewer blocks or is
// blocked by, and items from muted accounts other than the feed's author.
func feedRules(_ context.Context, _ feedParams, sk feedSkeleton, s hydration.State) feedSkeleton {
	sk.Items = slices.DeleteFunc(slices.Clone(sk.Items), func(it dataplane.FeedItem) bool {
		return !keepFeedItem(&s, it, sk.Actor)
	})
	return sk
}

func keepFeedItem(s *hydration.State, it dataplane.FeedItem, author string) bool {
	hidden := func(did string) bool {
		return views.ViewerBlockExists(s, did) || (did != author && views.ViewerMuteExists(s, did))
	}
	if hidden(bluesky.DIDFromURI(it.Post)) {
		return false
	}
	if it.Repost != "" && hidden(bluesky.DIDFromURI(it.Repost)) {
		return false
	}
	p, ok := s.Posts.Get(it.Post)
	if !ok {
		return true
	}
	for _, ref := range []string{p.Record.ParentURI(), p.Record.RootURI()} {
		if ref != "" && views.ViewerBlockExists(s, bluesky.DIDFromURI(ref)) {
			return false
		}
	}
	return true
}

func (a *API) presentFeed(_ context.Context, _ feedParams, sk feedSkeleton, s hydration.State) (FeedBody, error) {
	if sk.Actor != "" {
		switch {
		case views.ViewerBlocking(&s, sk.Actor):
			return FeedBody{}, xrpcerr.BlockedActor()
		case views.ViewerBlockedBy(&s, sk.Actor):
			return FeedBody{}, xrpcerr.BlockedByActor()
		}
	}
	out := FeedBody{Feed: make([]*views.FeedViewPost, 0, len(sk.Items)), Cursor: sk.Cursor}
	for _, it := range sk.Items {
		if fv := a.views.FeedViewPost(&s, it); fv != nil {
			out.Feed = append(out.Feed, fv)
		}
	}
	return out, nil
}

type postsParams struct {
	Common
	URIs []string
}

type postsSkeleton struct {
	URIs []string
}

// PostsBody is the getPosts response.
type PostsBody struct {
	Posts []*views.PostView `json:"posts"`
}

func parseGetPosts(q url.Values, hctx hydration.Context) (postsParams, error) {
	uris, err := parseList(q, "uris", maxPosts)
	if err != nil {
		return postsParams{}, err
	}
	return postsParams{Common: Common{hctx}, URIs: uris}, nil
}

func (a *API) getPosts() *pipeline.Pipeline[postsParams, postsSkeleton, hydration.State, PostsBody] {
	return newPipeline("app.bsky.feed.getPosts",
		func(_ context.Context, p postsParams) (postsSkeleton, error) {
			return postsSkeleton{URIs: p.URIs}, nil
		},
		func(ctx context.Context, p postsParams, sk postsSkeleton) (hydration.State, error) {
			return a.hydrator.HydratePosts(ctx, sk.URIs, p.Ctx)
		},
		nil,
		func(_ context.Context, _ postsParams, sk postsSkeleton, s hydration.State) (PostsBody, error) {
			out := PostsBody{Posts: make([]*views.PostView, 0, len(sk.URIs))}
			for _, uri := range sk.URIs {
				if post := a.views.Post(&s, uri); post != nil {
					out.Posts = append(out.Posts, post)
				}
			}
			return out, nil
		},
	)
}
