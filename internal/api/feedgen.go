package api

import (
	"context"
	"net/url"

	"github.com/blackmichael/bluesky-appview/internal/hydration"
	"github.com/blackmichael/bluesky-appview/internal/pipeline"
	"github.com/blackmichael/bluesky-appview/internal/views"
)

// SkeletonBody is the getFeedSkeleton response.
type SkeletonBody struct {
	Feed   []SkeletonPost `json:"feed"`
	Cursor string         `json:"cursor,omitempty"`
}

// SkeletonPost is a single entry in a feed skeleton.
type SkeletonPost struct {
	Post string `json:"post"`
}

// DescribeFeedGeneratorBody is the describeFeedGenerator response.
type DescribeFeedGeneratorBody struct {
	DID   string            `json:"did"`
	Feeds []FeedDescription `json:"feeds"`
}

// FeedDescription describes a single feed served by this service.
type FeedDescription struct {
	URI string `json:"uri"`
}

// FeedGeneratorsBody is the getFeedGenerators response.
type FeedGeneratorsBody struct {
	Feeds []*views.GeneratorView `json:"feeds"`
}

type feedGensParams struct {
	Common
	Feeds []string
}

type feedGensSkeleton struct {
	URIs []string
}

func (a *API) describeFeedGenerator(_ context.Context, _ Request) (Response, error) {
	feeds := make([]FeedDescription, len(a.cfg.Feeds))
	for i, uri := range a.cfg.Feeds {
		feeds[i] = FeedDescription{URI: uri}
	}
	return Response{Body: DescribeFeedGeneratorBody{DID: a.cfg.ServiceDID, Feeds: feeds}}, nil
}

// getFeedSkeleton serves a local feed's skeleton unhydrated, for clients
// that hydrate it elsewhere.
func (a *API) getFeedSkeleton() *pipeline.Pipeline[feedParams, feedSkeleton, hydration.State, SkeletonBody] {
	return newPipeline("app.bsky.feed.getFeedSkeleton",
		a.generatorSkeleton,
		func(_ context.Context, p feedParams, _ feedSkeleton) (hydration.State, error) {
			return hydration.State{Ctx: p.Ctx}, nil
		},
		nil,
		func(_ context.Context, p feedParams, sk feedSkeleton, _ hydration.State) (SkeletonBody, error) {
			out := SkeletonBody{Feed: make([]SkeletonPost, len(sk.Items)), Cursor: sk.Cursor}
			for i, it := range sk.Items {
				out.Feed[i] = SkeletonPost{Post: it.Post}
			}
			a.logger.Debug("feed skeleton served", "feed", p.Feed, "posts_returned", len(out.Feed), "next_cursor", out.Cursor)
			return out, nil
		},
	)
}

func parseGetFeedGenerators(q url.Values, hctx hydration.Context) (feedGensParams, error) {
	feeds, err := parseList(q, "feeds", maxPosts)
	if err != nil {
		return feedGensParams{}, err
	}
	return feedGensParams{Common: Common{hctx}, Feeds: feeds}, nil
}

func (a *API) getFeedGenerators() *pipeline.Pipeline[feedGensParams, feedGensSkeleton, hydration.State, FeedGeneratorsBody] {
	return newPipeline("app.bsky.feed.getFeedGenerators",
		func(_ context.Context, p feedGensParams) (feedGensSkeleton, error) {
			return feedGensSkeleton{URIs: p.Feeds}, nil
		},
		func(ctx context.Context, p feedGensParams, sk feedGensSkeleton) (hydration.State, error) {
			return a.hydrator.HydrateFeedGens(ctx, sk.URIs, p.Ctx)
		},
		nil,
		func(_ context.Context, _ feedGensParams, sk feedGensSkeleton, s hydration.State) (FeedGeneratorsBody, error) {
			out := FeedGeneratorsBody{Feeds: make([]*views.GeneratorView, 0, len(sk.URIs))}
			for _, uri := range sk.URIs {
				if gen := a.views.FeedGenerator(&s, uri); gen != nil {
					out.Feeds = append(out.Feeds, gen)
				}
			}
			return out, nil
		},
	)
}
