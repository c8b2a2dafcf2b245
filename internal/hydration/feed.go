package hydration

import (
	"context"
	"fmt"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
)

// FeedHydrator fetches posts, interactions, gates and feed generators.
type FeedHydrator struct {
	dp dataplane.Client
}

// GetPosts hydrates post records.
func (f *FeedHydrator) GetPosts(ctx context.Context, uris []string, includeTakedowns bool, known *Map[string, Post]) (*Map[string, Post], error) {
	return fetchMissing(ctx, uris, known, func(ctx context.Context, need []string) (*Map[string, Post], error) {
		m, err := getRecords[bluesky.PostRecord](ctx, f.dp, bluesky.CollectionPost, need, includeTakedowns)
		if err != nil {
			return nil, fmt.Errorf("get posts: %w", err)
		}
		return m, nil
	})
}

// GetPostAggs hydrates post counters.
func (f *FeedHydrator) GetPostAggs(ctx context.Context, uris []string, known *Map[string, PostAgg]) (*Map[string, PostAgg], error) {
	return fetchMissing(ctx, uris, known, func(ctx context.Context, need []string) (*Map[string, PostAgg], error) {
		counts, err := f.dp.GetPostCounts(ctx, need)
		if err != nil {
			return nil, fmt.Errorf("get post counts: %w", err)
		}
		return positional(need, counts), nil
	})
}

// GetPostViewers hydrates the viewer's likes, reposts and bookmarks.
func (f *FeedHydrator) GetPostViewers(ctx context.Context, viewer string, uris []string, known *Map[string, PostViewer]) (*Map[string, PostViewer], error) {
	if viewer == "" {
		return known.Clone(), nil
	}
	return fetchMissing(ctx, uris, known, func(ctx context.Context, need []string) (*Map[string, PostViewer], error) {
		states, err := f.dp.GetPostViewerStates(ctx, viewer, need)
		if err != nil {
			return nil, fmt.Errorf("get post viewer states: %w", err)
		}
		return positional(need, states), nil
	})
}

// GetThreadContexts hydrates whether each post's thread root author liked
// it. rootAuthors maps post URI to the DID of its thread root's author.
func (f *FeedHydrator) GetThreadContexts(ctx context.Context, rootAuthors map[string]string) (*Map[string, ThreadContext], error) {
	out := NewMap[string, ThreadContext]()
	if len(rootAuthors) == 0 {
		return out, nil
	}
	pairs := make([]dataplane.ActorSubject, 0, len(rootAuthors))
	for uri, author := range rootAuthors {
		pairs = append(pairs, dataplane.ActorSubject{Actor: author, Subject: uri})
	}
	likes, err := f.dp.GetLikesByActorAndSubjects(ctx, pairs)
	if err != nil {
		return nil, fmt.Errorf("get root author likes: %w", err)
	}
	for i, p := range pairs {
		tc := ThreadContext{}
		if i < len(likes) {
			tc.RootAuthorLike = likes[i]
		}
		out.Set(p.Subject, tc)
	}
	return out, nil
}

// GetThreadgatesForPosts hydrates the threadgates of the given root posts,
// keyed by gate URI.
func (f *FeedHydrator) GetThreadgatesForPosts(ctx context.Context, postURIs []string, includeTakedowns bool, known *Map[string, Threadgate]) (*Map[string, Threadgate], error) {
	gates := make([]string, 0, len(postURIs))
	for _, uri := range postURIs {
		if g := bluesky.ThreadgateURIForPost(uri); g != "" {
			gates = append(gates, g)
		}
	}
	return fetchMissing(ctx, gates, known, func(ctx context.Context, need []string) (*Map[string, Threadgate], error) {
		m, err := getRecords[bluesky.ThreadgateRecord](ctx, f.dp, bluesky.CollectionThreadgate, need, includeTakedowns)
		if err != nil {
			return nil, fmt.Errorf("get threadgates: %w", err)
		}
		return dropMismatchedGates(m, func(t *bluesky.ThreadgateRecord) string { return t.Post }), nil
	})
}

// GetPostgatesForPosts hydrates the postgates of the given posts, keyed by
// gate URI.
func (f *FeedHydrator) GetPostgatesForPosts(ctx context.Context, postURIs []string, includeTakedowns bool, known *Map[string, Postgate]) (*Map[string, Postgate], error) {
	gates := make([]string, 0, len(postURIs))
	for _, uri := range postURIs {
		if g := bluesky.PostgateURIForPost(uri); g != "" {
			gates = append(gates, g)
		}
	}
	return fetchMissing(ctx, gates, known, func(ctx context.Context, need []string) (*Map[string, Postgate], error) {
		m, err := getRecords[bluesky.PostgateRecord](ctx, f.dp, bluesky.CollectionPostgate, need, includeTakedowns)
		if err != nil {
			return nil, fmt.Errorf("get postgates: %w", err)
		}
		return dropMismatchedGates(m, func(p *bluesky.PostgateRecord) string { return p.Post }), nil
	})
}

// dropMismatchedGates tombstones gates whose subject is not the post they
// share an rkey with.
func dropMismatchedGates[T any](m *Map[string, RecordInfo[*T]], subject func(*T) string) *Map[string, RecordInfo[*T]] {
	for _, uri := range m.Keys() {
		g, ok := m.Get(uri)
		if ok && subject(g.Record) != bluesky.PostURIForGate(uri) {
			m.Tombstone(uri)
		}
	}
	return m
}

// GetLikes hydrates like records.
func (f *FeedHydrator) GetLikes(ctx context.Context, uris []string, includeTakedowns bool, known *Map[string, Like]) (*Map[string, Like], error) {
	return fetchMissing(ctx, uris, known, func(ctx context.Context, need []string) (*Map[string, Like], error) {
		m, err := getRecords[bluesky.LikeRecord](ctx, f.dp, bluesky.CollectionLike, need, includeTakedowns)
		if err != nil {
			return nil, fmt.Errorf("get likes: %w", err)
		}
		return m, nil
	})
}

// GetReposts hydrates repost records.
func (f *FeedHydrator) GetReposts(ctx context.Context, uris []string, includeTakedowns bool, known *Map[string, Repost]) (*Map[string, Repost], error) {
	return fetchMissing(ctx, uris, known, func(ctx context.Context, need []string) (*Map[string, Repost], error) {
		m, err := getRecords[bluesky.RepostRecord](ctx, f.dp, bluesky.CollectionRepost, need, includeTakedowns)
		if err != nil {
			return nil, fmt.Errorf("get reposts: %w", err)
		}
		return m, nil
	})
}

// GetFollows hydrates follow records.
func (f *FeedHydrator) GetFollows(ctx context.Context, uris []string, includeTakedowns bool, known *Map[string, Follow]) (*Map[string, Follow], error) {
	return fetchMissing(ctx, uris, known, func(ctx context.Context, need []string) (*Map[string, Follow], error) {
		m, err := getRecords[bluesky.FollowRecord](ctx, f.dp, bluesky.CollectionFollow, need, includeTakedowns)
		if err != nil {
			return nil, fmt.Errorf("get follows: %w", err)
		}
		return m, nil
	})
}

// GetFeedGens hydrates feed generator records.
func (f *FeedHydrator) GetFeedGens(ctx context.Context, uris []string, includeTakedowns bool, known *Map[string, FeedGen]) (*Map[string, FeedGen], error) {
	return fetchMissing(ctx, uris, known, func(ctx context.Context, need []string) (*Map[string, FeedGen], error) {
		m, err := getRecords[bluesky.FeedGeneratorRecord](ctx, f.dp, bluesky.CollectionGenerator, need, includeTakedowns)
		if err != nil {
			return nil, fmt.Errorf("get feed generators: %w", err)
		}
		return m, nil
	})
}

// GetFeedGenAggs hydrates feed generator counters.
func (f *FeedHydrator) GetFeedGenAggs(ctx context.Context, uris []string, known *Map[string, FeedGenAgg]) (*Map[string, FeedGenAgg], error) {
	return fetchMissing(ctx, uris, known, func(ctx context.Context, need []string) (*Map[string, FeedGenAgg], error) {
		counts, err := f.dp.GetFeedGenCounts(ctx, need)
		if err != nil {
			return nil, fmt.Errorf("get feed generator counts: %w", err)
		}
		return positional(need, counts), nil
	})
}

// GetFeedGenViewers hydrates whether the viewer liked each feed generator.
func (f *FeedHydrator) GetFeedGenViewers(ctx context.Context, viewer string, uris []string, known *Map[string, FeedGenViewer]) (*Map[string, FeedGenViewer], error) {
	if viewer == "" {
		return known.Clone(), nil
	}
	return fetchMissing(ctx, uris, known, func(ctx context.Context, need []string) (*Map[string, FeedGenViewer], error) {
		pairs := make([]dataplane.ActorSubject, len(need))
		for i, uri := range need {
			pairs[i] = dataplane.ActorSubject{Actor: viewer, Subject: uri}
		}
		likes, err := f.dp.GetLikesByActorAndSubjects(ctx, pairs)
		if err != nil {
			return nil, fmt.Errorf("get feed generator likes: %w", err)
		}
		out := NewMap[string, FeedGenViewer]()
		for i, uri := range need {
			v := FeedGenViewer{}
			if i < len(likes) {
				v.Like = likes[i]
			}
			out.Set(uri, v)
		}
		return out, nil
	})
}

// positional zips keys with results, tombstoning keys past the end of a
// short reply.
func positional[V any](keys []string, vals []V) *Map[string, V] {
	out := NewMap[string, V]()
	for i, k := range keys {
		if i < len(vals) {
			out.Set(k, vals[i])
		} else {
			out.Tombstone(k)
		}
	}
	return out
}
