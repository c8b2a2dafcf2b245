package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/hydration"
	"github.com/blackmichael/bluesky-appview/internal/pipeline"
	"github.com/blackmichael/bluesky-appview/internal/thread"
	"github.com/blackmichael/bluesky-appview/internal/views"
	"github.com/blackmichael/bluesky-appview/internal/xrpcerr"
)

type threadParams struct {
	Common
	Anchor                  string
	Above                   int
	Below                   int
	BranchingFactor         int
	Sort                    thread.Sort
	PrioritizeFollowedUsers bool
}

type threadSkeleton struct {
	Anchor string
	URIs   []string
	Above  int
	Below  int
}

// ThreadBody is the getPostThreadV2 response.
type ThreadBody struct {
	Thread          []views.ThreadItem    `json:"thread"`
	Threadgate      *views.ThreadgateView `json:"threadgate,omitempty"`
	HasOtherReplies bool                  `json:"hasOtherReplies"`
}

func parseGetPostThread(q url.Values, hctx hydration.Context) (threadParams, error) {
	anchor, err := required(q, "anchor")
	if err != nil {
		return threadParams{}, err
	}
	if u, err := bluesky.ParseURI(anchor); err != nil || u.Collection != bluesky.CollectionPost || u.RKey == "" {
		return threadParams{}, xrpcerr.InvalidRequest("anchor must be a post URI")
	}
	p := threadParams{Common: Common{hctx}, Anchor: anchor, Sort: thread.ParseSort(q.Get("sort"))}
	if p.Above, err = parseInt(q, "above", 80, 0, 100); err != nil {
		return threadParams{}, err
	}
	if p.Below, err = parseInt(q, "below", 6, 0, 20); err != nil {
		return threadParams{}, err
	}
	if p.BranchingFactor, err = parseInt(q, "branchingFactor", 10, 0, 100); err != nil {
		return threadParams{}, err
	}
	if p.PrioritizeFollowedUsers, err = parseBool(q, "prioritizeFollowedUsers", false); err != nil {
		return threadParams{}, err
	}
	return p, nil
}

func (a *API) getPostThread() *pipeline.Pipeline[threadParams, threadSkeleton, hydration.State, ThreadBody] {
	return newPipeline("app.bsky.unspecced.getPostThreadV2", a.threadSkeleton, a.hydrateThread, nil, a.presentThread)
}

// threadSkeleton fetches the URIs around the anchor. Threads configured as
// oversized are fetched with a shallower window.
func (a *API) threadSkeleton(ctx context.Context, p threadParams) (threadSkeleton, error) {
	above, below := p.Above, p.Below
	if slices.Contains(a.cfg.BigThreads, p.Anchor) {
		above = min(above, a.cfg.BigThreadDepth)
		below = min(below, a.cfg.BigThreadDepth)
	}
	t, err := a.dp.GetThread(ctx, p.Anchor, above, below)
	if err != nil {
		return threadSkeleton{}, fmt.Errorf("get thread: %w", err)
	}
	return threadSkeleton{Anchor: p.Anchor, URIs: t.URIs, Above: above, Below: below}, nil
}

func (a *API) hydrateThread(ctx context.Context, p threadParams, sk threadSkeleton) (hydration.State, error) {
	uris := append([]string{sk.Anchor}, sk.URIs...)
	return a.hydrator.HydrateThreadPosts(ctx, uris, p.Ctx)
}

func (a *API) presentThread(_ context.Context, p threadParams, sk threadSkeleton, s hydration.State) (ThreadBody, error) {
	tree, err := thread.Assemble(a.views, &s, sk.Anchor, sk.URIs, thread.Options{
		Above:                   sk.Above,
		Below:                   sk.Below,
		BranchingFactor:         p.BranchingFactor,
		Sort:                    p.Sort,
		PrioritizeFollowedUsers: p.PrioritizeFollowedUsers,
	})
	if errors.Is(err, thread.ErrAnchorNotFound) {
		return ThreadBody{}, xrpcerr.NotFound("NotFound", "Post not found: %s", sk.Anchor)
	}
	if err != nil {
		return ThreadBody{}, err
	}
	body := ThreadBody{Thread: thread.Flatten(tree), HasOtherReplies: thread.HasOtherReplies(tree)}
	if root := a.views.Post(&s, tree.Root); root != nil {
		body.Threadgate = root.Threadgate
	}
	return body, nil
}
