package api

import (
	"context"
	"fmt"
	"net/url"
	"slices"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/hydration"
	"github.com/blackmichael/bluesky-appview/internal/pagination"
	"github.com/blackmichael/bluesky-appview/internal/pipeline"
	"github.com/blackmichael/bluesky-appview/internal/views"
)

type subjectParams struct {
	Common
	URI    string
	CID    string
	Limit  int
	Cursor string
}

type pageSkeleton struct {
	URIs   []string
	Cursor string
}

// LikesBody is the getLikes response.
type LikesBody struct {
	URI    string            `json:"uri"`
	CID    string            `json:"cid,omitempty"`
	Likes  []*views.LikeView `json:"likes"`
	Cursor string            `json:"cursor,omitempty"`
}

// RepostedByBody is the getRepostedBy response.
type RepostedByBody struct {
	URI        string               `json:"uri"`
	CID        string               `json:"cid,omitempty"`
	RepostedBy []*views.ProfileView `json:"repostedBy"`
	Cursor     string               `json:"cursor,omitempty"`
}

func parseSubjectPage(q url.Values, hctx hydration.Context) (subjectParams, error) {
	uri, err := required(q, "uri")
	if err != nil {
		return subjectParams{}, err
	}
	limit, err := parseLimit(q, pagination.DefaultLimit, pagination.MaxLimit)
	if err != nil {
		return subjectParams{}, err
	}
	return subjectParams{Common: Common{hctx}, URI: uri, CID: q.Get("cid"), Limit: limit, Cursor: q.Get("cursor")}, nil
}

func (a *API) getLikes() *pipeline.Pipeline[subjectParams, pageSkeleton, hydration.State, LikesBody] {
	return newPipeline("app.bsky.feed.getLikes",
		func(ctx context.Context, p subjectParams) (pageSkeleton, error) {
			if pagination.Invalid(p.Cursor) {
				return pageSkeleton{}, nil
			}
			page, err := a.dp.GetLikesBySubject(ctx, p.URI, p.Cursor, p.Limit)
			if err != nil {
				return pageSkeleton{}, fmt.Errorf("get likes by subject: %w", err)
			}
			return pageSkeleton{URIs: page.URIs, Cursor: page.Cursor}, nil
		},
		func(ctx context.Context, p subjectParams, sk pageSkeleton) (hydration.State, error) {
			return a.hydrator.HydrateLikes(ctx, sk.URIs, p.Ctx)
		},
		dropBlockedCreators,
		func(_ context.Context, p subjectParams, sk pageSkeleton, s hydration.State) (LikesBody, error) {
			out := LikesBody{URI: p.URI, CID: p.CID, Likes: make([]*views.LikeView, 0, len(sk.URIs)), Cursor: sk.Cursor}
			for _, uri := range sk.URIs {
				if like := a.views.Like(&s, uri); like != nil {
					out.Likes = append(out.Likes, like)
				}
			}
			return out, nil
		},
	)
}

func (a *API) getRepostedBy() *pipeline.Pipeline[subjectParams, pageSkeleton, hydration.State, RepostedByBody] {
	return newPipeline("app.bsky.feed.getRepostedBy",
		func(ctx context.Context, p subjectParams) (pageSkeleton, error) {
			if pagination.Invalid(p.Cursor) {
				return pageSkeleton{}, nil
			}
			page, err := a.dp.GetRepostsBySubject(ctx, p.URI, p.Cursor, p.Limit)
			if err != nil {
				return pageSkeleton{}, fmt.Errorf("get reposts by subject: %w", err)
			}
			return pageSkeleton{URIs: page.URIs, Cursor: page.Cursor}, nil
		},
		func(ctx context.Context, p subjectParams, sk pageSkeleton) (hydration.State, error) {
			return a.hydrator.HydrateReposts(ctx, sk.URIs, p.Ctx)
		},
		dropBlockedCreators,
		func(_ context.Context, p subjectParams, sk pageSkeleton, s hydration.State) (RepostedByBody, error) {
			out := RepostedByBody{URI: p.URI, CID: p.CID, RepostedBy: make([]*views.ProfileView, 0, len(sk.URIs)), Cursor: sk.Cursor}
			for _, uri := range sk.URIs {
				if _, ok := s.Reposts.Get(uri); !ok {
					continue
				}
				if profile := a.views.Profile(&s, bluesky.DIDFromURI(uri)); profile != nil {
					out.RepostedBy = append(out.RepostedBy, profile)
				}
			}
			return out, nil
		},
	)
}

// dropBlockedCreators removes records whose creator has a block with the
// viewer in either direction.
func dropBlockedCreators(_ context.Context, _ subjectParams, sk pageSkeleton, s hydration.State) pageSkeleton {
	sk.URIs = slices.DeleteFunc(slices.Clone(sk.URIs), func(uri string) bool {
		return views.ViewerBlockExists(&s, bluesky.DIDFromURI(uri))
	})
	return sk
}
