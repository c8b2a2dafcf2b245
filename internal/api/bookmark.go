package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/blackmichael/bluesky-appview/internal/dataplane"
	"github.com/blackmichael/bluesky-appview/internal/hydration"
	"github.com/blackmichael/bluesky-appview/internal/pagination"
	"github.com/blackmichael/bluesky-appview/internal/pipeline"
	"github.com/blackmichael/bluesky-appview/internal/views"
)

type bookmarksParams struct {
	Common
	Limit  int
	Cursor string
}

type bookmarksSkeleton struct {
	Items  []dataplane.Bookmark
	Cursor string
}

// BookmarksBody is the getBookmarks response.
type BookmarksBody struct {
	Bookmarks []views.BookmarkView `json:"bookmarks"`
	Cursor    string               `json:"cursor,omitempty"`
}

func parseGetBookmarks(q url.Values, hctx hydration.Context) (bookmarksParams, error) {
	if err := requireViewer(hctx); err != nil {
		return bookmarksParams{}, err
	}
	limit, err := parseLimit(q, pagination.DefaultLimit, pagination.MaxLimit)
	if err != nil {
		return bookmarksParams{}, err
	}
	return bookmarksParams{Common: Common{hctx}, Limit: limit, Cursor: q.Get("cursor")}, nil
}

// getBookmarks lists the viewer's saved posts newest first. Posts that are
// gone or blocked stay in the list as placeholders.
func (a *API) getBookmarks() *pipeline.Pipeline[bookmarksParams, bookmarksSkeleton, hydration.State, BookmarksBody] {
	return newPipeline("app.bsky.bookmark.getBookmarks",
		func(ctx context.Context, p bookmarksParams) (bookmarksSkeleton, error) {
			if pagination.Invalid(p.Cursor) {
				return bookmarksSkeleton{}, nil
			}
			page, err := a.dp.GetBookmarks(ctx, p.Ctx.Viewer, p.Cursor, p.Limit)
			if err != nil {
				return bookmarksSkeleton{}, fmt.Errorf("get bookmarks: %w", err)
			}
			return bookmarksSkeleton{Items: page.Items, Cursor: page.Cursor}, nil
		},
		func(ctx context.Context, p bookmarksParams, sk bookmarksSkeleton) (hydration.State, error) {
			return a.hydrator.HydrateBookmarks(ctx, sk.Items, p.Ctx)
		},
		nil,
		func(_ context.Context, _ bookmarksParams, sk bookmarksSkeleton, s hydration.State) (BookmarksBody, error) {
			out := BookmarksBody{Bookmarks: make([]views.BookmarkView, len(sk.Items)), Cursor: sk.Cursor}
			for i, b := range sk.Items {
				out.Bookmarks[i] = a.views.Bookmark(&s, b)
			}
			return out, nil
		},
	)
}
