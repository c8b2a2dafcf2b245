package api

import (
	"context"
	"fmt"
	"net/url"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/blackmichael/bluesky-appview/internal/hydration"
	"github.com/blackmichael/bluesky-appview/internal/pagination"
	"github.com/blackmichael/bluesky-appview/internal/pipeline"
	"github.com/blackmichael/bluesky-appview/internal/views"
	"github.com/blackmichael/bluesky-appview/internal/xrpcerr"
)

type listParams struct {
	Common
	List   string
	Limit  int
	Cursor string
}

type listSkeleton struct {
	List   string
	Items  []string
	Cursor string
}

// ListBody is the getList response.
type ListBody struct {
	List   *views.ListView       `json:"list"`
	Items  []*views.ListItemView `json:"items"`
	Cursor string                `json:"cursor,omitempty"`
}

func parseGetList(q url.Values, hctx hydration.Context) (listParams, error) {
	list, err := required(q, "list")
	if err != nil {
		return listParams{}, err
	}
	limit, err := parseLimit(q, pagination.DefaultLimit, pagination.MaxLimit)
	if err != nil {
		return listParams{}, err
	}
	return listParams{Common: Common{hctx}, List: list, Limit: limit, Cursor: q.Get("cursor")}, nil
}

func (a *API) getList() *pipeline.Pipeline[listParams, listSkeleton, hydration.State, ListBody] {
	return newPipeline("app.bsky.graph.getList", a.listSkeleton, a.hydrateList, listRules, a.presentList)
}

func (a *API) listSkeleton(ctx context.Context, p listParams) (listSkeleton, error) {
	if pagination.Invalid(p.Cursor) {
		return listSkeleton{List: p.List}, nil
	}
	page, err := a.dp.GetListItems(ctx, p.List, p.Cursor, p.Limit)
	if err != nil {
		return listSkeleton{}, fmt.Errorf("get list items: %w", err)
	}
	return listSkeleton{List: p.List, Items: page.URIs, Cursor: page.Cursor}, nil
}

func (a *API) hydrateList(ctx context.Context, p listParams, sk listSkeleton) (hydration.State, error) {
	var list, items hydration.State
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		list, err = a.hydrator.HydrateLists(gctx, []string{sk.List}, p.Ctx)
		return err
	})
	g.Go(func() error {
		var err error
		items, err = a.hydrator.HydrateListItems(gctx, sk.Items, p.Ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return hydration.State{}, err
	}
	return hydration.MergeStates(list, items), nil
}

// listRules drops members the viewer has a block with.
func listRules(_ context.Context, _ listParams, sk listSkeleton, s hydration.State) listSkeleton {
	sk.Items = slices.DeleteFunc(slices.Clone(sk.Items), func(uri string) bool {
		it, ok := s.ListItems.Get(uri)
		return ok && views.ViewerBlockExists(&s, it.Record.Subject)
	})
	return sk
}

func (a *API) presentList(_ context.Context, _ listParams, sk listSkeleton, s hydration.State) (ListBody, error) {
	list := a.views.List(&s, sk.List)
	if list == nil {
		return ListBody{}, xrpcerr.NotFound("", "List not found")
	}
	out := ListBody{List: list, Items: make([]*views.ListItemView, 0, len(sk.Items)), Cursor: sk.Cursor}
	for _, uri := range sk.Items {
		if item := a.views.ListItem(&s, uri); item != nil {
			out.Items = append(out.Items, item)
		}
	}
	return out, nil
}
