package hydration

import (
	"context"
	"fmt"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
)

// GraphHydrator fetches lists and block state.
type GraphHydrator struct {
	dp dataplane.Client
}

// GetLists hydrates list records.
func (g *GraphHydrator) GetLists(ctx context.Context, uris []string, includeTakedowns bool, known *Map[string, List]) (*Map[string, List], error) {
	return fetchMissing(ctx, uris, known, func(ctx context.Context, need []string) (*Map[string, List], error) {
		m, err := getRecords[bluesky.ListRecord](ctx, g.dp, bluesky.CollectionList, need, includeTakedowns)
		if err != nil {
			return nil, fmt.Errorf("get lists: %w", err)
		}
		return m, nil
	})
}

// GetListViewers hydrates the viewer's mute and block subscriptions.
func (g *GraphHydrator) GetListViewers(ctx context.Context, viewer string, uris []string, known *Map[string, ListViewer]) (*Map[string, ListViewer], error) {
	if viewer == "" {
		return known.Clone(), nil
	}
	return fetchMissing(ctx, uris, known, func(ctx context.Context, need []string) (*Map[string, ListViewer], error) {
		states, err := g.dp.GetListViewerStates(ctx, viewer, need)
		if err != nil {
			return nil, fmt.Errorf("get list viewer states: %w", err)
		}
		return positional(need, states), nil
	})
}

// GetListAggs hydrates list counters.
func (g *GraphHydrator) GetListAggs(ctx context.Context, uris []string, known *Map[string, ListAgg]) (*Map[string, ListAgg], error) {
	return fetchMissing(ctx, uris, known, func(ctx context.Context, need []string) (*Map[string, ListAgg], error) {
		counts, err := g.dp.GetListCounts(ctx, need)
		if err != nil {
			return nil, fmt.Errorf("get list counts: %w", err)
		}
		return positional(need, counts), nil
	})
}

// GetListItems hydrates list item records.
func (g *GraphHydrator) GetListItems(ctx context.Context, uris []string, known *Map[string, ListItem]) (*Map[string, ListItem], error) {
	return fetchMissing(ctx, uris, known, func(ctx context.Context, need []string) (*Map[string, ListItem], error) {
		m, err := getRecords[bluesky.ListItemRecord](ctx, g.dp, bluesky.CollectionListItem, need, false)
		if err != nil {
			return nil, fmt.Errorf("get list items: %w", err)
		}
		return m, nil
	})
}

// GetListMemberships hydrates whether actor belongs to each list, keyed by
// list then actor. The value is the list item URI.
func (g *GraphHydrator) GetListMemberships(ctx context.Context, actor string, lists []string) (*NestedMap[string, string, string], error) {
	out := NewNestedMap[string, string, string]()
	lists = dedupe(lists)
	if actor == "" || len(lists) == 0 {
		return out, nil
	}
	items, err := g.dp.GetListMemberships(ctx, actor, lists)
	if err != nil {
		return nil, fmt.Errorf("get list memberships: %w", err)
	}
	for i, list := range lists {
		if i < len(items) && items[i] != "" {
			out.Set(list, actor, items[i])
		} else {
			out.Inner(list).Tombstone(actor)
		}
	}
	return out, nil
}

// GetBidirectionalBlocks checks, for each source DID, whether a block exists
// in either direction with each of its targets. Self pairs are never
// blocked.
func (g *GraphHydrator) GetBidirectionalBlocks(ctx context.Context, pairs map[string][]string) (*NestedMap[string, string, bool], error) {
	out := NewNestedMap[string, string, bool]()
	var query []dataplane.ActorPair
	for src, targets := range pairs {
		for _, dst := range dedupe(targets) {
			if src == dst {
				out.Set(src, dst, false)
				continue
			}
			query = append(query, dataplane.ActorPair{A: src, B: dst})
		}
	}
	if len(query) == 0 {
		return out, nil
	}
	blocked, err := g.dp.GetBidirectionalBlocks(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get bidirectional blocks: %w", err)
	}
	for i, p := range query {
		out.Set(p.A, p.B, i < len(blocked) && blocked[i])
	}
	return out, nil
}
