package postgres

import (
	"context"
	"fmt"
	"slices"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
)

// GetRelationships resolves mutes, blocks and follows between the viewer and
// each target.
func (r *Repository) GetRelationships(ctx context.Context, viewer string, targets []string) ([]dataplane.Relationship, error) {
	out := make([]dataplane.Relationship, len(targets))
	if viewer == "" || len(targets) == 0 {
		return out, nil
	}
	in := inList(len(targets))
	head := func(vals ...any) []any { return args(vals, targets) }

	lookups := []struct {
		name  string
		query string
		args  []any
		set   func(rel *dataplane.Relationship, v string)
	}{
		{"mutes", `SELECT subject, subject FROM mutes WHERE viewer = ? AND subject IN (` + in + `)`,
			head(viewer), func(rel *dataplane.Relationship, _ string) { rel.Muted = true }},
		{"list mutes", `
			SELECT li.subject, li.list_uri FROM edges li
			JOIN list_mutes lm ON lm.list_uri = li.list_uri
			WHERE li.collection = ? AND lm.viewer = ? AND li.subject IN (` + in + `)`,
			head(bluesky.CollectionListItem, viewer), func(rel *dataplane.Relationship, v string) { rel.MutedByList = v }},
		{"blocking", `SELECT subject, uri FROM edges WHERE collection = ? AND creator = ? AND subject IN (` + in + `)`,
			head(bluesky.CollectionBlock, viewer), func(rel *dataplane.Relationship, v string) { rel.Blocking = v }},
		{"blocked by", `SELECT creator, uri FROM edges WHERE collection = ? AND subject = ? AND creator IN (` + in + `)`,
			head(bluesky.CollectionBlock, viewer), func(rel *dataplane.Relationship, v string) { rel.BlockedBy = v }},
		{"blocking by list", `
			SELECT li.subject, lb.subject FROM edges lb
			JOIN edges li ON li.list_uri = lb.subject AND li.collection = ?
			WHERE lb.collection = ? AND lb.creator = ? AND li.subject IN (` + in + `)`,
			head(bluesky.CollectionListItem, bluesky.CollectionListBlock, viewer), func(rel *dataplane.Relationship, v string) { rel.BlockingByList = v }},
		{"blocked by list", `
			SELECT lb.creator, lb.subject FROM edges lb
			JOIN edges li ON li.list_uri = lb.subject AND li.collection = ?
			WHERE lb.collection = ? AND li.subject = ? AND lb.creator IN (` + in + `)`,
			head(bluesky.CollectionListItem, bluesky.CollectionListBlock, viewer), func(rel *dataplane.Relationship, v string) { rel.BlockedByList = v }},
		{"following", `SELECT subject, uri FROM edges WHERE collection = ? AND creator = ? AND subject IN (` + in + `)`,
			head(bluesky.CollectionFollow, viewer), func(rel *dataplane.Relationship, v string) { rel.Following = v }},
		{"followed by", `SELECT creator, uri FROM edges WHERE collection = ? AND subject = ? AND creator IN (` + in + `)`,
			head(bluesky.CollectionFollow, viewer), func(rel *dataplane.Relationship, v string) { rel.FollowedBy = v }},
	}

	for _, l := range lookups {
		found, err := r.stringPairs(ctx, l.query, l.args...)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", l.name, err)
		}
		for i, t := range targets {
			if v, ok := found[t]; ok {
				l.set(&out[i], v)
			}
		}
	}
	return out, nil
}

// GetBidirectionalBlocks reports, per pair, whether either side blocks the
// other directly or through a list.
func (r *Repository) GetBidirectionalBlocks(ctx context.Context, pairs []dataplane.ActorPair) ([]bool, error) {
	out := make([]bool, len(pairs))
	if len(pairs) == 0 {
		return out, nil
	}
	var actors []string
	for _, p := range pairs {
		actors = append(actors, p.A, p.B)
	}
	slices.Sort(actors)
	actors = slices.Compact(actors)
	in := inList(len(actors))

	blocks, err := r.pairSet(ctx, `
		SELECT creator, subject FROM edges
		WHERE collection = ? AND creator IN (`+in+`) AND subject IN (`+in+`)`,
		args([]any{bluesky.CollectionBlock}, actors, actors)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	listBlocks, err := r.pairSet(ctx, `
		SELECT lb.creator, li.subject FROM edges lb
		JOIN edges li ON li.list_uri = lb.subject AND li.collection = ?
		WHERE lb.collection = ? AND lb.creator IN (`+in+`) AND li.subject IN (`+in+`)`,
		args([]any{bluesky.CollectionListItem, bluesky.CollectionListBlock}, actors, actors)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query list blocks: %w", err)
	}

	for i, p := range pairs {
		ab, ba := [2]string{p.A, p.B}, [2]string{p.B, p.A}
		out[i] = blocks[ab] || blocks[ba] || listBlocks[ab] || listBlocks[ba]
	}
	return out, nil
}

// GetFollowsFollowing returns, per target, the accounts the viewer follows
// that also follow the target, most recent first.
func (r *Repository) GetFollowsFollowing(ctx context.Context, viewer string, targets []string) ([][]string, error) {
	out := make([][]string, len(targets))
	if viewer == "" || len(targets) == 0 {
		return out, nil
	}
	rows, err := r.query(ctx, `
		SELECT f2.subject, f2.creator FROM edges f1
		JOIN edges f2 ON f2.creator = f1.subject AND f2.collection = ?
		WHERE f1.collection = ? AND f1.creator = ? AND f2.subject IN (`+inList(len(targets))+`)
			AND f2.creator <> f2.subject
		ORDER BY f2.sort_at DESC, f2.uri DESC`,
		args([]any{bluesky.CollectionFollow, bluesky.CollectionFollow, viewer}, targets)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query follows following: %w", err)
	}
	defer rows.Close()

	byTarget := make(map[string][]string)
	for rows.Next() {
		var target, follower string
		if err := rows.Scan(&target, &follower); err != nil {
			return nil, fmt.Errorf("scan follow: %w", err)
		}
		byTarget[target] = append(byTarget[target], follower)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, t := range targets {
		out[i] = byTarget[t]
	}
	return out, nil
}

// GetActivitySubscriptions returns the viewer's subscription to each target.
func (r *Repository) GetActivitySubscriptions(ctx context.Context, viewer string, targets []string) ([]dataplane.ActivitySubscription, error) {
	out := make([]dataplane.ActivitySubscription, len(targets))
	if viewer == "" || len(targets) == 0 {
		return out, nil
	}
	rows, err := r.query(ctx, `
		SELECT subject, post, reply FROM activity_subscriptions
		WHERE viewer = ? AND subject IN (`+inList(len(targets))+`)`,
		args([]any{viewer}, targets)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query activity subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make(map[string]dataplane.ActivitySubscription)
	for rows.Next() {
		var subject string
		var sub dataplane.ActivitySubscription
		if err := rows.Scan(&subject, &sub.Post, &sub.Reply); err != nil {
			return nil, fmt.Errorf("scan activity subscription: %w", err)
		}
		subs[subject] = sub
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, t := range targets {
		out[i] = subs[t]
	}
	return out, nil
}

// GetListViewerStates returns whether the viewer mutes or blocks each list.
func (r *Repository) GetListViewerStates(ctx context.Context, viewer string, lists []string) ([]dataplane.ListViewerState, error) {
	out := make([]dataplane.ListViewerState, len(lists))
	if viewer == "" || len(lists) == 0 {
		return out, nil
	}
	in := inList(len(lists))
	muted, err := r.stringPairs(ctx,
		`SELECT list_uri, list_uri FROM list_mutes WHERE viewer = ? AND list_uri IN (`+in+`)`,
		args([]any{viewer}, lists)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query list mutes: %w", err)
	}
	blocks, err := r.stringPairs(ctx,
		`SELECT subject, uri FROM edges WHERE collection = ? AND creator = ? AND subject IN (`+in+`)`,
		args([]any{bluesky.CollectionListBlock, viewer}, lists)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query list blocks: %w", err)
	}
	for i, l := range lists {
		_, isMuted := muted[l]
		out[i] = dataplane.ListViewerState{Muted: isMuted, BlockURI: blocks[l]}
	}
	return out, nil
}

// GetListMemberships returns the list item adding actor to each list.
func (r *Repository) GetListMemberships(ctx context.Context, actor string, lists []string) ([]string, error) {
	out := make([]string, len(lists))
	if actor == "" || len(lists) == 0 {
		return out, nil
	}
	items, err := r.stringPairs(ctx,
		`SELECT list_uri, uri FROM edges WHERE collection = ? AND subject = ? AND list_uri IN (`+inList(len(lists))+`)`,
		args([]any{bluesky.CollectionListItem, actor}, lists)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query list memberships: %w", err)
	}
	for i, l := range lists {
		out[i] = items[l]
	}
	return out, nil
}

// GetListCounts counts the members of each list.
func (r *Repository) GetListCounts(ctx context.Context, lists []string) ([]dataplane.ListCounts, error) {
	out := make([]dataplane.ListCounts, len(lists))
	if len(lists) == 0 {
		return out, nil
	}
	counts, err := r.counts(ctx, `
		SELECT list_uri, COUNT(*) FROM edges
		WHERE collection = ? AND list_uri IN (`+inList(len(lists))+`) GROUP BY list_uri`,
		args([]any{bluesky.CollectionListItem}, lists)...,
	)
	if err != nil {
		return nil, fmt.Errorf("count list items: %w", err)
	}
	for i, l := range lists {
		out[i].Items = counts[l]
	}
	return out, nil
}

// GetListItems pages through a list's item records, newest first.
func (r *Repository) GetListItems(ctx context.Context, list, cursor string, limit int) (dataplane.Page, error) {
	return r.uriPage(ctx,
		`SELECT uri, sort_at FROM edges WHERE collection = ? AND list_uri = ?`,
		[]any{bluesky.CollectionListItem, list}, "sort_at", "uri", cursor, limit,
	)
}

// pairSet runs a query selecting two text columns into a set of pairs.
func (r *Repository) pairSet(ctx context.Context, query string, qargs ...any) (map[[2]string]bool, error) {
	rows, err := r.query(ctx, query, qargs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[[2]string]bool)
	for rows.Next() {
		var p [2]string
		if err := rows.Scan(&p[0], &p[1]); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		out[p] = true
	}
	return out, rows.Err()
}
