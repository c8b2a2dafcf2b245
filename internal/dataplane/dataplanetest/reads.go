package dataplanetest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
)

func (s *Store) GetActors(ctx context.Context, dids []string) ([]dataplane.Actor, error) {
	if err := s.enter(ctx, "GetActors"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dataplane.Actor, len(dids))
	for i, did := range dids {
		if a, ok := s.actors[did]; ok {
			out[i] = *a
		} else {
			out[i] = dataplane.Actor{DID: did}
		}
	}
	return out, nil
}

func (s *Store) GetDidsByHandles(ctx context.Context, handles []string) ([]string, error) {
	if err := s.enter(ctx, "GetDidsByHandles"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(handles))
	for i, h := range handles {
		out[i] = s.handles[h]
	}
	return out, nil
}

func (s *Store) GetProfileCounts(ctx context.Context, dids []string) ([]dataplane.ProfileCounts, error) {
	if err := s.enter(ctx, "GetProfileCounts"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dataplane.ProfileCounts, len(dids))
	for i, did := range dids {
		for p := range s.follows {
			if p[0] == did {
				out[i].Follows++
			}
			if p[1] == did {
				out[i].Followers++
			}
		}
		for uri := range s.records {
			if bluesky.DIDFromURI(uri) != did {
				continue
			}
			switch bluesky.CollectionFromURI(uri) {
			case bluesky.CollectionPost:
				out[i].Posts++
			case bluesky.CollectionList:
				out[i].Lists++
			case bluesky.CollectionGenerator:
				out[i].Feeds++
			}
		}
	}
	return out, nil
}

func (s *Store) GetLatestRev(ctx context.Context, did string) (string, error) {
	if err := s.enter(ctx, "GetLatestRev"); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revs[did], nil
}

func (s *Store) GetVouches(ctx context.Context, subjects []string) ([][]dataplane.Vouch, error) {
	if err := s.enter(ctx, "GetVouches"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	index := make(map[string]int, len(subjects))
	for i, sub := range subjects {
		index[sub] = i
	}
	out := make([][]dataplane.Vouch, len(subjects))
	for uri, r := range s.records {
		if bluesky.CollectionFromURI(uri) != bluesky.CollectionVouch {
			continue
		}
		var v bluesky.VouchRecord
		if err := json.Unmarshal(r.Value, &v); err != nil {
			continue
		}
		if i, ok := index[v.Subject]; ok {
			out[i] = append(out[i], dataplane.Vouch{
				URI:         uri,
				Issuer:      bluesky.DIDFromURI(uri),
				Subject:     v.Subject,
				Handle:      v.Handle,
				DisplayName: v.DisplayName,
				CreatedAt:   bluesky.ParseTime(v.CreatedAt),
			})
		}
	}
	return out, nil
}

func (s *Store) GetRecords(ctx context.Context, collection string, uris []string) ([]dataplane.Record, error) {
	if err := s.enter(ctx, "GetRecords:"+collection); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dataplane.Record, len(uris))
	for i, uri := range uris {
		if r, ok := s.records[uri]; ok && bluesky.CollectionFromURI(uri) == collection {
			out[i] = r
		} else {
			out[i] = dataplane.Record{URI: uri}
		}
	}
	return out, nil
}

func (s *Store) GetRelationships(ctx context.Context, viewer string, targets []string) ([]dataplane.Relationship, error) {
	if err := s.enter(ctx, "GetRelationships"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dataplane.Relationship, len(targets))
	for i, t := range targets {
		rel := dataplane.Relationship{
			Muted:      s.mutes[pair{viewer, t}],
			Blocking:   s.blocks[pair{viewer, t}],
			BlockedBy:  s.blocks[pair{t, viewer}],
			Following:  s.follows[pair{viewer, t}],
			FollowedBy: s.follows[pair{t, viewer}],
		}
		for p := range s.listBlocks {
			if p[0] == viewer && s.isListMember(p[1], t) {
				rel.BlockingByList = p[1]
			}
			if p[0] == t && s.isListMember(p[1], viewer) {
				rel.BlockedByList = p[1]
			}
		}
		for p := range s.listMutes {
			if p[0] == viewer && s.isListMember(p[1], t) {
				rel.MutedByList = p[1]
			}
		}
		out[i] = rel
	}
	return out, nil
}

func (s *Store) isListMember(list, actor string) bool {
	return s.listItemFor(list, actor) != ""
}

func (s *Store) listItemFor(list, actor string) string {
	for uri, r := range s.records {
		if bluesky.CollectionFromURI(uri) != bluesky.CollectionListItem {
			continue
		}
		var item bluesky.ListItemRecord
		if err := json.Unmarshal(r.Value, &item); err != nil {
			continue
		}
		if item.List == list && item.Subject == actor {
			return uri
		}
	}
	return ""
}

func (s *Store) GetBidirectionalBlocks(ctx context.Context, pairs []dataplane.ActorPair) ([]bool, error) {
	if err := s.enter(ctx, "GetBidirectionalBlocks"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bool, len(pairs))
	for i, p := range pairs {
		_, ab := s.blocks[pair{p.A, p.B}]
		_, ba := s.blocks[pair{p.B, p.A}]
		out[i] = ab || ba
		for lp := range s.listBlocks {
			if (lp[0] == p.A && s.isListMember(lp[1], p.B)) || (lp[0] == p.B && s.isListMember(lp[1], p.A)) {
				out[i] = true
			}
		}
	}
	return out, nil
}

func (s *Store) GetFollowsFollowing(ctx context.Context, viewer string, targets []string) ([][]string, error) {
	if err := s.enter(ctx, "GetFollowsFollowing"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]string, len(targets))
	for i, t := range targets {
		for p := range s.follows {
			if p[0] == viewer && p[1] != t {
				if _, ok := s.follows[pair{p[1], t}]; ok {
					out[i] = append(out[i], p[1])
				}
			}
		}
	}
	return out, nil
}

func (s *Store) GetActivitySubscriptions(ctx context.Context, viewer string, targets []string) ([]dataplane.ActivitySubscription, error) {
	if err := s.enter(ctx, "GetActivitySubscriptions"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dataplane.ActivitySubscription, len(targets))
	for i, t := range targets {
		out[i] = s.activitySubs[pair{viewer, t}]
	}
	return out, nil
}

func (s *Store) GetListViewerStates(ctx context.Context, viewer string, lists []string) ([]dataplane.ListViewerState, error) {
	if err := s.enter(ctx, "GetListViewerStates"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dataplane.ListViewerState, len(lists))
	for i, l := range lists {
		out[i] = dataplane.ListViewerState{Muted: s.listMutes[pair{viewer, l}], BlockURI: s.listBlocks[pair{viewer, l}]}
	}
	return out, nil
}

func (s *Store) GetListMemberships(ctx context.Context, actor string, lists []string) ([]string, error) {
	if err := s.enter(ctx, "GetListMemberships"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(lists))
	for i, l := range lists {
		out[i] = s.listItemFor(l, actor)
	}
	return out, nil
}

func (s *Store) GetListCounts(ctx context.Context, lists []string) ([]dataplane.ListCounts, error) {
	if err := s.enter(ctx, "GetListCounts"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dataplane.ListCounts, len(lists))
	for i, l := range lists {
		out[i].Items = int64(len(s.listItemURIs(l)))
	}
	return out, nil
}

func (s *Store) listItemURIs(list string) []string {
	var uris []string
	for uri, r := range s.records {
		if bluesky.CollectionFromURI(uri) != bluesky.CollectionListItem {
			continue
		}
		var item bluesky.ListItemRecord
		if err := json.Unmarshal(r.Value, &item); err == nil && item.List == list {
			uris = append(uris, uri)
		}
	}
	return uris
}

func (s *Store) GetListItems(ctx context.Context, list, cursor string, limit int) (dataplane.Page, error) {
	if err := s.enter(ctx, "GetListItems"); err != nil {
		return dataplane.Page{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	items, next := paginate(s.listItemURIs(list), s.recordKey, cursor, limit)
	return dataplane.Page{URIs: items, Cursor: next}, nil
}

func (s *Store) recordKey(uri string) keyed {
	return keyed{sortAt: s.records[uri].SortedAt, key: uri}
}

func (s *Store) GetPostCounts(ctx context.Context, uris []string) ([]dataplane.PostCounts, error) {
	if err := s.enter(ctx, "GetPostCounts"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	index := make(map[string]int, len(uris))
	for i, uri := range uris {
		index[uri] = i
	}
	out := make([]dataplane.PostCounts, len(uris))
	for uri, r := range s.records {
		switch bluesky.CollectionFromURI(uri) {
		case bluesky.CollectionLike, bluesky.CollectionRepost:
			var sub struct {
				Subject bluesky.StrongRef `json:"subject"`
			}
			if err := json.Unmarshal(r.Value, &sub); err != nil {
				continue
			}
			if i, ok := index[sub.Subject.URI]; ok {
				if bluesky.CollectionFromURI(uri) == bluesky.CollectionLike {
					out[i].Likes++
				} else {
					out[i].Reposts++
				}
			}
		case bluesky.CollectionPost:
			p := s.post(uri)
			if p == nil {
				continue
			}
			if i, ok := index[p.ParentURI()]; ok {
				out[i].Replies++
			}
			if q := p.Embed.QuotedRef(); q != nil {
				if i, ok := index[q.URI]; ok {
					out[i].Quotes++
				}
			}
		}
	}
	return out, nil
}

func (s *Store) GetPostViewerStates(ctx context.Context, viewer string, uris []string) ([]dataplane.PostViewerState, error) {
	if err := s.enter(ctx, "GetPostViewerStates"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dataplane.PostViewerState, len(uris))
	for i, uri := range uris {
		out[i].Like = s.interaction(viewer, bluesky.CollectionLike, uri)
		out[i].Repost = s.interaction(viewer, bluesky.CollectionRepost, uri)
		for _, b := range s.bookmarks[viewer] {
			if b.Subject == uri {
				out[i].Bookmarked = true
			}
		}
		root := uri
		if p := s.post(uri); p.RootURI() != "" {
			root = p.RootURI()
		}
		out[i].ThreadMuted = s.threadMutes[pair{viewer, root}]
	}
	return out, nil
}

func (s *Store) interaction(actor, collection, subject string) string {
	for uri, r := range s.records {
		if bluesky.DIDFromURI(uri) != actor || bluesky.CollectionFromURI(uri) != collection {
			continue
		}
		var sub struct {
			Subject bluesky.StrongRef `json:"subject"`
		}
		if err := json.Unmarshal(r.Value, &sub); err == nil && sub.Subject.URI == subject {
			return uri
		}
	}
	return ""
}

func (s *Store) GetLikesByActorAndSubjects(ctx context.Context, pairs []dataplane.ActorSubject) ([]string, error) {
	if err := s.enter(ctx, "GetLikesByActorAndSubjects"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = s.interaction(p.Actor, bluesky.CollectionLike, p.Subject)
	}
	return out, nil
}

func (s *Store) GetFeedGenCounts(ctx context.Context, uris []string) ([]dataplane.FeedGenCounts, error) {
	if err := s.enter(ctx, "GetFeedGenCounts"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dataplane.FeedGenCounts, len(uris))
	for i, uri := range uris {
		for likeURI := range s.records {
			if bluesky.CollectionFromURI(likeURI) == bluesky.CollectionLike && s.likeSubject(likeURI) == uri {
				out[i].Likes++
			}
		}
	}
	return out, nil
}

func (s *Store) likeSubject(uri string) string {
	var like bluesky.LikeRecord
	if err := json.Unmarshal(s.records[uri].Value, &like); err != nil {
		return ""
	}
	return like.Subject.URI
}

func (s *Store) GetThread(ctx context.Context, anchor string, above, below int) (dataplane.Thread, error) {
	if err := s.enter(ctx, "GetThread"); err != nil {
		return dataplane.Thread{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var uris []string
	cur := s.post(anchor)
	for hops := 0; hops < above && cur != nil && cur.ParentURI() != ""; hops++ {
		parent := cur.ParentURI()
		uris = append(uris, parent)
		cur = s.post(parent)
	}

	children := make(map[string][]string)
	for uri := range s.records {
		if p := s.post(uri); p.ParentURI() != "" {
			children[p.ParentURI()] = append(children[p.ParentURI()], uri)
		}
	}
	frontier := []string{anchor}
	for depth := 0; depth < below && len(frontier) > 0; depth++ {
		var next []string
		for _, uri := range frontier {
			next = append(next, children[uri]...)
		}
		uris = append(uris, next...)
		frontier = next
	}
	return dataplane.Thread{Anchor: anchor, URIs: uris}, nil
}

type feedRow struct {
	item   dataplane.FeedItem
	sortAt time.Time
	key    string
}

func feedRowKey(r feedRow) keyed { return keyed{sortAt: r.sortAt, key: r.key} }

func (s *Store) feedRowsFor(actor string) []feedRow {
	var rows []feedRow
	for uri, r := range s.records {
		if bluesky.DIDFromURI(uri) != actor {
			continue
		}
		switch bluesky.CollectionFromURI(uri) {
		case bluesky.CollectionPost:
			rows = append(rows, feedRow{item: dataplane.FeedItem{Post: uri}, sortAt: r.SortedAt, key: uri})
		case bluesky.CollectionRepost:
			var rp bluesky.RepostRecord
			if err := json.Unmarshal(r.Value, &rp); err == nil {
				rows = append(rows, feedRow{item: dataplane.FeedItem{Post: rp.Subject.URI, Repost: uri}, sortAt: r.SortedAt, key: uri})
			}
		}
	}
	return rows
}

func (s *Store) GetAuthorFeed(ctx context.Context, actor, filter, cursor string, limit int) (dataplane.FeedPage, error) {
	if err := s.enter(ctx, "GetAuthorFeed"); err != nil {
		return dataplane.FeedPage{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []feedRow
	for _, row := range s.feedRowsFor(actor) {
		p := s.post(row.item.Post)
		if row.item.Repost == "" && p != nil && p.Reply != nil {
			switch filter {
			case dataplane.FilterPostsNoReplies, dataplane.FilterPostsWithMedia:
				continue
			case dataplane.FilterPostsAndAuthorThread:
				if bluesky.DIDFromURI(p.RootURI()) != actor {
					continue
				}
			}
		}
		if filter == dataplane.FilterPostsWithMedia && (row.item.Repost != "" || p == nil || !p.Embed.HasMedia()) {
			continue
		}
		rows = append(rows, row)
	}
	page, next := paginate(rows, feedRowKey, cursor, limit)
	out := dataplane.FeedPage{Cursor: next}
	for _, row := range page {
		out.Items = append(out.Items, row.item)
	}
	return out, nil
}

func (s *Store) GetTimeline(ctx context.Context, viewer, cursor string, limit int) (dataplane.FeedPage, error) {
	if err := s.enter(ctx, "GetTimeline"); err != nil {
		return dataplane.FeedPage{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.feedRowsFor(viewer)
	for p := range s.follows {
		if p[0] == viewer {
			rows = append(rows, s.feedRowsFor(p[1])...)
		}
	}
	page, next := paginate(rows, feedRowKey, cursor, limit)
	out := dataplane.FeedPage{Cursor: next}
	for _, row := range page {
		out.Items = append(out.Items, row.item)
	}
	return out, nil
}

func (s *Store) GetFeedItems(ctx context.Context, feed, cursor string, limit int) (dataplane.Page, error) {
	if err := s.enter(ctx, "GetFeedItems"); err != nil {
		return dataplane.Page{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	uris := append([]string(nil), s.feedItems[feed]...)
	page, next := paginate(uris, s.recordKey, cursor, limit)
	return dataplane.Page{URIs: page, Cursor: next}, nil
}

func (s *Store) interactionsBySubject(collection, subject string) []string {
	var uris []string
	for uri, r := range s.records {
		if bluesky.CollectionFromURI(uri) != collection {
			continue
		}
		var sub struct {
			Subject bluesky.StrongRef `json:"subject"`
		}
		if err := json.Unmarshal(r.Value, &sub); err == nil && sub.Subject.URI == subject {
			uris = append(uris, uri)
		}
	}
	return uris
}

func (s *Store) GetLikesBySubject(ctx context.Context, subject, cursor string, limit int) (dataplane.Page, error) {
	if err := s.enter(ctx, "GetLikesBySubject"); err != nil {
		return dataplane.Page{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, next := paginate(s.interactionsBySubject(bluesky.CollectionLike, subject), s.recordKey, cursor, limit)
	return dataplane.Page{URIs: page, Cursor: next}, nil
}

func (s *Store) GetRepostsBySubject(ctx context.Context, subject, cursor string, limit int) (dataplane.Page, error) {
	if err := s.enter(ctx, "GetRepostsBySubject"); err != nil {
		return dataplane.Page{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, next := paginate(s.interactionsBySubject(bluesky.CollectionRepost, subject), s.recordKey, cursor, limit)
	return dataplane.Page{URIs: page, Cursor: next}, nil
}

func (s *Store) GetBookmarks(ctx context.Context, actor, cursor string, limit int) (dataplane.BookmarkPage, error) {
	if err := s.enter(ctx, "GetBookmarks"); err != nil {
		return dataplane.BookmarkPage{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := append([]dataplane.Bookmark(nil), s.bookmarks[actor]...)
	page, next := paginate(items, func(b dataplane.Bookmark) keyed {
		return keyed{sortAt: b.CreatedAt, key: b.Subject}
	}, cursor, limit)
	return dataplane.BookmarkPage{Items: page, Cursor: next}, nil
}

func (s *Store) GetLabels(ctx context.Context, subjects, issuers []string) ([]dataplane.Label, error) {
	if err := s.enter(ctx, "GetLabels"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(issuers) == 0 {
		return nil, nil
	}
	subjectSet := toSet(subjects)
	issuerSet := toSet(issuers)
	var out []dataplane.Label
	for _, l := range s.labels {
		if _, ok := subjectSet[l.URI]; !ok {
			continue
		}
		if _, ok := issuerSet[l.Src]; !ok {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *Store) GetNotifications(ctx context.Context, actor, cursor string, limit int) (dataplane.NotificationPage, error) {
	if err := s.enter(ctx, "GetNotifications"); err != nil {
		return dataplane.NotificationPage{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := append([]dataplane.Notification(nil), s.notifications[actor]...)
	page, next := paginate(items, func(n dataplane.Notification) keyed {
		return keyed{sortAt: n.SortAt, key: n.URI}
	}, cursor, limit)
	return dataplane.NotificationPage{Items: page, Cursor: next}, nil
}

func toSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		set[v] = struct{}{}
	}
	return set
}
