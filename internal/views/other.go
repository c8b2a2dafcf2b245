package views

import (
	"time"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
	"github.com/blackmichael/bluesky-appview/internal/hydration"
)

// ListBasic renders the list at uri, or nil if it does not resolve.
func (v *Views) ListBasic(s *hydration.State, uri string) *ListViewBasic {
	l, ok := s.Lists.Get(uri)
	if !ok {
		return nil
	}
	agg, _ := s.ListAggs.Get(uri)
	out := &ListViewBasic{
		URI:           uri,
		CID:           l.CID,
		Name:          l.Record.Name,
		Purpose:       l.Record.Purpose,
		Avatar:        v.imageURL(PresetAvatar, bluesky.DIDFromURI(uri), l.Record.Avatar),
		ListItemCount: agg.Items,
		Labels:        v.labels(s, uri),
		IndexedAt:     formatTime(l.IndexedAt),
	}
	if s.Ctx.Viewer != "" {
		if lv, ok := s.ListViewers.Get(uri); ok {
			out.Viewer = &ListViewerState{Muted: lv.Muted, Blocked: lv.BlockURI}
		}
	}
	return out
}

// List renders the list at uri with its creator, or nil if either is not
// visible.
func (v *Views) List(s *hydration.State, uri string) *ListView {
	basic := v.ListBasic(s, uri)
	if basic == nil {
		return nil
	}
	creator := v.Profile(s, bluesky.DIDFromURI(uri))
	if creator == nil {
		return nil
	}
	l, _ := s.Lists.Get(uri)
	return &ListView{ListViewBasic: *basic, Creator: creator, Description: l.Record.Description}
}

// ListItem renders a list membership, or nil if the member is not visible.
func (v *Views) ListItem(s *hydration.State, uri string) *ListItemView {
	item, ok := s.ListItems.Get(uri)
	if !ok {
		return nil
	}
	subject := v.Profile(s, item.Record.Subject)
	if subject == nil {
		return nil
	}
	return &ListItemView{URI: uri, Subject: subject}
}

// FeedGenerator renders the feed generator at uri, or nil if it or its
// creator is not visible.
func (v *Views) FeedGenerator(s *hydration.State, uri string) *GeneratorView {
	gen, ok := s.FeedGens.Get(uri)
	if !ok {
		return nil
	}
	creatorDID := bluesky.DIDFromURI(uri)
	creator := v.Profile(s, creatorDID)
	if creator == nil {
		return nil
	}
	agg, _ := s.FeedGenAggs.Get(uri)
	out := &GeneratorView{
		URI:         uri,
		CID:         gen.CID,
		DID:         gen.Record.DID,
		Creator:     creator,
		DisplayName: gen.Record.DisplayName,
		Description: gen.Record.Description,
		Avatar:      v.imageURL(PresetAvatar, creatorDID, gen.Record.Avatar),
		LikeCount:   agg.Likes,
		Labels:      v.labels(s, uri),
		IndexedAt:   formatTime(gen.IndexedAt),
	}
	if s.Ctx.Viewer != "" {
		if fv, ok := s.FeedGenViewers.Get(uri); ok {
			out.Viewer = &GeneratorViewerView{Like: fv.Like}
		}
	}
	return out
}

// Like renders a like with its author, or nil if either is not visible.
func (v *Views) Like(s *hydration.State, uri string) *LikeView {
	like, ok := s.Likes.Get(uri)
	if !ok {
		return nil
	}
	actor := v.Profile(s, bluesky.DIDFromURI(uri))
	if actor == nil {
		return nil
	}
	createdAt := bluesky.ParseTime(like.Record.CreatedAt)
	if createdAt.IsZero() {
		createdAt = like.IndexedAt
	}
	return &LikeView{Actor: actor, CreatedAt: formatTime(createdAt), IndexedAt: formatTime(like.IndexedAt)}
}

// Notification renders n, or nil if its record or author is not visible.
// Notifications sorted at or before seenAt are read.
func (v *Views) Notification(s *hydration.State, n dataplane.Notification, seenAt time.Time) *NotificationView {
	var record any
	var cid string
	switch bluesky.CollectionFromURI(n.URI) {
	case bluesky.CollectionPost:
		if p, ok := s.Posts.Get(n.URI); ok {
			record, cid = p.Record, p.CID
		}
	case bluesky.CollectionLike:
		if l, ok := s.Likes.Get(n.URI); ok {
			record, cid = l.Record, l.CID
		}
	case bluesky.CollectionRepost:
		if r, ok := s.Reposts.Get(n.URI); ok {
			record, cid = r.Record, r.CID
		}
	case bluesky.CollectionFollow:
		if f, ok := s.Follows.Get(n.URI); ok {
			record, cid = f.Record, f.CID
		}
	}
	if record == nil {
		return nil
	}
	author := v.Profile(s, n.Author)
	if author == nil {
		return nil
	}
	return &NotificationView{
		URI:           n.URI,
		CID:           cid,
		Author:        author,
		Reason:        n.Reason,
		ReasonSubject: n.ReasonSubject,
		Record:        record,
		IsRead:        !seenAt.IsZero() && !n.SortAt.After(seenAt),
		IndexedAt:     formatTime(n.SortAt),
		Labels:        v.labels(s, n.URI),
	}
}

// Bookmark renders a saved post. The item falls back to a placeholder when
// the post is not visible.
func (v *Views) Bookmark(s *hydration.State, b dataplane.Bookmark) BookmarkView {
	ref := bluesky.StrongRef{URI: b.Subject}
	if p, ok := s.Posts.Get(b.Subject); ok {
		ref.CID = p.CID
	}
	return BookmarkView{Subject: ref, CreatedAt: formatTime(b.CreatedAt), Item: v.MaybePost(s, b.Subject)}
}
