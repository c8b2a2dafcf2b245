package views

import (
	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
	"github.com/blackmichael/bluesky-appview/internal/hydration"
)

// maxEmbedDepth is the deepest quote layer rendered with its own embeds.
// Posts hydrate two quote layers, so the second layer renders bare.
const maxEmbedDepth = 2

// Post renders uri, or nil if the post or its author is not visible.
func (v *Views) Post(s *hydration.State, uri string) *PostView {
	p, ok := s.Posts.Get(uri)
	if !ok {
		return nil
	}
	did := bluesky.DIDFromURI(uri)
	author := v.ProfileBasic(s, did)
	if author == nil {
		return nil
	}
	agg, _ := s.PostAggs.Get(uri)
	out := &PostView{
		URI:         uri,
		CID:         p.CID,
		Author:      author,
		Record:      p.Record,
		ReplyCount:  agg.Replies,
		RepostCount: agg.Reposts,
		LikeCount:   agg.Likes,
		QuoteCount:  agg.Quotes,
		IndexedAt:   formatTime(p.IndexedAt),
		Viewer:      v.postViewer(s, uri, p),
		Labels:      v.labels(s, uri),
		Threadgate:  v.threadgate(s, uri, p),
	}
	if p.Record.Embed != nil {
		out.Embed = v.embed(s, uri, p.Record.Embed, 0)
	}
	return out
}

func (v *Views) postViewer(s *hydration.State, uri string, p hydration.Post) *PostViewerState {
	if s.Ctx.Viewer == "" {
		return nil
	}
	pv, _ := s.PostViewers.Get(uri)
	root := p.Record.RootURI()
	if root == "" {
		root = uri
	}
	out := &PostViewerState{
		Like:              pv.Like,
		Repost:            pv.Repost,
		Bookmarked:        pv.Bookmarked,
		ThreadMuted:       pv.ThreadMuted,
		ReplyDisabled:     ReplyDisabled(s, root),
		EmbeddingDisabled: EmbeddingDisabled(s, uri),
	}
	if a, ok := s.Actors.Get(bluesky.DIDFromURI(uri)); ok && a.Profile != nil && a.Profile.PinnedPost != nil {
		out.Pinned = a.Profile.PinnedPost.URI == uri
	}
	return out
}

// threadgate is only rendered on thread roots.
func (v *Views) threadgate(s *hydration.State, uri string, p hydration.Post) *ThreadgateView {
	if p.Record.RootURI() != "" {
		return nil
	}
	gateURI := bluesky.ThreadgateURIForPost(uri)
	gate, ok := s.Threadgates.Get(gateURI)
	if !ok {
		return nil
	}
	out := &ThreadgateView{URI: gateURI, CID: gate.CID, Record: gate.Record, Lists: []*ListViewBasic{}}
	for _, list := range gate.Record.ListURIs() {
		if lv := v.ListBasic(s, list); lv != nil {
			out.Lists = append(out.Lists, lv)
		}
	}
	return out
}

// embed renders the embed of the post at uri, which sits at quote layer
// depth.
func (v *Views) embed(s *hydration.State, uri string, e *bluesky.Embed, depth int) any {
	did := bluesky.DIDFromURI(uri)
	switch e.Type {
	case bluesky.EmbedImages:
		return v.images(did, e)
	case bluesky.EmbedExternal:
		return v.external(did, e)
	case bluesky.EmbedVideo:
		return v.video(did, e)
	case bluesky.EmbedRecord:
		ref := e.QuotedRef()
		if ref == nil {
			return nil
		}
		return RecordView{Type: TypeRecordView, Record: v.embeddedRecord(s, uri, ref.URI, depth+1)}
	case bluesky.EmbedRecordWithMedia:
		ref := e.QuotedRef()
		if ref == nil || e.Media == nil {
			return nil
		}
		return RecordWithMediaView{
			Type:   TypeRecordWithMediaView,
			Record: RecordView{Type: TypeRecordView, Record: v.embeddedRecord(s, uri, ref.URI, depth+1)},
			Media:  v.embed(s, uri, e.Media, depth),
		}
	}
	return nil
}

func (v *Views) images(did string, e *bluesky.Embed) ImagesView {
	out := ImagesView{Type: TypeImagesView, Images: make([]ViewImage, 0, len(e.Images))}
	for _, img := range e.Images {
		out.Images = append(out.Images, ViewImage{
			Thumb:    v.imageURL(PresetFeedThumbnail, did, img.Image),
			Fullsize: v.imageURL(PresetFeedFullsize, did, img.Image),
			Alt:      img.Alt,
		})
	}
	return out
}

func (v *Views) external(did string, e *bluesky.Embed) any {
	if e.External == nil {
		return nil
	}
	return ExternalView{Type: TypeExternalView, External: ViewExternalLink{
		URI:         e.External.URI,
		Title:       e.External.Title,
		Description: e.External.Description,
		Thumb:       v.imageURL(PresetFeedThumbnail, did, e.External.Thumb),
	}}
}

func (v *Views) video(did string, e *bluesky.Embed) any {
	if e.Video == nil || e.Video.Ref.Link == "" {
		return nil
	}
	cid := e.Video.Ref.Link
	return VideoView{
		Type:      TypeVideoView,
		CID:       cid,
		Playlist:  v.videoPlaylist(did, cid),
		Thumbnail: v.videoThumbnail(did, cid),
		Alt:       e.Alt,
	}
}

// embeddedRecord renders the record quoted by quoting.
func (v *Views) embeddedRecord(s *hydration.State, quoting, quoted string, depth int) any {
	switch bluesky.CollectionFromURI(quoted) {
	case bluesky.CollectionPost:
		return v.quotedPost(s, quoting, quoted, depth)
	case bluesky.CollectionGenerator:
		if gen := v.FeedGenerator(s, quoted); gen != nil {
			gen.Type = TypeGeneratorView
			return gen
		}
	case bluesky.CollectionList:
		if list := v.List(s, quoted); list != nil {
			list.Type = TypeListView
			return list
		}
	}
	return ViewNotFound{Type: TypeViewNotFound, URI: quoted, NotFound: true}
}

func (v *Views) quotedPost(s *hydration.State, quoting, quoted string, depth int) any {
	p, ok := s.Posts.Get(quoted)
	author := v.ProfileBasic(s, bluesky.DIDFromURI(quoted))
	if !ok || author == nil {
		return ViewNotFound{Type: TypeViewNotFound, URI: quoted, NotFound: true}
	}
	if Detached(s, quoting, quoted) {
		return ViewDetached{Type: TypeViewDetached, URI: quoted, Detached: true}
	}
	if pb, _ := s.PostBlocks.Get(quoting); pb.Embed || ViewerBlockExists(s, author.DID) {
		return ViewBlocked{Type: TypeViewBlocked, URI: quoted, Blocked: true, Author: v.blockedAuthor(s, author.DID)}
	}
	agg, _ := s.PostAggs.Get(quoted)
	out := ViewRecord{
		Type:        TypeViewRecord,
		URI:         quoted,
		CID:         p.CID,
		Author:      author,
		Value:       p.Record,
		Labels:      v.labels(s, quoted),
		ReplyCount:  agg.Replies,
		RepostCount: agg.Reposts,
		LikeCount:   agg.Likes,
		QuoteCount:  agg.Quotes,
		IndexedAt:   formatTime(p.IndexedAt),
	}
	if depth < maxEmbedDepth && p.Record.Embed != nil {
		if e := v.embed(s, quoted, p.Record.Embed, depth); e != nil {
			out.Embeds = []any{e}
		}
	}
	return out
}

func (v *Views) blockedAuthor(s *hydration.State, did string) BlockedAuthor {
	return BlockedAuthor{DID: did, Viewer: v.profileViewer(s, did)}
}

// NotFoundPost is the placeholder for a post that does not resolve.
func (v *Views) NotFoundPost(uri string) NotFoundPost {
	return NotFoundPost{Type: TypeNotFoundPost, URI: uri, NotFound: true}
}

// BlockedPost is the placeholder for a post hidden by a block.
func (v *Views) BlockedPost(s *hydration.State, uri string) BlockedPost {
	did := bluesky.DIDFromURI(uri)
	return BlockedPost{Type: TypeBlockedPost, URI: uri, Blocked: true, Author: v.blockedAuthor(s, did)}
}

// MaybePost renders uri as a post view, or as a not-found or blocked
// placeholder.
func (v *Views) MaybePost(s *hydration.State, uri string) any {
	if ViewerBlockExists(s, bluesky.DIDFromURI(uri)) {
		return v.BlockedPost(s, uri)
	}
	if pv := v.Post(s, uri); pv != nil {
		pv.Type = TypePostView
		return pv
	}
	return v.NotFoundPost(uri)
}

// FeedViewPost renders one feed entry, or nil if its post is not visible or
// the repost behind it no longer resolves.
func (v *Views) FeedViewPost(s *hydration.State, item dataplane.FeedItem) *FeedViewPost {
	post := v.Post(s, item.Post)
	if post == nil {
		return nil
	}
	out := &FeedViewPost{Post: post}
	if item.Repost != "" {
		repost, ok := s.Reposts.Get(item.Repost)
		if !ok {
			return nil
		}
		by := v.ProfileBasic(s, bluesky.DIDFromURI(item.Repost))
		if by == nil {
			return nil
		}
		out.Reason = ReasonRepost{
			Type:      TypeReasonRepost,
			By:        by,
			URI:       item.Repost,
			CID:       repost.CID,
			IndexedAt: formatTime(repost.SortedAt),
		}
	} else if item.AuthorPinned {
		out.Reason = ReasonPin{Type: TypeReasonPin}
	}
	if post.Record.Reply != nil {
		out.Reply = v.replyRef(s, post.Record)
	}
	return out
}

func (v *Views) replyRef(s *hydration.State, rec *bluesky.PostRecord) *ReplyView {
	parentURI := rec.ParentURI()
	out := &ReplyView{
		Root:   v.MaybePost(s, rec.RootURI()),
		Parent: v.MaybePost(s, parentURI),
	}
	if parent, ok := s.Posts.Get(parentURI); ok {
		if gp := bluesky.DIDFromURI(parent.Record.ParentURI()); gp != "" && !ViewerBlockExists(s, gp) {
			out.GrandparentAuthor = v.ProfileBasic(s, gp)
		}
	}
	return out
}
