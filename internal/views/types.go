package views

import (
	"github.com/blackmichael/bluesky-appview/internal/bluesky"
)

// Lexicon $type values for union members.
const (
	TypeImagesView          = "app.bsky.embed.images#view"
	TypeExternalView        = "app.bsky.embed.external#view"
	TypeVideoView           = "app.bsky.embed.video#view"
	TypeRecordView          = "app.bsky.embed.record#view"
	TypeRecordWithMediaView = "app.bsky.embed.recordWithMedia#view"

	TypeViewRecord   = "app.bsky.embed.record#viewRecord"
	TypeViewNotFound = "app.bsky.embed.record#viewNotFound"
	TypeViewBlocked  = "app.bsky.embed.record#viewBlocked"
	TypeViewDetached = "app.bsky.embed.record#viewDetached"

	TypeGeneratorView = "app.bsky.feed.defs#generatorView"
	TypeListView      = "app.bsky.graph.defs#listView"
	TypePostView      = "app.bsky.feed.defs#postView"
	TypeNotFoundPost  = "app.bsky.feed.defs#notFoundPost"
	TypeBlockedPost   = "app.bsky.feed.defs#blockedPost"
	TypeReasonRepost  = "app.bsky.feed.defs#reasonRepost"
	TypeReasonPin     = "app.bsky.feed.defs#reasonPin"

	TypeThreadItemPost              = "app.bsky.unspecced.defs#threadItemPost"
	TypeThreadItemNotFound          = "app.bsky.unspecced.defs#threadItemNotFound"
	TypeThreadItemBlocked           = "app.bsky.unspecced.defs#threadItemBlocked"
	TypeThreadItemNoUnauthenticated = "app.bsky.unspecced.defs#threadItemNoUnauthenticated"
)

// Label is the wire form of a moderation label.
type Label struct {
	Src string `json:"src"`
	URI string `json:"uri"`
	CID string `json:"cid,omitempty"`
	Val string `json:"val"`
	Neg bool   `json:"neg,omitempty"`
	Cts string `json:"cts"`
	Exp string `json:"exp,omitempty"`
}

// ProfileViewBasic is app.bsky.actor.defs#profileViewBasic.
type ProfileViewBasic struct {
	DID          string             `json:"did"`
	Handle       string             `json:"handle"`
	DisplayName  string             `json:"displayName,omitempty"`
	Avatar       string             `json:"avatar,omitempty"`
	Associated   *ProfileAssociated `json:"associated,omitempty"`
	Viewer       *ViewerState       `json:"viewer,omitempty"`
	Labels       []Label            `json:"labels"`
	CreatedAt    string             `json:"createdAt,omitempty"`
	Verification *VerificationState `json:"verification,omitempty"`
}

// ProfileView is app.bsky.actor.defs#profileView.
type ProfileView struct {
	ProfileViewBasic
	Description string `json:"description,omitempty"`
	IndexedAt   string `json:"indexedAt,omitempty"`
}

// ProfileViewDetailed is app.bsky.actor.defs#profileViewDetailed.
type ProfileViewDetailed struct {
	ProfileView
	Banner         string             `json:"banner,omitempty"`
	FollowersCount int64              `json:"followersCount"`
	FollowsCount   int64              `json:"followsCount"`
	PostsCount     int64              `json:"postsCount"`
	PinnedPost     *bluesky.StrongRef `json:"pinnedPost,omitempty"`
}

// ProfileAssociated summarises what else an account has published.
type ProfileAssociated struct {
	Lists        int64 `json:"lists,omitempty"`
	FeedGens     int64 `json:"feedgens,omitempty"`
	Labeler      bool  `json:"labeler,omitempty"`
	StarterPacks int64 `json:"starterPacks,omitempty"`
}

// ViewerState is the viewer's relationship to an account.
type ViewerState struct {
	Muted                bool                      `json:"muted"`
	MutedByList          *ListViewBasic            `json:"mutedByList,omitempty"`
	BlockedBy            bool                      `json:"blockedBy"`
	Blocking             string                    `json:"blocking,omitempty"`
	BlockingByList       *ListViewBasic            `json:"blockingByList,omitempty"`
	Following            string                    `json:"following,omitempty"`
	FollowedBy           string                    `json:"followedBy,omitempty"`
	KnownFollowers       *KnownFollowersView       `json:"knownFollowers,omitempty"`
	ActivitySubscription *ActivitySubscriptionView `json:"activitySubscription,omitempty"`
}

// KnownFollowersView previews followers the viewer also follows.
type KnownFollowersView struct {
	Count     int                 `json:"count"`
	Followers []*ProfileViewBasic `json:"followers"`
}

// ActivitySubscriptionView is the viewer's notification subscription state.
type ActivitySubscriptionView struct {
	Post  bool `json:"post"`
	Reply bool `json:"reply"`
}

// VerificationState lists vouches from trusted verifiers.
type VerificationState struct {
	Verifications  []Verification `json:"verifications"`
	VerifiedStatus string         `json:"verifiedStatus"`
	TrustedStatus  string         `json:"trustedVerifierStatus"`
}

// Verification is a single vouch.
type Verification struct {
	Issuer    string `json:"issuer"`
	URI       string `json:"uri"`
	IsValid   bool   `json:"isValid"`
	CreatedAt string `json:"createdAt"`
}

// PostView is app.bsky.feed.defs#postView.
type PostView struct {
	Type          string              `json:"$type,omitempty"`
	URI           string              `json:"uri"`
	CID           string              `json:"cid"`
	Author        *ProfileViewBasic   `json:"author"`
	Record        *bluesky.PostRecord `json:"record"`
	Embed         any                 `json:"embed,omitempty"`
	ReplyCount    int64               `json:"replyCount"`
	RepostCount   int64               `json:"repostCount"`
	LikeCount     int64               `json:"likeCount"`
	QuoteCount    int64               `json:"quoteCount"`
	BookmarkCount int64               `json:"bookmarkCount"`
	IndexedAt     string              `json:"indexedAt"`
	Viewer        *PostViewerState    `json:"viewer,omitempty"`
	Labels        []Label             `json:"labels"`
	Threadgate    *ThreadgateView     `json:"threadgate,omitempty"`
}

// PostViewerState is the viewer's relationship to a post.
type PostViewerState struct {
	Repost            string `json:"repost,omitempty"`
	Like              string `json:"like,omitempty"`
	Bookmarked        bool   `json:"bookmarked"`
	ThreadMuted       bool   `json:"threadMuted"`
	ReplyDisabled     bool   `json:"replyDisabled"`
	EmbeddingDisabled bool   `json:"embeddingDisabled"`
	Pinned            bool   `json:"pinned"`
}

// ThreadgateView is app.bsky.feed.defs#threadgateView.
type ThreadgateView struct {
	URI    string                    `json:"uri"`
	CID    string                    `json:"cid"`
	Record *bluesky.ThreadgateRecord `json:"record"`
	Lists  []*ListViewBasic          `json:"lists"`
}

// NotFoundPost stands in for a post that does not resolve.
type NotFoundPost struct {
	Type     string `json:"$type"`
	URI      string `json:"uri"`
	NotFound bool   `json:"notFound"`
}

// BlockedPost stands in for a post hidden by a block.
type BlockedPost struct {
	Type    string        `json:"$type"`
	URI     string        `json:"uri"`
	Blocked bool          `json:"blocked"`
	Author  BlockedAuthor `json:"author"`
}

// BlockedAuthor identifies the author of blocked content.
type BlockedAuthor struct {
	DID    string       `json:"did"`
	Viewer *ViewerState `json:"viewer,omitempty"`
}

// ImagesView is app.bsky.embed.images#view.
type ImagesView struct {
	Type   string      `json:"$type"`
	Images []ViewImage `json:"images"`
}

// ViewImage is one rendered image.
type ViewImage struct {
	Thumb    string `json:"thumb"`
	Fullsize string `json:"fullsize"`
	Alt      string `json:"alt"`
}

// ExternalView is app.bsky.embed.external#view.
type ExternalView struct {
	Type     string           `json:"$type"`
	External ViewExternalLink `json:"external"`
}

// ViewExternalLink is a rendered link card.
type ViewExternalLink struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Thumb       string `json:"thumb,omitempty"`
}

// VideoView is app.bsky.embed.video#view.
type VideoView struct {
	Type      string `json:"$type"`
	CID       string `json:"cid"`
	Playlist  string `json:"playlist"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Alt       string `json:"alt,omitempty"`
}

// RecordView is app.bsky.embed.record#view. Record is one of ViewRecord,
// ViewNotFound, ViewBlocked, ViewDetached, GeneratorView or ListView.
type RecordView struct {
	Type   string `json:"$type"`
	Record any    `json:"record"`
}

// RecordWithMediaView is app.bsky.embed.recordWithMedia#view.
type RecordWithMediaView struct {
	Type   string     `json:"$type"`
	Record RecordView `json:"record"`
	Media  any        `json:"media"`
}

// ViewRecord is a quoted post.
type ViewRecord struct {
	Type        string              `json:"$type"`
	URI         string              `json:"uri"`
	CID         string              `json:"cid"`
	Author      *ProfileViewBasic   `json:"author"`
	Value       *bluesky.PostRecord `json:"value"`
	Labels      []Label             `json:"labels"`
	ReplyCount  int64               `json:"replyCount"`
	RepostCount int64               `json:"repostCount"`
	LikeCount   int64               `json:"likeCount"`
	QuoteCount  int64               `json:"quoteCount"`
	Embeds      []any               `json:"embeds,omitempty"`
	IndexedAt   string              `json:"indexedAt"`
}

// ViewNotFound stands in for a quoted record that does not resolve.
type ViewNotFound struct {
	Type     string `json:"$type"`
	URI      string `json:"uri"`
	NotFound bool   `json:"notFound"`
}

// ViewBlocked stands in for a quoted record hidden by a block.
type ViewBlocked struct {
	Type    string        `json:"$type"`
	URI     string        `json:"uri"`
	Blocked bool          `json:"blocked"`
	Author  BlockedAuthor `json:"author"`
}

// ViewDetached stands in for a quote the quoted author detached.
type ViewDetached struct {
	Type     string `json:"$type"`
	URI      string `json:"uri"`
	Detached bool   `json:"detached"`
}

// FeedViewPost is one rendered feed entry.
type FeedViewPost struct {
	Post   *PostView  `json:"post"`
	Reply  *ReplyView `json:"reply,omitempty"`
	Reason any        `json:"reason,omitempty"`
}

// ReplyView carries the parent and root of a reply in a feed. Each is a
// PostView, NotFoundPost or BlockedPost.
type ReplyView struct {
	Root              any               `json:"root"`
	Parent            any               `json:"parent"`
	GrandparentAuthor *ProfileViewBasic `json:"grandparentAuthor,omitempty"`
}

// ReasonRepost marks a feed entry shown because someone reposted it.
type ReasonRepost struct {
	Type      string            `json:"$type"`
	By        *ProfileViewBasic `json:"by"`
	URI       string            `json:"uri,omitempty"`
	CID       string            `json:"cid,omitempty"`
	IndexedAt string            `json:"indexedAt"`
}

// ReasonPin marks the author's pinned post.
type ReasonPin struct {
	Type string `json:"$type"`
}

// ListViewBasic is app.bsky.graph.defs#listViewBasic.
type ListViewBasic struct {
	URI           string           `json:"uri"`
	CID           string           `json:"cid"`
	Name          string           `json:"name"`
	Purpose       string           `json:"purpose"`
	Avatar        string           `json:"avatar,omitempty"`
	ListItemCount int64            `json:"listItemCount,omitempty"`
	Labels        []Label          `json:"labels"`
	Viewer        *ListViewerState `json:"viewer,omitempty"`
	IndexedAt     string           `json:"indexedAt,omitempty"`
}

// ListView is app.bsky.graph.defs#listView.
type ListView struct {
	Type string `json:"$type,omitempty"`
	ListViewBasic
	Creator     *ProfileView `json:"creator"`
	Description string       `json:"description,omitempty"`
}

// ListViewerState is the viewer's subscription to a list.
type ListViewerState struct {
	Muted   bool   `json:"muted"`
	Blocked string `json:"blocked,omitempty"`
}

// ListItemView is app.bsky.graph.defs#listItemView.
type ListItemView struct {
	URI     string       `json:"uri"`
	Subject *ProfileView `json:"subject"`
}

// GeneratorView is app.bsky.feed.defs#generatorView.
type GeneratorView struct {
	Type        string               `json:"$type,omitempty"`
	URI         string               `json:"uri"`
	CID         string               `json:"cid"`
	DID         string               `json:"did"`
	Creator     *ProfileView         `json:"creator"`
	DisplayName string               `json:"displayName"`
	Description string               `json:"description,omitempty"`
	Avatar      string               `json:"avatar,omitempty"`
	LikeCount   int64                `json:"likeCount"`
	Labels      []Label              `json:"labels"`
	Viewer      *GeneratorViewerView `json:"viewer,omitempty"`
	IndexedAt   string               `json:"indexedAt"`
}

// GeneratorViewerView is the viewer's relationship to a feed generator.
type GeneratorViewerView struct {
	Like string `json:"like,omitempty"`
}

// LikeView is one entry of app.bsky.feed.getLikes.
type LikeView struct {
	Actor     *ProfileView `json:"actor"`
	CreatedAt string       `json:"createdAt"`
	IndexedAt string       `json:"indexedAt"`
}

// NotificationView is one entry of app.bsky.notification.listNotifications.
type NotificationView struct {
	URI           string       `json:"uri"`
	CID           string       `json:"cid"`
	Author        *ProfileView `json:"author"`
	Reason        string       `json:"reason"`
	ReasonSubject string       `json:"reasonSubject,omitempty"`
	Record        any          `json:"record"`
	IsRead        bool         `json:"isRead"`
	IndexedAt     string       `json:"indexedAt"`
	Labels        []Label      `json:"labels"`
}

// BookmarkView is one entry of app.bsky.bookmark.getBookmarks. Item is a
// PostView, NotFoundPost or BlockedPost.
type BookmarkView struct {
	Subject   bluesky.StrongRef `json:"subject"`
	CreatedAt string            `json:"createdAt"`
	Item      any               `json:"item"`
}

// ThreadItem is one flattened entry of a thread.
type ThreadItem struct {
	URI   string `json:"uri"`
	Depth int    `json:"depth"`
	Value any    `json:"value"`
}

// ThreadItemPost is a visible post in a thread.
type ThreadItemPost struct {
	Type               string    `json:"$type"`
	Post               *PostView `json:"post"`
	MoreParents        bool      `json:"moreParents"`
	MoreReplies        int64     `json:"moreReplies"`
	OpThread           bool      `json:"opThread"`
	HasOPLike          bool      `json:"hasOPLike"`
	HiddenByThreadgate bool      `json:"hiddenByThreadgate"`
	MutedByViewer      bool      `json:"mutedByViewer"`
}

// ThreadItemNotFound stands in for a deleted or missing post.
type ThreadItemNotFound struct {
	Type string `json:"$type"`
}

// ThreadItemBlocked stands in for a post hidden by a block.
type ThreadItemBlocked struct {
	Type   string        `json:"$type"`
	Author BlockedAuthor `json:"author"`
}

// ThreadItemNoUnauthenticated stands in for a post whose author hides from
// logged-out viewers.
type ThreadItemNoUnauthenticated struct {
	Type string `json:"$type"`
}
