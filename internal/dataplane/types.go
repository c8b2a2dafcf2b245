package dataplane

import (
	"encoding/json"
	"time"
)

// Record is a stored record. Batch lookups return one Record per requested
// URI; a Record with no Value means the URI does not resolve.
type Record struct {
	URI         string          `json:"uri"`
	CID         string          `json:"cid,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	IndexedAt   time.Time       `json:"indexedAt"`
	SortedAt    time.Time       `json:"sortedAt"`
	TakedownRef string          `json:"takedownRef,omitempty"`
}

// Exists reports whether the record was found.
func (r Record) Exists() bool {
	return len(r.Value) > 0
}

// Actor status values. An empty status means the account is active.
const (
	StatusActive      = ""
	StatusDeactivated = "deactivated"
	StatusTakendown   = "takendown"
	StatusSuspended   = "suspended"
	StatusDeleted     = "deleted"
)

// Actor is an account known to the data plane.
type Actor struct {
	DID             string    `json:"did"`
	Exists          bool      `json:"exists"`
	Handle          string    `json:"handle,omitempty"`
	Profile         *Record   `json:"profile,omitempty"`
	TakedownRef     string    `json:"takedownRef,omitempty"`
	Status          string    `json:"status,omitempty"`
	IsLabeler       bool      `json:"isLabeler,omitempty"`
	TrustedVerifier bool      `json:"trustedVerifier,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	IndexedAt       time.Time `json:"indexedAt"`
}

// ProfileCounts are aggregate counters for an actor.
type ProfileCounts struct {
	Followers int64 `json:"followers"`
	Follows   int64 `json:"follows"`
	Posts     int64 `json:"posts"`
	Lists     int64 `json:"lists"`
	Feeds     int64 `json:"feeds"`
}

// Vouch is a vouch record targeting a subject.
type Vouch struct {
	URI         string    `json:"uri"`
	Issuer      string    `json:"issuer"`
	Subject     string    `json:"subject"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Relationship is the viewer's relationship to one target actor. Each field
// holds the URI of the record that establishes it.
type Relationship struct {
	Muted          bool   `json:"muted,omitempty"`
	MutedByList    string `json:"mutedByList,omitempty"`
	BlockedBy      string `json:"blockedBy,omitempty"`
	Blocking       string `json:"blocking,omitempty"`
	BlockedByList  string `json:"blockedByList,omitempty"`
	BlockingByList string `json:"blockingByList,omitempty"`
	Following      string `json:"following,omitempty"`
	FollowedBy     string `json:"followedBy,omitempty"`
}

// ActorPair is an unordered pair of actors for block checks.
type ActorPair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// ActivitySubscription is the viewer's notification subscription to an actor.
type ActivitySubscription struct {
	Post  bool `json:"post,omitempty"`
	Reply bool `json:"reply,omitempty"`
}

// ListViewerState is the viewer's relationship to a list.
type ListViewerState struct {
	Muted    bool   `json:"muted,omitempty"`
	BlockURI string `json:"blockUri,omitempty"`
}

// ListCounts are aggregate counters for a list.
type ListCounts struct {
	Items int64 `json:"items"`
}

// PostCounts are aggregate counters for a post.
type PostCounts struct {
	Likes   int64 `json:"likes"`
	Reposts int64 `json:"reposts"`
	Replies int64 `json:"replies"`
	Quotes  int64 `json:"quotes"`
}

// PostViewerState is the viewer's interaction state with a post.
type PostViewerState struct {
	Like        string `json:"like,omitempty"`
	Repost      string `json:"repost,omitempty"`
	Bookmarked  bool   `json:"bookmarked,omitempty"`
	ThreadMuted bool   `json:"threadMuted,omitempty"`
}

// ActorSubject pairs an actor with a record they may have interacted with.
type ActorSubject struct {
	Actor   string `json:"actor"`
	Subject string `json:"subject"`
}

// FeedGenCounts are aggregate counters for a feed generator.
type FeedGenCounts struct {
	Likes int64 `json:"likes"`
}

// Thread is the result of a thread lookup. URIs holds ancestors and
// descendants of the anchor, excluding the anchor itself.
type Thread struct {
	Anchor string   `json:"anchor"`
	URIs   []string `json:"uris"`
}

// FeedItem is the unit of a flat feed skeleton. A non-empty Repost means
// the item is a reshare of Post.
type FeedItem struct {
	Post         string `json:"post"`
	Repost       string `json:"repost,omitempty"`
	AuthorPinned bool   `json:"authorPinned,omitempty"`
}

// FeedPage is a page of feed items.
type FeedPage struct {
	Items  []FeedItem `json:"items"`
	Cursor string     `json:"cursor,omitempty"`
}

// Page is a page of URIs.
type Page struct {
	URIs   []string `json:"uris"`
	Cursor string   `json:"cursor,omitempty"`
}

// Author feed filters.
const (
	FilterPostsWithReplies     = "posts_with_replies"
	FilterPostsNoReplies       = "posts_no_replies"
	FilterPostsWithMedia       = "posts_with_media"
	FilterPostsAndAuthorThread = "posts_and_author_threads"
)

// Bookmark is one of an actor's saved posts.
type Bookmark struct {
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"createdAt"`
}

// BookmarkPage is a page of bookmarks.
type BookmarkPage struct {
	Items  []Bookmark `json:"items"`
	Cursor string     `json:"cursor,omitempty"`
}

// Notification reasons.
const (
	ReasonLike       = "like"
	ReasonRepost     = "repost"
	ReasonFollow     = "follow"
	ReasonMention    = "mention"
	ReasonReply      = "reply"
	ReasonQuote      = "quote"
	ReasonSubscribed = "subscribed-post"
)

// Notification is one entry of an actor's notification stream.
type Notification struct {
	URI           string    `json:"uri"`
	Recipient     string    `json:"recipient"`
	Author        string    `json:"author"`
	Reason        string    `json:"reason"`
	ReasonSubject string    `json:"reasonSubject,omitempty"`
	SortAt        time.Time `json:"sortAt"`
}

// NotificationPage is a page of notifications.
type NotificationPage struct {
	Items  []Notification `json:"items"`
	Cursor string         `json:"cursor,omitempty"`
	SeenAt time.Time      `json:"seenAt"`
}

// Label is a moderation label applied to a subject (a DID or record URI).
type Label struct {
	Src string    `json:"src"`
	URI string    `json:"uri"`
	CID string    `json:"cid,omitempty"`
	Val string    `json:"val"`
	Neg bool      `json:"neg,omitempty"`
	Cts time.Time `json:"cts"`
	Exp time.Time `json:"exp,omitzero"`
}
