package bluesky

import (
	"encoding/json"
	"strings"
	"time"
)

// Embed and facet $type values.
const (
	EmbedRecord          = "app.bsky.embed.record"
	EmbedRecordWithMedia = "app.bsky.embed.recordWithMedia"
	EmbedImages          = "app.bsky.embed.images"
	EmbedVideo           = "app.bsky.embed.video"
	EmbedExternal        = "app.bsky.embed.external"

	FacetMention = "app.bsky.richtext.facet#mention"
	FacetLink    = "app.bsky.richtext.facet#link"
	FacetTag     = "app.bsky.richtext.facet#tag"
)

// Threadgate rule $type values.
const (
	ThreadgateMentionRule   = "app.bsky.feed.threadgate#mentionRule"
	ThreadgateFollowerRule  = "app.bsky.feed.threadgate#followerRule"
	ThreadgateFollowingRule = "app.bsky.feed.threadgate#followingRule"
	ThreadgateListRule      = "app.bsky.feed.threadgate#listRule"
)

// List purposes.
const (
	ListPurposeModeration = "app.bsky.graph.defs#modlist"
	ListPurposeCuration   = "app.bsky.graph.defs#curatelist"
)

// PinnedSentinel is the text of a reply that only "pins" a thread.
const PinnedSentinel = "📌"

// StrongRef is a reference to a specific version of a record.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// ReplyRef contains references to the parent and root of a reply chain.
type ReplyRef struct {
	Root   StrongRef `json:"root"`
	Parent StrongRef `json:"parent"`
}

// BlobRef represents an AT Protocol blob reference for uploaded content.
type BlobRef struct {
	Type string `json:"$type"`
	Ref  struct {
		Link string `json:"$link"`
	} `json:"ref"`
	MimeType string `json:"mimeType"`
	Size     int    `json:"size"`
}

// PostRecord is the record body for app.bsky.feed.post.
type PostRecord struct {
	Type      string    `json:"$type"`
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
	Langs     []string  `json:"langs,omitempty"`
	Reply     *ReplyRef `json:"reply,omitempty"`
	Embed     *Embed    `json:"embed,omitempty"`
	Facets    []Facet   `json:"facets,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
}

// RootURI returns the thread root of the post, or "" for a top-level post.
func (p *PostRecord) RootURI() string {
	if p == nil || p.Reply == nil {
		return ""
	}
	return p.Reply.Root.URI
}

// ParentURI returns the URI the post replies to, or "".
func (p *PostRecord) ParentURI() string {
	if p == nil || p.Reply == nil {
		return ""
	}
	return p.Reply.Parent.URI
}

// IsPinnedSentinel reports whether the post text is only the pin marker.
func (p *PostRecord) IsPinnedSentinel() bool {
	return p != nil && strings.TrimSpace(p.Text) == PinnedSentinel
}

// Mentions returns the DIDs mentioned through rich text facets.
func (p *PostRecord) Mentions() []string {
	if p == nil {
		return nil
	}
	var dids []string
	for _, f := range p.Facets {
		for _, feat := range f.Features {
			if feat.Type == FacetMention && feat.DID != "" {
				dids = append(dids, feat.DID)
			}
		}
	}
	return dids
}

// Embed is a post embed. Record holds either a StrongRef (embed.record) or
// an object wrapping one (embed.recordWithMedia); use QuotedRef to read it.
type Embed struct {
	Type     string          `json:"$type"`
	Record   json.RawMessage `json:"record,omitempty"`
	Media    *Embed          `json:"media,omitempty"`
	Images   []Image         `json:"images,omitempty"`
	External *External       `json:"external,omitempty"`
	Video    *BlobRef        `json:"video,omitempty"`
	Alt      string          `json:"alt,omitempty"`
}

// Image is a single image in an images embed.
type Image struct {
	Alt   string   `json:"alt"`
	Image *BlobRef `json:"image,omitempty"`
}

// External is a link card embed.
type External struct {
	URI         string   `json:"uri"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Thumb       *BlobRef `json:"thumb,omitempty"`
}

// QuotedRef returns the embedded record reference, if the embed quotes one.
func (e *Embed) QuotedRef() *StrongRef {
	if e == nil || len(e.Record) == 0 {
		return nil
	}
	switch e.Type {
	case EmbedRecord:
		var ref StrongRef
		if err := json.Unmarshal(e.Record, &ref); err != nil || ref.URI == "" {
			return nil
		}
		return &ref
	case EmbedRecordWithMedia:
		var wrapper struct {
			Record StrongRef `json:"record"`
		}
		if err := json.Unmarshal(e.Record, &wrapper); err != nil || wrapper.Record.URI == "" {
			return nil
		}
		return &wrapper.Record
	}
	return nil
}

// HasMedia reports whether the embed carries images or video.
func (e *Embed) HasMedia() bool {
	if e == nil {
		return false
	}
	switch e.Type {
	case EmbedImages, EmbedVideo:
		return true
	case EmbedRecordWithMedia:
		return e.Media.HasMedia()
	}
	return false
}

// Facet annotates a byte range of post text.
type Facet struct {
	Index struct {
		ByteStart int `json:"byteStart"`
		ByteEnd   int `json:"byteEnd"`
	} `json:"index"`
	Features []FacetFeature `json:"features"`
}

// FacetFeature is one of mention, link or tag.
type FacetFeature struct {
	Type string `json:"$type"`
	DID  string `json:"did,omitempty"`
	URI  string `json:"uri,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

// ProfileRecord is the record body for app.bsky.actor.profile.
type ProfileRecord struct {
	DisplayName string     `json:"displayName,omitempty"`
	Description string     `json:"description,omitempty"`
	Avatar      *BlobRef   `json:"avatar,omitempty"`
	Banner      *BlobRef   `json:"banner,omitempty"`
	PinnedPost  *StrongRef `json:"pinnedPost,omitempty"`
	CreatedAt   string     `json:"createdAt,omitempty"`
}

// LikeRecord is the record body for app.bsky.feed.like.
type LikeRecord struct {
	Subject   StrongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

// RepostRecord is the record body for app.bsky.feed.repost.
type RepostRecord struct {
	Subject   StrongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

// FollowRecord is the record body for app.bsky.graph.follow. BlockRecord
// shares its shape.
type FollowRecord struct {
	Subject   string `json:"subject"`
	CreatedAt string `json:"createdAt"`
}

// BlockRecord is the record body for app.bsky.graph.block.
type BlockRecord = FollowRecord

// ListRecord is the record body for app.bsky.graph.list.
type ListRecord struct {
	Purpose     string   `json:"purpose"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Avatar      *BlobRef `json:"avatar,omitempty"`
	CreatedAt   string   `json:"createdAt"`
}

// ListItemRecord is the record body for app.bsky.graph.listitem.
type ListItemRecord struct {
	Subject   string `json:"subject"`
	List      string `json:"list"`
	CreatedAt string `json:"createdAt"`
}

// ListBlockRecord is the record body for app.bsky.graph.listblock. Subject
// is a list URI.
type ListBlockRecord struct {
	Subject   string `json:"subject"`
	CreatedAt string `json:"createdAt"`
}

// FeedGeneratorRecord is the record body for app.bsky.feed.generator.
type FeedGeneratorRecord struct {
	DID         string   `json:"did"`
	DisplayName string   `json:"displayName"`
	Description string   `json:"description,omitempty"`
	Avatar      *BlobRef `json:"avatar,omitempty"`
	CreatedAt   string   `json:"createdAt"`
}

// ThreadgateRecord restricts who may reply to a thread. A nil Allow means
// anyone may reply; an empty, non-nil Allow means nobody may.
type ThreadgateRecord struct {
	Post          string           `json:"post"`
	Allow         []ThreadgateRule `json:"allow"`
	HiddenReplies []string         `json:"hiddenReplies,omitempty"`
	CreatedAt     string           `json:"createdAt"`
}

// ThreadgateRule is one entry of a threadgate allow list. List is set for
// list rules only.
type ThreadgateRule struct {
	Type string `json:"$type"`
	List string `json:"list,omitempty"`
}

// ListURIs returns the lists referenced by list rules.
func (t *ThreadgateRecord) ListURIs() []string {
	if t == nil {
		return nil
	}
	var uris []string
	for _, rule := range t.Allow {
		if rule.Type == ThreadgateListRule && rule.List != "" {
			uris = append(uris, rule.List)
		}
	}
	return uris
}

// IsHidden reports whether the gate hides replyURI.
func (t *ThreadgateRecord) IsHidden(replyURI string) bool {
	if t == nil {
		return false
	}
	for _, uri := range t.HiddenReplies {
		if uri == replyURI {
			return true
		}
	}
	return false
}

// PostgateRecord restricts quoting of a post.
type PostgateRecord struct {
	Post                  string              `json:"post"`
	DetachedEmbeddingURIs []string            `json:"detachedEmbeddingUris,omitempty"`
	EmbeddingRules        []PostgateEmbedding `json:"embeddingRules,omitempty"`
	CreatedAt             string              `json:"createdAt"`
}

// PostgateEmbedding is a postgate embedding rule, e.g. #disableRule.
type PostgateEmbedding struct {
	Type string `json:"$type"`
}

// PostgateDisableRule disables quoting entirely.
const PostgateDisableRule = "app.bsky.feed.postgate#disableRule"

// IsDetached reports whether the gate detaches the quote at quoteURI.
func (p *PostgateRecord) IsDetached(quoteURI string) bool {
	if p == nil {
		return false
	}
	for _, uri := range p.DetachedEmbeddingURIs {
		if uri == quoteURI {
			return true
		}
	}
	return false
}

// EmbeddingDisabled reports whether the gate disables quoting.
func (p *PostgateRecord) EmbeddingDisabled() bool {
	if p == nil {
		return false
	}
	for _, rule := range p.EmbeddingRules {
		if rule.Type == PostgateDisableRule {
			return true
		}
	}
	return false
}

// VouchRecord is the record body for app.bsky.graph.vouch. Handle and
// DisplayName capture the subject's identity at vouching time.
type VouchRecord struct {
	Subject     string `json:"subject"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	CreatedAt   string `json:"createdAt"`
}

// ParseTime parses a record timestamp, returning the zero time on failure.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// SortAt is the earlier of createdAt and indexedAt, so backdated records
// cannot jump ahead of what has been indexed.
func SortAt(createdAt string, indexedAt time.Time) time.Time {
	created := ParseTime(createdAt)
	if created.IsZero() || created.After(indexedAt) {
		return indexedAt
	}
	return created
}
