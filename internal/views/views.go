// Package views renders hydrated state into API response objects. Rendering
// never fetches: anything not present in the state renders as absent.
package views

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
)

// Image presets understood by the image CDN.
const (
	PresetAvatar        = "avatar"
	PresetBanner        = "banner"
	PresetFeedThumbnail = "feed_thumbnail"
	PresetFeedFullsize  = "feed_fullsize"
)

// DefaultImageCDN is used when no CDN base is configured.
const DefaultImageCDN = "https://cdn.bsky.app"

// DefaultVideoCDN is used when no video CDN base is configured.
const DefaultVideoCDN = "https://video.bsky.app"

// TimeFormat is how every timestamp in a response is formatted.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Views renders state. It is stateless apart from configuration and safe
// for concurrent use.
type Views struct {
	imageCDN string
	videoCDN string
}

// Option customises Views.
type Option func(*Views)

// WithImageCDN sets the base URL for image links.
func WithImageCDN(base string) Option {
	return func(v *Views) {
		if base != "" {
			v.imageCDN = strings.TrimSuffix(base, "/")
		}
	}
}

// WithVideoCDN sets the base URL for video playlists.
func WithVideoCDN(base string) Option {
	return func(v *Views) {
		if base != "" {
			v.videoCDN = strings.TrimSuffix(base, "/")
		}
	}
}

// New returns a renderer.
func New(opts ...Option) *Views {
	v := &Views{imageCDN: DefaultImageCDN, videoCDN: DefaultVideoCDN}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Views) imageURL(preset, did string, blob *bluesky.BlobRef) string {
	if blob == nil || blob.Ref.Link == "" {
		return ""
	}
	return fmt.Sprintf("%s/img/%s/plain/%s/%s@jpeg", v.imageCDN, preset, did, blob.Ref.Link)
}

func (v *Views) videoPlaylist(did, cid string) string {
	return fmt.Sprintf("%s/watch/%s/%s/playlist.m3u8", v.videoCDN, did, cid)
}

func (v *Views) videoThumbnail(did, cid string) string {
	return fmt.Sprintf("%s/watch/%s/%s/thumbnail.jpg", v.videoCDN, did, cid)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeFormat)
}

func sortLabels(labels []Label) {
	slices.SortFunc(labels, func(a, b Label) int {
		return cmp.Or(
			strings.Compare(a.URI, b.URI),
			strings.Compare(a.Src, b.Src),
			strings.Compare(a.Val, b.Val),
		)
	})
}

func sortVerifications(vs []Verification) {
	slices.SortFunc(vs, func(a, b Verification) int {
		return cmp.Or(strings.Compare(a.CreatedAt, b.CreatedAt), strings.Compare(a.URI, b.URI))
	})
}
