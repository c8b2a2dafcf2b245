package views

import (
	"slices"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/hydration"
)

// The checks below read only hydrated state. A relationship that was not
// hydrated counts as absent.

func viewerOf(s *hydration.State, did string) (hydration.ProfileViewer, bool) {
	if s.Ctx.Viewer == "" || did == s.Ctx.Viewer {
		return hydration.ProfileViewer{}, false
	}
	return s.ProfileViewers.Get(did)
}

// ViewerBlocking reports whether the viewer blocks did, directly or through
// a list.
func ViewerBlocking(s *hydration.State, did string) bool {
	v, ok := viewerOf(s, did)
	return ok && (v.Blocking != "" || v.BlockingByList != "")
}

// ViewerBlockedBy reports whether did blocks the viewer, directly or through
// a list.
func ViewerBlockedBy(s *hydration.State, did string) bool {
	v, ok := viewerOf(s, did)
	return ok && (v.BlockedBy != "" || v.BlockedByList != "")
}

// ViewerBlockExists reports a block in either direction between the viewer
// and did.
func ViewerBlockExists(s *hydration.State, did string) bool {
	return ViewerBlocking(s, did) || ViewerBlockedBy(s, did)
}

// ViewerMuteExists reports whether the viewer mutes did, directly or
// through a list.
func ViewerMuteExists(s *hydration.State, did string) bool {
	v, ok := viewerOf(s, did)
	return ok && (v.Muted || v.MutedByList != "")
}

// ViewerFollows reports whether the viewer follows did.
func ViewerFollows(s *hydration.State, did string) bool {
	v, ok := viewerOf(s, did)
	return ok && v.Following != ""
}

// ThirdPartyBlocked reports whether uri is blocked from its reply parent or
// thread root, unless the context includes third-party blocks.
func ThirdPartyBlocked(s *hydration.State, uri string) bool {
	if s.Ctx.Include3pBlocks {
		return false
	}
	pb, ok := s.PostBlocks.Get(uri)
	return ok && (pb.Parent || pb.Root)
}

// NeedsReview reports whether uri, or its author, carries a needs-review
// label that applies to this viewer. It never applies to the author's own
// content or to authors the viewer follows.
func NeedsReview(s *hydration.State, uri string) bool {
	author := bluesky.DIDFromURI(uri)
	if author == "" || author == s.Ctx.Viewer || ViewerFollows(s, author) {
		return false
	}
	return hydration.HasLabel(s.Labels, uri, hydration.LabelNeedsReview) ||
		hydration.HasLabel(s.Labels, author, hydration.LabelNeedsReview)
}

// NoUnauthenticated reports whether did hides from logged-out viewers and
// the request has no viewer.
func NoUnauthenticated(s *hydration.State, did string) bool {
	return s.Ctx.Viewer == "" && hydration.HasLabel(s.Labels, did, hydration.LabelNoUnauthenticated)
}

// ReplyDisabled reports whether the root post's threadgate stops the viewer
// from replying anywhere in the thread rooted at root.
func ReplyDisabled(s *hydration.State, root string) bool {
	rootAuthor := bluesky.DIDFromURI(root)
	viewer := s.Ctx.Viewer
	if viewer == "" || viewer == rootAuthor {
		return false
	}
	if ViewerBlockExists(s, rootAuthor) {
		return true
	}
	gate, ok := s.Threadgates.Get(bluesky.ThreadgateURIForPost(root))
	if !ok || gate.Record.Allow == nil {
		return false
	}
	for _, rule := range gate.Record.Allow {
		switch rule.Type {
		case bluesky.ThreadgateMentionRule:
			if p, ok := s.Posts.Get(root); ok && slices.Contains(p.Record.Mentions(), viewer) {
				return false
			}
		case bluesky.ThreadgateFollowerRule:
			if ViewerFollows(s, rootAuthor) {
				return false
			}
		case bluesky.ThreadgateFollowingRule:
			if v, ok := viewerOf(s, rootAuthor); ok && v.FollowedBy != "" {
				return false
			}
		case bluesky.ThreadgateListRule:
			if _, ok := s.ListMemberships.Get(rule.List, viewer); ok {
				return false
			}
		}
	}
	return true
}

// HiddenByThreadgate reports whether the root post's threadgate hides uri.
func HiddenByThreadgate(s *hydration.State, root, uri string) bool {
	gate, ok := s.Threadgates.Get(bluesky.ThreadgateURIForPost(root))
	return ok && gate.Record.IsHidden(uri)
}

// EmbeddingDisabled reports whether the postgate on uri stops the viewer
// from quoting it.
func EmbeddingDisabled(s *hydration.State, uri string) bool {
	if s.Ctx.Viewer == bluesky.DIDFromURI(uri) {
		return false
	}
	gate, ok := s.Postgates.Get(bluesky.PostgateURIForPost(uri))
	return ok && gate.Record.EmbeddingDisabled()
}

// Detached reports whether the author of quoted detached it from quoting.
func Detached(s *hydration.State, quoting, quoted string) bool {
	gate, ok := s.Postgates.Get(bluesky.PostgateURIForPost(quoted))
	return ok && gate.Record.IsDetached(quoting)
}

// ActorVisible reports whether did was hydrated as a visible account.
func ActorVisible(s *hydration.State, did string) bool {
	_, ok := s.Actors.Get(did)
	return ok
}

// PostVisible reports whether uri and its author are both visible.
func PostVisible(s *hydration.State, uri string) bool {
	_, ok := s.Posts.Get(uri)
	return ok && ActorVisible(s, bluesky.DIDFromURI(uri))
}
