// Package thread assembles a reply tree around an anchor post from hydrated
// state, ranks its replies and flattens it for rendering.
package thread

import (
	"time"

	"github.com/blackmichael/bluesky-appview/internal/views"
)

// Node is one position in a thread. It is one of *PostNode, *NotFoundNode,
// *BlockedNode or *UnknownNode.
type Node interface {
	URI() string
	// Depth is negative for ancestors, zero for the anchor and positive for
	// replies.
	Depth() int
	node()
}

type base struct {
	uri   string
	depth int
}

func (b base) URI() string { return b.uri }
func (b base) Depth() int  { return b.depth }
func (base) node()         {}

// PostNode is a visible post.
type PostNode struct {
	base
	Post      *views.PostView
	Author    string
	IndexedAt time.Time
	Likes     int64
	// HasOPLike is set when the thread root's author liked the post.
	HasOPLike        bool
	Pinned           bool
	FollowedByViewer bool
	// OpThread marks an unbroken chain of posts by the root author starting
	// at the root.
	OpThread    bool
	MoreParents bool
	MoreReplies int64
	Replies     []Node
}

// NotFoundNode stands in for a deleted or unresolvable post.
type NotFoundNode struct {
	base
}

// BlockedNode stands in for a post hidden by a block. Its replies are
// dropped.
type BlockedNode struct {
	base
	Author views.BlockedAuthor
}

// Reason explains why an UnknownNode's post is withheld.
type Reason int

const (
	// ReasonNoUnauthenticated: the author hides from logged-out viewers.
	ReasonNoUnauthenticated Reason = iota + 1
	// ReasonHidden: the root author hid the reply with a threadgate.
	ReasonHidden
	ReasonNeedsReview
	ReasonMuted
)

func (r Reason) String() string {
	switch r {
	case ReasonNoUnauthenticated:
		return "no-unauthenticated"
	case ReasonHidden:
		return "hidden"
	case ReasonNeedsReview:
		return "needs-review"
	case ReasonMuted:
		return "muted"
	}
	return "unknown"
}

// UnknownNode is a post that resolves but is withheld from this viewer.
// Its replies are dropped.
type UnknownNode struct {
	base
	Reason Reason
}

// Tree is an assembled thread. Ancestors run from the furthest one down to
// the anchor's parent.
type Tree struct {
	Root string
	// OP is the author of the thread root.
	OP        string
	Viewer    string
	Ancestors []Node
	Anchor    Node
}

// Replies returns the anchor's replies, or nil if the anchor is a
// placeholder.
func (t *Tree) Replies() []Node {
	if p, ok := t.Anchor.(*PostNode); ok {
		return p.Replies
	}
	return nil
}
