package thread

import (
	"github.com/blackmichael/bluesky-appview/internal/views"
)

// Flatten lists the tree as ancestors, then the anchor, then replies in
// pre-order. Replies withheld for any reason other than logged-out
// visibility are left out.
func Flatten(t *Tree) []views.ThreadItem {
	out := make([]views.ThreadItem, 0, len(t.Ancestors)+1)
	for _, n := range t.Ancestors {
		out = append(out, item(n))
	}
	return flattenDown(out, t.Anchor)
}

func flattenDown(out []views.ThreadItem, n Node) []views.ThreadItem {
	if u, ok := n.(*UnknownNode); ok && u.Reason != ReasonNoUnauthenticated {
		return out
	}
	out = append(out, item(n))
	if p, ok := n.(*PostNode); ok {
		for _, reply := range p.Replies {
			out = flattenDown(out, reply)
		}
	}
	return out
}

// HasOtherReplies reports whether any reply below the anchor was withheld
// for a reason other than logged-out visibility.
func HasOtherReplies(t *Tree) bool {
	var walk func(nodes []Node) bool
	walk = func(nodes []Node) bool {
		for _, n := range nodes {
			switch n := n.(type) {
			case *UnknownNode:
				if n.Reason != ReasonNoUnauthenticated {
					return true
				}
			case *PostNode:
				if walk(n.Replies) {
					return true
				}
			}
		}
		return false
	}
	return walk(t.Replies())
}

func item(n Node) views.ThreadItem {
	it := views.ThreadItem{URI: n.URI(), Depth: n.Depth()}
	switch n := n.(type) {
	case *PostNode:
		it.Value = views.ThreadItemPost{
			Type:        views.TypeThreadItemPost,
			Post:        n.Post,
			MoreParents: n.MoreParents,
			MoreReplies: n.MoreReplies,
			OpThread:    n.OpThread,
			HasOPLike:   n.HasOPLike,
		}
	case *BlockedNode:
		it.Value = views.ThreadItemBlocked{Type: views.TypeThreadItemBlocked, Author: n.Author}
	case *UnknownNode:
		it.Value = views.ThreadItemNoUnauthenticated{Type: views.TypeThreadItemNoUnauthenticated}
	default:
		it.Value = views.ThreadItemNotFound{Type: views.TypeThreadItemNotFound}
	}
	return it
}
