package thread

import (
	"errors"
	"time"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/hydration"
	"github.com/blackmichael/bluesky-appview/internal/views"
)

// ErrAnchorNotFound is returned when the anchor post cannot be rendered at
// all.
var ErrAnchorNotFound = errors.New("thread: anchor not found")

// Options shape an assembled thread.
type Options struct {
	// Above is the most ancestor hops walked from the anchor.
	Above int
	// Below is the deepest reply level included.
	Below int
	// BranchingFactor caps the replies kept per post below the anchor's
	// direct replies. Zero keeps all of them.
	BranchingFactor         int
	Sort                    Sort
	PrioritizeFollowedUsers bool
	// Now anchors hotness ages. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

type assembler struct {
	v        *views.Views
	s        *hydration.State
	opts     Options
	root     string
	op       string
	children map[string][]string
}

// Assemble builds the thread around anchor from uris, the related posts
// reported by the data plane, and state hydrated for them. Posts whose
// thread root differs from the anchor's never appear. The returned tree is
// ranked with Sort.
func Assemble(v *views.Views, s *hydration.State, anchor string, uris []string, opts Options) (*Tree, error) {
	anchorPost, ok := s.Posts.Get(anchor)
	if !ok {
		return nil, ErrAnchorNotFound
	}
	a := &assembler{v: v, s: s, opts: opts, root: rootOf(anchor, anchorPost)}
	a.op = bluesky.DIDFromURI(a.root)
	a.indexChildren(anchor, uris)

	tree := &Tree{Root: a.root, OP: a.op, Viewer: s.Ctx.Viewer}
	tree.Ancestors = a.ancestors(anchorPost)

	switch {
	case a.blocked(anchor):
		tree.Anchor = &BlockedNode{base: base{anchor, 0}, Author: a.blockedAuthor(anchor)}
	case views.NoUnauthenticated(s, bluesky.DIDFromURI(anchor)):
		tree.Anchor = &UnknownNode{base: base{anchor, 0}, Reason: ReasonNoUnauthenticated}
	default:
		node := a.postNode(anchor, anchorPost, 0)
		if node == nil {
			return nil, ErrAnchorNotFound
		}
		node.OpThread = node.Author == a.op && (anchor == a.root || parentOpThread(tree.Ancestors))
		node.MoreParents = opts.Above == 0 && anchorPost.Record.ParentURI() != ""
		a.descend(node, anchor)
		tree.Anchor = node
	}
	return SortTree(tree, opts), nil
}

func rootOf(uri string, p hydration.Post) string {
	if root := p.Record.RootURI(); root != "" {
		return root
	}
	return uri
}

// indexChildren groups every in-thread candidate by its parent.
func (a *assembler) indexChildren(anchor string, uris []string) {
	a.children = make(map[string][]string)
	seen := map[string]bool{anchor: true}
	for _, uri := range uris {
		if seen[uri] {
			continue
		}
		seen[uri] = true
		p, ok := a.s.Posts.Get(uri)
		if !ok || rootOf(uri, p) != a.root {
			continue
		}
		if parent := p.Record.ParentURI(); parent != "" {
			a.children[parent] = append(a.children[parent], uri)
		}
	}
}

// ancestors walks parent links up from the anchor. The walk stops at the
// hop limit, at a missing or blocked parent, or at a parent from another
// thread.
func (a *assembler) ancestors(anchorPost hydration.Post) []Node {
	var up []Node // nearest first
	cur := anchorPost
	for hop := 1; hop <= a.opts.Above; hop++ {
		parent := cur.Record.ParentURI()
		if parent == "" {
			break
		}
		depth := -hop
		p, ok := a.s.Posts.Get(parent)
		if !ok {
			up = append(up, &NotFoundNode{base: base{parent, depth}})
			break
		}
		if rootOf(parent, p) != a.root {
			break
		}
		if a.blocked(parent) {
			up = append(up, &BlockedNode{base: base{parent, depth}, Author: a.blockedAuthor(parent)})
			break
		}
		if views.NoUnauthenticated(a.s, bluesky.DIDFromURI(parent)) {
			up = append(up, &UnknownNode{base: base{parent, depth}, Reason: ReasonNoUnauthenticated})
		} else if node := a.postNode(parent, p, depth); node != nil {
			up = append(up, node)
		} else {
			up = append(up, &NotFoundNode{base: base{parent, depth}})
			break
		}
		cur = p
		if hop == a.opts.Above && p.Record.ParentURI() != "" {
			if top, ok := up[len(up)-1].(*PostNode); ok {
				top.MoreParents = true
			}
		}
	}

	out := make([]Node, len(up))
	for i, n := range up {
		out[len(up)-1-i] = n
	}
	// Contiguity is only known when the walk reached the root.
	reachedRoot := len(out) > 0 && out[0].URI() == a.root
	prev := false
	for i, n := range out {
		p, ok := n.(*PostNode)
		if !ok {
			prev = false
			continue
		}
		p.OpThread = reachedRoot && p.Author == a.op && (i == 0 || prev)
		prev = p.OpThread
	}
	return out
}

func parentOpThread(ancestors []Node) bool {
	if len(ancestors) == 0 {
		return false
	}
	p, ok := ancestors[len(ancestors)-1].(*PostNode)
	return ok && p.OpThread
}

// descend attaches replies below node down to the depth limit.
func (a *assembler) descend(node *PostNode, uri string) {
	kids := a.children[uri]
	if node.Depth() >= a.opts.Below {
		agg, _ := a.s.PostAggs.Get(uri)
		node.MoreReplies = max(int64(len(kids)), agg.Replies)
		return
	}
	for _, child := range kids {
		node.Replies = append(node.Replies, a.reply(child, node))
	}
}

func (a *assembler) reply(uri string, parent *PostNode) Node {
	depth := parent.Depth() + 1
	author := bluesky.DIDFromURI(uri)
	p, ok := a.s.Posts.Get(uri)
	switch {
	case !ok:
		return &NotFoundNode{base: base{uri, depth}}
	case a.blocked(uri):
		return &BlockedNode{base: base{uri, depth}, Author: a.blockedAuthor(uri)}
	case views.NoUnauthenticated(a.s, author):
		return &UnknownNode{base: base{uri, depth}, Reason: ReasonNoUnauthenticated}
	case views.HiddenByThreadgate(a.s, a.root, uri):
		return &UnknownNode{base: base{uri, depth}, Reason: ReasonHidden}
	case views.NeedsReview(a.s, uri):
		return &UnknownNode{base: base{uri, depth}, Reason: ReasonNeedsReview}
	case views.ViewerMuteExists(a.s, author):
		return &UnknownNode{base: base{uri, depth}, Reason: ReasonMuted}
	}
	node := a.postNode(uri, p, depth)
	if node == nil {
		return &NotFoundNode{base: base{uri, depth}}
	}
	node.OpThread = parent.OpThread && node.Author == a.op
	a.descend(node, uri)
	return node
}

func (a *assembler) postNode(uri string, p hydration.Post, depth int) *PostNode {
	pv := a.v.Post(a.s, uri)
	if pv == nil {
		return nil
	}
	author := bluesky.DIDFromURI(uri)
	agg, _ := a.s.PostAggs.Get(uri)
	tc, _ := a.s.ThreadContexts.Get(uri)
	return &PostNode{
		base:             base{uri, depth},
		Post:             pv,
		Author:           author,
		IndexedAt:        p.IndexedAt,
		Likes:            agg.Likes,
		HasOPLike:        tc.RootAuthorLike != "",
		Pinned:           p.Record.IsPinnedSentinel(),
		FollowedByViewer: views.ViewerFollows(a.s, author),
	}
}

func (a *assembler) blocked(uri string) bool {
	return views.ViewerBlockExists(a.s, bluesky.DIDFromURI(uri)) || views.ThirdPartyBlocked(a.s, uri)
}

func (a *assembler) blockedAuthor(uri string) views.BlockedAuthor {
	return a.v.BlockedPost(a.s, uri).Author
}
