package thread

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"
)

// Sort is a reply ordering.
type Sort string

const (
	SortOldest    Sort = "oldest"
	SortNewest    Sort = "newest"
	SortMostLikes Sort = "most-likes"
	SortHotness   Sort = "hotness"
)

// ParseSort maps a request value to a Sort. Unknown values fall back to
// oldest.
func ParseSort(s string) Sort {
	switch Sort(s) {
	case SortNewest, SortMostLikes, SortHotness:
		return Sort(s)
	case "top":
		return SortHotness
	}
	return SortOldest
}

// Hotness scores a reply by likes decayed by age. A like from the thread
// root's author boosts both the like weight and slows the decay.
func Hotness(likes int64, hasOPLike bool, age time.Duration) float64 {
	hours := math.Max(0, age.Hours())
	l := float64(max(likes, 0))
	likeOrder := math.Log(3 + l)
	boost := 1.0
	if hasOPLike {
		likeOrder *= 1.45
		boost = 0.8
	}
	exponent := 1.5 + 1.5/(1+math.Log(1+l))
	return likeOrder / math.Pow(hours+2, exponent*boost)
}

// SortTree returns a copy of t with every reply list ranked and trimmed to the
// branching factor. Ancestors keep their order. t is not modified.
func SortTree(t *Tree, opts Options) *Tree {
	r := ranker{opts: opts, now: opts.now(), op: t.OP, viewer: t.Viewer}
	out := *t
	out.Ancestors = slices.Clone(t.Ancestors)
	out.Anchor = r.node(t.Anchor)
	return &out
}

type ranker struct {
	opts   Options
	now    time.Time
	op     string
	viewer string
}

func (r ranker) node(n Node) Node {
	p, ok := n.(*PostNode)
	if !ok || len(p.Replies) == 0 {
		return n
	}
	cp := *p
	replies := slices.Clone(p.Replies)
	slices.SortStableFunc(replies, r.compare)
	if cp.Depth() != 0 && r.opts.BranchingFactor > 0 && len(replies) > r.opts.BranchingFactor {
		replies = replies[:r.opts.BranchingFactor]
	}
	for i, reply := range replies {
		replies[i] = r.node(reply)
	}
	cp.Replies = replies
	return &cp
}

func (r ranker) compare(x, y Node) int {
	a, aok := x.(*PostNode)
	b, bok := y.(*PostNode)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return 1
	case !bok:
		return -1
	}

	if c, done := prefer(a.Author == r.op, b.Author == r.op); done {
		if c == 0 {
			return a.IndexedAt.Compare(b.IndexedAt)
		}
		return c
	}
	if r.viewer != "" {
		if c, done := prefer(a.Author == r.viewer, b.Author == r.viewer); done {
			if c == 0 {
				return a.IndexedAt.Compare(b.IndexedAt)
			}
			return c
		}
	}
	if a.Pinned != b.Pinned {
		if a.Pinned {
			return 1
		}
		return -1
	}
	if r.opts.PrioritizeFollowedUsers && a.FollowedByViewer != b.FollowedByViewer {
		if a.FollowedByViewer {
			return -1
		}
		return 1
	}

	var c int
	switch r.opts.Sort {
	case SortHotness:
		ha := Hotness(a.Likes, a.HasOPLike, r.now.Sub(a.IndexedAt))
		hb := Hotness(b.Likes, b.HasOPLike, r.now.Sub(b.IndexedAt))
		c = cmp.Compare(hb, ha)
	case SortNewest:
		c = b.IndexedAt.Compare(a.IndexedAt)
	case SortMostLikes:
		c = cmp.Or(cmp.Compare(b.Likes, a.Likes), b.IndexedAt.Compare(a.IndexedAt))
	default:
		c = a.IndexedAt.Compare(b.IndexedAt)
	}
	return cmp.Or(c, strings.Compare(a.URI(), b.URI()))
}

// prefer orders a before b when only a holds. done is false when neither
// holds; when both hold it returns 0 and the caller breaks the tie.
func prefer(a, b bool) (c int, done bool) {
	switch {
	case a && b:
		return 0, true
	case a:
		return -1, true
	case b:
		return 1, true
	}
	return 0, false
}
