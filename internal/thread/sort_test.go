package thread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHotnessValues(t *testing.T) {
	for _, tc := range []struct {
		hours     float64
		likes     int64
		hasOPLike bool
		want      float64
	}{
		{hours: 0, likes: 0, want: 0.1368},
		{hours: 0, likes: 100, want: 1.3586},
		{hours: 12, likes: 5, want: 0.00961},
		{hours: 12, likes: 5, hasOPLike: true, want: 0.04085},
	} {
		got := Hotness(tc.likes, tc.hasOPLike, time.Duration(tc.hours*float64(time.Hour)))
		assert.InEpsilon(t, tc.want, got, 0.01, "hours=%v likes=%d op=%v", tc.hours, tc.likes, tc.hasOPLike)
	}
}

func TestHotnessMonotonic(t *testing.T) {
	for likes := int64(0); likes < 50; likes += 7 {
		prev := Hotness(likes, false, 0)
		for h := 1; h < 72; h += 5 {
			cur := Hotness(likes, false, time.Duration(h)*time.Hour)
			assert.Less(t, cur, prev, "older posts must score lower")
			prev = cur
		}
	}
	for _, age := range []time.Duration{0, time.Hour, 24 * time.Hour} {
		prev := Hotness(0, false, age)
		for likes := int64(1); likes < 500; likes *= 3 {
			cur := Hotness(likes, false, age)
			assert.Greater(t, cur, prev, "more likes must score higher")
			prev = cur
		}
		for _, likes := range []int64{0, 5, 100} {
			assert.Greater(t, Hotness(likes, true, age), Hotness(likes, false, age))
		}
	}
	assert.Equal(t, Hotness(3, false, 0), Hotness(3, false, -time.Hour), "future timestamps clamp to zero age")
}

func post(uri, author string, minute int, likes int64) *PostNode {
	return &PostNode{
		base:      base{uri, 1},
		Author:    author,
		IndexedAt: at(minute),
		Likes:     likes,
	}
}

func tree(replies ...Node) *Tree {
	anchor := &PostNode{base: base{"root", 0}, Author: op, Replies: replies}
	return &Tree{Root: "root", OP: op, Viewer: viewer, Anchor: anchor}
}

func urisOf(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.URI()
	}
	return out
}

func TestSortPrecedence(t *testing.T) {
	pinned := post("pin", alice, 9, 1000)
	pinned.Pinned = true
	followed := post("followed", bob, 1, 0)
	followed.FollowedByViewer = true
	in := tree(
		post("liked", alice, 2, 50),
		&NotFoundNode{base: base{"gone", 1}},
		pinned,
		post("viewer-new", viewer, 8, 0),
		post("op-new", op, 7, 0),
		followed,
		post("viewer-old", viewer, 3, 0),
		post("op-old", op, 4, 0),
	)

	got := SortTree(in, Options{Sort: SortMostLikes})
	assert.Equal(t, []string{"op-old", "op-new", "viewer-old", "viewer-new", "liked", "followed", "pin", "gone"}, urisOf(got.Replies()))

	got = SortTree(in, Options{Sort: SortMostLikes, PrioritizeFollowedUsers: true})
	assert.Equal(t, []string{"op-old", "op-new", "viewer-old", "viewer-new", "followed", "liked", "pin", "gone"}, urisOf(got.Replies()))
}

func TestSortModes(t *testing.T) {
	now := at(60 * 24)
	in := tree(
		post("a", alice, 0, 10),
		post("b", bob, 10, 10),
		post("c", alice, 5, 30),
	)
	for _, tc := range []struct {
		sort Sort
		want []string
	}{
		{sort: SortOldest, want: []string{"a", "c", "b"}},
		{sort: SortNewest, want: []string{"b", "c", "a"}},
		{sort: SortMostLikes, want: []string{"c", "b", "a"}},
		{sort: SortHotness, want: []string{"c", "b", "a"}},
		{sort: "", want: []string{"a", "c", "b"}},
	} {
		got := SortTree(in, Options{Sort: tc.sort, Now: func() time.Time { return now }})
		assert.Equal(t, tc.want, urisOf(got.Replies()), string(tc.sort))
	}
}

func TestSortDoesNotMutate(t *testing.T) {
	child := post("child", alice, 0, 0)
	child.Replies = []Node{post("z", bob, 2, 0), post("y", bob, 1, 0)}
	in := tree(post("late", bob, 9, 0), child)

	out := SortTree(in, Options{Sort: SortOldest})
	assert.Equal(t, []string{"child", "late"}, urisOf(out.Replies()))
	assert.Equal(t, []string{"y", "z"}, urisOf(out.Replies()[0].(*PostNode).Replies))

	assert.Equal(t, []string{"late", "child"}, urisOf(in.Replies()))
	assert.Equal(t, []string{"z", "y"}, urisOf(child.Replies))
}

func TestBranchingFactor(t *testing.T) {
	nested := post("nested", alice, 0, 0)
	nested.Replies = []Node{post("n1", bob, 1, 0), post("n2", bob, 2, 0), post("n3", bob, 3, 0)}
	in := tree(nested, post("d2", bob, 1, 0), post("d3", bob, 2, 0))

	out := SortTree(in, Options{Sort: SortOldest, BranchingFactor: 2})
	require.Len(t, out.Replies(), 3, "direct replies to the anchor are never trimmed")
	assert.Equal(t, []string{"n1", "n2"}, urisOf(out.Replies()[0].(*PostNode).Replies))
}

func TestParseSort(t *testing.T) {
	assert.Equal(t, SortHotness, ParseSort("top"))
	assert.Equal(t, SortHotness, ParseSort("hotness"))
	assert.Equal(t, SortNewest, ParseSort("newest"))
	assert.Equal(t, SortMostLikes, ParseSort("most-likes"))
	assert.Equal(t, SortOldest, ParseSort("bogus"))
}
