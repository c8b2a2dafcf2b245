package hydration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
	"github.com/blackmichael/bluesky-appview/internal/dataplane/dataplanetest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	alice    = "did:plc:alice"
	bob      = "did:plc:bob"
	carol    = "did:plc:carol"
	viewer   = "did:plc:viewer"
	labeler  = "did:plc:labeler"
	verifier = "did:plc:verifier"
)

var postsMethod = "GetRecords:" + bluesky.CollectionPost

func newStore() *dataplanetest.Store {
	s := dataplanetest.New()
	s.AddActor(alice, "alice.test")
	s.AddActor(bob, "bob.test")
	s.AddActor(carol, "carol.test")
	s.AddActor(viewer, "viewer.test")
	s.AddActor(labeler, "labeler.test", dataplanetest.AsLabeler())
	s.AddActor(verifier, "verifier.test", dataplanetest.AsTrustedVerifier())
	return s
}

func labelCtx() Context {
	return Context{Viewer: viewer, Labelers: Labelers{DIDs: []string{labeler}}}
}

func TestGetPostsSkipsKnown(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	p1 := s.AddPost(alice, "one", dataplanetest.Epoch)
	p2 := s.AddPost(bob, "two", dataplanetest.Epoch)
	h := New(s)

	first, err := h.Feed.GetPosts(ctx, []string{p1, p2, p1}, false, nil)
	require.NoError(t, err)
	require.Equal(t, 2, first.Len())
	require.Equal(t, 1, s.Calls(postsMethod))

	again, err := h.Feed.GetPosts(ctx, []string{p2, p1}, false, first)
	require.NoError(t, err)
	require.Equal(t, 1, s.Calls(postsMethod))
	require.Equal(t, 2, again.Len())
}

func TestGetPostsTombstonesMissing(t *testing.T) {
	s := newStore()
	missing := bluesky.MakeURI(alice, bluesky.CollectionPost, "gone")
	h := New(s)

	posts, err := h.Feed.GetPosts(context.Background(), []string{missing}, false, nil)
	require.NoError(t, err)
	require.True(t, posts.IsTombstone(missing))
}

func TestProfileViewerOfSelfSkipsUpstream(t *testing.T) {
	s := newStore()
	h := New(s)

	viewers, err := h.Actor.GetProfileViewers(context.Background(), viewer, []string{viewer}, nil)
	require.NoError(t, err)
	v, ok := viewers.Get(viewer)
	require.True(t, ok)
	require.Equal(t, ProfileViewer{}, v)
	require.Zero(t, s.Calls("GetRelationships"))
}

func TestGetActorsStatuses(t *testing.T) {
	s := newStore()
	s.AddActor("did:plc:deact", "deact.test", dataplanetest.WithStatus(dataplane.StatusDeactivated))
	s.AddActor("did:plc:gone", "gone.test", dataplanetest.WithStatus(dataplane.StatusTakendown))
	s.AddActor("did:plc:ref", "ref.test", dataplanetest.WithTakedown("mod-1"))
	h := New(s)
	dids := []string{"did:plc:deact", "did:plc:gone", "did:plc:ref", "did:plc:nobody"}

	actors, err := h.Actor.GetActors(context.Background(), dids, false, nil)
	require.NoError(t, err)
	_, ok := actors.Get("did:plc:deact")
	require.True(t, ok)
	for _, did := range dids[1:] {
		require.True(t, actors.IsTombstone(did), did)
	}

	actors, err = h.Actor.GetActors(context.Background(), dids, true, nil)
	require.NoError(t, err)
	_, ok = actors.Get("did:plc:ref")
	require.True(t, ok)
	require.True(t, actors.IsTombstone("did:plc:nobody"))
}

func TestBestEffortTimeoutDegrades(t *testing.T) {
	s := newStore()
	s.AddFollow(viewer, bob)
	s.AddFollow(bob, alice)
	s.SetDelay("GetFollowsFollowing", time.Second)
	h := New(s, WithBestEffortTimeout(20*time.Millisecond))

	start := time.Now()
	state, err := h.HydrateProfilesDetailed(context.Background(), []string{alice}, labelCtx())
	require.NoError(t, err)
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.False(t, state.KnownFollowers.Has(alice))
	_, ok := state.Actors.Get(alice)
	require.True(t, ok)
}

func TestKnownFollowers(t *testing.T) {
	s := newStore()
	s.AddFollow(viewer, bob)
	s.AddFollow(bob, alice)
	h := New(s)

	state, err := h.HydrateProfilesDetailed(context.Background(), []string{alice}, labelCtx())
	require.NoError(t, err)
	kf, ok := state.KnownFollowers.Get(alice)
	require.True(t, ok)
	require.Equal(t, KnownFollowers{Count: 1, Followers: []string{bob}}, kf)
	_, ok = state.Actors.Get(bob)
	require.True(t, ok)
}

func TestHydrationErrorPropagates(t *testing.T) {
	s := newStore()
	p := s.AddPost(alice, "hi", dataplanetest.Epoch)
	s.FailOn("GetPostCounts", errors.New("boom"))
	h := New(s)

	_, err := h.HydratePosts(context.Background(), []string{p}, labelCtx())
	require.ErrorContains(t, err, "boom")
}

func TestTakedownLabelTombstones(t *testing.T) {
	s := newStore()
	p := s.AddPost(alice, "bad", dataplanetest.Epoch)
	s.AddLabel(labeler, p, LabelTakedown)
	h := New(s)

	state, err := h.HydratePosts(context.Background(), []string{p}, labelCtx())
	require.NoError(t, err)
	require.True(t, state.Posts.IsTombstone(p))

	state, err = h.HydratePosts(context.Background(), []string{p}, labelCtx().WithIncludeTakedowns(true))
	require.NoError(t, err)
	_, ok := state.Posts.Get(p)
	require.True(t, ok)
}

func TestLabelsFromUnacceptedLabelerIgnored(t *testing.T) {
	s := newStore()
	p := s.AddPost(alice, "fine", dataplanetest.Epoch)
	s.AddLabel("did:plc:rando", p, LabelTakedown)
	h := New(s)

	state, err := h.HydratePosts(context.Background(), []string{p}, labelCtx())
	require.NoError(t, err)
	_, ok := state.Posts.Get(p)
	require.True(t, ok)
	require.True(t, state.Labels.Has(p))
}

func TestHydratePostsQuotesTwoLayers(t *testing.T) {
	s := newStore()
	d := s.AddPost(carol, "d", dataplanetest.Epoch)
	c := s.AddQuote(bob, d, "c", dataplanetest.Epoch)
	b := s.AddQuote(alice, c, "b", dataplanetest.Epoch)
	a := s.AddQuote(carol, b, "a", dataplanetest.Epoch)
	h := New(s)

	state, err := h.HydratePosts(context.Background(), []string{a}, labelCtx())
	require.NoError(t, err)
	for _, uri := range []string{a, b, c} {
		_, ok := state.Posts.Get(uri)
		require.True(t, ok, uri)
	}
	require.False(t, state.Posts.Has(d))
	require.True(t, state.PostAggs.Has(b))
	require.False(t, state.PostAggs.Has(c))
}

func TestHydratePostsBlocks(t *testing.T) {
	s := newStore()
	root := s.AddPost(alice, "root", dataplanetest.Epoch)
	reply := s.AddReply(bob, root, root, "reply", dataplanetest.Epoch.Add(time.Minute))
	s.AddBlock(alice, bob)
	h := New(s)

	state, err := h.HydratePosts(context.Background(), []string{reply}, labelCtx())
	require.NoError(t, err)
	pb, ok := state.PostBlocks.Get(reply)
	require.True(t, ok)
	require.Equal(t, PostBlock{Parent: true, Root: true}, pb)
	_, ok = state.Actors.Get(alice)
	require.True(t, ok)
}

func TestHydratePostsThreadgateLists(t *testing.T) {
	s := newStore()
	list := s.AddList(alice, bluesky.ListPurposeCuration, "friends")
	s.AddListItem(list, viewer)
	root := s.AddPost(alice, "gated", dataplanetest.Epoch)
	s.AddThreadgate(root, &bluesky.ThreadgateRecord{
		Allow: []bluesky.ThreadgateRule{{Type: bluesky.ThreadgateListRule, List: list}},
	})
	h := New(s)

	state, err := h.HydratePosts(context.Background(), []string{root}, labelCtx())
	require.NoError(t, err)
	_, ok := state.Threadgates.Get(bluesky.ThreadgateURIForPost(root))
	require.True(t, ok)
	_, ok = state.Lists.Get(list)
	require.True(t, ok)
	item, ok := state.ListMemberships.Get(list, viewer)
	require.True(t, ok)
	require.NotEmpty(t, item)
}

func TestProfileViewersDropNonModerationLists(t *testing.T) {
	s := newStore()
	curate := s.AddList(carol, bluesky.ListPurposeCuration, "cool")
	mod := s.AddList(carol, bluesky.ListPurposeModeration, "spam")
	s.AddListItem(curate, alice)
	s.AddListItem(mod, bob)
	s.AddListMute(viewer, curate)
	s.AddListMute(viewer, mod)
	h := New(s)

	state, err := h.HydrateProfileViewers(context.Background(), []string{alice, bob}, labelCtx())
	require.NoError(t, err)
	a, _ := state.ProfileViewers.Get(alice)
	require.Empty(t, a.MutedByList)
	b, _ := state.ProfileViewers.Get(bob)
	require.Equal(t, mod, b.MutedByList)
}

func TestHydrateProfilesVouchIssuers(t *testing.T) {
	s := newStore()
	s.AddVouch(verifier, alice, "alice.test")
	h := New(s)

	state, err := h.HydrateProfiles(context.Background(), []string{alice}, labelCtx())
	require.NoError(t, err)
	require.Equal(t, 1, state.Vouches.Lookup(alice).Len())
	issuer, ok := state.Actors.Get(verifier)
	require.True(t, ok)
	require.True(t, issuer.TrustedVerifier)
}

func TestCreateContextFiltersLabelers(t *testing.T) {
	s := newStore()
	h := New(s, WithServiceLabelers([]string{"did:plc:service"}))
	requested := ParseLabelersHeader(labeler + ";redact," + alice + ",did:plc:service,did:plc:unknown")

	hctx, err := h.CreateContext(context.Background(), Context{Labelers: requested})
	require.NoError(t, err)
	require.Equal(t, []string{labeler, "did:plc:service"}, hctx.Labelers.DIDs)
	require.True(t, hctx.Labelers.Redact[labeler])
}

func TestGetRepoRevSafe(t *testing.T) {
	s := newStore()
	s.SetRev(viewer, "3kabc")
	h := New(s, WithBestEffortTimeout(20*time.Millisecond))
	require.Equal(t, "3kabc", h.GetRepoRevSafe(context.Background(), viewer))

	s.SetDelay("GetLatestRev", time.Second)
	require.Empty(t, h.GetRepoRevSafe(context.Background(), viewer))
}

func TestHydrateFeedItemsIncludesReplyRefsAndReposts(t *testing.T) {
	s := newStore()
	root := s.AddPost(alice, "root", dataplanetest.Epoch)
	reply := s.AddReply(bob, root, root, "reply", dataplanetest.Epoch.Add(time.Minute))
	repost := s.AddRepost(carol, reply, dataplanetest.Epoch.Add(2*time.Minute))
	h := New(s)

	state, err := h.HydrateFeedItems(context.Background(), []dataplane.FeedItem{{Post: reply, Repost: repost}}, labelCtx())
	require.NoError(t, err)
	_, ok := state.Posts.Get(root)
	require.True(t, ok)
	_, ok = state.Reposts.Get(repost)
	require.True(t, ok)
	_, ok = state.Actors.Get(carol)
	require.True(t, ok)
	// The reply is fetched once; the second call only asks for the root.
	require.Equal(t, 2, s.Calls(postsMethod))
}

func TestHydrateThreadPostsRootAuthorLike(t *testing.T) {
	s := newStore()
	root := s.AddPost(alice, "root", dataplanetest.Epoch)
	liked := s.AddReply(bob, root, root, "liked", dataplanetest.Epoch.Add(time.Minute))
	plain := s.AddReply(carol, root, root, "plain", dataplanetest.Epoch.Add(2*time.Minute))
	like := s.AddLike(alice, liked, dataplanetest.Epoch.Add(3*time.Minute))
	h := New(s)

	state, err := h.HydrateThreadPosts(context.Background(), []string{root, liked, plain}, labelCtx())
	require.NoError(t, err)
	tc, _ := state.ThreadContexts.Get(liked)
	require.Equal(t, like, tc.RootAuthorLike)
	tc, _ = state.ThreadContexts.Get(plain)
	require.Empty(t, tc.RootAuthorLike)
}

func TestMergeStatesKeepsContext(t *testing.T) {
	a := State{Ctx: Context{Viewer: viewer}, Posts: NewMap[string, Post]().Tombstone("x")}
	b := State{Actors: NewMap[string, Actor]().Tombstone(alice)}

	got := MergeStates(a, b)
	require.Equal(t, viewer, got.Ctx.Viewer)
	require.True(t, got.Posts.IsTombstone("x"))
	require.True(t, got.Actors.IsTombstone(alice))
	require.Nil(t, got.Likes)
}
