package views

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
	"github.com/blackmichael/bluesky-appview/internal/dataplane/dataplanetest"
	"github.com/blackmichael/bluesky-appview/internal/hydration"
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

func newStore() *dataplanetest.Store {
	s := dataplanetest.New()
	s.AddActor(alice, "alice.test", dataplanetest.WithDisplayName("Alice"))
	s.AddActor(bob, "bob.test")
	s.AddActor(carol, "carol.test")
	s.AddActor(viewer, "viewer.test")
	s.AddActor(labeler, "labeler.test", dataplanetest.AsLabeler())
	s.AddActor(verifier, "verifier.test", dataplanetest.AsTrustedVerifier())
	return s
}

func hctx(v string) hydration.Context {
	return hydration.Context{Viewer: v, Labelers: hydration.Labelers{DIDs: []string{labeler}}}
}

func hydratePosts(t *testing.T, s *dataplanetest.Store, v string, uris ...string) hydration.State {
	t.Helper()
	st, err := hydration.New(s).HydratePosts(context.Background(), uris, hctx(v))
	require.NoError(t, err)
	return st
}

func TestPostView(t *testing.T) {
	s := newStore()
	post := s.AddPost(alice, "hello", dataplanetest.Epoch)
	like := s.AddLike(viewer, post, dataplanetest.Epoch)
	s.AddLike(bob, post, dataplanetest.Epoch)
	s.AddLabel(labeler, post, "spam")

	st := hydratePosts(t, s, viewer, post)
	pv := New().Post(&st, post)
	require.NotNil(t, pv)
	assert.Equal(t, post, pv.URI)
	assert.Equal(t, alice, pv.Author.DID)
	assert.Equal(t, "Alice", pv.Author.DisplayName)
	assert.Equal(t, int64(2), pv.LikeCount)
	assert.Equal(t, "hello", pv.Record.Text)
	assert.Equal(t, "2024-06-01T12:00:00.000Z", pv.IndexedAt)
	require.NotNil(t, pv.Viewer)
	assert.Equal(t, like, pv.Viewer.Like)
	require.Len(t, pv.Labels, 1)
	assert.Equal(t, "spam", pv.Labels[0].Val)

	loggedOut := hydratePosts(t, s, "", post)
	pv = New().Post(&loggedOut, post)
	require.NotNil(t, pv)
	assert.Nil(t, pv.Viewer)
}

func TestPostNilWhenHidden(t *testing.T) {
	s := newStore()
	post := s.AddPost(alice, "hello", dataplanetest.Epoch)
	gone := s.AddPost(bob, "bye", dataplanetest.Epoch)
	s.DeleteRecord(gone)
	s.AddLabel(labeler, alice, hydration.LabelTakedown)

	st := hydratePosts(t, s, viewer, post, gone)
	assert.Nil(t, New().Post(&st, post))
	assert.Nil(t, New().Post(&st, gone))
	assert.Equal(t, New().NotFoundPost(gone), New().MaybePost(&st, gone))
}

func TestQuoteLayers(t *testing.T) {
	s := newStore()
	a := s.AddPost(alice, "a", dataplanetest.Epoch)
	b := s.AddQuote(bob, a, "b", dataplanetest.Epoch)
	c := s.AddQuote(carol, b, "c", dataplanetest.Epoch)

	st := hydratePosts(t, s, viewer, c)
	pv := New().Post(&st, c)
	require.NotNil(t, pv)

	outer, ok := pv.Embed.(RecordView)
	require.True(t, ok)
	rb, ok := outer.Record.(ViewRecord)
	require.True(t, ok)
	assert.Equal(t, b, rb.URI)
	require.Len(t, rb.Embeds, 1)

	inner, ok := rb.Embeds[0].(RecordView)
	require.True(t, ok)
	ra, ok := inner.Record.(ViewRecord)
	require.True(t, ok)
	assert.Equal(t, a, ra.URI)
	assert.Empty(t, ra.Embeds)
}

func TestQuotePlaceholders(t *testing.T) {
	s := newStore()
	blocked := s.AddPost(bob, "blocked", dataplanetest.Epoch)
	detached := s.AddPost(carol, "detached", dataplanetest.Epoch)
	deleted := s.AddPost(carol, "deleted", dataplanetest.Epoch)
	q1 := s.AddQuote(alice, blocked, "q1", dataplanetest.Epoch)
	q2 := s.AddQuote(alice, detached, "q2", dataplanetest.Epoch)
	q3 := s.AddQuote(alice, deleted, "q3", dataplanetest.Epoch)
	s.AddBlock(viewer, bob)
	s.AddPostgate(detached, &bluesky.PostgateRecord{DetachedEmbeddingURIs: []string{q2}})
	s.DeleteRecord(deleted)

	st := hydratePosts(t, s, viewer, q1, q2, q3)
	v := New()

	embedOf := func(uri string) any {
		pv := v.Post(&st, uri)
		require.NotNil(t, pv)
		rv, ok := pv.Embed.(RecordView)
		require.True(t, ok)
		return rv.Record
	}

	vb, ok := embedOf(q1).(ViewBlocked)
	require.True(t, ok)
	assert.Equal(t, bob, vb.Author.DID)
	assert.Equal(t, TypeViewBlocked, vb.Type)

	vd, ok := embedOf(q2).(ViewDetached)
	require.True(t, ok)
	assert.True(t, vd.Detached)

	vn, ok := embedOf(q3).(ViewNotFound)
	require.True(t, ok)
	assert.Equal(t, deleted, vn.URI)
}

func TestQuoteBlockedBetweenAuthors(t *testing.T) {
	s := newStore()
	quoted := s.AddPost(bob, "quoted", dataplanetest.Epoch)
	quote := s.AddQuote(alice, quoted, "quote", dataplanetest.Epoch)
	s.AddBlock(bob, alice)

	st := hydratePosts(t, s, "", quote)
	pv := New().Post(&st, quote)
	require.NotNil(t, pv)
	_, ok := pv.Embed.(RecordView).Record.(ViewBlocked)
	assert.True(t, ok)
}

func TestQuotedFeedGenerator(t *testing.T) {
	s := newStore()
	gen := s.AddFeedGenerator(bob, "cats", "Cats")
	quote := s.AddQuote(alice, gen, "look", dataplanetest.Epoch)

	st := hydratePosts(t, s, viewer, quote)
	pv := New().Post(&st, quote)
	require.NotNil(t, pv)
	gv, ok := pv.Embed.(RecordView).Record.(*GeneratorView)
	require.True(t, ok)
	assert.Equal(t, TypeGeneratorView, gv.Type)
	assert.Equal(t, "Cats", gv.DisplayName)
	assert.Equal(t, bob, gv.Creator.DID)
}

func TestReplyDisabled(t *testing.T) {
	s := newStore()
	root := s.AddPost(alice, "gated", dataplanetest.Epoch)
	list := s.AddList(alice, bluesky.ListPurposeCuration, "friends")
	s.AddListItem(list, carol)
	s.AddThreadgate(root, &bluesky.ThreadgateRecord{Allow: []bluesky.ThreadgateRule{
		{Type: bluesky.ThreadgateListRule, List: list},
	}})

	for _, tc := range []struct {
		viewer   string
		disabled bool
	}{
		{viewer: viewer, disabled: true},
		{viewer: alice, disabled: false},
		{viewer: carol, disabled: false},
	} {
		st := hydratePosts(t, s, tc.viewer, root)
		pv := New().Post(&st, root)
		require.NotNil(t, pv)
		assert.Equal(t, tc.disabled, pv.Viewer.ReplyDisabled, tc.viewer)
		require.NotNil(t, pv.Threadgate)
		require.Len(t, pv.Threadgate.Lists, 1)
		assert.Equal(t, "friends", pv.Threadgate.Lists[0].Name)
	}
}

func TestReplyDisabledByFollowerRule(t *testing.T) {
	s := newStore()
	root := s.AddPost(alice, "followers only", dataplanetest.Epoch)
	s.AddThreadgate(root, &bluesky.ThreadgateRecord{Allow: []bluesky.ThreadgateRule{
		{Type: bluesky.ThreadgateFollowerRule},
	}})
	st := hydratePosts(t, s, viewer, root)
	assert.True(t, ReplyDisabled(&st, root))

	s.AddFollow(viewer, alice)
	st = hydratePosts(t, s, viewer, root)
	assert.False(t, ReplyDisabled(&st, root))
}

func TestEmbeddingDisabled(t *testing.T) {
	s := newStore()
	post := s.AddPost(alice, "no quotes", dataplanetest.Epoch)
	s.AddPostgate(post, &bluesky.PostgateRecord{EmbeddingRules: []bluesky.PostgateEmbedding{{Type: bluesky.PostgateDisableRule}}})

	st := hydratePosts(t, s, viewer, post)
	assert.True(t, New().Post(&st, post).Viewer.EmbeddingDisabled)

	st = hydratePosts(t, s, alice, post)
	assert.False(t, New().Post(&st, post).Viewer.EmbeddingDisabled)
}

func TestProfileViewerHidesFollowsAcrossBlock(t *testing.T) {
	s := newStore()
	s.AddFollow(viewer, alice)
	s.AddFollow(viewer, bob)
	s.AddBlock(bob, viewer)

	st, err := hydration.New(s).HydrateProfiles(context.Background(), []string{alice, bob}, hctx(viewer))
	require.NoError(t, err)
	v := New()

	a := v.Profile(&st, alice)
	require.NotNil(t, a)
	assert.NotEmpty(t, a.Viewer.Following)
	assert.False(t, a.Viewer.BlockedBy)

	b := v.Profile(&st, bob)
	require.NotNil(t, b)
	assert.True(t, b.Viewer.BlockedBy)
	assert.Empty(t, b.Viewer.Following)
}

func TestProfileBlockingByList(t *testing.T) {
	s := newStore()
	list := s.AddList(carol, bluesky.ListPurposeModeration, "bad actors")
	s.AddListItem(list, bob)
	s.AddListBlock(viewer, list)

	st, err := hydration.New(s).HydrateProfiles(context.Background(), []string{bob}, hctx(viewer))
	require.NoError(t, err)
	p := New().Profile(&st, bob)
	require.NotNil(t, p)
	require.NotNil(t, p.Viewer.BlockingByList)
	assert.Equal(t, "bad actors", p.Viewer.BlockingByList.Name)
	assert.NotEmpty(t, p.Viewer.Blocking)
	assert.True(t, ViewerBlocking(&st, bob))
}

func TestVerification(t *testing.T) {
	s := newStore()
	s.AddVouch(verifier, alice, "alice.test")
	s.AddVouch(verifier, bob, "old-bob.test")
	s.AddVouch(carol, carol, "carol.test")

	st, err := hydration.New(s).HydrateProfiles(context.Background(), []string{alice, bob, carol, verifier}, hctx(viewer))
	require.NoError(t, err)
	v := New()

	va := v.ProfileBasic(&st, alice).Verification
	require.NotNil(t, va)
	assert.Equal(t, "valid", va.VerifiedStatus)
	require.Len(t, va.Verifications, 1)
	assert.True(t, va.Verifications[0].IsValid)

	vb := v.ProfileBasic(&st, bob).Verification
	require.NotNil(t, vb)
	assert.Equal(t, "invalid", vb.VerifiedStatus)

	// Vouches from issuers that are not trusted verifiers do not count.
	assert.Nil(t, v.ProfileBasic(&st, carol).Verification)

	vv := v.ProfileBasic(&st, verifier).Verification
	require.NotNil(t, vv)
	assert.Equal(t, "valid", vv.TrustedStatus)
}

func TestProfileDetailed(t *testing.T) {
	s := newStore()
	s.AddFollow(viewer, bob)
	s.AddFollow(bob, alice)
	s.AddFollow(carol, alice)
	s.AddPost(alice, "one", dataplanetest.Epoch)
	s.SetActivitySubscription(viewer, alice, dataplane.ActivitySubscription{Post: true})

	st, err := hydration.New(s).HydrateProfilesDetailed(context.Background(), []string{alice}, hctx(viewer))
	require.NoError(t, err)
	p := New().ProfileDetailed(&st, alice)
	require.NotNil(t, p)
	assert.Equal(t, int64(2), p.FollowersCount)
	assert.Equal(t, int64(1), p.PostsCount)
	require.NotNil(t, p.Viewer.KnownFollowers)
	assert.Equal(t, 1, p.Viewer.KnownFollowers.Count)
	require.Len(t, p.Viewer.KnownFollowers.Followers, 1)
	assert.Equal(t, bob, p.Viewer.KnownFollowers.Followers[0].DID)
	assert.Equal(t, &ActivitySubscriptionView{Post: true}, p.Viewer.ActivitySubscription)
}

func TestFeedViewPost(t *testing.T) {
	s := newStore()
	root := s.AddPost(alice, "root", dataplanetest.Epoch)
	parent := s.AddReply(bob, root, root, "parent", dataplanetest.Epoch.Add(time.Minute))
	reply := s.AddReply(carol, root, parent, "reply", dataplanetest.Epoch.Add(2*time.Minute))
	repost := s.AddRepost(bob, reply, dataplanetest.Epoch.Add(3*time.Minute))

	items := []dataplane.FeedItem{{Post: reply, Repost: repost}, {Post: root, AuthorPinned: true}}
	st, err := hydration.New(s).HydrateFeedItems(context.Background(), items, hctx(viewer))
	require.NoError(t, err)
	v := New()

	fv := v.FeedViewPost(&st, items[0])
	require.NotNil(t, fv)
	reason, ok := fv.Reason.(ReasonRepost)
	require.True(t, ok)
	assert.Equal(t, bob, reason.By.DID)
	require.NotNil(t, fv.Reply)
	assert.Equal(t, root, fv.Reply.Root.(*PostView).URI)
	assert.Equal(t, parent, fv.Reply.Parent.(*PostView).URI)
	require.NotNil(t, fv.Reply.GrandparentAuthor)
	assert.Equal(t, alice, fv.Reply.GrandparentAuthor.DID)

	pinned := v.FeedViewPost(&st, items[1])
	require.NotNil(t, pinned)
	assert.Equal(t, ReasonPin{Type: TypeReasonPin}, pinned.Reason)
	assert.Nil(t, pinned.Reply)
}

func TestFeedViewPostBlockedParent(t *testing.T) {
	s := newStore()
	root := s.AddPost(bob, "root", dataplanetest.Epoch)
	reply := s.AddReply(alice, root, root, "reply", dataplanetest.Epoch)
	s.AddBlock(viewer, bob)

	items := []dataplane.FeedItem{{Post: reply}}
	st, err := hydration.New(s).HydrateFeedItems(context.Background(), items, hctx(viewer))
	require.NoError(t, err)
	fv := New().FeedViewPost(&st, items[0])
	require.NotNil(t, fv)
	bp, ok := fv.Reply.Parent.(BlockedPost)
	require.True(t, ok)
	assert.Equal(t, bob, bp.Author.DID)
	require.NotNil(t, bp.Author.Viewer)
	assert.NotEmpty(t, bp.Author.Viewer.Blocking)
}

func TestNeedsReview(t *testing.T) {
	s := newStore()
	flagged := s.AddPost(bob, "flagged", dataplanetest.Epoch)
	byAuthor := s.AddPost(carol, "author flagged", dataplanetest.Epoch)
	s.AddLabel(labeler, flagged, hydration.LabelNeedsReview)
	s.AddLabel(labeler, carol, hydration.LabelNeedsReview)

	st := hydratePosts(t, s, viewer, flagged, byAuthor)
	assert.True(t, NeedsReview(&st, flagged))
	assert.True(t, NeedsReview(&st, byAuthor))

	st = hydratePosts(t, s, bob, flagged)
	assert.False(t, NeedsReview(&st, flagged), "authors see their own content")

	s.AddFollow(viewer, carol)
	st = hydratePosts(t, s, viewer, byAuthor)
	assert.False(t, NeedsReview(&st, byAuthor), "followed authors are exempt")
}

func TestImageURLs(t *testing.T) {
	blob := &bluesky.BlobRef{}
	blob.Ref.Link = "bafkreiabc"
	v := New(WithImageCDN("https://img.example.com/"))
	assert.Equal(t, "https://img.example.com/img/avatar/plain/did:plc:alice/bafkreiabc@jpeg", v.imageURL(PresetAvatar, alice, blob))
	assert.Empty(t, v.imageURL(PresetAvatar, alice, nil))
	assert.Equal(t, "https://cdn.bsky.app/img/feed_thumbnail/plain/did:plc:alice/bafkreiabc@jpeg", New().imageURL(PresetFeedThumbnail, alice, blob))
}

func TestLikeAndNotification(t *testing.T) {
	s := newStore()
	post := s.AddPost(viewer, "mine", dataplanetest.Epoch)
	like := s.AddLike(alice, post, dataplanetest.Epoch.Add(time.Hour))

	st, err := hydration.New(s).HydrateLikes(context.Background(), []string{like}, hctx(viewer))
	require.NoError(t, err)
	lv := New().Like(&st, like)
	require.NotNil(t, lv)
	assert.Equal(t, alice, lv.Actor.DID)
	assert.Equal(t, "2024-06-01T13:00:00.000Z", lv.CreatedAt)

	n := dataplane.Notification{URI: like, Recipient: viewer, Author: alice, Reason: dataplane.ReasonLike, ReasonSubject: post, SortAt: dataplanetest.Epoch.Add(time.Hour)}
	st, err = hydration.New(s).HydrateNotifications(context.Background(), []dataplane.Notification{n}, hctx(viewer))
	require.NoError(t, err)
	nv := New().Notification(&st, n, dataplanetest.Epoch)
	require.NotNil(t, nv)
	assert.False(t, nv.IsRead)
	assert.Equal(t, post, nv.ReasonSubject)
	assert.True(t, New().Notification(&st, n, dataplanetest.Epoch.Add(2*time.Hour)).IsRead)
}
