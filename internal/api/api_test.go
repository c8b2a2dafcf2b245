package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
	"github.com/blackmichael/bluesky-appview/internal/dataplane/dataplanetest"
	"github.com/blackmichael/bluesky-appview/internal/hydration"
	"github.com/blackmichael/bluesky-appview/internal/views"
	"github.com/blackmichael/bluesky-appview/internal/xrpcerr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	alice      = "did:plc:alice"
	bob        = "did:plc:bob"
	carol      = "did:plc:carol"
	viewer     = "did:plc:viewer"
	labeler    = "did:plc:labeler"
	serviceDID = "did:web:appview.test"
)

var localFeed = bluesky.MakeURI(alice, bluesky.CollectionGenerator, "hot")

func at(minutes int) time.Time {
	return dataplanetest.Epoch.Add(time.Duration(minutes) * time.Minute)
}

func newStore() *dataplanetest.Store {
	s := dataplanetest.New()
	s.AddActor(alice, "alice.test", dataplanetest.WithDisplayName("Alice"))
	s.AddActor(bob, "bob.test")
	s.AddActor(carol, "carol.test")
	s.AddActor(viewer, "viewer.test")
	s.AddActor(labeler, "labeler.test", dataplanetest.AsLabeler())
	return s
}

func newAPI(s *dataplanetest.Store, cfg Config) *API {
	if cfg.ServiceDID == "" {
		cfg.ServiceDID = serviceDID
	}
	if cfg.Feeds == nil {
		cfg.Feeds = []string{localFeed}
	}
	return New(hydration.New(s), views.New(), s, cfg, slog.New(slog.DiscardHandler))
}

func call(t *testing.T, a *API, method, as string, q url.Values) (Response, error) {
	t.Helper()
	h, ok := a.Routes()[method]
	require.True(t, ok, "no route for %s", method)
	return h(context.Background(), Request{Query: q, Viewer: as, Labelers: hydration.Labelers{DIDs: []string{labeler}}})
}

func requireXRPC(t *testing.T, err error, status int, name string) {
	t.Helper()
	var xe *xrpcerr.Error
	require.True(t, errors.As(err, &xe), "want xrpc error, got %v", err)
	assert.Equal(t, status, xe.Status)
	assert.Equal(t, name, xe.Name)
}

func TestMethods(t *testing.T) {
	a := newAPI(newStore(), Config{})
	methods := a.Methods()
	assert.Contains(t, methods, "app.bsky.actor.getProfile")
	assert.Contains(t, methods, "app.bsky.unspecced.getPostThreadV2")
	assert.IsIncreasing(t, methods)
}

func TestGetProfile(t *testing.T) {
	s := newStore()
	s.SetRev(viewer, "3kabc")
	a := newAPI(s, Config{})

	res, err := call(t, a, "app.bsky.actor.getProfile", viewer, url.Values{"actor": {"Alice.Test"}})
	require.NoError(t, err)
	profile, ok := res.Body.(*views.ProfileViewDetailed)
	require.True(t, ok, "unexpected body %T", res.Body)
	assert.Equal(t, alice, profile.DID)
	assert.Equal(t, "Alice", profile.DisplayName)
	assert.Equal(t, "3kabc", res.Headers[HeaderRepoRev])
	assert.Contains(t, res.Headers[HeaderContentLabelers], labeler)
}

func TestGetProfileErrors(t *testing.T) {
	s := newStore()
	s.AddActor("did:plc:gone", "gone.test", dataplanetest.WithStatus(dataplane.StatusDeactivated))
	a := newAPI(s, Config{})

	tests := []struct {
		name   string
		q      url.Values
		status int
		errStr string
	}{
		{name: "missing actor", q: url.Values{}, status: http.StatusBadRequest, errStr: "InvalidRequest"},
		{name: "unknown handle", q: url.Values{"actor": {"nobody.test"}}, status: http.StatusBadRequest, errStr: "NotFound"},
		{name: "deactivated", q: url.Values{"actor": {"did:plc:gone"}}, status: http.StatusBadRequest, errStr: "AccountDeactivated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, a, "app.bsky.actor.getProfile", viewer, tt.q)
			requireXRPC(t, err, tt.status, tt.errStr)
		})
	}
}

func TestGetProfilesSkipsUnknown(t *testing.T) {
	a := newAPI(newStore(), Config{})

	res, err := call(t, a, "app.bsky.actor.getProfiles", "", url.Values{"actors": {"bob.test", "nobody.test", alice}})
	require.NoError(t, err)
	body := res.Body.(ProfilesBody)
	require.Len(t, body.Profiles, 2)
	assert.Equal(t, bob, body.Profiles[0].DID)
	assert.Equal(t, alice, body.Profiles[1].DID)
}

func TestGetPosts(t *testing.T) {
	s := newStore()
	p1 := s.AddPost(alice, "one", at(1))
	p2 := s.AddPost(bob, "two", at(2))
	missing := bluesky.MakeURI(carol, bluesky.CollectionPost, "nope")
	a := newAPI(s, Config{})

	res, err := call(t, a, "app.bsky.feed.getPosts", viewer, url.Values{"uris": {p2, missing, p1}})
	require.NoError(t, err)
	body := res.Body.(PostsBody)
	require.Len(t, body.Posts, 2)
	assert.Equal(t, p2, body.Posts[0].URI)
	assert.Equal(t, p1, body.Posts[1].URI)

	uris := make([]string, maxPosts+1)
	for i := range uris {
		uris[i] = p1
	}
	_, err = call(t, a, "app.bsky.feed.getPosts", viewer, url.Values{"uris": uris})
	requireXRPC(t, err, http.StatusBadRequest, "InvalidRequest")
}

func threadURIs(items []views.ThreadItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.URI
	}
	return out
}

func TestGetPostThread(t *testing.T) {
	s := newStore()
	root := s.AddPost(alice, "root", at(1))
	r1 := s.AddReply(bob, root, root, "first", at(2))
	r2 := s.AddReply(alice, root, r1, "second", at(3))
	a := newAPI(s, Config{})

	res, err := call(t, a, "app.bsky.unspecced.getPostThreadV2", viewer, url.Values{"anchor": {root}})
	require.NoError(t, err)
	body := res.Body.(ThreadBody)
	require.Equal(t, []string{root, r1, r2}, threadURIs(body.Thread))
	for i, it := range body.Thread {
		assert.Equal(t, i, it.Depth)
		_, ok := it.Value.(views.ThreadItemPost)
		assert.True(t, ok, "item %d is %T", i, it.Value)
	}
	assert.False(t, body.HasOtherReplies)

	res, err = call(t, a, "app.bsky.unspecced.getPostThreadV2", viewer, url.Values{"anchor": {r2}})
	require.NoError(t, err)
	body = res.Body.(ThreadBody)
	require.Equal(t, []string{root, r1, r2}, threadURIs(body.Thread))
	assert.Equal(t, []int{-2, -1, 0}, []int{body.Thread[0].Depth, body.Thread[1].Depth, body.Thread[2].Depth})
}

func TestGetPostThreadErrors(t *testing.T) {
	a := newAPI(newStore(), Config{})

	tests := []struct {
		name   string
		q      url.Values
		errStr string
	}{
		{name: "missing anchor", q: url.Values{}, errStr: "InvalidRequest"},
		{name: "not a post", q: url.Values{"anchor": {"at://did:plc:alice/app.bsky.feed.like/1"}}, errStr: "InvalidRequest"},
		{name: "below out of range", q: url.Values{"anchor": {bluesky.MakeURI(alice, bluesky.CollectionPost, "1")}, "below": {"21"}}, errStr: "InvalidRequest"},
		{name: "missing post", q: url.Values{"anchor": {bluesky.MakeURI(alice, bluesky.CollectionPost, "1")}}, errStr: "NotFound"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, a, "app.bsky.unspecced.getPostThreadV2", viewer, tt.q)
			requireXRPC(t, err, http.StatusBadRequest, tt.errStr)
		})
	}
}

func TestGetPostThreadBigThread(t *testing.T) {
	s := newStore()
	root := s.AddPost(alice, "root", at(1))
	r1 := s.AddReply(bob, root, root, "first", at(2))
	s.AddReply(carol, root, r1, "second", at(3))
	a := newAPI(s, Config{BigThreads: []string{root}, BigThreadDepth: 1})

	res, err := call(t, a, "app.bsky.unspecced.getPostThreadV2", viewer, url.Values{"anchor": {root}})
	require.NoError(t, err)
	body := res.Body.(ThreadBody)
	require.Equal(t, []string{root, r1}, threadURIs(body.Thread))
	item := body.Thread[1].Value.(views.ThreadItemPost)
	assert.Equal(t, int64(1), item.MoreReplies)
}

func TestGetPostThreadHiddenReply(t *testing.T) {
	s := newStore()
	root := s.AddPost(alice, "root", at(1))
	visible := s.AddReply(bob, root, root, "kept", at(2))
	hidden := s.AddReply(carol, root, root, "hidden", at(3))
	s.AddThreadgate(root, &bluesky.ThreadgateRecord{Post: root, HiddenReplies: []string{hidden}})
	a := newAPI(s, Config{})

	res, err := call(t, a, "app.bsky.unspecced.getPostThreadV2", viewer, url.Values{"anchor": {root}})
	require.NoError(t, err)
	body := res.Body.(ThreadBody)
	assert.Equal(t, []string{root, visible}, threadURIs(body.Thread))
	assert.True(t, body.HasOtherReplies)
}

func feedURIs(items []*views.FeedViewPost) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Post.URI
	}
	return out
}

func TestGetAuthorFeed(t *testing.T) {
	s := newStore()
	p1 := s.AddPost(alice, "first", at(1))
	p2 := s.AddPost(alice, "second", at(2))
	bobs := s.AddPost(bob, "bob's", at(3))
	s.AddRepost(alice, bobs, at(4))
	s.AddReply(alice, bobs, bobs, "a reply", at(5))
	s.AddActor(alice, "alice.test", dataplanetest.WithPinnedPost(p1))
	a := newAPI(s, Config{})

	res, err := call(t, a, "app.bsky.feed.getAuthorFeed", viewer, url.Values{"actor": {alice}, "filter": {"posts_no_replies"}})
	require.NoError(t, err)
	body := res.Body.(FeedBody)
	assert.Equal(t, []string{bobs, p2, p1}, feedURIs(body.Feed))
	_, ok := body.Feed[0].Reason.(views.ReasonRepost)
	assert.True(t, ok)

	res, err = call(t, a, "app.bsky.feed.getAuthorFeed", viewer, url.Values{"actor": {"alice.test"}, "filter": {"posts_no_replies"}, "includePins": {"true"}})
	require.NoError(t, err)
	body = res.Body.(FeedBody)
	assert.Equal(t, []string{p1, bobs, p2}, feedURIs(body.Feed))
	_, ok = body.Feed[0].Reason.(views.ReasonPin)
	assert.True(t, ok)

	_, err = call(t, a, "app.bsky.feed.getAuthorFeed", viewer, url.Values{"actor": {alice}, "filter": {"everything"}})
	requireXRPC(t, err, http.StatusBadRequest, "InvalidRequest")
}

func TestGetAuthorFeedBlocks(t *testing.T) {
	s := newStore()
	s.AddPost(alice, "hi", at(1))
	s.AddPost(bob, "hi", at(1))
	s.AddBlock(viewer, alice)
	s.AddBlock(bob, viewer)
	a := newAPI(s, Config{})

	_, err := call(t, a, "app.bsky.feed.getAuthorFeed", viewer, url.Values{"actor": {alice}})
	requireXRPC(t, err, http.StatusBadRequest, "BlockedActor")

	_, err = call(t, a, "app.bsky.feed.getAuthorFeed", viewer, url.Values{"actor": {bob}})
	requireXRPC(t, err, http.StatusBadRequest, "BlockedByActor")
}

func TestMalformedCursorsYieldEmptyPage(t *testing.T) {
	for _, cursor := range []string{"1700000000::bafy", "garbage", "notanumber__bafy", "1__2__3"} {
		t.Run(cursor, func(t *testing.T) {
			s := newStore()
			s.AddPost(alice, "hi", at(1))
			s.AddFollow(viewer, alice)
			a := newAPI(s, Config{})

			res, err := call(t, a, "app.bsky.feed.getAuthorFeed", viewer, url.Values{"actor": {alice}, "cursor": {cursor}})
			require.NoError(t, err)
			assert.Empty(t, res.Body.(FeedBody).Feed)
			assert.Empty(t, res.Body.(FeedBody).Cursor)
			assert.Zero(t, s.Calls("GetAuthorFeed"))

			res, err = call(t, a, "app.bsky.feed.getTimeline", viewer, url.Values{"cursor": {cursor}})
			require.NoError(t, err)
			assert.Empty(t, res.Body.(FeedBody).Feed)
			assert.Zero(t, s.Calls("GetTimeline"))

			_, err = call(t, a, "app.bsky.notification.listNotifications", viewer, url.Values{"cursor": {cursor}})
			require.NoError(t, err)
			assert.Zero(t, s.Calls("GetNotifications"))
		})
	}
}

func TestGetAuthorFeedUnknownActor(t *testing.T) {
	a := newAPI(newStore(), Config{})

	_, err := call(t, a, "app.bsky.feed.getAuthorFeed", viewer, url.Values{"actor": {"did:plc:nobody"}})
	requireXRPC(t, err, http.StatusBadRequest, "NotFound")
}

func TestGetTimeline(t *testing.T) {
	s := newStore()
	s.AddFollow(viewer, alice)
	s.AddFollow(viewer, bob)
	fromAlice := s.AddPost(alice, "hello", at(1))
	s.AddPost(bob, "noise", at(2))
	mine := s.AddPost(viewer, "me", at(3))
	s.AddMute(viewer, bob)
	a := newAPI(s, Config{})

	_, err := call(t, a, "app.bsky.feed.getTimeline", "", url.Values{})
	requireXRPC(t, err, http.StatusUnauthorized, "AuthenticationRequired")

	res, err := call(t, a, "app.bsky.feed.getTimeline", viewer, url.Values{})
	require.NoError(t, err)
	assert.Equal(t, []string{mine, fromAlice}, feedURIs(res.Body.(FeedBody).Feed))

	_, err = call(t, a, "app.bsky.feed.getTimeline", viewer, url.Values{"limit": {"0"}})
	requireXRPC(t, err, http.StatusBadRequest, "InvalidRequest")
	_, err = call(t, a, "app.bsky.feed.getTimeline", viewer, url.Values{"limit": {"lots"}})
	requireXRPC(t, err, http.StatusBadRequest, "InvalidRequest")
}

func TestGetTimelineDropsRepliesToBlocked(t *testing.T) {
	s := newStore()
	s.AddFollow(viewer, alice)
	carols := s.AddPost(carol, "blocked root", at(1))
	s.AddReply(alice, carols, carols, "reply into a blocked thread", at(2))
	top := s.AddPost(alice, "top level", at(3))
	s.AddBlock(carol, viewer)
	a := newAPI(s, Config{})

	res, err := call(t, a, "app.bsky.feed.getTimeline", viewer, url.Values{})
	require.NoError(t, err)
	assert.Equal(t, []string{top}, feedURIs(res.Body.(FeedBody).Feed))
}

func TestGetFeed(t *testing.T) {
	s := newStore()
	gen := s.AddFeedGenerator(alice, "hot", "Hot")
	require.Equal(t, localFeed, gen)
	p1 := s.AddPost(bob, "one", at(1))
	p2 := s.AddPost(carol, "two", at(2))
	s.AddFeedItem(gen, p1)
	s.AddFeedItem(gen, p2)
	a := newAPI(s, Config{})

	res, err := call(t, a, "app.bsky.feed.getFeed", viewer, url.Values{"feed": {gen}})
	require.NoError(t, err)
	assert.Equal(t, []string{p2, p1}, feedURIs(res.Body.(FeedBody).Feed))

	res, err = call(t, a, "app.bsky.feed.getFeedSkeleton", "", url.Values{"feed": {gen}, "limit": {"1"}})
	require.NoError(t, err)
	skel := res.Body.(SkeletonBody)
	assert.Equal(t, []SkeletonPost{{Post: p2}}, skel.Feed)
	assert.NotEmpty(t, skel.Cursor)

	_, err = call(t, a, "app.bsky.feed.getFeed", viewer, url.Values{"feed": {bluesky.MakeURI(bob, bluesky.CollectionGenerator, "other")}})
	requireXRPC(t, err, http.StatusBadRequest, "UnknownFeed")
}

func TestDescribeFeedGenerator(t *testing.T) {
	a := newAPI(newStore(), Config{})

	res, err := call(t, a, "app.bsky.feed.describeFeedGenerator", "", url.Values{})
	require.NoError(t, err)
	assert.Equal(t, DescribeFeedGeneratorBody{DID: serviceDID, Feeds: []FeedDescription{{URI: localFeed}}}, res.Body)
}

func TestGetFeedGenerators(t *testing.T) {
	s := newStore()
	gen := s.AddFeedGenerator(alice, "hot", "Hot")
	a := newAPI(s, Config{})

	res, err := call(t, a, "app.bsky.feed.getFeedGenerators", viewer, url.Values{"feeds": {gen, bluesky.MakeURI(bob, bluesky.CollectionGenerator, "gone")}})
	require.NoError(t, err)
	body := res.Body.(FeedGeneratorsBody)
	require.Len(t, body.Feeds, 1)
	assert.Equal(t, gen, body.Feeds[0].URI)
	assert.Equal(t, "Hot", body.Feeds[0].DisplayName)
}

func TestGetLikes(t *testing.T) {
	s := newStore()
	post := s.AddPost(alice, "likeable", at(1))
	fromBob := s.AddLike(bob, post, at(2))
	s.AddLike(carol, post, at(3))
	s.AddBlock(viewer, carol)
	a := newAPI(s, Config{})

	res, err := call(t, a, "app.bsky.feed.getLikes", viewer, url.Values{"uri": {post}})
	require.NoError(t, err)
	body := res.Body.(LikesBody)
	assert.Equal(t, post, body.URI)
	require.Len(t, body.Likes, 1)
	assert.Equal(t, bob, body.Likes[0].Actor.DID)
	assert.NotEmpty(t, fromBob)
}

func TestGetRepostedBy(t *testing.T) {
	s := newStore()
	post := s.AddPost(alice, "repostable", at(1))
	s.AddRepost(bob, post, at(2))
	s.AddRepost(carol, post, at(3))
	a := newAPI(s, Config{})

	res, err := call(t, a, "app.bsky.feed.getRepostedBy", viewer, url.Values{"uri": {post}})
	require.NoError(t, err)
	body := res.Body.(RepostedByBody)
	require.Len(t, body.RepostedBy, 2)
	assert.Equal(t, carol, body.RepostedBy[0].DID)
	assert.Equal(t, bob, body.RepostedBy[1].DID)
}

func TestGetList(t *testing.T) {
	s := newStore()
	list := s.AddList(alice, bluesky.ListPurposeCuration, "friends")
	s.AddListItem(list, bob)
	s.AddListItem(list, carol)
	s.AddBlock(carol, viewer)
	a := newAPI(s, Config{})

	res, err := call(t, a, "app.bsky.graph.getList", viewer, url.Values{"list": {list}})
	require.NoError(t, err)
	body := res.Body.(ListBody)
	assert.Equal(t, "friends", body.List.Name)
	require.Len(t, body.Items, 1)
	assert.Equal(t, bob, body.Items[0].Subject.DID)

	_, err = call(t, a, "app.bsky.graph.getList", viewer, url.Values{"list": {bluesky.MakeURI(alice, bluesky.CollectionList, "gone")}})
	requireXRPC(t, err, http.StatusBadRequest, "NotFound")
}

func TestListNotifications(t *testing.T) {
	s := newStore()
	post := s.AddPost(viewer, "mine", at(1))
	like := s.AddLike(bob, post, at(2))
	reply := s.AddReply(carol, post, post, "hey", at(3))
	s.AddLabel(labeler, carol, hydration.LabelNeedsReview)
	follow := s.AddFollow(alice, viewer)
	s.AddMute(viewer, alice)
	for _, n := range []dataplane.Notification{
		{URI: like, Recipient: viewer, Author: bob, Reason: dataplane.ReasonLike, ReasonSubject: post, SortAt: at(2)},
		{URI: reply, Recipient: viewer, Author: carol, Reason: dataplane.ReasonReply, ReasonSubject: post, SortAt: at(3)},
		{URI: follow, Recipient: viewer, Author: alice, Reason: dataplane.ReasonFollow, SortAt: at(4)},
	} {
		s.AddNotification(n)
	}
	a := newAPI(s, Config{})

	_, err := call(t, a, "app.bsky.notification.listNotifications", "", url.Values{})
	requireXRPC(t, err, http.StatusUnauthorized, "AuthenticationRequired")

	res, err := call(t, a, "app.bsky.notification.listNotifications", viewer, url.Values{})
	require.NoError(t, err)
	body := res.Body.(NotificationsBody)
	require.Len(t, body.Notifications, 1)
	n := body.Notifications[0]
	assert.Equal(t, like, n.URI)
	assert.Equal(t, bob, n.Author.DID)
	assert.False(t, n.IsRead)

	res, err = call(t, a, "app.bsky.notification.listNotifications", viewer, url.Values{"reasons": {dataplane.ReasonFollow}})
	require.NoError(t, err)
	assert.Empty(t, res.Body.(NotificationsBody).Notifications)

	_, err = call(t, a, "app.bsky.notification.listNotifications", viewer, url.Values{"reasons": {"poke"}})
	requireXRPC(t, err, http.StatusBadRequest, "InvalidRequest")
}

func TestListNotificationsFollowedAuthorSkipsReview(t *testing.T) {
	s := newStore()
	post := s.AddPost(viewer, "mine", at(1))
	reply := s.AddReply(carol, post, post, "hey", at(2))
	s.AddLabel(labeler, carol, hydration.LabelNeedsReview)
	s.AddFollow(viewer, carol)
	s.AddNotification(dataplane.Notification{URI: reply, Recipient: viewer, Author: carol, Reason: dataplane.ReasonReply, ReasonSubject: post, SortAt: at(2)})
	a := newAPI(s, Config{})

	res, err := call(t, a, "app.bsky.notification.listNotifications", viewer, url.Values{})
	require.NoError(t, err)
	body := res.Body.(NotificationsBody)
	require.Len(t, body.Notifications, 1)
	assert.Equal(t, reply, body.Notifications[0].URI)
}

func TestGetBookmarks(t *testing.T) {
	s := newStore()
	kept := s.AddPost(alice, "keep", at(1))
	gone := s.AddPost(bob, "gone", at(2))
	s.AddBookmark(viewer, kept, at(3))
	s.AddBookmark(viewer, gone, at(4))
	s.DeleteRecord(gone)
	a := newAPI(s, Config{})

	res, err := call(t, a, "app.bsky.bookmark.getBookmarks", viewer, url.Values{})
	require.NoError(t, err)
	body := res.Body.(BookmarksBody)
	require.Len(t, body.Bookmarks, 2)
	assert.Equal(t, gone, body.Bookmarks[0].Subject.URI)
	assert.IsType(t, views.NotFoundPost{}, body.Bookmarks[0].Item)
	assert.Equal(t, kept, body.Bookmarks[1].Subject.URI)
	assert.IsType(t, &views.PostView{}, body.Bookmarks[1].Item)
}

func TestUpstreamFailure(t *testing.T) {
	s := newStore()
	s.FailOn("GetTimeline", fmt.Errorf("connection reset"))
	a := newAPI(s, Config{})

	_, err := call(t, a, "app.bsky.feed.getTimeline", viewer, url.Values{})
	require.Error(t, err)
	xe := xrpcerr.From(err)
	assert.Equal(t, http.StatusBadGateway, xe.Status)
}
