package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
	"github.com/blackmichael/bluesky-appview/internal/indexer"
)

const (
	alice = "did:plc:alice"
	bob   = "did:plc:bob"
	carol = "did:plc:carol"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// env is a SQLite-backed repository fed through the indexer.
type env struct {
	t    *testing.T
	ctx  context.Context
	repo *Repository
	ix   *indexer.Indexer
	n    int
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo, err := NewRepository(ctx, sqlitePrefix+filepath.Join(t.TempDir(), "appview.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.Migrate(ctx))

	feeds := []indexer.FeedConfig{{URI: bluesky.MakeURI(alice, bluesky.CollectionGenerator, "go"), Keywords: []string{"golang"}}}
	ix, err := indexer.New(feeds, repo, repo, logger)
	require.NoError(t, err)
	return &env{t: t, ctx: ctx, repo: repo, ix: ix}
}

// create indexes a record n minutes after epoch and returns its URI.
func (e *env) create(did, collection, rkey string, record map[string]any) string {
	e.t.Helper()
	e.n++
	at := epoch.Add(time.Duration(e.n) * time.Minute)
	record["createdAt"] = at.Format(time.RFC3339Nano)
	raw, err := json.Marshal(record)
	require.NoError(e.t, err)
	_, err = e.ix.ProcessCommit(e.ctx, &indexer.Commit{
		DID:        did,
		Rev:        fmt.Sprintf("rev%03d", e.n),
		Operation:  indexer.OpCreate,
		Collection: collection,
		RKey:       rkey,
		CID:        "cid-" + rkey,
		Record:     raw,
		Time:       at,
	})
	require.NoError(e.t, err)
	return bluesky.MakeURI(did, collection, rkey)
}

func (e *env) post(did, rkey, text string, reply ...string) string {
	rec := map[string]any{"$type": bluesky.CollectionPost, "text": text}
	if len(reply) == 2 {
		rec["reply"] = map[string]any{
			"root":   map[string]string{"uri": reply[0], "cid": "c"},
			"parent": map[string]string{"uri": reply[1], "cid": "c"},
		}
	}
	return e.create(did, bluesky.CollectionPost, rkey, rec)
}

func (e *env) subject(did, collection, rkey, subject string) string {
	return e.create(did, collection, rkey, map[string]any{"subject": map[string]string{"uri": subject, "cid": "c"}})
}

func (e *env) follow(did, rkey, subject string) string {
	return e.create(did, bluesky.CollectionFollow, rkey, map[string]any{"subject": subject})
}

func TestSQLiteActorsAndRecords(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.ix.ProcessIdentity(e.ctx, &indexer.Identity{DID: alice, Handle: "alice.test", Time: epoch}))
	e.create(alice, bluesky.CollectionProfile, "self", map[string]any{"displayName": "Alice"})
	p1 := e.post(alice, "p1", "hello")
	e.follow(bob, "f1", alice)

	actors, err := e.repo.GetActors(e.ctx, []string{alice, "did:plc:nobody"})
	require.NoError(t, err)
	require.Len(t, actors, 2)
	assert.True(t, actors[0].Exists)
	assert.Equal(t, "alice.test", actors[0].Handle)
	require.NotNil(t, actors[0].Profile)
	assert.JSONEq(t, `"Alice"`, string(mustField(t, actors[0].Profile.Value, "displayName")))
	assert.Equal(t, dataplane.Actor{DID: "did:plc:nobody"}, actors[1])

	dids, err := e.repo.GetDidsByHandles(e.ctx, []string{"alice.test", "nobody.test"})
	require.NoError(t, err)
	assert.Equal(t, []string{alice, ""}, dids)

	rev, err := e.repo.GetLatestRev(e.ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "rev002", rev)

	counts, err := e.repo.GetProfileCounts(e.ctx, []string{alice, bob})
	require.NoError(t, err)
	assert.Equal(t, dataplane.ProfileCounts{Followers: 1, Posts: 1}, counts[0])
	assert.Equal(t, dataplane.ProfileCounts{Follows: 1}, counts[1])

	recs, err := e.repo.GetRecords(e.ctx, bluesky.CollectionPost, []string{p1, "at://did:plc:alice/app.bsky.feed.post/missing"})
	require.NoError(t, err)
	assert.True(t, recs[0].Exists())
	assert.Equal(t, epoch.Add(2*time.Minute), recs[0].SortedAt)
	assert.False(t, recs[1].Exists())

	require.NoError(t, e.ix.ProcessAccount(e.ctx, &indexer.Account{DID: alice, Active: false, Status: dataplane.StatusTakendown}))
	actors, err = e.repo.GetActors(e.ctx, []string{alice})
	require.NoError(t, err)
	assert.Equal(t, dataplane.StatusTakendown, actors[0].Status)
}

func mustField(t *testing.T, raw json.RawMessage, key string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &m))
	return m[key]
}

func TestSQLiteGraph(t *testing.T) {
	e := newEnv(t)
	follow := e.follow(alice, "f1", bob)
	followBack := e.follow(bob, "f2", alice)
	e.follow(bob, "f3", carol)
	block := e.create(carol, bluesky.CollectionBlock, "b1", map[string]any{"subject": alice})
	list := e.create(bob, bluesky.CollectionList, "l1", map[string]any{"name": "mods", "purpose": bluesky.ListPurposeModeration})
	item := e.create(bob, bluesky.CollectionListItem, "i1", map[string]any{"subject": carol, "list": list})
	e.create(alice, bluesky.CollectionListBlock, "lb1", map[string]any{"subject": list})

	rels, err := e.repo.GetRelationships(e.ctx, alice, []string{bob, carol})
	require.NoError(t, err)
	assert.Equal(t, dataplane.Relationship{Following: follow, FollowedBy: followBack}, rels[0])
	assert.Equal(t, dataplane.Relationship{BlockedBy: block, BlockingByList: list}, rels[1])

	blocked, err := e.repo.GetBidirectionalBlocks(e.ctx, []dataplane.ActorPair{{A: carol, B: alice}, {A: alice, B: bob}})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, blocked)

	ff, err := e.repo.GetFollowsFollowing(e.ctx, alice, []string{carol})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{bob}}, ff)

	memberships, err := e.repo.GetListMemberships(e.ctx, carol, []string{list})
	require.NoError(t, err)
	assert.Equal(t, []string{item}, memberships)

	listCounts, err := e.repo.GetListCounts(e.ctx, []string{list})
	require.NoError(t, err)
	assert.Equal(t, int64(1), listCounts[0].Items)

	states, err := e.repo.GetListViewerStates(e.ctx, alice, []string{list})
	require.NoError(t, err)
	assert.NotEmpty(t, states[0].BlockURI)

	items, err := e.repo.GetListItems(e.ctx, list, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{item}, items.URIs)
}

func TestSQLiteThreadAndCounts(t *testing.T) {
	e := newEnv(t)
	root := e.post(alice, "root", "root")
	r1 := e.post(bob, "r1", "reply", root, root)
	r2 := e.post(carol, "r2", "nested", root, r1)
	r3 := e.post(alice, "r3", "second", root, root)
	like := e.subject(bob, bluesky.CollectionLike, "l1", root)
	e.subject(carol, bluesky.CollectionRepost, "rp1", root)

	thread, err := e.repo.GetThread(e.ctx, root, 10, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{r1, r3, r2}, thread.URIs)

	thread, err = e.repo.GetThread(e.ctx, r2, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{r1, root}, thread.URIs)

	counts, err := e.repo.GetPostCounts(e.ctx, []string{root, r1})
	require.NoError(t, err)
	assert.Equal(t, dataplane.PostCounts{Likes: 1, Reposts: 1, Replies: 2}, counts[0])
	assert.Equal(t, dataplane.PostCounts{Replies: 1}, counts[1])

	states, err := e.repo.GetPostViewerStates(e.ctx, bob, []string{root})
	require.NoError(t, err)
	assert.Equal(t, like, states[0].Like)

	likes, err := e.repo.GetLikesByActorAndSubjects(e.ctx, []dataplane.ActorSubject{{Actor: bob, Subject: root}, {Actor: carol, Subject: root}})
	require.NoError(t, err)
	assert.Equal(t, []string{like, ""}, likes)

	page, err := e.repo.GetLikesBySubject(e.ctx, root, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{like}, page.URIs)
}

func TestSQLiteFeedsAndPaging(t *testing.T) {
	e := newEnv(t)
	e.follow(alice, "f1", bob)
	p1 := e.post(bob, "p1", "first")
	p2 := e.post(bob, "p2", "golang rocks")
	reply := e.post(bob, "p3", "a reply", p1, p1)
	other := e.post(carol, "c1", "carol post")
	repost := e.subject(bob, bluesky.CollectionRepost, "rp1", other)

	page, err := e.repo.GetTimeline(e.ctx, alice, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []dataplane.FeedItem{{Post: other, Repost: repost}, {Post: reply}}, page.Items)
	require.NotEmpty(t, page.Cursor)

	page, err = e.repo.GetTimeline(e.ctx, alice, page.Cursor, 2)
	require.NoError(t, err)
	assert.Equal(t, []dataplane.FeedItem{{Post: p2}, {Post: p1}}, page.Items)
	assert.Empty(t, page.Cursor)

	page, err = e.repo.GetAuthorFeed(e.ctx, bob, dataplane.FilterPostsNoReplies, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []dataplane.FeedItem{{Post: other, Repost: repost}, {Post: p2}, {Post: p1}}, page.Items)

	feed, err := e.repo.GetFeedItems(e.ctx, bluesky.MakeURI(alice, bluesky.CollectionGenerator, "go"), "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{p2}, feed.URIs)

	_, err = e.ix.ProcessCommit(e.ctx, &indexer.Commit{
		DID: bob, Operation: indexer.OpDelete, Collection: bluesky.CollectionPost, RKey: "p2", Time: epoch,
	})
	require.NoError(t, err)
	feed, err = e.repo.GetFeedItems(e.ctx, bluesky.MakeURI(alice, bluesky.CollectionGenerator, "go"), "", 10)
	require.NoError(t, err)
	assert.Empty(t, feed.URIs)
}

func TestSQLiteNotifications(t *testing.T) {
	e := newEnv(t)
	root := e.post(alice, "root", "root")
	reply := e.post(bob, "r1", "reply", root, root)
	like := e.subject(carol, bluesky.CollectionLike, "l1", root)

	page, err := e.repo.GetNotifications(e.ctx, alice, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, like, page.Items[0].URI)
	assert.Equal(t, dataplane.ReasonLike, page.Items[0].Reason)
	assert.Equal(t, reply, page.Items[1].URI)
	assert.Equal(t, dataplane.ReasonReply, page.Items[1].Reason)
	assert.True(t, page.SeenAt.IsZero())

	page, err = e.repo.GetNotifications(e.ctx, alice, "", 1)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	next, err := e.repo.GetNotifications(e.ctx, alice, page.Cursor, 1)
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	assert.Equal(t, reply, next.Items[0].URI)
}

func TestSQLiteCursorAndPrune(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.repo.UpdateCursor(e.ctx, "jetstream", 10))
	require.NoError(t, e.repo.UpdateCursor(e.ctx, "jetstream", 20))
	cursor, err := e.repo.GetCursor(e.ctx, "jetstream")
	require.NoError(t, err)
	assert.Equal(t, int64(20), cursor)

	feed := bluesky.MakeURI(alice, bluesky.CollectionGenerator, "go")
	now := time.Now()
	require.NoError(t, e.repo.AddFeedPost(e.ctx, feed, "at://did:plc:bob/app.bsky.feed.post/old", now.Add(-72*time.Hour)))
	for i := range 3 {
		require.NoError(t, e.repo.AddFeedPost(e.ctx, feed, fmt.Sprintf("at://did:plc:bob/app.bsky.feed.post/n%d", i), now.Add(-time.Duration(i)*time.Minute)))
	}
	deleted, err := e.repo.PruneFeedPosts(e.ctx, 48*time.Hour, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	page, err := e.repo.GetFeedItems(e.ctx, feed, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"at://did:plc:bob/app.bsky.feed.post/n0", "at://did:plc:bob/app.bsky.feed.post/n1"}, page.URIs)
}
