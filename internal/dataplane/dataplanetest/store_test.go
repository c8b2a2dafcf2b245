package dataplanetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
)

func TestGetThreadWindow(t *testing.T) {
	ctx := context.Background()
	s := New()
	root := s.AddPost("did:plc:a", "root", Epoch)
	mid := s.AddReply("did:plc:b", root, root, "mid", Epoch.Add(time.Minute))
	anchor := s.AddReply("did:plc:a", root, mid, "anchor", Epoch.Add(2*time.Minute))
	child := s.AddReply("did:plc:c", root, anchor, "child", Epoch.Add(3*time.Minute))
	grandchild := s.AddReply("did:plc:d", root, child, "grandchild", Epoch.Add(4*time.Minute))

	th, err := s.GetThread(ctx, anchor, 1, 1)
	require.NoError(t, err)
	require.Equal(t, anchor, th.Anchor)
	require.ElementsMatch(t, []string{mid, child}, th.URIs)

	th, err = s.GetThread(ctx, anchor, 10, 10)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{mid, root, child, grandchild}, th.URIs)
}

func TestPaginateKeyset(t *testing.T) {
	ctx := context.Background()
	s := New()
	post := s.AddPost("did:plc:a", "p", Epoch)
	var likes []string
	for i := 0; i < 5; i++ {
		likes = append(likes, s.AddLike("did:plc:liker", post, Epoch.Add(time.Duration(i)*time.Minute)))
	}

	first, err := s.GetLikesBySubject(ctx, post, "", 2)
	require.NoError(t, err)
	require.Equal(t, []string{likes[4], likes[3]}, first.URIs)
	require.NotEmpty(t, first.Cursor)

	second, err := s.GetLikesBySubject(ctx, post, first.Cursor, 2)
	require.NoError(t, err)
	require.Equal(t, []string{likes[2], likes[1]}, second.URIs)

	third, err := s.GetLikesBySubject(ctx, post, second.Cursor, 2)
	require.NoError(t, err)
	require.Equal(t, []string{likes[0]}, third.URIs)
	require.Empty(t, third.Cursor)
}

func TestPaginateMalformedCursor(t *testing.T) {
	s := New()
	post := s.AddPost("did:plc:a", "p", Epoch)
	s.AddLike("did:plc:liker", post, Epoch)

	page, err := s.GetLikesBySubject(context.Background(), post, "garbage", 10)
	require.NoError(t, err)
	require.Empty(t, page.URIs)
	require.Empty(t, page.Cursor)
}

func TestRelationshipsIncludeLists(t *testing.T) {
	ctx := context.Background()
	s := New()
	list := s.AddList("did:plc:mod", bluesky.ListPurposeModeration, "spam")
	s.AddListItem(list, "did:plc:spammer")
	s.AddListBlock("did:plc:viewer", list)
	s.AddFollow("did:plc:viewer", "did:plc:friend")
	s.AddMute("did:plc:viewer", "did:plc:loud")

	rels, err := s.GetRelationships(ctx, "did:plc:viewer", []string{"did:plc:spammer", "did:plc:friend", "did:plc:loud"})
	require.NoError(t, err)
	require.Equal(t, list, rels[0].BlockingByList)
	require.NotEmpty(t, rels[1].Following)
	require.True(t, rels[2].Muted)

	blocks, err := s.GetBidirectionalBlocks(ctx, []dataplane.ActorPair{{A: "did:plc:spammer", B: "did:plc:viewer"}, {A: "did:plc:friend", B: "did:plc:viewer"}})
	require.NoError(t, err)
	require.Equal(t, []bool{true, false}, blocks)
}

func TestEnterDelayHonoursContext(t *testing.T) {
	s := New()
	s.SetDelay("GetLatestRev", time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.GetLatestRev(ctx, "did:plc:a")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, s.Calls("GetLatestRev"))
}
