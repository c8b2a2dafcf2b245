package bluesky

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	testcases := map[string]struct {
		input   string
		want    URI
		wantErr bool
	}{
		"full": {
			input: "at://did:plc:abc/app.bsky.feed.post/3l3qo2vuowo2b",
			want:  URI{Host: "did:plc:abc", Collection: CollectionPost, RKey: "3l3qo2vuowo2b"},
		},
		"host_only": {
			input: "at://did:plc:abc",
			want:  URI{Host: "did:plc:abc"},
		},
		"missing_prefix": {
			input:   "did:plc:abc/app.bsky.feed.post/1",
			wantErr: true,
		},
		"empty_host": {
			input:   "at:///app.bsky.feed.post/1",
			wantErr: true,
		},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			got, err := ParseURI(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.input, got.String())
		})
	}
}

func TestGateURIs(t *testing.T) {
	post := MakeURI("did:plc:op", CollectionPost, "abc")
	require.Equal(t, "at://did:plc:op/app.bsky.feed.threadgate/abc", ThreadgateURIForPost(post))
	require.Equal(t, "at://did:plc:op/app.bsky.feed.postgate/abc", PostgateURIForPost(post))
	require.Equal(t, post, PostURIForGate(ThreadgateURIForPost(post)))
	require.Empty(t, ThreadgateURIForPost("at://did:plc:op/app.bsky.feed.like/abc"))
}

func TestURIsByCollection(t *testing.T) {
	got := URIsByCollection([]string{
		"at://did:plc:a/app.bsky.feed.post/1",
		"at://did:plc:a/app.bsky.graph.list/2",
		"not-a-uri",
		"at://did:plc:b/app.bsky.feed.post/3",
	})
	require.Equal(t, []string{"at://did:plc:a/app.bsky.feed.post/1", "at://did:plc:b/app.bsky.feed.post/3"}, got[CollectionPost])
	require.Equal(t, []string{"at://did:plc:a/app.bsky.graph.list/2"}, got[CollectionList])
	require.Len(t, got, 2)
}

func TestEmbedQuotedRef(t *testing.T) {
	var quote Embed
	require.NoError(t, json.Unmarshal([]byte(`{"$type":"app.bsky.embed.record","record":{"uri":"at://did:plc:a/app.bsky.feed.post/1","cid":"c1"}}`), &quote))
	require.Equal(t, &StrongRef{URI: "at://did:plc:a/app.bsky.feed.post/1", CID: "c1"}, quote.QuotedRef())
	require.False(t, quote.HasMedia())

	var withMedia Embed
	require.NoError(t, json.Unmarshal([]byte(`{"$type":"app.bsky.embed.recordWithMedia","record":{"record":{"uri":"at://did:plc:b/app.bsky.feed.post/2","cid":"c2"}},"media":{"$type":"app.bsky.embed.images","images":[{"alt":"x"}]}}`), &withMedia))
	require.Equal(t, "at://did:plc:b/app.bsky.feed.post/2", withMedia.QuotedRef().URI)
	require.True(t, withMedia.HasMedia())

	var images Embed
	require.NoError(t, json.Unmarshal([]byte(`{"$type":"app.bsky.embed.images","images":[]}`), &images))
	require.Nil(t, images.QuotedRef())
}

func TestThreadgateAllowSemantics(t *testing.T) {
	var open ThreadgateRecord
	require.NoError(t, json.Unmarshal([]byte(`{"post":"at://x"}`), &open))
	require.Nil(t, open.Allow)

	var closed ThreadgateRecord
	require.NoError(t, json.Unmarshal([]byte(`{"post":"at://x","allow":[]}`), &closed))
	require.NotNil(t, closed.Allow)
	require.Empty(t, closed.Allow)
}

func TestSortAt(t *testing.T) {
	indexed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, indexed.Add(-time.Hour), SortAt(indexed.Add(-time.Hour).Format(time.RFC3339), indexed))
	require.Equal(t, indexed, SortAt(indexed.Add(time.Hour).Format(time.RFC3339), indexed))
	require.Equal(t, indexed, SortAt("garbage", indexed))
}

func TestPinnedSentinel(t *testing.T) {
	require.True(t, (&PostRecord{Text: "  📌 \n"}).IsPinnedSentinel())
	require.False(t, (&PostRecord{Text: "📌 pinned"}).IsPinnedSentinel())
	require.False(t, (*PostRecord)(nil).IsPinnedSentinel())
}
