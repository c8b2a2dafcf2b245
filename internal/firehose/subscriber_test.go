package firehose

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blackmichael/bluesky-appview/internal/indexer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeProcessor struct {
	mu         sync.Mutex
	commits    []*indexer.Commit
	identities []*indexer.Identity
	accounts   []*indexer.Account
	cursor     int64
}

func (f *fakeProcessor) ProcessCommit(_ context.Context, c *indexer.Commit) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, c)
	return c.Collection == "app.bsky.feed.post", nil
}

func (f *fakeProcessor) ProcessIdentity(_ context.Context, id *indexer.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identities = append(f.identities, id)
	return nil
}

func (f *fakeProcessor) ProcessAccount(_ context.Context, acct *indexer.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts = append(f.accounts, acct)
	return nil
}

func (f *fakeProcessor) GetCursor(context.Context, string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor, nil
}

func (f *fakeProcessor) UpdateCursor(_ context.Context, _ string, cursor int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor = cursor
	return nil
}

func (f *fakeProcessor) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commits), len(f.identities), len(f.accounts)
}

var events = []string{
	`{"did":"did:plc:alice","time_us":1717243200000000,"kind":"commit","commit":{"rev":"3kabc","operation":"create","collection":"app.bsky.feed.post","rkey":"p1","cid":"bafy1","record":{"text":"hello","createdAt":"2024-06-01T12:00:00Z"}}}`,
	`not json`,
	`{"did":"did:plc:bob","time_us":1717243200000001,"kind":"identity","identity":{"did":"did:plc:bob","handle":"bob.test","seq":1,"time":"2024-06-01T12:00:00Z"}}`,
	`{"did":"did:plc:carol","time_us":1717243200000002,"kind":"account","account":{"did":"did:plc:carol","active":false,"status":"takendown","seq":2,"time":"2024-06-01T12:00:00Z"}}`,
}

// jetstream serves events to each connection, then either holds the
// connection open until the client leaves or drops it.
type jetstream struct {
	mu      sync.Mutex
	queries []url.Values
	hangUp  bool
}

func (j *jetstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	j.mu.Lock()
	j.queries = append(j.queries, r.URL.Query())
	j.mu.Unlock()

	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for _, e := range events {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(e)); err != nil {
			return
		}
	}
	if j.hangUp {
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (j *jetstream) connections() []url.Values {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]url.Values(nil), j.queries...)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/subscribe"
}

func newTestSubscriber(srv *httptest.Server, p Processor) *Subscriber {
	s := NewSubscriber(wsURL(srv), []string{"app.bsky.feed.post", "app.bsky.feed.like"}, p, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) }
	return s
}

func TestSubscriberDispatchesEvents(t *testing.T) {
	js := &jetstream{}
	srv := httptest.NewServer(js)
	defer srv.Close()

	p := &fakeProcessor{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newTestSubscriber(srv, p).Start(ctx) }()

	require.Eventually(t, func() bool {
		c, i, a := p.counts()
		return c == 1 && i == 1 && a == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not stop")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	commit := p.commits[0]
	assert.Equal(t, "did:plc:alice", commit.DID)
	assert.Equal(t, "3kabc", commit.Rev)
	assert.Equal(t, indexer.OpCreate, commit.Operation)
	assert.Equal(t, "p1", commit.RKey)
	assert.JSONEq(t, `{"text":"hello","createdAt":"2024-06-01T12:00:00Z"}`, string(commit.Record))
	assert.Equal(t, time.UnixMicro(1717243200000000).UTC(), commit.Time)

	assert.Equal(t, &indexer.Identity{DID: "did:plc:bob", Handle: "bob.test", Time: time.UnixMicro(1717243200000001).UTC()}, p.identities[0])
	assert.False(t, p.accounts[0].Active)
	assert.Equal(t, "takendown", p.accounts[0].Status)

	// The cursor is flushed on shutdown.
	assert.Equal(t, int64(1717243200000002), p.cursor)

	conns := js.connections()
	require.NotEmpty(t, conns)
	assert.Equal(t, []string{"app.bsky.feed.post", "app.bsky.feed.like"}, conns[0]["wantedCollections"])
	assert.Empty(t, conns[0].Get("cursor"))
}

func TestSubscriberResumesFromCursor(t *testing.T) {
	js := &jetstream{hangUp: true}
	srv := httptest.NewServer(js)
	defer srv.Close()

	p := &fakeProcessor{cursor: 42}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newTestSubscriber(srv, p).Start(ctx) }()

	require.Eventually(t, func() bool { return len(js.connections()) >= 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	conns := js.connections()
	assert.Equal(t, "42", conns[0].Get("cursor"))
	assert.Equal(t, "1717243200000002", conns[1].Get("cursor"))
}

func TestBuildURL(t *testing.T) {
	s := NewSubscriber("wss://jetstream.example/subscribe?compress=false", []string{"app.bsky.feed.post"}, nil, slog.Default())
	got, err := s.buildURL(7)
	require.NoError(t, err)
	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "false", u.Query().Get("compress"))
	assert.Equal(t, "7", u.Query().Get("cursor"))
	assert.Equal(t, []string{"app.bsky.feed.post"}, u.Query()["wantedCollections"])

	_, err = NewSubscriber("://bad", nil, nil, slog.Default()).buildURL(0)
	assert.Error(t, err)
}
