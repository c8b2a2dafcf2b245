package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/bluesky-appview/internal/dataplane"
	"github.com/blackmichael/bluesky-appview/internal/dataplane/dataplanetest"
)

func execute(t *testing.T, open opener, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func storeOpener(s *dataplanetest.Store) opener {
	return func(context.Context, string, string) (dataplane.Client, func(), error) {
		return s, func() {}, nil
	}
}

func TestCallGetProfile(t *testing.T) {
	s := dataplanetest.New()
	s.AddActor("did:plc:alice", "alice.test", dataplanetest.WithDisplayName("Alice"))
	s.SetRev("did:plc:viewer", "3kabc")

	out, err := execute(t, storeOpener(s), "call", "app.bsky.actor.getProfile", "actor=alice.test", "--viewer", "did:plc:viewer", "--headers")
	require.NoError(t, err)

	header, body, ok := strings.Cut(out, "{")
	require.True(t, ok)
	assert.Contains(t, header, "atproto-repo-rev: 3kabc")

	var profile map[string]any
	require.NoError(t, json.Unmarshal([]byte("{"+body), &profile))
	assert.Equal(t, "did:plc:alice", profile["did"])
	assert.Equal(t, "Alice", profile["displayName"])
}

func TestCallErrors(t *testing.T) {
	s := dataplanetest.New()

	_, err := execute(t, storeOpener(s), "call", "app.bsky.feed.searchPosts")
	assert.ErrorContains(t, err, "unknown method")

	_, err = execute(t, storeOpener(s), "call", "app.bsky.actor.getProfile", "actor")
	assert.ErrorContains(t, err, "want key=value")

	_, err = execute(t, storeOpener(s), "call", "app.bsky.actor.getProfile", "actor=nobody.test")
	assert.ErrorContains(t, err, "NotFound")

	failing := func(context.Context, string, string) (dataplane.Client, func(), error) {
		return nil, nil, errors.New("connection refused")
	}
	_, err = execute(t, failing, "call", "app.bsky.actor.getProfile", "actor=alice.test")
	assert.ErrorContains(t, err, "open data plane")
}

func TestMethods(t *testing.T) {
	out, err := execute(t, nil, "methods")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Contains(t, lines, "app.bsky.unspecced.getPostThreadV2")
	assert.IsIncreasing(t, lines)
}

func TestParseParams(t *testing.T) {
	q, err := parseParams([]string{"actors=a.test", "actors=b.test", "filter="})
	require.NoError(t, err)
	assert.Equal(t, url.Values{"actors": {"a.test", "b.test"}, "filter": {""}}, q)

	_, err = parseParams([]string{"=x"})
	assert.Error(t, err)
}
