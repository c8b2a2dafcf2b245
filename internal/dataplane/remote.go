package dataplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/blackmichael/bluesky-appview/internal/metrics"
)

// RemoteError is a non-2xx reply from a remote data plane.
type RemoteError struct {
	Method  string
	Status  int
	Name    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("dataplane %s: status %d: %s: %s", e.Method, e.Status, e.Name, e.Message)
}

func (e *RemoteError) retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// Remote is a Client that talks JSON over HTTP to a data plane served by
// NewHandler.
type Remote struct {
	baseURL    string
	httpClient *http.Client
	executor   failsafe.Executor[*http.Response]
}

var _ Client = (*Remote)(nil)

// RemoteOption customises a Remote.
type RemoteOption func(*Remote)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) {
		if c != nil {
			r.httpClient = c
		}
	}
}

// WithRetries sets the retry budget for transient failures.
func WithRetries(max int, base, maxDelay time.Duration) RemoteOption {
	return func(r *Remote) {
		r.executor = newExecutor(max, base, maxDelay)
	}
}

// NewRemote creates a client for the data plane at baseURL.
func NewRemote(baseURL string, opts ...RemoteOption) *Remote {
	r := &Remote{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		executor:   newExecutor(2, 20*time.Millisecond, 500*time.Millisecond),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func shouldRetry(_ *http.Response, err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.retryable()
	}
	return true
}

func newExecutor(maxRetries int, base, maxDelay time.Duration) failsafe.Executor[*http.Response] {
	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(base, maxDelay).
		WithMaxRetries(maxRetries).
		WithJitterFactor(0.1).
		HandleIf(shouldRetry).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(15 * time.Second).
		WithSuccessThreshold(1).
		HandleIf(shouldRetry).
		Build()

	return failsafe.With(retry, breaker)
}

// call posts req to the named method and decodes the reply into Resp.
func call[Resp any](ctx context.Context, r *Remote, method string, req request) (Resp, error) {
	var out Resp
	start := time.Now()
	outcome := "ok"
	defer func() {
		metrics.DataplaneRequestDuration.WithLabelValues(method, outcome).Observe(metrics.SinceMillis(start))
	}()

	body, err := json.Marshal(req)
	if err != nil {
		outcome = "error"
		return out, fmt.Errorf("marshal %s request: %w", method, err)
	}

	resp, err := r.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		return r.do(ctx, method, body)
	})
	if err != nil {
		outcome = "error"
		var remote *RemoteError
		if errors.As(err, &remote) {
			return out, remote
		}
		return out, fmt.Errorf("dataplane %s: %w", method, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		outcome = "error"
		return out, fmt.Errorf("decode %s response: %w", method, err)
	}
	return out, nil
}

// do sends one attempt. Non-2xx replies are drained and turned into a
// *RemoteError so the retry policy can inspect them.
func (r *Remote) do(ctx context.Context, method string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+PathPrefix+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err != nil {
		eb.Message = string(raw)
	}
	return nil, &RemoteError{Method: method, Status: resp.StatusCode, Name: eb.Error, Message: eb.Message}
}

func (r *Remote) GetActors(ctx context.Context, dids []string) ([]Actor, error) {
	return call[[]Actor](ctx, r, "GetActors", request{DIDs: dids})
}

func (r *Remote) GetDidsByHandles(ctx context.Context, handles []string) ([]string, error) {
	return call[[]string](ctx, r, "GetDidsByHandles", request{Handles: handles})
}

func (r *Remote) GetProfileCounts(ctx context.Context, dids []string) ([]ProfileCounts, error) {
	return call[[]ProfileCounts](ctx, r, "GetProfileCounts", request{DIDs: dids})
}

func (r *Remote) GetLatestRev(ctx context.Context, did string) (string, error) {
	return call[string](ctx, r, "GetLatestRev", request{DID: did})
}

func (r *Remote) GetVouches(ctx context.Context, subjects []string) ([][]Vouch, error) {
	return call[[][]Vouch](ctx, r, "GetVouches", request{Subjects: subjects})
}

func (r *Remote) GetRecords(ctx context.Context, collection string, uris []string) ([]Record, error) {
	return call[[]Record](ctx, r, "GetRecords", request{Collection: collection, URIs: uris})
}

func (r *Remote) GetRelationships(ctx context.Context, viewer string, targets []string) ([]Relationship, error) {
	return call[[]Relationship](ctx, r, "GetRelationships", request{Viewer: viewer, Targets: targets})
}

func (r *Remote) GetBidirectionalBlocks(ctx context.Context, pairs []ActorPair) ([]bool, error) {
	return call[[]bool](ctx, r, "GetBidirectionalBlocks", request{Pairs: pairs})
}

func (r *Remote) GetFollowsFollowing(ctx context.Context, viewer string, targets []string) ([][]string, error) {
	return call[[][]string](ctx, r, "GetFollowsFollowing", request{Viewer: viewer, Targets: targets})
}

func (r *Remote) GetActivitySubscriptions(ctx context.Context, viewer string, targets []string) ([]ActivitySubscription, error) {
	return call[[]ActivitySubscription](ctx, r, "GetActivitySubscriptions", request{Viewer: viewer, Targets: targets})
}

func (r *Remote) GetListViewerStates(ctx context.Context, viewer string, lists []string) ([]ListViewerState, error) {
	return call[[]ListViewerState](ctx, r, "GetListViewerStates", request{Viewer: viewer, Lists: lists})
}

func (r *Remote) GetListMemberships(ctx context.Context, actor string, lists []string) ([]string, error) {
	return call[[]string](ctx, r, "GetListMemberships", request{Actor: actor, Lists: lists})
}

func (r *Remote) GetListCounts(ctx context.Context, lists []string) ([]ListCounts, error) {
	return call[[]ListCounts](ctx, r, "GetListCounts", request{Lists: lists})
}

func (r *Remote) GetListItems(ctx context.Context, list, cursor string, limit int) (Page, error) {
	return call[Page](ctx, r, "GetListItems", request{List: list, Cursor: cursor, Limit: limit})
}

func (r *Remote) GetPostCounts(ctx context.Context, uris []string) ([]PostCounts, error) {
	return call[[]PostCounts](ctx, r, "GetPostCounts", request{URIs: uris})
}

func (r *Remote) GetPostViewerStates(ctx context.Context, viewer string, uris []string) ([]PostViewerState, error) {
	return call[[]PostViewerState](ctx, r, "GetPostViewerStates", request{Viewer: viewer, URIs: uris})
}

func (r *Remote) GetLikesByActorAndSubjects(ctx context.Context, pairs []ActorSubject) ([]string, error) {
	return call[[]string](ctx, r, "GetLikesByActorAndSubjects", request{Interacts: pairs})
}

func (r *Remote) GetFeedGenCounts(ctx context.Context, uris []string) ([]FeedGenCounts, error) {
	return call[[]FeedGenCounts](ctx, r, "GetFeedGenCounts", request{URIs: uris})
}

func (r *Remote) GetThread(ctx context.Context, anchor string, above, below int) (Thread, error) {
	return call[Thread](ctx, r, "GetThread", request{Anchor: anchor, Above: above, Below: below})
}

func (r *Remote) GetAuthorFeed(ctx context.Context, actor, filter, cursor string, limit int) (FeedPage, error) {
	return call[FeedPage](ctx, r, "GetAuthorFeed", request{Actor: actor, Filter: filter, Cursor: cursor, Limit: limit})
}

func (r *Remote) GetTimeline(ctx context.Context, viewer, cursor string, limit int) (FeedPage, error) {
	return call[FeedPage](ctx, r, "GetTimeline", request{Viewer: viewer, Cursor: cursor, Limit: limit})
}

func (r *Remote) GetFeedItems(ctx context.Context, feed, cursor string, limit int) (Page, error) {
	return call[Page](ctx, r, "GetFeedItems", request{Feed: feed, Cursor: cursor, Limit: limit})
}

func (r *Remote) GetLikesBySubject(ctx context.Context, subject, cursor string, limit int) (Page, error) {
	return call[Page](ctx, r, "GetLikesBySubject", request{Subject: subject, Cursor: cursor, Limit: limit})
}

func (r *Remote) GetRepostsBySubject(ctx context.Context, subject, cursor string, limit int) (Page, error) {
	return call[Page](ctx, r, "GetRepostsBySubject", request{Subject: subject, Cursor: cursor, Limit: limit})
}

func (r *Remote) GetBookmarks(ctx context.Context, actor, cursor string, limit int) (BookmarkPage, error) {
	return call[BookmarkPage](ctx, r, "GetBookmarks", request{Actor: actor, Cursor: cursor, Limit: limit})
}

func (r *Remote) GetLabels(ctx context.Context, subjects, issuers []string) ([]Label, error) {
	return call[[]Label](ctx, r, "GetLabels", request{Subjects: subjects, Issuers: issuers})
}

func (r *Remote) GetNotifications(ctx context.Context, actor, cursor string, limit int) (NotificationPage, error) {
	return call[NotificationPage](ctx, r, "GetNotifications", request{Actor: actor, Cursor: cursor, Limit: limit})
}
