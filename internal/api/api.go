// Package api implements the appview's XRPC read endpoints. Each endpoint is
// a pipeline: a skeleton of identifiers from the data plane, hydration,
// filtering rules and presentation.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"slices"
	"strconv"

	"github.com/blackmichael/bluesky-appview/internal/dataplane"
	"github.com/blackmichael/bluesky-appview/internal/hydration"
	"github.com/blackmichael/bluesky-appview/internal/pipeline"
	"github.com/blackmichael/bluesky-appview/internal/views"
	"github.com/blackmichael/bluesky-appview/internal/xrpcerr"
)

// Protocol headers.
const (
	HeaderAcceptLabelers  = "atproto-accept-labelers"
	HeaderContentLabelers = "atproto-content-labelers"
	HeaderRepoRev         = "atproto-repo-rev"
)

// Request is a parsed XRPC call. Viewer is the authenticated account, or
// "" for logged-out requests.
type Request struct {
	Query    url.Values
	Viewer   string
	Labelers hydration.Labelers
}

// Response is a rendered body and the headers to send with it.
type Response struct {
	Body    any
	Headers map[string]string
}

// Handler serves one XRPC method.
type Handler func(ctx context.Context, req Request) (Response, error)

// Config holds endpoint-level settings.
type Config struct {
	// ServiceDID identifies this service in describeFeedGenerator.
	ServiceDID string
	// Feeds are the feed generator URIs whose skeletons are served locally.
	Feeds []string
	// BigThreads are anchors whose threads are fetched at BigThreadDepth at
	// most in either direction.
	BigThreads     []string
	BigThreadDepth int
}

// API holds every endpoint. It is safe for concurrent use.
type API struct {
	hydrator *hydration.Hydrator
	views    *views.Views
	dp       dataplane.Client
	cfg      Config
	logger   *slog.Logger
	routes   map[string]Handler
}

// New wires the endpoints over a hydrator and the data plane it reads.
func New(h *hydration.Hydrator, v *views.Views, dp dataplane.Client, cfg Config, logger *slog.Logger) *API {
	if cfg.BigThreadDepth <= 0 {
		cfg.BigThreadDepth = 1
	}
	a := &API{hydrator: h, views: v, dp: dp, cfg: cfg, logger: logger}
	a.routes = map[string]Handler{
		"app.bsky.actor.getProfile":               serve(a, a.getProfile(), parseGetProfile, true),
		"app.bsky.actor.getProfiles":              serve(a, a.getProfiles(), parseGetProfiles, false),
		"app.bsky.feed.getPosts":                  serve(a, a.getPosts(), parseGetPosts, false),
		"app.bsky.unspecced.getPostThreadV2":      serve(a, a.getPostThread(), parseGetPostThread, true),
		"app.bsky.feed.getAuthorFeed":             serve(a, a.getAuthorFeed(), parseGetAuthorFeed, true),
		"app.bsky.feed.getTimeline":               serve(a, a.getTimeline(), parseGetTimeline, true),
		"app.bsky.feed.getFeed":                   serve(a, a.getFeed(), parseGetFeed, false),
		"app.bsky.feed.getFeedSkeleton":           serve(a, a.getFeedSkeleton(), parseGetFeed, false),
		"app.bsky.feed.describeFeedGenerator":     a.describeFeedGenerator,
		"app.bsky.feed.getFeedGenerators":         serve(a, a.getFeedGenerators(), parseGetFeedGenerators, false),
		"app.bsky.feed.getLikes":                  serve(a, a.getLikes(), parseSubjectPage, false),
		"app.bsky.feed.getRepostedBy":             serve(a, a.getRepostedBy(), parseSubjectPage, false),
		"app.bsky.graph.getList":                  serve(a, a.getList(), parseGetList, false),
		"app.bsky.notification.listNotifications": serve(a, a.listNotifications(), parseListNotifications, true),
		"app.bsky.bookmark.getBookmarks":          serve(a, a.getBookmarks(), parseGetBookmarks, false),
	}
	return a
}

// Routes returns the handlers keyed by XRPC method.
func (a *API) Routes() map[string]Handler {
	return maps.Clone(a.routes)
}

// Methods lists the served XRPC methods in sorted order.
func (a *API) Methods() []string {
	return slices.Sorted(maps.Keys(a.routes))
}

// Common carries the viewer context every endpoint's parameters hold.
type Common struct {
	Ctx hydration.Context
}

func (c Common) hydrationContext() hydration.Context { return c.Ctx }

type params interface {
	hydrationContext() hydration.Context
}

type parseFunc[P params] func(q url.Values, hctx hydration.Context) (P, error)

// serve adapts a pipeline to a Handler. The viewer context is narrowed to
// labelers that actually exist before parameters are parsed.
func serve[P params, S, B any](a *API, p *pipeline.Pipeline[P, S, hydration.State, B], parse parseFunc[P], repoRev bool) Handler {
	return func(ctx context.Context, req Request) (Response, error) {
		hctx, err := a.hydrator.CreateContext(ctx, hydration.Context{Viewer: req.Viewer, Labelers: req.Labelers})
		if err != nil {
			return Response{}, fmt.Errorf("create context: %w", err)
		}
		in, err := parse(req.Query, hctx)
		if err != nil {
			return Response{}, err
		}
		res, err := p.Run(ctx, in)
		if err != nil {
			return Response{}, err
		}
		headers := res.Headers
		if headers == nil {
			headers = make(map[string]string)
		}
		if repoRev {
			if rev := a.hydrator.GetRepoRevSafe(ctx, req.Viewer); rev != "" {
				headers[HeaderRepoRev] = rev
			}
		}
		return Response{Body: res.Body, Headers: headers}, nil
	}
}

func newPipeline[P params, S, B any](
	name string,
	skeleton pipeline.SkeletonFunc[P, S],
	hydrate pipeline.HydrationFunc[P, S, hydration.State],
	rules pipeline.RulesFunc[P, S, hydration.State],
	present pipeline.PresentationFunc[P, S, hydration.State, B],
) *pipeline.Pipeline[P, S, hydration.State, B] {
	return pipeline.New(name, skeleton, hydrate, rules, present,
		pipeline.WithHeaders[P, S, hydration.State, B](labelerHeaders[P, S]))
}

func labelerHeaders[P params, S any](p P, _ S, _ hydration.State) map[string]string {
	return map[string]string{HeaderContentLabelers: p.hydrationContext().Labelers.Header()}
}

func requireViewer(hctx hydration.Context) error {
	if hctx.Viewer == "" {
		return xrpcerr.AuthRequired("authentication required")
	}
	return nil
}

func parseLimit(q url.Values, def, hi int) (int, error) {
	return parseInt(q, "limit", def, 1, hi)
}

func parseInt(q url.Values, name string, def, lo, hi int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, xrpcerr.InvalidRequest("%s must be between %d and %d", name, lo, hi)
	}
	return n, nil
}

func parseBool(q url.Values, name string, def bool) (bool, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, xrpcerr.InvalidRequest("%s must be a boolean", name)
	}
	return b, nil
}

func parseList(q url.Values, name string, hi int) ([]string, error) {
	vals := q[name]
	if len(vals) == 0 {
		return nil, xrpcerr.InvalidRequest("%s is required", name)
	}
	if len(vals) > hi {
		return nil, xrpcerr.InvalidRequest("at most %d %s are allowed", hi, name)
	}
	return vals, nil
}

func required(q url.Values, name string) (string, error) {
	v := q.Get(name)
	if v == "" {
		return "", xrpcerr.InvalidRequest("%s is required", name)
	}
	return v, nil
}
