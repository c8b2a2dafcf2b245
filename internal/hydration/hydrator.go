// Package hydration batches data plane lookups into a per-request State.
//
// Sub-hydrators (Actor, Feed, Graph, Label) fetch one entity kind each and
// skip anything an already-known map covers. The Hydrate* composites fan
// out over several kinds with errgroup and merge the results.
package hydration

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
)

// DefaultBestEffortTimeout bounds lookups whose failure must not fail the
// request.
const DefaultBestEffortTimeout = 100 * time.Millisecond

var tracer = otel.Tracer("github.com/blackmichael/bluesky-appview/internal/hydration")

// Hydrator composes the sub-hydrators into request-level operations. It
// holds no per-request state and is safe for concurrent use.
type Hydrator struct {
	Actor *ActorHydrator
	Feed  *FeedHydrator
	Graph *GraphHydrator
	Label *LabelHydrator

	dp                dataplane.Client
	bestEffortTimeout time.Duration
	serviceLabelers   []string
	logger            *slog.Logger
}

// Option customises a Hydrator.
type Option func(*Hydrator)

// WithBestEffortTimeout overrides DefaultBestEffortTimeout.
func WithBestEffortTimeout(d time.Duration) Option {
	return func(h *Hydrator) {
		if d > 0 {
			h.bestEffortTimeout = d
		}
	}
}

// WithServiceLabelers sets labelers that are always accepted, even before
// they are indexed as accounts.
func WithServiceLabelers(dids []string) Option {
	return func(h *Hydrator) { h.serviceLabelers = slices.Clone(dids) }
}

// WithLogger sets the logger used for degraded lookups.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hydrator) { h.logger = logger }
}

// WithClock sets the clock used to expire labels.
func WithClock(now func() time.Time) Option {
	return func(h *Hydrator) { h.Label.now = now }
}

// New creates a Hydrator reading from dp.
func New(dp dataplane.Client, opts ...Option) *Hydrator {
	h := &Hydrator{
		Actor:             &ActorHydrator{dp: dp},
		Feed:              &FeedHydrator{dp: dp},
		Graph:             &GraphHydrator{dp: dp},
		Label:             &LabelHydrator{dp: dp, now: time.Now},
		dp:                dp,
		bestEffortTimeout: DefaultBestEffortTimeout,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// BestEffortTimeout is the timeout applied to best-effort lookups.
func (h *Hydrator) BestEffortTimeout() time.Duration {
	return h.bestEffortTimeout
}

func startSpan(ctx context.Context, name string, n int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "hydrate."+name, trace.WithAttributes(attribute.Int("subjects", n)))
}

// CreateContext narrows the requested labelers to those that are indexed
// labeler accounts or configured service labelers.
func (h *Hydrator) CreateContext(ctx context.Context, hctx Context) (Context, error) {
	requested := hctx.Labelers.DIDs
	if len(requested) == 0 {
		return hctx, nil
	}
	actors, err := h.Actor.GetActors(ctx, requested, false, nil)
	if err != nil {
		return Context{}, err
	}
	kept := Labelers{Redact: hctx.Labelers.Redact}
	for _, did := range requested {
		a, ok := actors.Get(did)
		if slices.Contains(h.serviceLabelers, did) || (ok && a.IsLabeler) {
			kept.DIDs = append(kept.DIDs, did)
		}
	}
	return hctx.WithLabelers(kept), nil
}

// GetRepoRevSafe returns did's latest repo revision, or "" if it cannot be
// determined quickly.
func (h *Hydrator) GetRepoRevSafe(ctx context.Context, did string) string {
	if did == "" {
		return ""
	}
	return bestEffort(ctx, h.logger, h.bestEffortTimeout, "repo_rev", "", func(ctx context.Context) (string, error) {
		return h.dp.GetLatestRev(ctx, did)
	})
}

// HydrateProfileViewers hydrates the viewer's relationship to dids plus the
// moderation lists those relationships reference. List-based mutes and
// blocks pointing at missing or non-moderation lists are dropped.
func (h *Hydrator) HydrateProfileViewers(ctx context.Context, dids []string, hctx Context) (State, error) {
	return h.profileViewers(ctx, dids, hctx, State{})
}

func (h *Hydrator) profileViewers(ctx context.Context, dids []string, hctx Context, known State) (State, error) {
	if hctx.Viewer == "" {
		return State{Ctx: hctx}, nil
	}
	viewers, err := h.Actor.GetProfileViewers(ctx, hctx.Viewer, dids, known.ProfileViewers)
	if err != nil {
		return State{}, err
	}
	var listURIs []string
	viewers.Range(func(_ string, v ProfileViewer) bool {
		listURIs = append(listURIs, v.MutedByList, v.BlockingByList, v.BlockedByList)
		return true
	})
	lists, err := h.Graph.GetLists(ctx, dedupe(listURIs), hctx.IncludeTakedowns, known.Lists)
	if err != nil {
		return State{}, err
	}
	isModList := func(uri string) bool {
		l, ok := lists.Get(uri)
		return ok && l.Record.Purpose == bluesky.ListPurposeModeration
	}
	for _, did := range viewers.Keys() {
		v, ok := viewers.Get(did)
		if !ok {
			continue
		}
		if v.MutedByList != "" && !isModList(v.MutedByList) {
			v.MutedByList = ""
		}
		if v.BlockingByList != "" && !isModList(v.BlockingByList) {
			v.BlockingByList = ""
		}
		if v.BlockedByList != "" && !isModList(v.BlockedByList) {
			v.BlockedByList = ""
		}
		viewers.Set(did, v)
	}
	return State{Ctx: hctx, ProfileViewers: viewers, Lists: lists}, nil
}

// HydrateProfilesBasic hydrates what a basic profile view needs: actors,
// their labels and the viewer's relationship to them.
func (h *Hydrator) HydrateProfilesBasic(ctx context.Context, dids []string, hctx Context) (State, error) {
	return h.profilesBasic(ctx, dids, hctx, State{})
}

func (h *Hydrator) profilesBasic(ctx context.Context, dids []string, hctx Context, known State) (State, error) {
	ctx, span := startSpan(ctx, "ProfilesBasic", len(dids))
	defer span.End()

	dids = dedupe(dids)
	var actors State
	var labels, viewers State
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := h.Actor.GetActors(gctx, dids, hctx.IncludeTakedowns, known.Actors)
		actors = State{Actors: m}
		return err
	})
	g.Go(func() error {
		subjects := make([]string, 0, 2*len(dids))
		for _, did := range dids {
			subjects = append(subjects, did, bluesky.MakeURI(did, bluesky.CollectionProfile, "self"))
		}
		var err error
		labels, err = h.labels(gctx, subjects, hctx, known)
		return err
	})
	g.Go(func() error {
		var err error
		viewers, err = h.profileViewers(gctx, dids, hctx, known)
		return err
	})
	if err := g.Wait(); err != nil {
		return State{}, err
	}
	out := mergeAll(hctx, actors, labels, viewers)
	applyTakedownLabels(&out)
	return out, nil
}

func (h *Hydrator) labels(ctx context.Context, subjects []string, hctx Context, known State) (State, error) {
	var need []string
	for _, s := range dedupe(subjects) {
		if !known.Labels.Has(s) {
			need = append(need, s)
		}
	}
	m, err := h.Label.GetLabels(ctx, need, hctx.Labelers)
	if err != nil {
		return State{}, err
	}
	return State{Labels: MergeNested(known.Labels, m)}, nil
}

// HydrateProfiles hydrates a profile view: the basic view plus vouches and
// the accounts that issued them.
func (h *Hydrator) HydrateProfiles(ctx context.Context, dids []string, hctx Context) (State, error) {
	return h.profiles(ctx, dids, hctx, State{})
}

func (h *Hydrator) profiles(ctx context.Context, dids []string, hctx Context, known State) (State, error) {
	ctx, span := startSpan(ctx, "Profiles", len(dids))
	defer span.End()

	var basic State
	var vouches *NestedMap[string, string, Vouch]
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		basic, err = h.profilesBasic(gctx, dids, hctx, known)
		return err
	})
	g.Go(func() error {
		var err error
		vouches, err = h.Actor.GetVouches(gctx, dids)
		return err
	})
	if err := g.Wait(); err != nil {
		return State{}, err
	}

	var issuers []string
	for _, subject := range vouches.Keys() {
		vouches.Lookup(subject).Range(func(_ string, v Vouch) bool {
			issuers = append(issuers, v.Issuer)
			return true
		})
	}
	issuerActors, err := h.Actor.GetActors(ctx, issuers, false, basic.Actors)
	if err != nil {
		return State{}, err
	}
	return mergeAll(hctx, known, basic, State{Actors: issuerActors, Vouches: vouches}), nil
}

// HydrateProfilesDetailed hydrates a detailed profile view: the profile
// view plus counters, known followers and activity subscriptions. The
// last two are best effort.
func (h *Hydrator) HydrateProfilesDetailed(ctx context.Context, dids []string, hctx Context) (State, error) {
	ctx, span := startSpan(ctx, "ProfilesDetailed", len(dids))
	defer span.End()

	var profiles State
	var aggs *Map[string, ProfileAgg]
	var known *Map[string, KnownFollowers]
	var subs *Map[string, ActivitySubscription]
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		profiles, err = h.profiles(gctx, dids, hctx, State{})
		return err
	})
	g.Go(func() error {
		var err error
		aggs, err = h.Actor.GetProfileAggs(gctx, dids, nil)
		return err
	})
	g.Go(func() error {
		known = bestEffort(gctx, h.logger, h.bestEffortTimeout, "known_followers", NewMap[string, KnownFollowers](),
			func(ctx context.Context) (*Map[string, KnownFollowers], error) {
				return h.Actor.GetKnownFollowers(ctx, hctx.Viewer, dids)
			})
		return nil
	})
	g.Go(func() error {
		subs = bestEffort(gctx, h.logger, h.bestEffortTimeout, "activity_subscriptions", NewMap[string, ActivitySubscription](),
			func(ctx context.Context) (*Map[string, ActivitySubscription], error) {
				return h.Actor.GetActivitySubscriptions(ctx, hctx.Viewer, dids)
			})
		return nil
	})
	if err := g.Wait(); err != nil {
		return State{}, err
	}

	var followerDIDs []string
	known.Range(func(_ string, kf KnownFollowers) bool {
		followerDIDs = append(followerDIDs, kf.Followers...)
		return true
	})
	followers, err := h.profilesBasic(ctx, followerDIDs, hctx, profiles)
	if err != nil {
		return State{}, err
	}
	out := mergeAll(hctx, profiles, followers, State{ProfileAggs: aggs, KnownFollowers: known, ActivitySubscriptions: subs})
	applyTakedownLabels(&out)
	return out, nil
}

// HydrateListsBasic hydrates lists with their labels and viewer state.
func (h *Hydrator) HydrateListsBasic(ctx context.Context, uris []string, hctx Context) (State, error) {
	return h.listsBasic(ctx, uris, hctx, State{})
}

func (h *Hydrator) listsBasic(ctx context.Context, uris []string, hctx Context, known State) (State, error) {
	uris = dedupe(uris)
	if len(uris) == 0 {
		return State{Ctx: hctx}, nil
	}
	var lists *Map[string, List]
	var viewers *Map[string, ListViewer]
	var labels State
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lists, err = h.Graph.GetLists(gctx, uris, hctx.IncludeTakedowns, known.Lists)
		return err
	})
	g.Go(func() error {
		var err error
		viewers, err = h.Graph.GetListViewers(gctx, hctx.Viewer, uris, known.ListViewers)
		return err
	})
	g.Go(func() error {
		var err error
		labels, err = h.labels(gctx, uris, hctx, known)
		return err
	})
	if err := g.Wait(); err != nil {
		return State{}, err
	}
	out := mergeAll(hctx, labels, State{Lists: lists, ListViewers: viewers})
	applyTakedownLabels(&out)
	return out, nil
}

// HydrateLists hydrates full list views: the basic view plus counters and
// creator profiles.
func (h *Hydrator) HydrateLists(ctx context.Context, uris []string, hctx Context) (State, error) {
	ctx, span := startSpan(ctx, "Lists", len(uris))
	defer span.End()

	var basic, creators State
	var aggs *Map[string, ListAgg]
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		basic, err = h.listsBasic(gctx, uris, hctx, State{})
		return err
	})
	g.Go(func() error {
		var err error
		aggs, err = h.Graph.GetListAggs(gctx, uris, nil)
		return err
	})
	g.Go(func() error {
		var err error
		creators, err = h.profiles(gctx, creatorsOf(uris), hctx, State{})
		return err
	})
	if err := g.Wait(); err != nil {
		return State{}, err
	}
	return mergeAll(hctx, basic, creators, State{ListAggs: aggs}), nil
}

// HydrateListItems hydrates list item records and the profiles they add.
func (h *Hydrator) HydrateListItems(ctx context.Context, uris []string, hctx Context) (State, error) {
	items, err := h.Graph.GetListItems(ctx, uris, nil)
	if err != nil {
		return State{}, err
	}
	var subjects []string
	items.Range(func(_ string, it ListItem) bool {
		subjects = append(subjects, it.Record.Subject)
		return true
	})
	profiles, err := h.profiles(ctx, subjects, hctx, State{})
	if err != nil {
		return State{}, err
	}
	return mergeAll(hctx, profiles, State{ListItems: items}), nil
}

// HydrateFeedGens hydrates feed generator views.
func (h *Hydrator) HydrateFeedGens(ctx context.Context, uris []string, hctx Context) (State, error) {
	return h.feedGens(ctx, uris, hctx, State{})
}

func (h *Hydrator) feedGens(ctx context.Context, uris []string, hctx Context, known State) (State, error) {
	uris = dedupe(uris)
	if len(uris) == 0 {
		return State{Ctx: hctx}, nil
	}
	ctx, span := startSpan(ctx, "FeedGens", len(uris))
	defer span.End()

	var gens *Map[string, FeedGen]
	var aggs *Map[string, FeedGenAgg]
	var viewers *Map[string, FeedGenViewer]
	var labels, creators State
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		gens, err = h.Feed.GetFeedGens(gctx, uris, hctx.IncludeTakedowns, known.FeedGens)
		return err
	})
	g.Go(func() error {
		var err error
		aggs, err = h.Feed.GetFeedGenAggs(gctx, uris, known.FeedGenAggs)
		return err
	})
	g.Go(func() error {
		var err error
		viewers, err = h.Feed.GetFeedGenViewers(gctx, hctx.Viewer, uris, known.FeedGenViewers)
		return err
	})
	g.Go(func() error {
		var err error
		labels, err = h.labels(gctx, uris, hctx, known)
		return err
	})
	g.Go(func() error {
		var err error
		creators, err = h.profiles(gctx, creatorsOf(uris), hctx, known)
		return err
	})
	if err := g.Wait(); err != nil {
		return State{}, err
	}
	out := mergeAll(hctx, labels, creators, State{FeedGens: gens, FeedGenAggs: aggs, FeedGenViewers: viewers})
	applyTakedownLabels(&out)
	return out, nil
}

// HydratePosts hydrates post views: the posts, records they quote two
// layers deep, gates, counters, viewer state, blocks, labels and author
// profiles.
func (h *Hydrator) HydratePosts(ctx context.Context, uris []string, hctx Context) (State, error) {
	return h.posts(ctx, uris, hctx, State{})
}

func (h *Hydrator) posts(ctx context.Context, uris []string, hctx Context, known State) (State, error) {
	ctx, span := startSpan(ctx, "Posts", len(uris))
	defer span.End()

	uris = dedupe(uris)
	inc := hctx.IncludeTakedowns

	layer0, err := h.Feed.GetPosts(ctx, uris, inc, known.Posts)
	if err != nil {
		return State{}, err
	}
	embeds1 := bluesky.URIsByCollection(quotedURIs(layer0, uris))
	layer1, err := h.Feed.GetPosts(ctx, embeds1[bluesky.CollectionPost], inc, layer0)
	if err != nil {
		return State{}, err
	}
	embeds2 := bluesky.URIsByCollection(quotedURIs(layer1, embeds1[bluesky.CollectionPost]))
	posts, err := h.Feed.GetPosts(ctx, embeds2[bluesky.CollectionPost], inc, layer1)
	if err != nil {
		return State{}, err
	}

	viewable := dedupe(append(slices.Clone(uris), embeds1[bluesky.CollectionPost]...))
	all := dedupe(append(slices.Clone(viewable), embeds2[bluesky.CollectionPost]...))

	var roots, authors []string
	for _, uri := range viewable {
		root := uri
		if p, ok := posts.Get(uri); ok && p.Record.RootURI() != "" {
			root = p.Record.RootURI()
		}
		roots = append(roots, root)
	}
	for _, uri := range append(slices.Clone(all), roots...) {
		authors = append(authors, bluesky.DIDFromURI(uri))
	}

	var threadgates *Map[string, Threadgate]
	var postgates *Map[string, Postgate]
	var aggs *Map[string, PostAgg]
	var viewers *Map[string, PostViewer]
	var blocks State
	var labels, profiles, gens, lists State
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		threadgates, err = h.Feed.GetThreadgatesForPosts(gctx, dedupe(roots), inc, known.Threadgates)
		return err
	})
	g.Go(func() error {
		var err error
		postgates, err = h.Feed.GetPostgatesForPosts(gctx, all, inc, known.Postgates)
		return err
	})
	g.Go(func() error {
		var err error
		aggs, err = h.Feed.GetPostAggs(gctx, viewable, known.PostAggs)
		return err
	})
	g.Go(func() error {
		var err error
		viewers, err = h.Feed.GetPostViewers(gctx, hctx.Viewer, viewable, known.PostViewers)
		return err
	})
	g.Go(func() error {
		var err error
		blocks, err = h.postBlocks(gctx, all, posts, known)
		return err
	})
	g.Go(func() error {
		var err error
		labels, err = h.labels(gctx, all, hctx, known)
		return err
	})
	g.Go(func() error {
		var err error
		profiles, err = h.profilesBasic(gctx, authors, hctx, known)
		return err
	})
	g.Go(func() error {
		var err error
		gens, err = h.feedGens(gctx, append(embeds1[bluesky.CollectionGenerator], embeds2[bluesky.CollectionGenerator]...), hctx, known)
		return err
	})
	g.Go(func() error {
		var err error
		lists, err = h.listsBasic(gctx, append(embeds1[bluesky.CollectionList], embeds2[bluesky.CollectionList]...), hctx, known)
		return err
	})
	if err := g.Wait(); err != nil {
		return State{}, err
	}

	// Threadgate list rules need the lists and the viewer's membership.
	var gateLists []string
	threadgates.Range(func(_ string, tg Threadgate) bool {
		gateLists = append(gateLists, tg.Record.ListURIs()...)
		return true
	})
	var gateListState State
	var memberships *NestedMap[string, string, string]
	if len(gateLists) > 0 {
		g, gctx = errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			gateListState, err = h.listsBasic(gctx, gateLists, hctx, lists)
			return err
		})
		g.Go(func() error {
			var err error
			memberships, err = h.Graph.GetListMemberships(gctx, hctx.Viewer, gateLists)
			return err
		})
		if err := g.Wait(); err != nil {
			return State{}, err
		}
	}

	out := mergeAll(hctx, known, profiles, labels, gens, lists, gateListState, blocks, State{
		Posts:           posts,
		PostAggs:        aggs,
		PostViewers:     viewers,
		Threadgates:     threadgates,
		Postgates:       postgates,
		ListMemberships: memberships,
	})
	applyTakedownLabels(&out)
	return out, nil
}

func quotedURIs(posts *Map[string, Post], uris []string) []string {
	var out []string
	for _, uri := range uris {
		p, ok := posts.Get(uri)
		if !ok || p.Record.Embed == nil {
			continue
		}
		if ref := p.Record.Embed.QuotedRef(); ref != nil {
			out = append(out, ref.URI)
		}
	}
	return dedupe(out)
}

func creatorsOf(uris []string) []string {
	dids := make([]string, 0, len(uris))
	for _, uri := range uris {
		dids = append(dids, bluesky.DIDFromURI(uri))
	}
	return dedupe(dids)
}

// postBlocks checks each post's author against the authors of its reply
// parent, thread root and embedded record.
func (h *Hydrator) postBlocks(ctx context.Context, uris []string, posts *Map[string, Post], known State) (State, error) {
	type refs struct{ parent, root, embed string }
	byPost := make(map[string]refs)
	pairs := make(map[string][]string)
	for _, uri := range uris {
		if known.PostBlocks.Has(uri) {
			continue
		}
		p, ok := posts.Get(uri)
		if !ok {
			continue
		}
		creator := bluesky.DIDFromURI(uri)
		r := refs{
			parent: bluesky.DIDFromURI(p.Record.ParentURI()),
			root:   bluesky.DIDFromURI(p.Record.RootURI()),
		}
		if p.Record.Embed != nil {
			if ref := p.Record.Embed.QuotedRef(); ref != nil {
				r.embed = bluesky.DIDFromURI(ref.URI)
			}
		}
		byPost[uri] = r
		for _, dst := range []string{r.parent, r.root, r.embed} {
			if dst != "" {
				pairs[creator] = append(pairs[creator], dst)
			}
		}
	}
	blocks, err := h.Graph.GetBidirectionalBlocks(ctx, pairs)
	if err != nil {
		return State{}, err
	}
	out := NewMap[string, PostBlock]()
	for uri, r := range byPost {
		creator := bluesky.DIDFromURI(uri)
		get := func(dst string) bool {
			v, _ := blocks.Get(creator, dst)
			return dst != "" && v
		}
		out.Set(uri, PostBlock{Parent: get(r.parent), Root: get(r.root), Embed: get(r.embed)})
	}
	return State{PostBlocks: MergeMaps(known.PostBlocks, out), BidirectionalBlocks: blocks}, nil
}

// HydrateThreadPosts hydrates posts for thread assembly: post views plus
// whether the thread root author liked each post.
func (h *Hydrator) HydrateThreadPosts(ctx context.Context, uris []string, hctx Context) (State, error) {
	state, err := h.posts(ctx, uris, hctx, State{})
	if err != nil {
		return State{}, err
	}
	rootAuthors := make(map[string]string, len(uris))
	for _, uri := range uris {
		p, ok := state.Posts.Get(uri)
		if !ok {
			continue
		}
		root := p.Record.RootURI()
		if root == "" {
			root = uri
		}
		rootAuthors[uri] = bluesky.DIDFromURI(root)
	}
	contexts, err := h.Feed.GetThreadContexts(ctx, rootAuthors)
	if err != nil {
		return State{}, err
	}
	return MergeStates(state, State{ThreadContexts: contexts}), nil
}

// HydrateFeedItems hydrates feed items: their posts with reply parents and
// roots, and reposts with their authors.
func (h *Hydrator) HydrateFeedItems(ctx context.Context, items []dataplane.FeedItem, hctx Context) (State, error) {
	ctx, span := startSpan(ctx, "FeedItems", len(items))
	defer span.End()

	var postURIs, repostURIs []string
	for _, it := range items {
		postURIs = append(postURIs, it.Post)
		if it.Repost != "" {
			repostURIs = append(repostURIs, it.Repost)
		}
	}
	first, err := h.Feed.GetPosts(ctx, postURIs, hctx.IncludeTakedowns, nil)
	if err != nil {
		return State{}, err
	}
	var replyRefs []string
	first.Range(func(_ string, p Post) bool {
		replyRefs = append(replyRefs, p.Record.ParentURI(), p.Record.RootURI())
		return true
	})

	var posts, reposters State
	var reposts *Map[string, Repost]
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		posts, err = h.posts(gctx, append(postURIs, replyRefs...), hctx, State{Posts: first})
		return err
	})
	g.Go(func() error {
		var err error
		reposts, err = h.Feed.GetReposts(gctx, repostURIs, hctx.IncludeTakedowns, nil)
		return err
	})
	g.Go(func() error {
		var err error
		reposters, err = h.profilesBasic(gctx, creatorsOf(repostURIs), hctx, State{})
		return err
	})
	if err := g.Wait(); err != nil {
		return State{}, err
	}
	return mergeAll(hctx, posts, reposters, State{Reposts: reposts}), nil
}

// HydrateLikes hydrates like records and the profiles of their authors.
func (h *Hydrator) HydrateLikes(ctx context.Context, uris []string, hctx Context) (State, error) {
	var likes *Map[string, Like]
	var profiles State
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		likes, err = h.Feed.GetLikes(gctx, uris, hctx.IncludeTakedowns, nil)
		return err
	})
	g.Go(func() error {
		var err error
		profiles, err = h.profiles(gctx, creatorsOf(uris), hctx, State{})
		return err
	})
	if err := g.Wait(); err != nil {
		return State{}, err
	}
	return mergeAll(hctx, profiles, State{Likes: likes}), nil
}

// HydrateReposts hydrates repost records and the profiles of their authors.
func (h *Hydrator) HydrateReposts(ctx context.Context, uris []string, hctx Context) (State, error) {
	var reposts *Map[string, Repost]
	var profiles State
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		reposts, err = h.Feed.GetReposts(gctx, uris, hctx.IncludeTakedowns, nil)
		return err
	})
	g.Go(func() error {
		var err error
		profiles, err = h.profiles(gctx, creatorsOf(uris), hctx, State{})
		return err
	})
	if err := g.Wait(); err != nil {
		return State{}, err
	}
	return mergeAll(hctx, profiles, State{Reposts: reposts}), nil
}

// HydrateNotifications hydrates the records behind notifications and the
// profiles of their authors.
func (h *Hydrator) HydrateNotifications(ctx context.Context, notifs []dataplane.Notification, hctx Context) (State, error) {
	ctx, span := startSpan(ctx, "Notifications", len(notifs))
	defer span.End()

	uris := make([]string, 0, len(notifs))
	authors := make([]string, 0, len(notifs))
	for _, n := range notifs {
		uris = append(uris, n.URI)
		authors = append(authors, n.Author)
	}
	byCollection := bluesky.URIsByCollection(uris)

	var posts, profiles, labels State
	var likes *Map[string, Like]
	var reposts *Map[string, Repost]
	var follows *Map[string, Follow]
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		posts, err = h.posts(gctx, byCollection[bluesky.CollectionPost], hctx, State{})
		return err
	})
	g.Go(func() error {
		var err error
		likes, err = h.Feed.GetLikes(gctx, byCollection[bluesky.CollectionLike], hctx.IncludeTakedowns, nil)
		return err
	})
	g.Go(func() error {
		var err error
		reposts, err = h.Feed.GetReposts(gctx, byCollection[bluesky.CollectionRepost], hctx.IncludeTakedowns, nil)
		return err
	})
	g.Go(func() error {
		var err error
		follows, err = h.Feed.GetFollows(gctx, byCollection[bluesky.CollectionFollow], hctx.IncludeTakedowns, nil)
		return err
	})
	g.Go(func() error {
		var err error
		profiles, err = h.profiles(gctx, authors, hctx, State{})
		return err
	})
	g.Go(func() error {
		var err error
		labels, err = h.labels(gctx, uris, hctx, State{})
		return err
	})
	if err := g.Wait(); err != nil {
		return State{}, err
	}
	out := mergeAll(hctx, posts, profiles, labels, State{Likes: likes, Reposts: reposts, Follows: follows})
	applyTakedownLabels(&out)
	return out, nil
}

// HydrateBookmarks hydrates the viewer's bookmarks and the posts they save.
func (h *Hydrator) HydrateBookmarks(ctx context.Context, bookmarks []dataplane.Bookmark, hctx Context) (State, error) {
	subjects := make([]string, 0, len(bookmarks))
	m := NewMap[string, Bookmark]()
	for _, b := range bookmarks {
		subjects = append(subjects, b.Subject)
		m.Set(b.Subject, b)
	}
	posts, err := h.posts(ctx, subjects, hctx, State{})
	if err != nil {
		return State{}, err
	}
	return MergeStates(posts, State{Bookmarks: m}), nil
}

// applyTakedownLabels tombstones entities carrying a takedown label unless
// the context includes takedowns.
func applyTakedownLabels(s *State) {
	if s.Ctx.IncludeTakedowns || s.Labels == nil {
		return
	}
	for _, subject := range s.Labels.Keys() {
		if !IsTakendownByLabel(s.Labels, subject) {
			continue
		}
		tombstoneIfKnown(s.Actors, subject)
		tombstoneIfKnown(s.Posts, subject)
		tombstoneIfKnown(s.Lists, subject)
		tombstoneIfKnown(s.FeedGens, subject)
	}
}

func tombstoneIfKnown[V any](m *Map[string, V], k string) {
	if m.Has(k) {
		m.Tombstone(k)
	}
}

// HydrateFollows hydrates follow records with the profiles on both ends.
func (h *Hydrator) HydrateFollows(ctx context.Context, uris []string, hctx Context) (State, error) {
	follows, err := h.Feed.GetFollows(ctx, uris, hctx.IncludeTakedowns, nil)
	if err != nil {
		return State{}, err
	}
	dids := creatorsOf(uris)
	follows.Range(func(_ string, f Follow) bool {
		dids = append(dids, f.Record.Subject)
		return true
	})
	profiles, err := h.profiles(ctx, dids, hctx, State{})
	if err != nil {
		return State{}, err
	}
	return mergeAll(hctx, profiles, State{Follows: follows}), nil
}
