package api

import (
	"context"
	"net/url"

	"github.com/blackmichael/bluesky-appview/internal/dataplane"
	"github.com/blackmichael/bluesky-appview/internal/hydration"
	"github.com/blackmichael/bluesky-appview/internal/pipeline"
	"github.com/blackmichael/bluesky-appview/internal/views"
	"github.com/blackmichael/bluesky-appview/internal/xrpcerr"
)

const maxProfiles = 25

type actorsParams struct {
	Common
	Actors []string
}

type actorsSkeleton struct {
	DIDs []string
}

// ProfilesBody is the getProfiles response.
type ProfilesBody struct {
	Profiles []*views.ProfileViewDetailed `json:"profiles"`
}

func parseGetProfile(q url.Values, hctx hydration.Context) (actorsParams, error) {
	actor, err := required(q, "actor")
	if err != nil {
		return actorsParams{}, err
	}
	return actorsParams{Common: Common{hctx}, Actors: []string{actor}}, nil
}

func parseGetProfiles(q url.Values, hctx hydration.Context) (actorsParams, error) {
	actors, err := parseList(q, "actors", maxProfiles)
	if err != nil {
		return actorsParams{}, err
	}
	return actorsParams{Common: Common{hctx}, Actors: actors}, nil
}

func (a *API) getProfile() *pipeline.Pipeline[actorsParams, actorsSkeleton, hydration.State, *views.ProfileViewDetailed] {
	return newPipeline("app.bsky.actor.getProfile", a.resolveActors, a.hydrateProfiles, nil, a.presentProfile)
}

func (a *API) getProfiles() *pipeline.Pipeline[actorsParams, actorsSkeleton, hydration.State, ProfilesBody] {
	return newPipeline("app.bsky.actor.getProfiles", a.resolveActors, a.hydrateProfiles, nil, a.presentProfiles)
}

// resolveActors maps handles to DIDs, dropping those that do not resolve.
func (a *API) resolveActors(ctx context.Context, p actorsParams) (actorsSkeleton, error) {
	dids, err := a.hydrator.Actor.ResolveDIDs(ctx, p.Actors)
	if err != nil {
		return actorsSkeleton{}, err
	}
	var out actorsSkeleton
	for _, did := range dids {
		if did != "" {
			out.DIDs = append(out.DIDs, did)
		}
	}
	return out, nil
}

func (a *API) hydrateProfiles(ctx context.Context, p actorsParams, sk actorsSkeleton) (hydration.State, error) {
	return a.hydrator.HydrateProfilesDetailed(ctx, sk.DIDs, p.Ctx)
}

func (a *API) presentProfile(_ context.Context, p actorsParams, sk actorsSkeleton, s hydration.State) (*views.ProfileViewDetailed, error) {
	if len(sk.DIDs) == 0 {
		return nil, xrpcerr.NotFound("", "Profile not found")
	}
	did := sk.DIDs[0]
	if act, ok := s.Actors.Get(did); ok && act.Status == dataplane.StatusDeactivated && !p.Ctx.IncludeTakedowns {
		return nil, xrpcerr.NotFound("AccountDeactivated", "Account is deactivated")
	}
	profile := a.views.ProfileDetailed(&s, did)
	if profile == nil {
		return nil, xrpcerr.NotFound("", "Profile not found")
	}
	return profile, nil
}

func (a *API) presentProfiles(_ context.Context, _ actorsParams, sk actorsSkeleton, s hydration.State) (ProfilesBody, error) {
	out := ProfilesBody{Profiles: make([]*views.ProfileViewDetailed, 0, len(sk.DIDs))}
	for _, did := range sk.DIDs {
		if profile := a.views.ProfileDetailed(&s, did); profile != nil {
			out.Profiles = append(out.Profiles, profile)
		}
	}
	return out, nil
}
