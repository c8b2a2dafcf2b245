package hydration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
)

// ActorHydrator fetches accounts and viewer-relative account state.
type ActorHydrator struct {
	dp dataplane.Client
}

// ResolveDIDs maps handles or DIDs to DIDs, positionally. Unknown handles
// map to "".
func (a *ActorHydrator) ResolveDIDs(ctx context.Context, handleOrDIDs []string) ([]string, error) {
	out := make([]string, len(handleOrDIDs))
	var handles []string
	var idx []int
	for i, h := range handleOrDIDs {
		if strings.HasPrefix(h, "did:") {
			out[i] = h
			continue
		}
		handles = append(handles, strings.ToLower(h))
		idx = append(idx, i)
	}
	if len(handles) == 0 {
		return out, nil
	}
	dids, err := a.dp.GetDidsByHandles(ctx, handles)
	if err != nil {
		return nil, fmt.Errorf("get dids by handles: %w", err)
	}
	for j, did := range dids {
		if j < len(idx) {
			out[idx[j]] = did
		}
	}
	return out, nil
}

// GetActors hydrates accounts. Accounts that do not exist are tombstoned;
// taken down or inactive accounts are tombstoned unless includeTakedowns.
func (a *ActorHydrator) GetActors(ctx context.Context, dids []string, includeTakedowns bool, known *Map[string, Actor]) (*Map[string, Actor], error) {
	return fetchMissing(ctx, dids, known, func(ctx context.Context, need []string) (*Map[string, Actor], error) {
		actors, err := a.dp.GetActors(ctx, need)
		if err != nil {
			return nil, fmt.Errorf("get actors: %w", err)
		}
		out := NewMap[string, Actor]()
		for _, did := range need {
			out.Tombstone(did)
		}
		for i, act := range actors {
			if i >= len(need) || !act.Exists {
				continue
			}
			hidden := act.TakedownRef != "" || (act.Status != dataplane.StatusActive && act.Status != dataplane.StatusDeactivated)
			if hidden && !includeTakedowns {
				continue
			}
			out.Set(need[i], actorFrom(act, includeTakedowns))
		}
		return out, nil
	})
}

func actorFrom(act dataplane.Actor, includeTakedowns bool) Actor {
	out := Actor{
		DID:             act.DID,
		Handle:          act.Handle,
		SortedAt:        act.IndexedAt,
		IndexedAt:       act.IndexedAt,
		CreatedAt:       act.CreatedAt,
		TakedownRef:     act.TakedownRef,
		Status:          act.Status,
		IsLabeler:       act.IsLabeler,
		TrustedVerifier: act.TrustedVerifier,
	}
	p := act.Profile
	if p == nil || !p.Exists() || (p.TakedownRef != "" && !includeTakedowns) {
		return out
	}
	var rec bluesky.ProfileRecord
	if err := json.Unmarshal(p.Value, &rec); err != nil {
		return out
	}
	out.Profile = &rec
	out.ProfileCID = p.CID
	out.ProfileTakedownRef = p.TakedownRef
	out.SortedAt = p.SortedAt
	out.IndexedAt = p.IndexedAt
	return out
}

// GetProfileViewers hydrates the viewer's relationship to each DID. The
// viewer's own DID gets an empty state without an upstream query.
func (a *ActorHydrator) GetProfileViewers(ctx context.Context, viewer string, dids []string, known *Map[string, ProfileViewer]) (*Map[string, ProfileViewer], error) {
	if viewer == "" {
		return known.Clone(), nil
	}
	return fetchMissing(ctx, dids, known, func(ctx context.Context, need []string) (*Map[string, ProfileViewer], error) {
		out := NewMap[string, ProfileViewer]()
		targets := make([]string, 0, len(need))
		for _, did := range need {
			if did == viewer {
				out.Set(did, ProfileViewer{})
				continue
			}
			targets = append(targets, did)
		}
		if len(targets) == 0 {
			return out, nil
		}
		rels, err := a.dp.GetRelationships(ctx, viewer, targets)
		if err != nil {
			return nil, fmt.Errorf("get relationships: %w", err)
		}
		for i, did := range targets {
			if i < len(rels) {
				out.Set(did, rels[i])
			} else {
				out.Set(did, ProfileViewer{})
			}
		}
		return out, nil
	})
}

// GetProfileAggs hydrates profile counters.
func (a *ActorHydrator) GetProfileAggs(ctx context.Context, dids []string, known *Map[string, ProfileAgg]) (*Map[string, ProfileAgg], error) {
	return fetchMissing(ctx, dids, known, func(ctx context.Context, need []string) (*Map[string, ProfileAgg], error) {
		counts, err := a.dp.GetProfileCounts(ctx, need)
		if err != nil {
			return nil, fmt.Errorf("get profile counts: %w", err)
		}
		out := NewMap[string, ProfileAgg]()
		for i, did := range need {
			if i < len(counts) {
				out.Set(did, counts[i])
			} else {
				out.Tombstone(did)
			}
		}
		return out, nil
	})
}

// GetKnownFollowers hydrates followers of each DID that the viewer follows.
// The viewer's own DID is skipped.
func (a *ActorHydrator) GetKnownFollowers(ctx context.Context, viewer string, dids []string) (*Map[string, KnownFollowers], error) {
	out := NewMap[string, KnownFollowers]()
	targets := make([]string, 0, len(dids))
	for _, did := range dedupe(dids) {
		if did != viewer {
			targets = append(targets, did)
		}
	}
	if viewer == "" || len(targets) == 0 {
		return out, nil
	}
	res, err := a.dp.GetFollowsFollowing(ctx, viewer, targets)
	if err != nil {
		return nil, fmt.Errorf("get follows following: %w", err)
	}
	for i, did := range targets {
		if i >= len(res) || len(res[i]) == 0 {
			continue
		}
		followers := res[i]
		if len(followers) > knownFollowersPreview {
			followers = followers[:knownFollowersPreview]
		}
		out.Set(did, KnownFollowers{Count: len(res[i]), Followers: followers})
	}
	return out, nil
}

const knownFollowersPreview = 5

// GetActivitySubscriptions hydrates the viewer's notification subscriptions
// to each DID.
func (a *ActorHydrator) GetActivitySubscriptions(ctx context.Context, viewer string, dids []string) (*Map[string, ActivitySubscription], error) {
	out := NewMap[string, ActivitySubscription]()
	targets := make([]string, 0, len(dids))
	for _, did := range dedupe(dids) {
		if did != viewer {
			targets = append(targets, did)
		}
	}
	if viewer == "" || len(targets) == 0 {
		return out, nil
	}
	subs, err := a.dp.GetActivitySubscriptions(ctx, viewer, targets)
	if err != nil {
		return nil, fmt.Errorf("get activity subscriptions: %w", err)
	}
	for i, did := range targets {
		if i < len(subs) && (subs[i].Post || subs[i].Reply) {
			out.Set(did, subs[i])
		}
	}
	return out, nil
}

// GetVouches hydrates the vouches targeting each DID, keyed by subject then
// vouch URI.
func (a *ActorHydrator) GetVouches(ctx context.Context, dids []string) (*NestedMap[string, string, Vouch], error) {
	out := NewNestedMap[string, string, Vouch]()
	dids = dedupe(dids)
	if len(dids) == 0 {
		return out, nil
	}
	res, err := a.dp.GetVouches(ctx, dids)
	if err != nil {
		return nil, fmt.Errorf("get vouches: %w", err)
	}
	for i, did := range dids {
		inner := out.Inner(did)
		if i >= len(res) {
			continue
		}
		for _, v := range res[i] {
			inner.Set(v.URI, v)
		}
	}
	return out, nil
}
