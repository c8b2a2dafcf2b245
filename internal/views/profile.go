package views

import (
	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/hydration"
)

// ProfileBasic renders did as a basic profile, or nil if the account is
// not visible.
func (v *Views) ProfileBasic(s *hydration.State, did string) *ProfileViewBasic {
	a, ok := s.Actors.Get(did)
	if !ok {
		return nil
	}
	out := &ProfileViewBasic{
		DID:       did,
		Handle:    a.Handle,
		Viewer:    v.profileViewer(s, did),
		Labels:    v.actorLabels(s, did),
		CreatedAt: formatTime(a.CreatedAt),
	}
	if out.Handle == "" {
		out.Handle = InvalidHandle
	}
	if a.Profile != nil {
		out.DisplayName = a.Profile.DisplayName
		out.Avatar = v.imageURL(PresetAvatar, did, a.Profile.Avatar)
	}
	if a.IsLabeler {
		out.Associated = &ProfileAssociated{Labeler: true}
	}
	out.Verification = v.verification(s, did, a)
	return out
}

// InvalidHandle is rendered for accounts whose handle does not resolve.
const InvalidHandle = "handle.invalid"

// Profile renders did as a profile view.
func (v *Views) Profile(s *hydration.State, did string) *ProfileView {
	basic := v.ProfileBasic(s, did)
	if basic == nil {
		return nil
	}
	a, _ := s.Actors.Get(did)
	out := &ProfileView{ProfileViewBasic: *basic, IndexedAt: formatTime(a.IndexedAt)}
	if a.Profile != nil {
		out.Description = a.Profile.Description
	}
	return out
}

// ProfileDetailed renders did with counters, known followers and the
// pinned post.
func (v *Views) ProfileDetailed(s *hydration.State, did string) *ProfileViewDetailed {
	p := v.Profile(s, did)
	if p == nil {
		return nil
	}
	a, _ := s.Actors.Get(did)
	out := &ProfileViewDetailed{ProfileView: *p}
	if a.Profile != nil {
		out.Banner = v.imageURL(PresetBanner, did, a.Profile.Banner)
		out.PinnedPost = a.Profile.PinnedPost
	}
	if agg, ok := s.ProfileAggs.Get(did); ok {
		out.FollowersCount = agg.Followers
		out.FollowsCount = agg.Follows
		out.PostsCount = agg.Posts
		if agg.Lists > 0 || agg.Feeds > 0 || a.IsLabeler {
			out.Associated = &ProfileAssociated{Lists: agg.Lists, FeedGens: agg.Feeds, Labeler: a.IsLabeler}
		}
	}
	if out.Viewer != nil {
		viewer := *out.Viewer
		if kf, ok := s.KnownFollowers.Get(did); ok && !ViewerBlockExists(s, did) {
			view := &KnownFollowersView{Count: kf.Count, Followers: []*ProfileViewBasic{}}
			for _, f := range kf.Followers {
				if ViewerBlockExists(s, f) {
					continue
				}
				if fv := v.ProfileBasic(s, f); fv != nil {
					view.Followers = append(view.Followers, fv)
				}
			}
			viewer.KnownFollowers = view
		}
		if sub, ok := s.ActivitySubscriptions.Get(did); ok {
			viewer.ActivitySubscription = &ActivitySubscriptionView{Post: sub.Post, Reply: sub.Reply}
		}
		out.Viewer = &viewer
	}
	return out
}

func (v *Views) profileViewer(s *hydration.State, did string) *ViewerState {
	if s.Ctx.Viewer == "" {
		return nil
	}
	pv, ok := s.ProfileViewers.Get(did)
	if !ok {
		return nil
	}
	out := &ViewerState{
		Muted:     pv.Muted || pv.MutedByList != "",
		BlockedBy: pv.BlockedBy != "" || pv.BlockedByList != "",
		Blocking:  pv.Blocking,
	}
	if pv.MutedByList != "" {
		out.MutedByList = v.ListBasic(s, pv.MutedByList)
	}
	if pv.BlockingByList != "" {
		out.BlockingByList = v.ListBasic(s, pv.BlockingByList)
		if out.Blocking == "" {
			out.Blocking = pv.BlockingByList
		}
	}
	// Follow state is hidden across a block.
	if !out.BlockedBy && out.Blocking == "" {
		out.Following = pv.Following
		out.FollowedBy = pv.FollowedBy
	}
	return out
}

func (v *Views) actorLabels(s *hydration.State, did string) []Label {
	labels := v.labels(s, did)
	return append(labels, v.labels(s, bluesky.MakeURI(did, bluesky.CollectionProfile, "self"))...)
}

func (v *Views) labels(s *hydration.State, subject string) []Label {
	out := []Label{}
	s.Labels.Lookup(subject).Range(func(_ hydration.LabelKey, l hydration.Label) bool {
		out = append(out, Label{
			Src: l.Src,
			URI: l.URI,
			CID: l.CID,
			Val: l.Val,
			Neg: l.Neg,
			Cts: formatTime(l.Cts),
			Exp: formatTime(l.Exp),
		})
		return true
	})
	sortLabels(out)
	return out
}

// verification renders vouches from trusted verifiers. A vouch is valid
// while the subject's handle and display name still match what was vouched.
func (v *Views) verification(s *hydration.State, did string, a hydration.Actor) *VerificationState {
	inner := s.Vouches.Lookup(did)
	if inner == nil && !a.TrustedVerifier {
		return nil
	}
	out := &VerificationState{Verifications: []Verification{}, VerifiedStatus: "none", TrustedStatus: "none"}
	if a.TrustedVerifier {
		out.TrustedStatus = "valid"
	}
	displayName := ""
	if a.Profile != nil {
		displayName = a.Profile.DisplayName
	}
	inner.Range(func(_ string, vouch hydration.Vouch) bool {
		issuer, ok := s.Actors.Get(vouch.Issuer)
		if !ok || !issuer.TrustedVerifier {
			return true
		}
		valid := vouch.Handle == a.Handle && (vouch.DisplayName == "" || vouch.DisplayName == displayName)
		out.Verifications = append(out.Verifications, Verification{
			Issuer:    vouch.Issuer,
			URI:       vouch.URI,
			IsValid:   valid,
			CreatedAt: formatTime(vouch.CreatedAt),
		})
		if valid {
			out.VerifiedStatus = "valid"
		} else if out.VerifiedStatus == "none" {
			out.VerifiedStatus = "invalid"
		}
		return true
	})
	sortVerifications(out.Verifications)
	if len(out.Verifications) == 0 && !a.TrustedVerifier {
		return nil
	}
	return out
}
