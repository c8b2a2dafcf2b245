package api

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/blackmichael/bluesky-appview/internal/dataplane"
	"github.com/blackmichael/bluesky-appview/internal/hydration"
	"github.com/blackmichael/bluesky-appview/internal/pagination"
	"github.com/blackmichael/bluesky-appview/internal/pipeline"
	"github.com/blackmichael/bluesky-appview/internal/views"
	"github.com/blackmichael/bluesky-appview/internal/xrpcerr"
)

type notificationsParams struct {
	Common
	Limit   int
	Cursor  string
	Reasons []string
}

type notificationsSkeleton struct {
	Items  []dataplane.Notification
	Cursor string
	SeenAt time.Time
}

// NotificationsBody is the listNotifications response.
type NotificationsBody struct {
	Notifications []*views.NotificationView `json:"notifications"`
	Cursor        string                    `json:"cursor,omitempty"`
	SeenAt        string                    `json:"seenAt,omitempty"`
	Priority      bool                      `json:"priority"`
}

// reviewedReasons are the notifications that surface someone else's post
// and so are held back while its author awaits review.
var reviewedReasons = []string{dataplane.ReasonReply, dataplane.ReasonQuote, dataplane.ReasonMention}

var notificationReasons = []string{
	dataplane.ReasonLike,
	dataplane.ReasonRepost,
	dataplane.ReasonFollow,
	dataplane.ReasonMention,
	dataplane.ReasonReply,
	dataplane.ReasonQuote,
	dataplane.ReasonSubscribed,
}

func parseListNotifications(q url.Values, hctx hydration.Context) (notificationsParams, error) {
	if err := requireViewer(hctx); err != nil {
		return notificationsParams{}, err
	}
	limit, err := parseLimit(q, pagination.DefaultLimit, pagination.MaxLimit)
	if err != nil {
		return notificationsParams{}, err
	}
	reasons := q["reasons"]
	for _, r := range reasons {
		if !slices.Contains(notificationReasons, r) {
			return notificationsParams{}, xrpcerr.InvalidRequest("unknown notification reason %q", r)
		}
	}
	return notificationsParams{Common: Common{hctx}, Limit: limit, Cursor: q.Get("cursor"), Reasons: reasons}, nil
}

func (a *API) listNotifications() *pipeline.Pipeline[notificationsParams, notificationsSkeleton, hydration.State, NotificationsBody] {
	return newPipeline("app.bsky.notification.listNotifications",
		a.notificationsSkeleton,
		func(ctx context.Context, p notificationsParams, sk notificationsSkeleton) (hydration.State, error) {
			return a.hydrator.HydrateNotifications(ctx, sk.Items, p.Ctx)
		},
		notificationRules,
		a.presentNotifications,
	)
}

func (a *API) notificationsSkeleton(ctx context.Context, p notificationsParams) (notificationsSkeleton, error) {
	if pagination.Invalid(p.Cursor) {
		return notificationsSkeleton{}, nil
	}
	page, err := a.dp.GetNotifications(ctx, p.Ctx.Viewer, p.Cursor, p.Limit)
	if err != nil {
		return notificationsSkeleton{}, fmt.Errorf("get notifications: %w", err)
	}
	items := page.Items
	if len(p.Reasons) > 0 {
		items = slices.DeleteFunc(slices.Clone(items), func(n dataplane.Notification) bool {
			return !slices.Contains(p.Reasons, n.Reason)
		})
	}
	return notificationsSkeleton{Items: items, Cursor: page.Cursor, SeenAt: page.SeenAt}, nil
}

// notificationRules drops notifications from accounts the viewer blocks or
// mutes, and reviewed reasons whose post awaits review.
func notificationRules(_ context.Context, _ notificationsParams, sk notificationsSkeleton, s hydration.State) notificationsSkeleton {
	sk.Items = slices.DeleteFunc(slices.Clone(sk.Items), func(n dataplane.Notification) bool {
		if views.ViewerBlockExists(&s, n.Author) || views.ViewerMuteExists(&s, n.Author) {
			return true
		}
		return slices.Contains(reviewedReasons, n.Reason) && views.NeedsReview(&s, n.URI)
	})
	return sk
}

func (a *API) presentNotifications(_ context.Context, _ notificationsParams, sk notificationsSkeleton, s hydration.State) (NotificationsBody, error) {
	out := NotificationsBody{Notifications: make([]*views.NotificationView, 0, len(sk.Items)), Cursor: sk.Cursor}
	if !sk.SeenAt.IsZero() {
		out.SeenAt = sk.SeenAt.UTC().Format(views.TimeFormat)
	}
	for _, n := range sk.Items {
		if view := a.views.Notification(&s, n, sk.SeenAt); view != nil {
			out.Notifications = append(out.Notifications, view)
		}
	}
	return out, nil
}
