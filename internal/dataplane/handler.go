package dataplane

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

type method func(ctx context.Context, c Client, req request) (any, error)

var methods = map[string]method{
	"GetActors": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetActors(ctx, r.DIDs)
	},
	"GetDidsByHandles": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetDidsByHandles(ctx, r.Handles)
	},
	"GetProfileCounts": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetProfileCounts(ctx, r.DIDs)
	},
	"GetLatestRev": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetLatestRev(ctx, r.DID)
	},
	"GetVouches": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetVouches(ctx, r.Subjects)
	},
	"GetRecords": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetRecords(ctx, r.Collection, r.URIs)
	},
	"GetRelationships": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetRelationships(ctx, r.Viewer, r.Targets)
	},
	"GetBidirectionalBlocks": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetBidirectionalBlocks(ctx, r.Pairs)
	},
	"GetFollowsFollowing": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetFollowsFollowing(ctx, r.Viewer, r.Targets)
	},
	"GetActivitySubscriptions": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetActivitySubscriptions(ctx, r.Viewer, r.Targets)
	},
	"GetListViewerStates": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetListViewerStates(ctx, r.Viewer, r.Lists)
	},
	"GetListMemberships": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetListMemberships(ctx, r.Actor, r.Lists)
	},
	"GetListCounts": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetListCounts(ctx, r.Lists)
	},
	"GetListItems": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetListItems(ctx, r.List, r.Cursor, r.Limit)
	},
	"GetPostCounts": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetPostCounts(ctx, r.URIs)
	},
	"GetPostViewerStates": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetPostViewerStates(ctx, r.Viewer, r.URIs)
	},
	"GetLikesByActorAndSubjects": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetLikesByActorAndSubjects(ctx, r.Interacts)
	},
	"GetFeedGenCounts": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetFeedGenCounts(ctx, r.URIs)
	},
	"GetThread": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetThread(ctx, r.Anchor, r.Above, r.Below)
	},
	"GetAuthorFeed": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetAuthorFeed(ctx, r.Actor, r.Filter, r.Cursor, r.Limit)
	},
	"GetTimeline": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetTimeline(ctx, r.Viewer, r.Cursor, r.Limit)
	},
	"GetFeedItems": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetFeedItems(ctx, r.Feed, r.Cursor, r.Limit)
	},
	"GetLikesBySubject": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetLikesBySubject(ctx, r.Subject, r.Cursor, r.Limit)
	},
	"GetRepostsBySubject": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetRepostsBySubject(ctx, r.Subject, r.Cursor, r.Limit)
	},
	"GetBookmarks": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetBookmarks(ctx, r.Actor, r.Cursor, r.Limit)
	},
	"GetLabels": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetLabels(ctx, r.Subjects, r.Issuers)
	},
	"GetNotifications": func(ctx context.Context, c Client, r request) (any, error) {
		return c.GetNotifications(ctx, r.Actor, r.Cursor, r.Limit)
	},
}

// NewHandler serves c over the JSON protocol spoken by Remote. Mount it at
// PathPrefix.
func NewHandler(c Client, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "use POST")
			return
		}
		name := strings.TrimPrefix(r.URL.Path, PathPrefix)
		m, ok := methods[name]
		if !ok {
			writeError(w, http.StatusNotFound, "MethodNotImplemented", "unknown method "+name)
			return
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "invalid request body")
			return
		}

		resp, err := m(r.Context(), c, req)
		if err != nil {
			status, errName := http.StatusInternalServerError, "InternalError"
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				status, errName = http.StatusGatewayTimeout, "Timeout"
			}
			logger.Error("dataplane method failed", "method", name, "error", err)
			writeError(w, status, errName, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("failed to encode dataplane response", "method", name, "error", err)
		}
	})
}

func writeError(w http.ResponseWriter, status int, name, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: name, Message: message})
}
