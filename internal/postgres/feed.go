package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
)

// maxFrontier bounds the IN list of one thread expansion query.
const maxFrontier = 500

// GetPostCounts counts likes, reposts, replies and quotes per post.
func (r *Repository) GetPostCounts(ctx context.Context, uris []string) ([]dataplane.PostCounts, error) {
	out := make([]dataplane.PostCounts, len(uris))
	if len(uris) == 0 {
		return out, nil
	}
	in := inList(len(uris))

	likes, err := r.counts(ctx, `SELECT subject, COUNT(*) FROM edges WHERE collection = ? AND subject IN (`+in+`) GROUP BY subject`,
		args([]any{bluesky.CollectionLike}, uris)...)
	if err != nil {
		return nil, fmt.Errorf("count likes: %w", err)
	}
	reposts, err := r.counts(ctx, `SELECT subject, COUNT(*) FROM edges WHERE collection = ? AND subject IN (`+in+`) GROUP BY subject`,
		args([]any{bluesky.CollectionRepost}, uris)...)
	if err != nil {
		return nil, fmt.Errorf("count reposts: %w", err)
	}
	replies, err := r.counts(ctx, `SELECT parent_uri, COUNT(*) FROM posts WHERE parent_uri IN (`+in+`) GROUP BY parent_uri`,
		args(nil, uris)...)
	if err != nil {
		return nil, fmt.Errorf("count replies: %w", err)
	}
	quotes, err := r.counts(ctx, `SELECT quote_uri, COUNT(*) FROM posts WHERE quote_uri IN (`+in+`) GROUP BY quote_uri`,
		args(nil, uris)...)
	if err != nil {
		return nil, fmt.Errorf("count quotes: %w", err)
	}

	for i, uri := range uris {
		out[i] = dataplane.PostCounts{Likes: likes[uri], Reposts: reposts[uri], Replies: replies[uri], Quotes: quotes[uri]}
	}
	return out, nil
}

// GetPostViewerStates returns the viewer's like, repost, bookmark and thread
// mute state per post.
func (r *Repository) GetPostViewerStates(ctx context.Context, viewer string, uris []string) ([]dataplane.PostViewerState, error) {
	out := make([]dataplane.PostViewerState, len(uris))
	if viewer == "" || len(uris) == 0 {
		return out, nil
	}
	in := inList(len(uris))

	likes, err := r.stringPairs(ctx, `SELECT subject, uri FROM edges WHERE collection = ? AND creator = ? AND subject IN (`+in+`)`,
		args([]any{bluesky.CollectionLike, viewer}, uris)...)
	if err != nil {
		return nil, fmt.Errorf("query likes: %w", err)
	}
	reposts, err := r.stringPairs(ctx, `SELECT subject, uri FROM edges WHERE collection = ? AND creator = ? AND subject IN (`+in+`)`,
		args([]any{bluesky.CollectionRepost, viewer}, uris)...)
	if err != nil {
		return nil, fmt.Errorf("query reposts: %w", err)
	}
	bookmarks, err := r.stringPairs(ctx, `SELECT subject, subject FROM bookmarks WHERE actor = ? AND subject IN (`+in+`)`,
		args([]any{viewer}, uris)...)
	if err != nil {
		return nil, fmt.Errorf("query bookmarks: %w", err)
	}
	// A post belongs to its root's thread, or starts one if it has no root.
	muted, err := r.stringPairs(ctx, `
		SELECT p.uri, tm.root_uri FROM posts p
		JOIN thread_mutes tm ON tm.root_uri = CASE WHEN p.root_uri = '' THEN p.uri ELSE p.root_uri END
		WHERE tm.viewer = ? AND p.uri IN (`+in+`)`,
		args([]any{viewer}, uris)...)
	if err != nil {
		return nil, fmt.Errorf("query thread mutes: %w", err)
	}

	for i, uri := range uris {
		_, bookmarked := bookmarks[uri]
		_, threadMuted := muted[uri]
		out[i] = dataplane.PostViewerState{
			Like:        likes[uri],
			Repost:      reposts[uri],
			Bookmarked:  bookmarked,
			ThreadMuted: threadMuted,
		}
	}
	return out, nil
}

// GetLikesByActorAndSubjects returns the like URI per pair, or "".
func (r *Repository) GetLikesByActorAndSubjects(ctx context.Context, pairs []dataplane.ActorSubject) ([]string, error) {
	out := make([]string, len(pairs))
	if len(pairs) == 0 {
		return out, nil
	}
	actors := make([]string, len(pairs))
	subjects := make([]string, len(pairs))
	for i, p := range pairs {
		actors[i], subjects[i] = p.Actor, p.Subject
	}
	rows, err := r.query(ctx, `
		SELECT creator, subject, uri FROM edges
		WHERE collection = ? AND creator IN (`+inList(len(actors))+`) AND subject IN (`+inList(len(subjects))+`)`,
		args([]any{bluesky.CollectionLike}, actors, subjects)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query likes: %w", err)
	}
	defer rows.Close()

	found := make(map[dataplane.ActorSubject]string)
	for rows.Next() {
		var k dataplane.ActorSubject
		var uri string
		if err := rows.Scan(&k.Actor, &k.Subject, &uri); err != nil {
			return nil, fmt.Errorf("scan like: %w", err)
		}
		found[k] = uri
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, p := range pairs {
		out[i] = found[p]
	}
	return out, nil
}

// GetFeedGenCounts counts likes per feed generator.
func (r *Repository) GetFeedGenCounts(ctx context.Context, uris []string) ([]dataplane.FeedGenCounts, error) {
	out := make([]dataplane.FeedGenCounts, len(uris))
	if len(uris) == 0 {
		return out, nil
	}
	likes, err := r.counts(ctx, `SELECT subject, COUNT(*) FROM edges WHERE collection = ? AND subject IN (`+inList(len(uris))+`) GROUP BY subject`,
		args([]any{bluesky.CollectionLike}, uris)...)
	if err != nil {
		return nil, fmt.Errorf("count feed likes: %w", err)
	}
	for i, uri := range uris {
		out[i].Likes = likes[uri]
	}
	return out, nil
}

// GetThread walks up to above ancestors of the anchor and below levels of
// replies under it.
func (r *Repository) GetThread(ctx context.Context, anchor string, above, below int) (dataplane.Thread, error) {
	var uris []string
	cur := anchor
	for hops := 0; hops < above; hops++ {
		var parent string
		err := r.db.QueryRowContext(ctx, r.rebind(`SELECT parent_uri FROM posts WHERE uri = ?`), cur).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return dataplane.Thread{}, fmt.Errorf("query parent: %w", err)
		}
		if parent == "" {
			break
		}
		uris = append(uris, parent)
		cur = parent
	}

	frontier := []string{anchor}
	for depth := 0; depth < below && len(frontier) > 0; depth++ {
		var next []string
		for start := 0; start < len(frontier); start += maxFrontier {
			chunk := frontier[start:min(start+maxFrontier, len(frontier))]
			rows, err := r.query(ctx, `
				SELECT uri FROM posts WHERE parent_uri IN (`+inList(len(chunk))+`)
				ORDER BY sort_at, uri`,
				args(nil, chunk)...,
			)
			if err != nil {
				return dataplane.Thread{}, fmt.Errorf("query replies: %w", err)
			}
			for rows.Next() {
				var uri string
				if err := rows.Scan(&uri); err != nil {
					rows.Close()
					return dataplane.Thread{}, fmt.Errorf("scan reply: %w", err)
				}
				next = append(next, uri)
			}
			err = rows.Err()
			rows.Close()
			if err != nil {
				return dataplane.Thread{}, err
			}
		}
		uris = append(uris, next...)
		frontier = next
	}
	return dataplane.Thread{Anchor: anchor, URIs: uris}, nil
}

// GetAuthorFeed pages through an actor's posts and reposts, applying one of
// the author feed filters.
func (r *Repository) GetAuthorFeed(ctx context.Context, actor, filter, cursor string, limit int) (dataplane.FeedPage, error) {
	query := `
		SELECT fi.uri, fi.post_uri, fi.sort_at FROM feed_items fi
		LEFT JOIN posts p ON p.uri = fi.post_uri
		WHERE fi.creator = ?`
	qargs := []any{actor}

	const notReply = `p.uri IS NULL OR p.parent_uri = ''`
	switch filter {
	case dataplane.FilterPostsNoReplies:
		query += ` AND (fi.uri <> fi.post_uri OR ` + notReply + `)`
	case dataplane.FilterPostsWithMedia:
		query += ` AND fi.uri = fi.post_uri AND p.has_media = TRUE AND p.parent_uri = ''`
	case dataplane.FilterPostsAndAuthorThread:
		query += ` AND (fi.uri <> fi.post_uri OR ` + notReply + ` OR p.root_uri LIKE ?)`
		qargs = append(qargs, "at://"+actor+"/%")
	}
	return r.feedPage(ctx, query, qargs, cursor, limit)
}

// GetTimeline pages through posts and reposts by the viewer and the
// accounts they follow.
func (r *Repository) GetTimeline(ctx context.Context, viewer, cursor string, limit int) (dataplane.FeedPage, error) {
	return r.feedPage(ctx, `
		SELECT fi.uri, fi.post_uri, fi.sort_at FROM feed_items fi
		WHERE (fi.creator = ? OR fi.creator IN (
			SELECT subject FROM edges WHERE collection = ? AND creator = ?
		))`,
		[]any{viewer, bluesky.CollectionFollow, viewer}, cursor, limit,
	)
}

func (r *Repository) feedPage(ctx context.Context, base string, qargs []any, cursor string, limit int) (dataplane.FeedPage, error) {
	query, qargs := keyset(cursor, "fi.sort_at", "fi.uri", base, qargs)
	query += ` ORDER BY fi.sort_at DESC, fi.uri DESC LIMIT ?`
	rows, err := r.query(ctx, query, append(qargs, fetchLimit(limit))...)
	if err != nil {
		return dataplane.FeedPage{}, fmt.Errorf("query feed: %w", err)
	}
	defer rows.Close()

	type row struct {
		uri, post string
		sortAt    time.Time
	}
	var page []row
	for rows.Next() {
		var rw row
		if err := rows.Scan(&rw.uri, &rw.post, &rw.sortAt); err != nil {
			return dataplane.FeedPage{}, fmt.Errorf("scan feed item: %w", err)
		}
		page = append(page, rw)
	}
	if err := rows.Err(); err != nil {
		return dataplane.FeedPage{}, err
	}

	page, next := trimPage(page, limit, func(rw row) (time.Time, string) { return rw.sortAt, rw.uri })
	out := dataplane.FeedPage{Cursor: next}
	for _, rw := range page {
		item := dataplane.FeedItem{Post: rw.post}
		if rw.uri != rw.post {
			item.Repost = rw.uri
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

// GetFeedItems pages through a keyword feed's posts.
func (r *Repository) GetFeedItems(ctx context.Context, feed, cursor string, limit int) (dataplane.Page, error) {
	return r.uriPage(ctx,
		`SELECT post_uri, sort_at FROM feed_posts WHERE feed_uri = ?`,
		[]any{feed}, "sort_at", "post_uri", cursor, limit,
	)
}

// GetLikesBySubject pages through the likes of a record.
func (r *Repository) GetLikesBySubject(ctx context.Context, subject, cursor string, limit int) (dataplane.Page, error) {
	return r.uriPage(ctx,
		`SELECT uri, sort_at FROM edges WHERE collection = ? AND subject = ?`,
		[]any{bluesky.CollectionLike, subject}, "sort_at", "uri", cursor, limit,
	)
}

// GetRepostsBySubject pages through the reposts of a post.
func (r *Repository) GetRepostsBySubject(ctx context.Context, subject, cursor string, limit int) (dataplane.Page, error) {
	return r.uriPage(ctx,
		`SELECT uri, sort_at FROM edges WHERE collection = ? AND subject = ?`,
		[]any{bluesky.CollectionRepost, subject}, "sort_at", "uri", cursor, limit,
	)
}

// GetBookmarks pages through an actor's bookmarks, most recent first.
func (r *Repository) GetBookmarks(ctx context.Context, actor, cursor string, limit int) (dataplane.BookmarkPage, error) {
	query, qargs := keyset(cursor, "created_at", "subject",
		`SELECT subject, created_at FROM bookmarks WHERE actor = ?`, []any{actor})
	query += ` ORDER BY created_at DESC, subject DESC LIMIT ?`
	rows, err := r.query(ctx, query, append(qargs, fetchLimit(limit))...)
	if err != nil {
		return dataplane.BookmarkPage{}, fmt.Errorf("query bookmarks: %w", err)
	}
	defer rows.Close()

	var items []dataplane.Bookmark
	for rows.Next() {
		var b dataplane.Bookmark
		if err := rows.Scan(&b.Subject, &b.CreatedAt); err != nil {
			return dataplane.BookmarkPage{}, fmt.Errorf("scan bookmark: %w", err)
		}
		b.CreatedAt = b.CreatedAt.UTC()
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return dataplane.BookmarkPage{}, err
	}
	items, next := trimPage(items, limit, func(b dataplane.Bookmark) (time.Time, string) { return b.CreatedAt, b.Subject })
	return dataplane.BookmarkPage{Items: items, Cursor: next}, nil
}
