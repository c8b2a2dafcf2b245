package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/blackmichael/bluesky-appview/internal/dataplane"
	"github.com/blackmichael/bluesky-appview/internal/indexer"
)

// TouchActor creates the actor on first sight and records its latest rev.
func (r *Repository) TouchActor(ctx context.Context, did, rev string, at time.Time) error {
	_, err := r.exec(ctx, `
		INSERT INTO actors (did, rev, created_at, indexed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (did) DO UPDATE SET
			rev = CASE WHEN excluded.rev = '' THEN actors.rev ELSE excluded.rev END,
			indexed_at = excluded.indexed_at`,
		did, rev, ts(at), ts(at),
	)
	return err
}

// SetHandle points did at handle, releasing the handle from any actor that
// held it before.
func (r *Repository) SetHandle(ctx context.Context, did, handle string, at time.Time) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.rebind(`UPDATE actors SET handle = '' WHERE handle = ? AND did <> ?`), handle, did); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, r.rebind(`
			INSERT INTO actors (did, handle, created_at, indexed_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (did) DO UPDATE SET handle = excluded.handle, indexed_at = excluded.indexed_at`),
			did, handle, ts(at), ts(at),
		)
		return err
	})
}

// SetStatus records an account status.
func (r *Repository) SetStatus(ctx context.Context, did, status string) error {
	_, err := r.exec(ctx, `UPDATE actors SET status = ? WHERE did = ?`, status, did)
	return err
}

// SetLabeler flags whether did runs a labeler.
func (r *Repository) SetLabeler(ctx context.Context, did string, isLabeler bool) error {
	_, err := r.exec(ctx, `UPDATE actors SET is_labeler = ? WHERE did = ?`, isLabeler, did)
	return err
}

// PutRecord upserts a record and replaces the rows derived from it.
func (r *Repository) PutRecord(ctx context.Context, rec *indexer.Record) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.rebind(`
			INSERT INTO records (uri, did, collection, cid, value, indexed_at, sorted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (uri) DO UPDATE SET
				cid = excluded.cid,
				value = excluded.value,
				indexed_at = excluded.indexed_at,
				sorted_at = excluded.sorted_at`),
			rec.URI, rec.DID, rec.Collection, rec.CID, string(rec.Value), ts(rec.IndexedAt), ts(rec.SortAt),
		); err != nil {
			return fmt.Errorf("upsert record: %w", err)
		}

		if err := r.clearDerived(ctx, tx, rec.URI); err != nil {
			return err
		}

		if e := rec.Edge; e != nil {
			if _, err := tx.ExecContext(ctx, r.rebind(`
				INSERT INTO edges (uri, collection, creator, subject, list_uri, sort_at)
				VALUES (?, ?, ?, ?, ?, ?)`),
				rec.URI, rec.Collection, rec.DID, e.Subject, e.List, ts(rec.SortAt),
			); err != nil {
				return fmt.Errorf("insert edge: %w", err)
			}
		}
		if p := rec.Post; p != nil {
			if _, err := tx.ExecContext(ctx, r.rebind(`
				INSERT INTO posts (uri, creator, root_uri, parent_uri, quote_uri, has_media, sort_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`),
				rec.URI, rec.DID, p.Root, p.Parent, p.Quote, p.HasMedia, ts(rec.SortAt),
			); err != nil {
				return fmt.Errorf("insert post: %w", err)
			}
		}
		if rec.FeedPost != "" {
			if _, err := tx.ExecContext(ctx, r.rebind(`
				INSERT INTO feed_items (uri, post_uri, creator, sort_at)
				VALUES (?, ?, ?, ?)`),
				rec.URI, rec.FeedPost, rec.DID, ts(rec.SortAt),
			); err != nil {
				return fmt.Errorf("insert feed item: %w", err)
			}
		}
		return nil
	})
}

// DeleteRecord removes a record, its derived rows, the notifications it sent
// and its keyword feed entries.
func (r *Repository) DeleteRecord(ctx context.Context, uri string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM records WHERE uri = ?`), uri); err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		if err := r.clearDerived(ctx, tx, uri); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM feed_posts WHERE post_uri = ?`), uri); err != nil {
			return fmt.Errorf("delete feed posts: %w", err)
		}
		if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM notifications WHERE uri = ?`), uri); err != nil {
			return fmt.Errorf("delete notifications: %w", err)
		}
		return nil
	})
}

func (r *Repository) clearDerived(ctx context.Context, tx *sql.Tx, uri string) error {
	for _, table := range []string{"edges", "posts", "feed_items"} {
		if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM `+table+` WHERE uri = ?`), uri); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// AddNotifications stores notifications, ignoring ones already present.
func (r *Repository) AddNotifications(ctx context.Context, notifs []dataplane.Notification) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.rebind(`
			INSERT INTO notifications (recipient, uri, reason, author, reason_subject, sort_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (recipient, uri, reason) DO NOTHING`))
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, n := range notifs {
			if _, err := stmt.ExecContext(ctx, n.Recipient, n.URI, n.Reason, n.Author, n.ReasonSubject, ts(n.SortAt)); err != nil {
				return fmt.Errorf("insert notification: %w", err)
			}
		}
		return nil
	})
}

// AddFeedPost places a post on a keyword feed.
func (r *Repository) AddFeedPost(ctx context.Context, feed, post string, sortAt time.Time) error {
	_, err := r.exec(ctx, `
		INSERT INTO feed_posts (feed_uri, post_uri, sort_at)
		VALUES (?, ?, ?)
		ON CONFLICT (feed_uri, post_uri) DO NOTHING`,
		feed, post, ts(sortAt),
	)
	return err
}

// PruneFeedPosts deletes keyword feed entries older than maxAge and trims
// each feed to its maxRows most recent entries.
func (r *Repository) PruneFeedPosts(ctx context.Context, maxAge time.Duration, maxRows int) (int64, error) {
	res, err := r.exec(ctx, `DELETE FROM feed_posts WHERE sort_at < ?`, ts(time.Now().Add(-maxAge)))
	if err != nil {
		return 0, fmt.Errorf("delete old feed posts: %w", err)
	}
	aged, _ := res.RowsAffected()

	res, err = r.exec(ctx, `
		DELETE FROM feed_posts WHERE (feed_uri, post_uri) IN (
			SELECT feed_uri, post_uri FROM (
				SELECT feed_uri, post_uri,
					ROW_NUMBER() OVER (PARTITION BY feed_uri ORDER BY sort_at DESC, post_uri DESC) AS rn
				FROM feed_posts
			) ranked
			WHERE rn > ?
		)`, maxRows)
	if err != nil {
		return aged, fmt.Errorf("trim feed posts: %w", err)
	}
	excess, _ := res.RowsAffected()
	return aged + excess, nil
}

func (r *Repository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
