package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/blackmichael/bluesky-appview/internal/dataplane"
)

// GetNotifications pages through an actor's notifications, newest first,
// along with when the actor last marked them seen.
func (r *Repository) GetNotifications(ctx context.Context, actor, cursor string, limit int) (dataplane.NotificationPage, error) {
	query, qargs := keyset(cursor, "sort_at", "uri", `
		SELECT uri, author, reason, reason_subject, sort_at FROM notifications
		WHERE recipient = ?`, []any{actor})
	query += ` ORDER BY sort_at DESC, uri DESC LIMIT ?`
	rows, err := r.query(ctx, query, append(qargs, fetchLimit(limit))...)
	if err != nil {
		return dataplane.NotificationPage{}, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var items []dataplane.Notification
	for rows.Next() {
		n := dataplane.Notification{Recipient: actor}
		if err := rows.Scan(&n.URI, &n.Author, &n.Reason, &n.ReasonSubject, &n.SortAt); err != nil {
			return dataplane.NotificationPage{}, fmt.Errorf("scan notification: %w", err)
		}
		n.SortAt = n.SortAt.UTC()
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return dataplane.NotificationPage{}, err
	}
	items, next := trimPage(items, limit, func(n dataplane.Notification) (time.Time, string) { return n.SortAt, n.URI })

	var seenAt time.Time
	err = r.db.QueryRowContext(ctx, r.rebind(`SELECT seen_at FROM notification_seen WHERE actor = ?`), actor).Scan(&seenAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return dataplane.NotificationPage{}, fmt.Errorf("query seen at: %w", err)
	}
	if !seenAt.IsZero() {
		seenAt = seenAt.UTC()
	}
	return dataplane.NotificationPage{Items: items, Cursor: next, SeenAt: seenAt}, nil
}

// GetLabels returns the labels issuers have applied to subjects. No issuers
// means no labels.
func (r *Repository) GetLabels(ctx context.Context, subjects, issuers []string) ([]dataplane.Label, error) {
	if len(subjects) == 0 || len(issuers) == 0 {
		return nil, nil
	}
	rows, err := r.query(ctx, `
		SELECT src, uri, cid, val, neg, cts, exp FROM labels
		WHERE uri IN (`+inList(len(subjects))+`) AND src IN (`+inList(len(issuers))+`)
		ORDER BY cts`,
		args(nil, subjects, issuers)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query labels: %w", err)
	}
	defer rows.Close()

	var out []dataplane.Label
	for rows.Next() {
		var l dataplane.Label
		var exp sql.NullTime
		if err := rows.Scan(&l.Src, &l.URI, &l.CID, &l.Val, &l.Neg, &l.Cts, &exp); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		l.Cts = l.Cts.UTC()
		if exp.Valid {
			l.Exp = exp.Time.UTC()
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
