package postgres

import (
	"context"
	"fmt"
	"strings"
)

// schema is applied statement by statement. %[1]s is the timestamp type of
// the dialect.
const schema = `
CREATE TABLE IF NOT EXISTS actors (
	did              TEXT PRIMARY KEY,
	handle           TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT '',
	takedown_ref     TEXT NOT NULL DEFAULT '',
	is_labeler       BOOLEAN NOT NULL DEFAULT FALSE,
	trusted_verifier BOOLEAN NOT NULL DEFAULT FALSE,
	rev              TEXT NOT NULL DEFAULT '',
	created_at       %[1]s NOT NULL,
	indexed_at       %[1]s NOT NULL
);
CREATE INDEX IF NOT EXISTS actors_handle_idx ON actors (handle);

CREATE TABLE IF NOT EXISTS records (
	uri          TEXT PRIMARY KEY,
	did          TEXT NOT NULL,
	collection   TEXT NOT NULL,
	cid          TEXT NOT NULL,
	value        TEXT NOT NULL,
	indexed_at   %[1]s NOT NULL,
	sorted_at    %[1]s NOT NULL,
	takedown_ref TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS records_did_collection_idx ON records (did, collection);

CREATE TABLE IF NOT EXISTS edges (
	uri        TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	creator    TEXT NOT NULL,
	subject    TEXT NOT NULL,
	list_uri   TEXT NOT NULL DEFAULT '',
	sort_at    %[1]s NOT NULL
);
CREATE INDEX IF NOT EXISTS edges_subject_idx ON edges (collection, subject, sort_at);
CREATE INDEX IF NOT EXISTS edges_creator_idx ON edges (collection, creator, subject);
CREATE INDEX IF NOT EXISTS edges_list_idx ON edges (collection, list_uri, sort_at);

CREATE TABLE IF NOT EXISTS posts (
	uri        TEXT PRIMARY KEY,
	creator    TEXT NOT NULL,
	root_uri   TEXT NOT NULL DEFAULT '',
	parent_uri TEXT NOT NULL DEFAULT '',
	quote_uri  TEXT NOT NULL DEFAULT '',
	has_media  BOOLEAN NOT NULL DEFAULT FALSE,
	sort_at    %[1]s NOT NULL
);
CREATE INDEX IF NOT EXISTS posts_parent_idx ON posts (parent_uri);
CREATE INDEX IF NOT EXISTS posts_quote_idx ON posts (quote_uri);
CREATE INDEX IF NOT EXISTS posts_creator_idx ON posts (creator);

CREATE TABLE IF NOT EXISTS feed_items (
	uri      TEXT PRIMARY KEY,
	post_uri TEXT NOT NULL,
	creator  TEXT NOT NULL,
	sort_at  %[1]s NOT NULL
);
CREATE INDEX IF NOT EXISTS feed_items_creator_idx ON feed_items (creator, sort_at);

CREATE TABLE IF NOT EXISTS feed_posts (
	feed_uri TEXT NOT NULL,
	post_uri TEXT NOT NULL,
	sort_at  %[1]s NOT NULL,
	PRIMARY KEY (feed_uri, post_uri)
);
CREATE INDEX IF NOT EXISTS feed_posts_sort_idx ON feed_posts (feed_uri, sort_at);

CREATE TABLE IF NOT EXISTS mutes (
	viewer  TEXT NOT NULL,
	subject TEXT NOT NULL,
	PRIMARY KEY (viewer, subject)
);

CREATE TABLE IF NOT EXISTS list_mutes (
	viewer   TEXT NOT NULL,
	list_uri TEXT NOT NULL,
	PRIMARY KEY (viewer, list_uri)
);

CREATE TABLE IF NOT EXISTS thread_mutes (
	viewer   TEXT NOT NULL,
	root_uri TEXT NOT NULL,
	PRIMARY KEY (viewer, root_uri)
);

CREATE TABLE IF NOT EXISTS activity_subscriptions (
	viewer  TEXT NOT NULL,
	subject TEXT NOT NULL,
	post    BOOLEAN NOT NULL DEFAULT FALSE,
	reply   BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (viewer, subject)
);

CREATE TABLE IF NOT EXISTS bookmarks (
	actor      TEXT NOT NULL,
	subject    TEXT NOT NULL,
	created_at %[1]s NOT NULL,
	PRIMARY KEY (actor, subject)
);
CREATE INDEX IF NOT EXISTS bookmarks_actor_idx ON bookmarks (actor, created_at);

CREATE TABLE IF NOT EXISTS notifications (
	recipient      TEXT NOT NULL,
	uri            TEXT NOT NULL,
	reason         TEXT NOT NULL,
	author         TEXT NOT NULL,
	reason_subject TEXT NOT NULL DEFAULT '',
	sort_at        %[1]s NOT NULL,
	PRIMARY KEY (recipient, uri, reason)
);
CREATE INDEX IF NOT EXISTS notifications_recipient_idx ON notifications (recipient, sort_at);
CREATE INDEX IF NOT EXISTS notifications_uri_idx ON notifications (uri);

CREATE TABLE IF NOT EXISTS notification_seen (
	actor   TEXT PRIMARY KEY,
	seen_at %[1]s NOT NULL
);

CREATE TABLE IF NOT EXISTS labels (
	src TEXT NOT NULL,
	uri TEXT NOT NULL,
	cid TEXT NOT NULL DEFAULT '',
	val TEXT NOT NULL,
	neg BOOLEAN NOT NULL DEFAULT FALSE,
	cts %[1]s NOT NULL,
	exp %[1]s,
	PRIMARY KEY (src, uri, val)
);
CREATE INDEX IF NOT EXISTS labels_uri_idx ON labels (uri);

CREATE TABLE IF NOT EXISTS cursors (
	service      TEXT PRIMARY KEY,
	cursor_value BIGINT NOT NULL,
	updated_at   %[1]s NOT NULL
)`

// Migrate creates any missing tables and indexes.
func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(fmt.Sprintf(schema, r.dialect.timestampType()), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
