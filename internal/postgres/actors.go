package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
)

// GetActors looks up accounts along with their profile records.
func (r *Repository) GetActors(ctx context.Context, dids []string) ([]dataplane.Actor, error) {
	out := make([]dataplane.Actor, len(dids))
	for i, did := range dids {
		out[i] = dataplane.Actor{DID: did}
	}
	if len(dids) == 0 {
		return out, nil
	}

	rows, err := r.query(ctx, `
		SELECT did, handle, status, takedown_ref, is_labeler, trusted_verifier, created_at, indexed_at
		FROM actors WHERE did IN (`+inList(len(dids))+`)`,
		args(nil, dids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query actors: %w", err)
	}
	defer rows.Close()

	found := make(map[string]dataplane.Actor, len(dids))
	for rows.Next() {
		a := dataplane.Actor{Exists: true}
		if err := rows.Scan(&a.DID, &a.Handle, &a.Status, &a.TakedownRef, &a.IsLabeler, &a.TrustedVerifier, &a.CreatedAt, &a.IndexedAt); err != nil {
			return nil, fmt.Errorf("scan actor: %w", err)
		}
		a.CreatedAt, a.IndexedAt = a.CreatedAt.UTC(), a.IndexedAt.UTC()
		found[a.DID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	profileURIs := make([]string, len(dids))
	for i, did := range dids {
		profileURIs[i] = bluesky.MakeURI(did, bluesky.CollectionProfile, "self")
	}
	profiles, err := r.GetRecords(ctx, bluesky.CollectionProfile, profileURIs)
	if err != nil {
		return nil, err
	}

	for i, did := range dids {
		a, ok := found[did]
		if !ok {
			continue
		}
		if profiles[i].Exists() {
			p := profiles[i]
			a.Profile = &p
		}
		out[i] = a
	}
	return out, nil
}

// GetDidsByHandles resolves handles to DIDs, "" for unknown handles.
func (r *Repository) GetDidsByHandles(ctx context.Context, handles []string) ([]string, error) {
	out := make([]string, len(handles))
	if len(handles) == 0 {
		return out, nil
	}
	byHandle, err := r.stringPairs(ctx,
		`SELECT handle, did FROM actors WHERE handle IN (`+inList(len(handles))+`)`,
		args(nil, handles)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query handles: %w", err)
	}
	for i, h := range handles {
		out[i] = byHandle[h]
	}
	return out, nil
}

// GetProfileCounts counts followers, follows, posts, lists and feeds.
func (r *Repository) GetProfileCounts(ctx context.Context, dids []string) ([]dataplane.ProfileCounts, error) {
	out := make([]dataplane.ProfileCounts, len(dids))
	if len(dids) == 0 {
		return out, nil
	}
	in := inList(len(dids))

	followers, err := r.counts(ctx, `
		SELECT subject, COUNT(*) FROM edges
		WHERE collection = ? AND subject IN (`+in+`) GROUP BY subject`,
		args([]any{bluesky.CollectionFollow}, dids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("count followers: %w", err)
	}
	follows, err := r.counts(ctx, `
		SELECT creator, COUNT(*) FROM edges
		WHERE collection = ? AND creator IN (`+in+`) GROUP BY creator`,
		args([]any{bluesky.CollectionFollow}, dids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("count follows: %w", err)
	}

	rows, err := r.query(ctx, `
		SELECT did, collection, COUNT(*) FROM records
		WHERE collection IN (?, ?, ?) AND did IN (`+in+`) GROUP BY did, collection`,
		args([]any{bluesky.CollectionPost, bluesky.CollectionList, bluesky.CollectionGenerator}, dids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	type key struct{ did, collection string }
	records := make(map[key]int64)
	for rows.Next() {
		var k key
		var n int64
		if err := rows.Scan(&k.did, &k.collection, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		records[k] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, did := range dids {
		out[i] = dataplane.ProfileCounts{
			Followers: followers[did],
			Follows:   follows[did],
			Posts:     records[key{did, bluesky.CollectionPost}],
			Lists:     records[key{did, bluesky.CollectionList}],
			Feeds:     records[key{did, bluesky.CollectionGenerator}],
		}
	}
	return out, nil
}

// GetLatestRev returns the repo revision last seen for did.
func (r *Repository) GetLatestRev(ctx context.Context, did string) (string, error) {
	var rev string
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT rev FROM actors WHERE did = ?`), did).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return rev, err
}

// GetVouches returns the vouches targeting each subject.
func (r *Repository) GetVouches(ctx context.Context, subjects []string) ([][]dataplane.Vouch, error) {
	out := make([][]dataplane.Vouch, len(subjects))
	if len(subjects) == 0 {
		return out, nil
	}
	rows, err := r.query(ctx, `
		SELECT e.uri, e.creator, e.subject, r.value
		FROM edges e JOIN records r ON r.uri = e.uri
		WHERE e.collection = ? AND e.subject IN (`+inList(len(subjects))+`)
		ORDER BY e.sort_at DESC, e.uri DESC`,
		args([]any{bluesky.CollectionVouch}, subjects)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query vouches: %w", err)
	}
	defer rows.Close()

	bySubject := make(map[string][]dataplane.Vouch)
	for rows.Next() {
		var v dataplane.Vouch
		var value string
		if err := rows.Scan(&v.URI, &v.Issuer, &v.Subject, &value); err != nil {
			return nil, fmt.Errorf("scan vouch: %w", err)
		}
		var rec bluesky.VouchRecord
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			continue
		}
		v.Handle, v.DisplayName, v.CreatedAt = rec.Handle, rec.DisplayName, bluesky.ParseTime(rec.CreatedAt)
		bySubject[v.Subject] = append(bySubject[v.Subject], v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, s := range subjects {
		out[i] = bySubject[s]
	}
	return out, nil
}

// GetRecords looks up records of one collection. URIs outside the collection
// resolve to empty records.
func (r *Repository) GetRecords(ctx context.Context, collection string, uris []string) ([]dataplane.Record, error) {
	out := make([]dataplane.Record, len(uris))
	for i, uri := range uris {
		out[i] = dataplane.Record{URI: uri}
	}
	if len(uris) == 0 {
		return out, nil
	}
	rows, err := r.query(ctx, `
		SELECT uri, cid, value, indexed_at, sorted_at, takedown_ref
		FROM records WHERE collection = ? AND uri IN (`+inList(len(uris))+`)`,
		args([]any{collection}, uris)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	found := make(map[string]dataplane.Record, len(uris))
	for rows.Next() {
		var rec dataplane.Record
		var value string
		var indexedAt, sortedAt time.Time
		if err := rows.Scan(&rec.URI, &rec.CID, &value, &indexedAt, &sortedAt, &rec.TakedownRef); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Value = json.RawMessage(value)
		rec.IndexedAt, rec.SortedAt = indexedAt.UTC(), sortedAt.UTC()
		found[rec.URI] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, uri := range uris {
		if rec, ok := found[uri]; ok {
			out[i] = rec
		}
	}
	return out, nil
}
