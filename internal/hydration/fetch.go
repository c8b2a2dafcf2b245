package hydration

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/blackmichael/bluesky-appview/internal/dataplane"
	"github.com/blackmichael/bluesky-appview/internal/metrics"
)

// fetchMissing requests only the keys known does not already cover and
// returns known merged with the fetched entries. known is not modified and
// fetch is not called when nothing is missing.
func fetchMissing[K comparable, V any](ctx context.Context, keys []K, known *Map[K, V], fetch func(ctx context.Context, need []K) (*Map[K, V], error)) (*Map[K, V], error) {
	seen := make(map[K]struct{}, len(keys))
	var need []K
	for _, k := range keys {
		if _, dup := seen[k]; dup || known.Has(k) {
			continue
		}
		seen[k] = struct{}{}
		need = append(need, k)
	}
	if len(need) == 0 {
		return known.Clone(), nil
	}
	fetched, err := fetch(ctx, need)
	if err != nil {
		return nil, err
	}
	return known.Clone().Merge(fetched), nil
}

// dedupe returns vals without duplicates or empty strings, keeping order.
func dedupe(vals []string) []string {
	seen := make(map[string]struct{}, len(vals))
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// bestEffort runs fn under a short timeout. On failure it logs, counts the
// failure and returns fallback instead of an error.
func bestEffort[T any](ctx context.Context, logger *slog.Logger, timeout time.Duration, lookup string, fallback T, fn func(ctx context.Context) (T, error)) T {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	v, err := fn(ctx)
	if err != nil {
		metrics.BestEffortFailures.WithLabelValues(lookup).Inc()
		logger.Warn("best-effort hydration failed", "lookup", lookup, "error", err)
		return fallback
	}
	return v
}

// decodeRecords turns raw records into RecordInfo values. Missing or
// undecodable records are tombstoned, as are taken down records unless
// includeTakedowns is set.
func decodeRecords[T any](records []dataplane.Record, includeTakedowns bool) *Map[string, RecordInfo[*T]] {
	out := NewMap[string, RecordInfo[*T]]()
	for _, r := range records {
		if !r.Exists() || (r.TakedownRef != "" && !includeTakedowns) {
			out.Tombstone(r.URI)
			continue
		}
		rec := new(T)
		if err := json.Unmarshal(r.Value, rec); err != nil {
			out.Tombstone(r.URI)
			continue
		}
		out.Set(r.URI, RecordInfo[*T]{
			Record:      rec,
			CID:         r.CID,
			IndexedAt:   r.IndexedAt,
			SortedAt:    r.SortedAt,
			TakedownRef: r.TakedownRef,
		})
	}
	return out
}

// getRecords fetches uris of one collection, tombstoning any URI the data
// plane did not answer for.
func getRecords[T any](ctx context.Context, dp dataplane.RecordReader, collection string, uris []string, includeTakedowns bool) (*Map[string, RecordInfo[*T]], error) {
	records, err := dp.GetRecords(ctx, collection, uris)
	if err != nil {
		return nil, err
	}
	out := decodeRecords[T](records, includeTakedowns)
	for _, uri := range uris {
		if !out.Has(uri) {
			out.Tombstone(uri)
		}
	}
	return out, nil
}
