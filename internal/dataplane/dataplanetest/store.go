// Package dataplanetest provides an in-memory data plane with seeding
// helpers and per-method call counters.
package dataplanetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blackmichael/bluesky-appview/internal/bluesky"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
	"github.com/blackmichael/bluesky-appview/internal/pagination"
)

// Epoch is the default base time for seeded records.
var Epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type pair [2]string

// Store is a dataplane.Client over in-memory maps. It is safe for
// concurrent use. Seeding methods panic on malformed input since they are
// only meant for tests.
type Store struct {
	mu sync.RWMutex

	actors        map[string]*dataplane.Actor
	handles       map[string]string
	records       map[string]dataplane.Record
	follows       map[pair]string
	blocks        map[pair]string
	mutes         map[pair]bool
	listMutes     map[pair]bool
	listBlocks    map[pair]string
	threadMutes   map[pair]bool
	activitySubs  map[pair]dataplane.ActivitySubscription
	labels        []dataplane.Label
	bookmarks     map[string][]dataplane.Bookmark
	notifications map[string][]dataplane.Notification
	feedItems     map[string][]string
	revs          map[string]string

	calls  map[string]int
	delays map[string]time.Duration
	fails  map[string]error
	seq    int
}

var _ dataplane.Client = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		actors:        make(map[string]*dataplane.Actor),
		handles:       make(map[string]string),
		records:       make(map[string]dataplane.Record),
		follows:       make(map[pair]string),
		blocks:        make(map[pair]string),
		mutes:         make(map[pair]bool),
		listMutes:     make(map[pair]bool),
		listBlocks:    make(map[pair]string),
		threadMutes:   make(map[pair]bool),
		activitySubs:  make(map[pair]dataplane.ActivitySubscription),
		bookmarks:     make(map[string][]dataplane.Bookmark),
		notifications: make(map[string][]dataplane.Notification),
		feedItems:     make(map[string][]string),
		revs:          make(map[string]string),
		calls:         make(map[string]int),
		delays:        make(map[string]time.Duration),
		fails:         make(map[string]error),
	}
}

// Calls returns how many times method was invoked.
func (s *Store) Calls(method string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[method]
}

// ResetCalls zeroes all call counters.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
}

// SetDelay makes method block for d (or until its context ends).
func (s *Store) SetDelay(method string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[method] = d
}

// FailOn makes method return err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails[method] = err
}

func (s *Store) enter(ctx context.Context, method string) error {
	s.mu.Lock()
	s.calls[method]++
	delay, err := s.delays[method], s.fails[method]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func (s *Store) nextRKey() string {
	s.seq++
	return fmt.Sprintf("r%04d", s.seq)
}

// ActorOption customises a seeded actor.
type ActorOption func(a *dataplane.Actor, p *bluesky.ProfileRecord)

// WithDisplayName sets the profile display name.
func WithDisplayName(name string) ActorOption {
	return func(_ *dataplane.Actor, p *bluesky.ProfileRecord) { p.DisplayName = name }
}

// WithPinnedPost pins uri on the profile.
func WithPinnedPost(uri string) ActorOption {
	return func(_ *dataplane.Actor, p *bluesky.ProfileRecord) {
		p.PinnedPost = &bluesky.StrongRef{URI: uri, CID: "bafy-pin"}
	}
}

// WithStatus sets the account status.
func WithStatus(status string) ActorOption {
	return func(a *dataplane.Actor, _ *bluesky.ProfileRecord) { a.Status = status }
}

// WithTakedown marks the account as taken down.
func WithTakedown(ref string) ActorOption {
	return func(a *dataplane.Actor, _ *bluesky.ProfileRecord) { a.TakedownRef = ref }
}

// AsLabeler marks the account as a labeler service.
func AsLabeler() ActorOption {
	return func(a *dataplane.Actor, _ *bluesky.ProfileRecord) { a.IsLabeler = true }
}

// AsTrustedVerifier marks the account as a trusted vouch issuer.
func AsTrustedVerifier() ActorOption {
	return func(a *dataplane.Actor, _ *bluesky.ProfileRecord) { a.TrustedVerifier = true }
}

// AddActor seeds an account with a profile record.
func (s *Store) AddActor(did, handle string, opts ...ActorOption) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := &dataplane.Actor{DID: did, Exists: true, Handle: handle, CreatedAt: Epoch, IndexedAt: Epoch}
	profile := &bluesky.ProfileRecord{DisplayName: handle}
	for _, opt := range opts {
		opt(a, profile)
	}
	a.Profile = &dataplane.Record{
		URI:       bluesky.MakeURI(did, bluesky.CollectionProfile, "self"),
		CID:       "bafy-profile-" + did,
		Value:     mustJSON(profile),
		IndexedAt: Epoch,
		SortedAt:  Epoch,
	}
	s.actors[did] = a
	s.handles[handle] = did
}

// AddRecord seeds a raw record at uri.
func (s *Store) AddRecord(uri string, value any, indexedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putRecord(uri, value, indexedAt)
}

func (s *Store) putRecord(uri string, value any, indexedAt time.Time) {
	u, err := bluesky.ParseURI(uri)
	if err != nil {
		panic(err)
	}
	var createdAt string
	if p, ok := value.(*bluesky.PostRecord); ok {
		createdAt = p.CreatedAt
	}
	s.records[uri] = dataplane.Record{
		URI:       uri,
		CID:       "bafy-" + u.RKey,
		Value:     mustJSON(value),
		IndexedAt: indexedAt,
		SortedAt:  bluesky.SortAt(createdAt, indexedAt),
	}
}

// TakedownRecord sets a takedown ref on an existing record.
func (s *Store) TakedownRecord(uri, ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.records[uri]
	r.TakedownRef = ref
	s.records[uri] = r
}

// DeleteRecord removes a record.
func (s *Store) DeleteRecord(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, uri)
}

// AddPost seeds a top-level post and returns its URI.
func (s *Store) AddPost(did, text string, indexedAt time.Time) string {
	return s.AddPostRecord(did, &bluesky.PostRecord{Text: text, CreatedAt: indexedAt.Format(time.RFC3339)}, indexedAt)
}

// AddReply seeds a reply to parent within the thread rooted at root.
func (s *Store) AddReply(did, root, parent, text string, indexedAt time.Time) string {
	return s.AddPostRecord(did, &bluesky.PostRecord{
		Text:      text,
		CreatedAt: indexedAt.Format(time.RFC3339),
		Reply: &bluesky.ReplyRef{
			Root:   bluesky.StrongRef{URI: root, CID: s.cidOf(root)},
			Parent: bluesky.StrongRef{URI: parent, CID: s.cidOf(parent)},
		},
	}, indexedAt)
}

// AddQuote seeds a post quoting quoted.
func (s *Store) AddQuote(did, quoted, text string, indexedAt time.Time) string {
	ref := mustJSON(bluesky.StrongRef{URI: quoted, CID: s.cidOf(quoted)})
	return s.AddPostRecord(did, &bluesky.PostRecord{
		Text:      text,
		CreatedAt: indexedAt.Format(time.RFC3339),
		Embed:     &bluesky.Embed{Type: bluesky.EmbedRecord, Record: ref},
	}, indexedAt)
}

// AddPostRecord seeds an arbitrary post record and returns its URI.
func (s *Store) AddPostRecord(did string, post *bluesky.PostRecord, indexedAt time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	uri := bluesky.MakeURI(did, bluesky.CollectionPost, s.nextRKey())
	s.putRecord(uri, post, indexedAt)
	return uri
}

func (s *Store) cidOf(uri string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[uri].CID
}

// AddLike seeds a like of subject by did.
func (s *Store) AddLike(did, subject string, at time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	uri := bluesky.MakeURI(did, bluesky.CollectionLike, s.nextRKey())
	s.putRecord(uri, &bluesky.LikeRecord{
		Subject:   bluesky.StrongRef{URI: subject, CID: s.records[subject].CID},
		CreatedAt: at.Format(time.RFC3339),
	}, at)
	return uri
}

// AddRepost seeds a repost of subject by did.
func (s *Store) AddRepost(did, subject string, at time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	uri := bluesky.MakeURI(did, bluesky.CollectionRepost, s.nextRKey())
	s.putRecord(uri, &bluesky.RepostRecord{
		Subject:   bluesky.StrongRef{URI: subject, CID: s.records[subject].CID},
		CreatedAt: at.Format(time.RFC3339),
	}, at)
	return uri
}

// AddFollow seeds a follow from -> to.
func (s *Store) AddFollow(from, to string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	uri := bluesky.MakeURI(from, bluesky.CollectionFollow, s.nextRKey())
	s.putRecord(uri, &bluesky.FollowRecord{Subject: to, CreatedAt: Epoch.Format(time.RFC3339)}, Epoch)
	s.follows[pair{from, to}] = uri
	return uri
}

// AddBlock seeds a block from -> to.
func (s *Store) AddBlock(from, to string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	uri := bluesky.MakeURI(from, bluesky.CollectionBlock, s.nextRKey())
	s.putRecord(uri, &bluesky.BlockRecord{Subject: to, CreatedAt: Epoch.Format(time.RFC3339)}, Epoch)
	s.blocks[pair{from, to}] = uri
	return uri
}

// AddMute seeds a mute of target by viewer.
func (s *Store) AddMute(viewer, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutes[pair{viewer, target}] = true
}

// AddList seeds a list owned by did.
func (s *Store) AddList(did, purpose, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	uri := bluesky.MakeURI(did, bluesky.CollectionList, s.nextRKey())
	s.putRecord(uri, &bluesky.ListRecord{Purpose: purpose, Name: name, CreatedAt: Epoch.Format(time.RFC3339)}, Epoch)
	return uri
}

// AddListItem adds subject to list.
func (s *Store) AddListItem(list, subject string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	uri := bluesky.MakeURI(bluesky.DIDFromURI(list), bluesky.CollectionListItem, s.nextRKey())
	s.putRecord(uri, &bluesky.ListItemRecord{Subject: subject, List: list, CreatedAt: Epoch.Format(time.RFC3339)}, Epoch)
	return uri
}

// AddListBlock subscribes viewer to list as a block list.
func (s *Store) AddListBlock(viewer, list string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	uri := bluesky.MakeURI(viewer, bluesky.CollectionListBlock, s.nextRKey())
	s.putRecord(uri, &bluesky.ListBlockRecord{Subject: list, CreatedAt: Epoch.Format(time.RFC3339)}, Epoch)
	s.listBlocks[pair{viewer, list}] = uri
	return uri
}

// AddListMute subscribes viewer to list as a mute list.
func (s *Store) AddListMute(viewer, list string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listMutes[pair{viewer, list}] = true
}

// AddThreadgate gates the thread rooted at post.
func (s *Store) AddThreadgate(post string, gate *bluesky.ThreadgateRecord) string {
	uri := bluesky.ThreadgateURIForPost(post)
	gate.Post = post
	s.AddRecord(uri, gate, Epoch)
	return uri
}

// AddPostgate sets quoting rules for post.
func (s *Store) AddPostgate(post string, gate *bluesky.PostgateRecord) string {
	uri := bluesky.PostgateURIForPost(post)
	gate.Post = post
	s.AddRecord(uri, gate, Epoch)
	return uri
}

// AddFeedGenerator seeds a feed generator record.
func (s *Store) AddFeedGenerator(did, rkey, name string) string {
	uri := bluesky.MakeURI(did, bluesky.CollectionGenerator, rkey)
	s.AddRecord(uri, &bluesky.FeedGeneratorRecord{DID: "did:web:feeds.example.com", DisplayName: name, CreatedAt: Epoch.Format(time.RFC3339)}, Epoch)
	return uri
}

// AddFeedItem appends post to the keyword feed at feed.
func (s *Store) AddFeedItem(feed, post string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedItems[feed] = append(s.feedItems[feed], post)
}

// AddLabel applies val to subject from src.
func (s *Store) AddLabel(src, subject, val string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels = append(s.labels, dataplane.Label{Src: src, URI: subject, Val: val, Cts: Epoch})
}

// AddBookmark saves subject for actor.
func (s *Store) AddBookmark(actor, subject string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookmarks[actor] = append(s.bookmarks[actor], dataplane.Bookmark{Subject: subject, CreatedAt: at})
}

// AddNotification appends a notification for its recipient.
func (s *Store) AddNotification(n dataplane.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.Recipient] = append(s.notifications[n.Recipient], n)
}

// AddVouch seeds a vouch record from issuer for subject.
func (s *Store) AddVouch(issuer, subject, handle string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	uri := bluesky.MakeURI(issuer, bluesky.CollectionVouch, s.nextRKey())
	s.putRecord(uri, &bluesky.VouchRecord{Subject: subject, Handle: handle, CreatedAt: Epoch.Format(time.RFC3339)}, Epoch)
	return uri
}

// AddThreadMute mutes the thread rooted at root for viewer.
func (s *Store) AddThreadMute(viewer, root string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadMutes[pair{viewer, root}] = true
}

// SetActivitySubscription records viewer's subscription to target.
func (s *Store) SetActivitySubscription(viewer, target string, sub dataplane.ActivitySubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activitySubs[pair{viewer, target}] = sub
}

// SetRev sets the latest repo revision for did.
func (s *Store) SetRev(did, rev string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revs[did] = rev
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func (s *Store) post(uri string) *bluesky.PostRecord {
	r, ok := s.records[uri]
	if !ok || bluesky.CollectionFromURI(uri) != bluesky.CollectionPost {
		return nil
	}
	var p bluesky.PostRecord
	if err := json.Unmarshal(r.Value, &p); err != nil {
		return nil
	}
	return &p
}

type keyed struct {
	sortAt time.Time
	key    string
}

// paginate sorts items newest first and applies a keyset cursor.
func paginate[T any](items []T, keyOf func(T) keyed, cursor string, limit int) ([]T, string) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := keyOf(items[i]), keyOf(items[j])
		if !a.sortAt.Equal(b.sortAt) {
			return a.sortAt.After(b.sortAt)
		}
		return a.key > b.key
	})
	ks, ok, err := pagination.Unpack(cursor)
	if err != nil {
		return nil, ""
	}
	if ok {
		start := len(items)
		for i, it := range items {
			k := keyOf(it)
			if k.sortAt.Before(ks.SortAt) || (k.sortAt.Equal(ks.SortAt) && k.key < ks.Tiebreaker) {
				start = i
				break
			}
		}
		items = items[start:]
	}
	limit = pagination.Limit(limit)
	if len(items) <= limit {
		return items, ""
	}
	items = items[:limit]
	last := keyOf(items[len(items)-1])
	return items, pagination.Pack(last.sortAt, last.key)
}
