package indexer

import (
	"encoding/json"
	"time"
)

// Commit operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// CollectionLabeler is the record a labeler publishes to announce its
// service. It is not stored, only used to flag the account.
const CollectionLabeler = "app.bsky.labeler.service"

// Commit is a single record operation from the firehose.
type Commit struct {
	DID        string
	Rev        string
	Operation  string
	Collection string
	RKey       string
	CID        string
	Record     json.RawMessage

	// Time is when the network observed the commit.
	Time time.Time
}

// Identity is a handle change for an account.
type Identity struct {
	DID    string
	Handle string
	Time   time.Time
}

// Account is an account status change.
type Account struct {
	DID    string
	Active bool

	// Status says why an inactive account is inactive (deactivated,
	// takendown, suspended, deleted).
	Status string
	Time   time.Time
}

// Record is a record ready to be stored.
type Record struct {
	URI        string
	DID        string
	Collection string
	CID        string
	Value      json.RawMessage
	IndexedAt  time.Time
	SortAt     time.Time

	// Edge is set for records that point at another actor, record or list.
	Edge *Edge

	// Post is set for posts.
	Post *PostIndex

	// FeedPost is the post this record places on its author's feed: the
	// post itself, or the reposted post.
	FeedPost string
}

// Edge is the target of a like, repost, follow, block, vouch, list item or
// list block.
type Edge struct {
	// Subject is the DID or record URI the record points at.
	Subject string

	// List is the list a list item belongs to.
	List string
}

// PostIndex holds a post's place in its thread.
type PostIndex struct {
	Root     string
	Parent   string
	Quote    string
	HasMedia bool
}
