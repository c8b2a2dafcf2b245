package firehose

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/blackmichael/bluesky-appview/internal/indexer"
)

// Jetstream event kinds.
const (
	kindCommit   = "commit"
	kindIdentity = "identity"
	kindAccount  = "account"
)

// jetstreamEvent is the raw JSON structure from Jetstream.
type jetstreamEvent struct {
	DID      string             `json:"did"`
	TimeUS   int64              `json:"time_us"`
	Kind     string             `json:"kind"`
	Commit   *jetstreamCommit   `json:"commit,omitempty"`
	Identity *jetstreamIdentity `json:"identity,omitempty"`
	Account  *jetstreamAccount  `json:"account,omitempty"`
}

// jetstreamCommit is the raw commit data from Jetstream. The record is kept
// undecoded; the indexer decodes it by collection.
type jetstreamCommit struct {
	Rev        string          `json:"rev"`
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
	CID        string          `json:"cid"`
}

type jetstreamIdentity struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
	Seq    int64  `json:"seq"`
	Time   string `json:"time"`
}

type jetstreamAccount struct {
	DID    string `json:"did"`
	Active bool   `json:"active"`
	Status string `json:"status"`
	Seq    int64  `json:"seq"`
	Time   string `json:"time"`
}

func parseEvent(data []byte) (*jetstreamEvent, error) {
	var event jetstreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &event, nil
}

// observedAt is when the network saw the event.
func (e *jetstreamEvent) observedAt() time.Time {
	if e.TimeUS == 0 {
		return time.Now().UTC()
	}
	return time.UnixMicro(e.TimeUS).UTC()
}

// collection labels the event for metrics.
func (e *jetstreamEvent) collection() string {
	if e.Commit != nil {
		return e.Commit.Collection
	}
	return ""
}

func (e *jetstreamEvent) toCommit() *indexer.Commit {
	c := e.Commit
	return &indexer.Commit{
		DID:        e.DID,
		Rev:        c.Rev,
		Operation:  c.Operation,
		Collection: c.Collection,
		RKey:       c.RKey,
		CID:        c.CID,
		Record:     c.Record,
		Time:       e.observedAt(),
	}
}

func (e *jetstreamEvent) toIdentity() *indexer.Identity {
	did := e.Identity.DID
	if did == "" {
		did = e.DID
	}
	return &indexer.Identity{DID: did, Handle: e.Identity.Handle, Time: e.observedAt()}
}

func (e *jetstreamEvent) toAccount() *indexer.Account {
	did := e.Account.DID
	if did == "" {
		did = e.DID
	}
	return &indexer.Account{DID: did, Active: e.Account.Active, Status: e.Account.Status, Time: e.observedAt()}
}
