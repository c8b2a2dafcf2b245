package bluesky

import (
	"fmt"
	"strings"
)

// Collection NSIDs the appview understands.
const (
	CollectionPost       = "app.bsky.feed.post"
	CollectionLike       = "app.bsky.feed.like"
	CollectionRepost     = "app.bsky.feed.repost"
	CollectionGenerator  = "app.bsky.feed.generator"
	CollectionThreadgate = "app.bsky.feed.threadgate"
	CollectionPostgate   = "app.bsky.feed.postgate"
	CollectionProfile    = "app.bsky.actor.profile"
	CollectionFollow     = "app.bsky.graph.follow"
	CollectionBlock      = "app.bsky.graph.block"
	CollectionList       = "app.bsky.graph.list"
	CollectionListItem   = "app.bsky.graph.listitem"
	CollectionListBlock  = "app.bsky.graph.listblock"
	CollectionVouch      = "app.bsky.graph.vouch"
)

// Collections lists every collection the indexer subscribes to.
var Collections = []string{
	CollectionPost,
	CollectionLike,
	CollectionRepost,
	CollectionGenerator,
	CollectionThreadgate,
	CollectionPostgate,
	CollectionProfile,
	CollectionFollow,
	CollectionBlock,
	CollectionList,
	CollectionListItem,
	CollectionListBlock,
	CollectionVouch,
}

// URI is a parsed at:// URI. Host is normally a DID.
type URI struct {
	Host       string
	Collection string
	RKey       string
}

// ParseURI parses at://host[/collection[/rkey]].
func ParseURI(s string) (URI, error) {
	rest, ok := strings.CutPrefix(s, "at://")
	if !ok {
		return URI{}, fmt.Errorf("invalid at-uri %q: missing at:// prefix", s)
	}
	parts := strings.SplitN(rest, "/", 3)
	if parts[0] == "" {
		return URI{}, fmt.Errorf("invalid at-uri %q: missing host", s)
	}
	u := URI{Host: parts[0]}
	if len(parts) > 1 {
		u.Collection = parts[1]
	}
	if len(parts) > 2 {
		u.RKey = parts[2]
	}
	return u, nil
}

func (u URI) String() string {
	var b strings.Builder
	b.WriteString("at://")
	b.WriteString(u.Host)
	if u.Collection != "" {
		b.WriteString("/")
		b.WriteString(u.Collection)
		if u.RKey != "" {
			b.WriteString("/")
			b.WriteString(u.RKey)
		}
	}
	return b.String()
}

// MakeURI builds the record URI for did/collection/rkey.
func MakeURI(did, collection, rkey string) string {
	return URI{Host: did, Collection: collection, RKey: rkey}.String()
}

// DIDFromURI returns the host segment of uri, or "" if uri does not parse.
func DIDFromURI(uri string) string {
	u, err := ParseURI(uri)
	if err != nil {
		return ""
	}
	return u.Host
}

// CollectionFromURI returns the collection segment of uri, or "".
func CollectionFromURI(uri string) string {
	u, err := ParseURI(uri)
	if err != nil {
		return ""
	}
	return u.Collection
}

// URIsByCollection groups uris by their collection, keeping input order
// within each group. Unparseable uris are dropped.
func URIsByCollection(uris []string) map[string][]string {
	out := make(map[string][]string)
	for _, uri := range uris {
		u, err := ParseURI(uri)
		if err != nil || u.Collection == "" {
			continue
		}
		out[u.Collection] = append(out[u.Collection], uri)
	}
	return out
}

// ThreadgateURIForPost maps a post URI to the URI its threadgate lives at.
// Threadgates share the rkey of the post they gate.
func ThreadgateURIForPost(postURI string) string {
	return gateURI(postURI, CollectionThreadgate)
}

// PostgateURIForPost maps a post URI to the URI of its postgate.
func PostgateURIForPost(postURI string) string {
	return gateURI(postURI, CollectionPostgate)
}

// PostURIForGate maps a threadgate or postgate URI back to its post.
func PostURIForGate(gateURI string) string {
	u, err := ParseURI(gateURI)
	if err != nil {
		return ""
	}
	return MakeURI(u.Host, CollectionPost, u.RKey)
}

func gateURI(postURI, collection string) string {
	u, err := ParseURI(postURI)
	if err != nil || u.Collection != CollectionPost {
		return ""
	}
	return MakeURI(u.Host, collection, u.RKey)
}

// ServiceRefToDID strips a "#service_id" suffix from a service reference.
func ServiceRefToDID(ref string) string {
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		return ref[:i]
	}
	return ref
}
