package hydration

import (
	"slices"
	"strings"
)

// Labelers is the set of labeler services a request accepts labels from.
// Redact holds the subset whose labels should also redact content.
type Labelers struct {
	DIDs   []string
	Redact map[string]bool
}

// ParseLabelersHeader parses an atproto-accept-labelers value such as
// "did:plc:a;redact, did:plc:b".
func ParseLabelersHeader(header string) Labelers {
	var l Labelers
	for _, part := range strings.Split(header, ",") {
		fields := strings.Split(strings.TrimSpace(part), ";")
		did := strings.TrimSpace(fields[0])
		if !strings.HasPrefix(did, "did:") || slices.Contains(l.DIDs, did) {
			continue
		}
		l.DIDs = append(l.DIDs, did)
		for _, param := range fields[1:] {
			if strings.TrimSpace(param) == "redact" {
				if l.Redact == nil {
					l.Redact = make(map[string]bool)
				}
				l.Redact[did] = true
			}
		}
	}
	return l
}

// Header formats the labelers for the atproto-content-labelers response
// header.
func (l Labelers) Header() string {
	parts := make([]string, len(l.DIDs))
	for i, did := range l.DIDs {
		parts[i] = did
		if l.Redact[did] {
			parts[i] += ";redact"
		}
	}
	return strings.Join(parts, ",")
}

// Contains reports whether did is an accepted labeler.
func (l Labelers) Contains(did string) bool {
	return slices.Contains(l.DIDs, did)
}

// Context is the per-request viewer context. It is passed by value and
// never modified; derive narrower contexts with the With methods.
type Context struct {
	// Viewer is the requesting account's DID, or "" when unauthenticated.
	Viewer           string
	Labelers         Labelers
	IncludeTakedowns bool
	Include3pBlocks  bool
}

// WithViewer returns a copy of c for a different viewer.
func (c Context) WithViewer(viewer string) Context {
	c.Viewer = viewer
	return c
}

// WithLabelers returns a copy of c accepting labels from l.
func (c Context) WithLabelers(l Labelers) Context {
	c.Labelers = Labelers{DIDs: slices.Clone(l.DIDs), Redact: l.Redact}
	return c
}

// WithIncludeTakedowns returns a copy of c with takedown visibility set.
func (c Context) WithIncludeTakedowns(include bool) Context {
	c.IncludeTakedowns = include
	return c
}

// WithInclude3pBlocks returns a copy of c with third-party block
// visibility set.
func (c Context) WithInclude3pBlocks(include bool) Context {
	c.Include3pBlocks = include
	return c
}
