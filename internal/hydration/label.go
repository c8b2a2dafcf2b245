package hydration

import (
	"context"
	"fmt"
	"time"

	"github.com/blackmichael/bluesky-appview/internal/dataplane"
)

// Label values with read-side effects.
const (
	LabelTakedown          = "!takedown"
	LabelSuspend           = "!suspend"
	LabelNoUnauthenticated = "!no-unauthenticated"
	LabelNeedsReview       = "needs-review"
)

// LabelHydrator fetches moderation labels.
type LabelHydrator struct {
	dp  dataplane.Client
	now func() time.Time
}

// GetLabels hydrates labels from the accepted labelers on each subject.
// Every requested subject becomes known, even with no labels. Negations
// cancel the label they negate and expired labels are dropped.
func (l *LabelHydrator) GetLabels(ctx context.Context, subjects []string, labelers Labelers) (*NestedMap[string, LabelKey, Label], error) {
	out := NewNestedMap[string, LabelKey, Label]()
	subjects = dedupe(subjects)
	if len(subjects) == 0 {
		return out, nil
	}
	for _, s := range subjects {
		out.Inner(s)
	}
	if len(labelers.DIDs) == 0 {
		return out, nil
	}
	labels, err := l.dp.GetLabels(ctx, subjects, labelers.DIDs)
	if err != nil {
		return nil, fmt.Errorf("get labels: %w", err)
	}
	now := l.now()
	negated := make(map[[3]string]bool)
	for _, lb := range labels {
		if lb.Neg {
			negated[[3]string{lb.URI, lb.Src, lb.Val}] = true
		}
	}
	for _, lb := range labels {
		if lb.Neg || negated[[3]string{lb.URI, lb.Src, lb.Val}] || !labelers.Contains(lb.Src) {
			continue
		}
		if !lb.Exp.IsZero() && !lb.Exp.After(now) {
			continue
		}
		out.Set(lb.URI, LabelKey{Src: lb.Src, Val: lb.Val}, lb)
	}
	return out, nil
}

// HasLabel reports whether subject carries val from any accepted labeler.
func HasLabel(labels *NestedMap[string, LabelKey, Label], subject, val string) bool {
	found := false
	labels.Lookup(subject).Range(func(k LabelKey, _ Label) bool {
		if k.Val == val {
			found = true
			return false
		}
		return true
	})
	return found
}

// IsTakendownByLabel reports whether subject carries a takedown or
// suspension label.
func IsTakendownByLabel(labels *NestedMap[string, LabelKey, Label], subject string) bool {
	return HasLabel(labels, subject, LabelTakedown) || HasLabel(labels, subject, LabelSuspend)
}
