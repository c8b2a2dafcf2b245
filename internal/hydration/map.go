package hydration

// Map records, per key, whether the entity is unknown (absent), known to be
// missing (tombstoned) or present. The zero value and a nil *Map are empty
// and safe to read.
type Map[K comparable, V any] struct {
	items map[K]slot[V]
}

type slot[V any] struct {
	val     V
	present bool
}

// NewMap returns an empty map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{items: make(map[K]slot[V])}
}

func (m *Map[K, V]) init() {
	if m.items == nil {
		m.items = make(map[K]slot[V])
	}
}

// Set stores a present value for k.
func (m *Map[K, V]) Set(k K, v V) *Map[K, V] {
	m.init()
	m.items[k] = slot[V]{val: v, present: true}
	return m
}

// Tombstone records that k was fetched and does not resolve.
func (m *Map[K, V]) Tombstone(k K) *Map[K, V] {
	m.init()
	m.items[k] = slot[V]{}
	return m
}

// Get returns the value for k if it is present.
func (m *Map[K, V]) Get(k K) (V, bool) {
	if m == nil {
		var zero V
		return zero, false
	}
	s := m.items[k]
	return s.val, s.present
}

// Has reports whether k is known, either present or tombstoned.
func (m *Map[K, V]) Has(k K) bool {
	if m == nil {
		return false
	}
	_, ok := m.items[k]
	return ok
}

// IsTombstone reports whether k is known to be missing.
func (m *Map[K, V]) IsTombstone(k K) bool {
	if m == nil {
		return false
	}
	s, ok := m.items[k]
	return ok && !s.present
}

// Len counts known keys.
func (m *Map[K, V]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.items)
}

// Keys returns every known key in unspecified order.
func (m *Map[K, V]) Keys() []K {
	if m == nil {
		return nil
	}
	keys := make([]K, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	return keys
}

// Range calls fn for each present entry until fn returns false.
func (m *Map[K, V]) Range(fn func(k K, v V) bool) {
	if m == nil {
		return
	}
	for k, s := range m.items {
		if s.present && !fn(k, s.val) {
			return
		}
	}
}

// Clone returns a shallow copy. Cloning nil yields an empty map.
func (m *Map[K, V]) Clone() *Map[K, V] {
	out := NewMap[K, V]()
	if m == nil {
		return out
	}
	for k, s := range m.items {
		out.items[k] = s
	}
	return out
}

// Merge copies every entry of other into m, replacing conflicting keys.
// Keys of m that other does not know are kept.
func (m *Map[K, V]) Merge(other *Map[K, V]) *Map[K, V] {
	m.init()
	if other == nil {
		return m
	}
	for k, s := range other.items {
		m.items[k] = s
	}
	return m
}

// MergeMaps returns a new map holding a with b merged over it. Neither
// argument is modified. Two nil maps merge to nil so that unpopulated state
// stays unpopulated.
func MergeMaps[K comparable, V any](a, b *Map[K, V]) *Map[K, V] {
	if a == nil && b == nil {
		return nil
	}
	return a.Clone().Merge(b)
}

// NestedMap is a map of maps, e.g. labels per subject. The outer key being
// known means the inner map was fetched, even if it is empty.
type NestedMap[K1, K2 comparable, V any] struct {
	outer map[K1]*Map[K2, V]
}

// NewNestedMap returns an empty nested map.
func NewNestedMap[K1, K2 comparable, V any]() *NestedMap[K1, K2, V] {
	return &NestedMap[K1, K2, V]{outer: make(map[K1]*Map[K2, V])}
}

// Inner returns the inner map for k1, creating it if needed.
func (n *NestedMap[K1, K2, V]) Inner(k1 K1) *Map[K2, V] {
	if n.outer == nil {
		n.outer = make(map[K1]*Map[K2, V])
	}
	inner, ok := n.outer[k1]
	if !ok {
		inner = NewMap[K2, V]()
		n.outer[k1] = inner
	}
	return inner
}

// Lookup returns the inner map for k1 without creating it.
func (n *NestedMap[K1, K2, V]) Lookup(k1 K1) *Map[K2, V] {
	if n == nil {
		return nil
	}
	return n.outer[k1]
}

// Set stores v at (k1, k2).
func (n *NestedMap[K1, K2, V]) Set(k1 K1, k2 K2, v V) {
	n.Inner(k1).Set(k2, v)
}

// Get returns the present value at (k1, k2).
func (n *NestedMap[K1, K2, V]) Get(k1 K1, k2 K2) (V, bool) {
	return n.Lookup(k1).Get(k2)
}

// Has reports whether the inner map for k1 was fetched.
func (n *NestedMap[K1, K2, V]) Has(k1 K1) bool {
	if n == nil {
		return false
	}
	_, ok := n.outer[k1]
	return ok
}

// Keys returns the known outer keys.
func (n *NestedMap[K1, K2, V]) Keys() []K1 {
	if n == nil {
		return nil
	}
	keys := make([]K1, 0, len(n.outer))
	for k := range n.outer {
		keys = append(keys, k)
	}
	return keys
}

// Clone copies both levels.
func (n *NestedMap[K1, K2, V]) Clone() *NestedMap[K1, K2, V] {
	out := NewNestedMap[K1, K2, V]()
	if n == nil {
		return out
	}
	for k, inner := range n.outer {
		out.outer[k] = inner.Clone()
	}
	return out
}

// Merge merges other into n one level deep: inner maps for the same outer
// key are merged rather than replaced.
func (n *NestedMap[K1, K2, V]) Merge(other *NestedMap[K1, K2, V]) *NestedMap[K1, K2, V] {
	if other == nil {
		return n
	}
	for k, inner := range other.outer {
		n.Inner(k).Merge(inner)
	}
	return n
}

// MergeNested is the non-destructive form of NestedMap.Merge.
func MergeNested[K1, K2 comparable, V any](a, b *NestedMap[K1, K2, V]) *NestedMap[K1, K2, V] {
	if a == nil && b == nil {
		return nil
	}
	return a.Clone().Merge(b)
}
