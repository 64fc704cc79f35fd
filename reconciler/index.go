package reconciler

import (
	"github.com/google/btree"

	"github.com/yairfalse/sweepr/pkg/resource"
)

// seenEntry tracks one previously recorded resource.
type seenEntry struct {
	key     resource.Key
	seen    float64
	matched bool
}

// seenIndex is an ordered index of the previous tracked state.
type seenIndex struct {
	tree *btree.BTreeG[*seenEntry]
}

func newSeenIndex(previous []resource.Resource) *seenIndex {
	idx := &seenIndex{
		tree: btree.NewG[*seenEntry](32, func(a, b *seenEntry) bool {
			return a.key.Less(b.key)
		}),
	}
	for _, r := range previous {
		// A record without __seen__ counts as seen at the epoch.
		seen, _ := r.FirstSeen()
		// a later record for the same key replaces the earlier one
		idx.tree.ReplaceOrInsert(&seenEntry{key: r.Key(), seen: seen})
	}
	return idx
}

// touch marks key as present in the current scan and returns its entry,
// or nil when the key was never recorded.
func (i *seenIndex) touch(key resource.Key) *seenEntry {
	entry, ok := i.tree.Get(&seenEntry{key: key})
	if !ok {
		return nil
	}
	entry.matched = true
	return entry
}

// unmatched returns the keys that were not touched, in key order.
func (i *seenIndex) unmatched() []resource.Key {
	var keys []resource.Key
	i.tree.Ascend(func(e *seenEntry) bool {
		if !e.matched {
			keys = append(keys, e.key)
		}
		return true
	})
	return keys
}
