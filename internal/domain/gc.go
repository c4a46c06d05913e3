package domain

import "github.com/samber/lo"

// LiveAssets returns the distinct non-null asset ids referenced by states, in
// first-seen order.
func LiveAssets(states []DocState) []AssetID {
	return lo.Uniq(lo.FlatMap(states, func(s DocState, _ int) []AssetID {
		return s.Assets()
	}))
}

// ReleasedAssets is the snapshot diff: ids live in before but not in after.
// Each id appears at most once no matter how many states referenced it.
func ReleasedAssets(before, after []DocState) []AssetID {
	released, _ := lo.Difference(LiveAssets(before), LiveAssets(after))
	return released
}
