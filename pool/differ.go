package pool

import "github.com/ethereum/go-ethereum/common"

// Diff summarizes pool state changes between two snapshots.
type Diff struct {
	Additions []Pool        `json:"additions,omitempty"`
	Updates   []Pool        `json:"updates,omitempty"`
	Deletions []common.Hash `json:"deletions,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d Diff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Updates) == 0 && len(d.Deletions) == 0
}

// poolChanged performs a manual comparison of the fields that trades and
// transitions mutate; cheaper than reflect.DeepEqual and precise about what
// counts as a change.
func poolChanged(old, new Pool) bool {
	if old.Lifecycle != new.Lifecycle {
		return true
	}
	if old.CirculatingSupply.Cmp(new.CirculatingSupply) != 0 {
		return true
	}
	if old.ReserveCollected.Cmp(new.ReserveCollected) != 0 {
		return true
	}
	if old.LastPrice.Cmp(new.LastPrice) != 0 {
		return true
	}
	if old.TransitionPrice.Cmp(new.TransitionPrice) != 0 {
		return true
	}
	return false
}

// Differ calculates the difference between two pool snapshots using the
// standard map-then-sweep pattern: index both sides by ID, sweep the new side
// for additions and updates, sweep the old side for deletions.
func Differ(old, new []Pool) Diff {
	oldByID := make(map[common.Hash]Pool, len(old))
	for _, p := range old {
		oldByID[p.ID] = p
	}
	newByID := make(map[common.Hash]Pool, len(new))
	for _, p := range new {
		newByID[p.ID] = p
	}

	var additions []Pool
	var updates []Pool
	var deletions []common.Hash

	for id, newPool := range newByID {
		oldPool, exists := oldByID[id]
		if !exists {
			additions = append(additions, newPool)
			continue
		}
		if poolChanged(oldPool, newPool) {
			updates = append(updates, newPool)
		}
	}

	for id := range oldByID {
		if _, exists := newByID[id]; !exists {
			deletions = append(deletions, id)
		}
	}

	return Diff{Additions: additions, Updates: updates, Deletions: deletions}
}
