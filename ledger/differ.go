package ledger

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// EntryID identifies a ledger entry without its amount, used to name
// deletions in a diff.
type EntryID struct {
	Depositor common.Address `json:"depositor"`
	Pool      common.Hash    `json:"pool"`
	Asset     common.Address `json:"asset"`
}

// Diff summarizes entry changes between two ledger snapshots.
type Diff struct {
	Additions []Entry   `json:"additions,omitempty"`
	Updates   []Entry   `json:"updates,omitempty"`
	Deletions []EntryID `json:"deletions,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d Diff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Updates) == 0 && len(d.Deletions) == 0
}

func entryID(e Entry) EntryID {
	return EntryID{Depositor: e.Depositor, Pool: e.Pool, Asset: e.Asset}
}

// Differ calculates the difference between two ledger snapshots, indexing
// both sides by entry identity and sweeping for additions, updates and
// deletions.
func Differ(old, new []Entry) Diff {
	oldByID := make(map[EntryID]Entry, len(old))
	for _, e := range old {
		oldByID[entryID(e)] = e
	}
	newByID := make(map[EntryID]Entry, len(new))
	for _, e := range new {
		newByID[entryID(e)] = e
	}

	var additions []Entry
	var updates []Entry
	var deletions []EntryID

	for id, newEntry := range newByID {
		oldEntry, exists := oldByID[id]
		if !exists {
			additions = append(additions, newEntry)
			continue
		}
		if oldEntry.Amount.Cmp(newEntry.Amount) != 0 {
			updates = append(updates, newEntry)
		}
	}

	for id := range oldByID {
		if _, exists := newByID[id]; !exists {
			deletions = append(deletions, id)
		}
	}

	return Diff{Additions: additions, Updates: updates, Deletions: deletions}
}

// Patcher constructs a new ledger snapshot by applying a diff to a previous
// one. The previous snapshot is never mutated.
func Patcher(prev []Entry, diff Diff) ([]Entry, error) {
	next := make(map[EntryID]Entry, len(prev))
	for _, e := range prev {
		next[entryID(e)] = copyEntry(e)
	}

	for _, id := range diff.Deletions {
		delete(next, id)
	}
	for _, e := range diff.Updates {
		next[entryID(e)] = copyEntry(e)
	}
	for _, e := range diff.Additions {
		next[entryID(e)] = copyEntry(e)
	}

	out := make([]Entry, 0, len(next))
	for _, e := range next {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return lessEntry(out[i], out[j])
	})
	return out, nil
}

func copyEntry(e Entry) Entry {
	out := e
	if e.Amount != nil {
		out.Amount = new(big.Int).Set(e.Amount)
	}
	return out
}
