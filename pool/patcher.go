package pool

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Patcher constructs a new pool snapshot by applying a diff to a previous
// one. The previous snapshot is never mutated; every carried-over pool is
// deep-copied so the result owns its memory.
func Patcher(prev []Pool, diff Diff) ([]Pool, error) {
	next := make(map[common.Hash]Pool, len(prev))
	for _, p := range prev {
		next[p.ID] = deepCopyPool(p)
	}

	for _, id := range diff.Deletions {
		delete(next, id)
	}
	for _, p := range diff.Updates {
		next[p.ID] = deepCopyPool(p)
	}
	for _, p := range diff.Additions {
		next[p.ID] = deepCopyPool(p)
	}

	out := make([]Pool, 0, len(next))
	for _, p := range next {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out, nil
}
