// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"math"
	"sync"

	"github.com/google/btree"
)

// rangePageSize is how many counters a scan copies per lock acquisition.
const rangePageSize = 256

type counter struct {
	keyHash   uint64
	registers []byte
}

func counterLess(a, b counter) bool {
	return a.keyHash < b.keyHash
}

// counterTree keeps register blobs ordered by key hash. It is not safe for
// concurrent use; callers hold their own lock.
type counterTree struct {
	tree *btree.BTreeG[counter]
}

func newCounterTree() *counterTree {
	return &counterTree{tree: btree.NewG(16, counterLess)}
}

// get returns the stored blob without copying it.
func (t *counterTree) get(keyHash uint64) ([]byte, bool) {
	c, ok := t.tree.Get(counter{keyHash: keyHash})
	return c.registers, ok
}

func (t *counterTree) set(keyHash uint64, registers []byte) {
	t.tree.ReplaceOrInsert(counter{keyHash: keyHash, registers: registers})
}

func (t *counterTree) delete(keyHash uint64) {
	t.tree.Delete(counter{keyHash: keyHash})
}

func (t *counterTree) clear() {
	t.tree.Clear(false)
}

func (t *counterTree) len() int {
	return t.tree.Len()
}

// page copies up to limit counters with key hash >= from.
func (t *counterTree) page(from uint64, limit int) []counter {
	out := make([]counter, 0, limit)
	t.tree.AscendGreaterOrEqual(counter{keyHash: from}, func(c counter) bool {
		out = append(out, counter{keyHash: c.keyHash, registers: copyBytes(c.registers)})
		return len(out) < limit
	})
	return out
}

// rangeCounters walks t in key order a page at a time, holding mu only while
// copying each page.
func rangeCounters(ctx context.Context, mu *sync.RWMutex, t func() *counterTree, fn func(keyHash uint64, registers []byte) error) error {
	var from uint64
	for {
		mu.RLock()
		page := t().page(from, rangePageSize)
		mu.RUnlock()

		for _, c := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(c.keyHash, c.registers); err != nil {
				return err
			}
		}

		if len(page) < rangePageSize {
			return nil
		}
		last := page[len(page)-1].keyHash
		if last == math.MaxUint64 {
			return nil
		}
		from = last + 1
	}
}
