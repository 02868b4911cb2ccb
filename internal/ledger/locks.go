package ledger

import (
	"hash/fnv"
	"sort"
	"sync"
)

const defaultStripes = 64

// keyLocks is a fixed set of mutexes addressed by key hash.
type keyLocks struct {
	stripes []sync.Mutex
}

func newKeyLocks(n int) *keyLocks {
	if n <= 0 {
		n = defaultStripes
	}
	return &keyLocks{stripes: make([]sync.Mutex, n)}
}

func (l *keyLocks) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(l.stripes)))
}

// lock acquires the stripes for keys in ascending stripe order and returns the release func.
// Keys sharing a stripe are locked once. A nil keyLocks locks nothing.
func (l *keyLocks) lock(keys ...string) func() {
	if l == nil {
		return func() {}
	}
	idx := make([]int, 0, len(keys))
	seen := make(map[int]struct{}, len(keys))
	for _, k := range keys {
		i := l.index(k)
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		l.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			l.stripes[idx[j]].Unlock()
		}
	}
}

func holderKey(token, holder string) string { return token + "|" + holder }

func supplyKey(token string) string { return token + "|supply" }
