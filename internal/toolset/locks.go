package toolset

import (
	"sort"
	"sync"
)

// pathLocks hands out one mutex per path. Entries are dropped once nobody holds or waits on them
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: map[string]*pathLock{}}
}

// lock locks every distinct path in a stable order, so that two callers locking overlapping sets cannot deadlock
func (pl *pathLocks) lock(paths ...string) func() {
	unique := map[string]struct{}{}
	for _, p := range paths {
		unique[p] = struct{}{}
	}
	sorted := make([]string, 0, len(unique))
	for p := range unique {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	held := make([]*pathLock, 0, len(sorted))
	for _, p := range sorted {
		held = append(held, pl.acquire(p))
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			pl.release(sorted[i], held[i])
		}
	}
}

func (pl *pathLocks) acquire(path string) *pathLock {
	pl.mu.Lock()
	l, ok := pl.locks[path]
	if !ok {
		l = &pathLock{}
		pl.locks[path] = l
	}
	l.refs++
	pl.mu.Unlock()

	l.mu.Lock()
	return l
}

func (pl *pathLocks) release(path string, l *pathLock) {
	l.mu.Unlock()

	pl.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(pl.locks, path)
	}
	pl.mu.Unlock()
}
