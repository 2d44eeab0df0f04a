package disk

import "github.com/stratumdb/kernel/internal/storage/page"

// freeSet is an in-memory set of page IDs available for reuse. It is not
// persisted: a restart leaks whatever was free at crash time, which is
// within the spec's explicit "implementations MAY leak" allowance.
type freeSet struct {
	ids map[page.ID]struct{}
}

func newFreeSet() freeSet {
	return freeSet{ids: make(map[page.ID]struct{})}
}

func (f *freeSet) add(id page.ID) {
	f.ids[id] = struct{}{}
}

func (f *freeSet) take() (page.ID, bool) {
	for id := range f.ids {
		delete(f.ids, id)
		return id, true
	}
	return page.Invalid, false
}

func (f *freeSet) count() int { return len(f.ids) }
