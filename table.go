package tracescript

import (
	"sort"
	"sync"
)

// probeTable indexes compiled clauses by probe identity. The
// common literal specifiers live in a hash map; wildcard
// specifiers are kept aside and scanned linearly, with the
// result of each distinct identity cached on first lookup.
// The table itself is immutable after construction, so the
// only synchronized state is the lookup cache.
type probeTable struct {
	exact    map[ProbeIdentity][]*compiledClause
	wildcard []*compiledClause
	cache    sync.Map // ProbeIdentity -> []*compiledClause
}

func newProbeTable(clauses []*compiledClause) *probeTable {
	t := &probeTable{
		exact: make(map[ProbeIdentity][]*compiledClause),
	}
	for _, clause := range clauses {
		if clause.isBegin || clause.isEnd {
			if len(clause.matchers) == 0 {
				continue
			}
		}
		literal := len(clause.matchers) > 0
		for _, matcher := range clause.matchers {
			if !matcher.literal() {
				literal = false
				break
			}
		}
		if literal {
			for _, matcher := range clause.matchers {
				id := ProbeIdentity{
					Provider: matcher.provider,
					Module:   matcher.module,
					Function: matcher.function,
					Name:     matcher.name,
				}
				t.exact[id] = append(t.exact[id], clause)
			}
			continue
		}
		if len(clause.matchers) > 0 {
			t.wildcard = append(t.wildcard, clause)
		}
	}
	return t
}

// lookup returns the clauses matching the identity in script
// declaration order. The slice is shared and must not be
// mutated by the caller.
func (t *probeTable) lookup(id ProbeIdentity) []*compiledClause {
	if cached, ok := t.cache.Load(id); ok {
		return cached.([]*compiledClause)
	}
	var matched []*compiledClause
	matched = append(matched, t.exact[id]...)
	for _, clause := range t.wildcard {
		for _, matcher := range clause.matchers {
			if matcher.match(id) {
				matched = append(matched, clause)
				break
			}
		}
	}
	// A clause may appear through both an exact and a wildcard
	// specifier; keep declaration order and drop duplicates.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].index < matched[j].index
	})
	deduped := matched[:0]
	var last *compiledClause
	for _, clause := range matched {
		if clause == last {
			continue
		}
		deduped = append(deduped, clause)
		last = clause
	}
	actual, _ := t.cache.LoadOrStore(id, deduped)
	return actual.([]*compiledClause)
}
