package tracescript

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestProbeTableLookup checks matching with omitted and glob
// components, declaration ordering and deduplication.
func TestProbeTableLookup(t *testing.T) {
	assert := assert.New(t)

	program, err := Compile(mustParse(t, `
syscall::open:entry { @a = count(); }
syscall:::entry { @b = count(); }
sys*::*: { @c = count(); }
proc::exec:start { @d = count(); }
syscall::open:entry, syscall::*:entry { @e = count(); }
`), testCatalog())
	assert.NoError(err)
	if err != nil {
		return
	}
	table := program.table

	open := ProbeIdentity{
		Provider: "syscall", Function: "open", Name: "entry"}
	matched := table.lookup(open)
	assert.Equal(4, len(matched), "clauses matching open")
	var indices []int
	for _, clause := range matched {
		indices = append(indices, clause.index)
	}
	assert.Equal([]int{0, 1, 2, 4}, indices, "declaration order")

	exec := ProbeIdentity{
		Provider: "proc", Function: "exec", Name: "start"}
	matched = table.lookup(exec)
	assert.Equal(1, len(matched))
	assert.Equal(3, matched[0].index)

	unknown := ProbeIdentity{Provider: "nobody", Name: "cares"}
	assert.Equal(0, len(table.lookup(unknown)))

	// Cached lookups return the same resolution.
	again := table.lookup(open)
	assert.Equal(len(matched), len(table.lookup(exec)))
	assert.Equal(4, len(again))
}

// TestProbeTableWildcardOnly checks that wildcard matchers
// reach identities absent from the catalog, as used together
// with deferred binding.
func TestProbeTableWildcardOnly(t *testing.T) {
	assert := assert.New(t)

	program, err := Compile(mustParse(t,
		"custom:*:*:fired { @c = count(); }"),
		testCatalog(), WithDeferredBinding(true))
	assert.NoError(err)
	if err != nil {
		return
	}
	matched := program.table.lookup(ProbeIdentity{
		Provider: "custom", Module: "m", Function: "f", Name: "fired"})
	assert.Equal(1, len(matched))
	assert.Equal(0, len(program.table.lookup(ProbeIdentity{
		Provider: "custom", Name: "missed"})))
}
