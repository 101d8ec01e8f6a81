package tracescript

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testStore(t *testing.T, src string) *Store {
	t.Helper()
	program, err := Compile(mustParse(t, src), testCatalog())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return newStore(program)
}

// TestStoreScalars checks the scalar aggregating functions.
func TestStoreScalars(t *testing.T) {
	assert := assert.New(t)

	store := testStore(t, `syscall::close:entry {
		@n = count(); @s = sum(arg0); @a = avg(arg0);
		@lo = min(arg0); @hi = max(arg0);
	}`)
	for _, v := range []int64{5, -3, 10, 2, 6} {
		store.update(store.aggs["n"].decl, nil, 0)
		store.update(store.aggs["s"].decl, nil, v)
		store.update(store.aggs["a"].decl, nil, v)
		store.update(store.aggs["lo"].decl, nil, v)
		store.update(store.aggs["hi"].decl, nil, v)
	}

	snapshots := store.Snapshot()
	assert.Equal(5, len(snapshots))
	byName := map[string]AggregationSnapshot{}
	for _, snapshot := range snapshots {
		byName[snapshot.Name] = snapshot
	}
	assert.Equal(int64(5), byName["n"].Rows[0].Value, "count")
	assert.Equal(int64(20), byName["s"].Rows[0].Value, "sum")
	assert.Equal(int64(4), byName["a"].Rows[0].Value, "avg")
	assert.Equal(int64(-3), byName["lo"].Rows[0].Value, "min")
	assert.Equal(int64(10), byName["hi"].Rows[0].Value, "max")
}

// TestStoreKeys checks keyed buckets and snapshot ordering.
func TestStoreKeys(t *testing.T) {
	assert := assert.New(t)

	store := testStore(t,
		`syscall::open:entry { @c[arg0, arg1] = count(); }`)
	decl := store.aggs["c"].decl
	store.update(decl, []Value{StringValue("a"), IntValue(1)}, 0)
	store.update(decl, []Value{StringValue("b"), IntValue(2)}, 0)
	store.update(decl, []Value{StringValue("a"), IntValue(1)}, 0)

	rows := store.Snapshot()[0].Rows
	assert.Equal(2, len(rows))
	assert.Equal("a", rows[0].Keys[0].Str())
	assert.Equal(int64(2), rows[0].Value)
	assert.Equal("b", rows[1].Keys[0].Str())
	assert.Equal(int64(1), rows[1].Value)

	// Distinct tuples never collide through the key encoding.
	store.update(decl, []Value{StringValue("a;i1"), IntValue(1)}, 0)
	assert.Equal(3, len(store.Snapshot()[0].Rows))
}

// TestStoreMergeCommutes checks that the final state does not
// depend on update interleaving across goroutines.
func TestStoreMergeCommutes(t *testing.T) {
	assert := assert.New(t)

	store := testStore(t,
		`syscall::close:entry { @s = sum(arg0); @n = count(); }`)
	sumDecl := store.aggs["s"].decl
	countDecl := store.aggs["n"].decl

	var group sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		group.Add(1)
		go func(worker int) {
			defer group.Done()
			for i := 0; i < 1000; i++ {
				store.update(sumDecl, nil, int64(worker))
				store.update(countDecl, nil, 0)
			}
		}(worker)
	}
	group.Wait()

	snapshots := store.Snapshot()
	byName := map[string]AggregationSnapshot{}
	for _, snapshot := range snapshots {
		byName[snapshot.Name] = snapshot
	}
	assert.Equal(int64(28000), byName["s"].Rows[0].Value)
	assert.Equal(int64(8000), byName["n"].Rows[0].Value)
}

// TestQuantizeBuckets checks the power-of-two bucket mapping.
func TestQuantizeBuckets(t *testing.T) {
	assert := assert.New(t)

	for _, tc := range []struct {
		value int64
		index int
		label int64
	}{
		{0, 64, 0},
		{1, 65, 1},
		{2, 66, 2},
		{3, 66, 2},
		{4, 67, 4},
		{1023, 74, 512},
		{1024, 75, 1024},
		{-1, 63, -1},
		{-2, 62, -2},
		{-5, 61, -4},
	} {
		index := quantizeIndex(tc.value)
		assert.Equal(tc.index, index, "index of %d", tc.value)
		assert.Equal(tc.label, quantizeLabel(index), "label of %d", tc.value)
	}
}

// TestLquantizeBuckets checks the linear bucket mapping with
// its underflow and overflow buckets.
func TestLquantizeBuckets(t *testing.T) {
	assert := assert.New(t)

	decl := &aggDecl{fn: aggLquantize, lower: 0, upper: 100, step: 10}
	assert.Equal(12, lquantizeBucketCount(decl))
	for _, tc := range []struct {
		value int64
		index int
		label int64
	}{
		{-5, 0, -10},
		{0, 1, 0},
		{9, 1, 0},
		{10, 2, 10},
		{99, 11 - 1, 90},
		{100, 11, 100},
		{1000, 11, 100},
	} {
		index := lquantizeIndex(decl, tc.value)
		assert.Equal(tc.index, index, "index of %d", tc.value)
		assert.Equal(tc.label, lquantizeLabel(decl, index), "label of %d", tc.value)
	}
}

// TestStoreClear checks that clear empties one aggregation
// without touching the others.
func TestStoreClear(t *testing.T) {
	assert := assert.New(t)

	store := testStore(t,
		`syscall::close:entry { @a = count(); @b = count(); }`)
	store.update(store.aggs["a"].decl, nil, 0)
	store.update(store.aggs["b"].decl, nil, 0)
	store.clear("a")

	snapshots := store.Snapshot()
	assert.Equal(0, len(snapshots[0].Rows), "cleared")
	assert.Equal(1, len(snapshots[1].Rows), "untouched")

	// Updates after clear start from scratch.
	store.update(store.aggs["a"].decl, nil, 0)
	assert.Equal(int64(1), store.Snapshot()[0].Rows[0].Value)
}

// TestRenderHistogram checks the rendered histogram span and
// bar scaling.
func TestRenderHistogram(t *testing.T) {
	assert := assert.New(t)

	store := testStore(t,
		`syscall::close:entry { @q = quantize(arg0); }`)
	decl := store.aggs["q"].decl
	for _, v := range []int64{1, 2, 2, 3, 4} {
		store.update(decl, nil, v)
	}

	lines := store.render()
	assert.Equal("@q:", lines[0])
	assert.Contains(lines[1], "Distribution")
	// Span runs from one bucket under the first hit to one
	// bucket over the last, value labels 0 through 8.
	assert.Equal(6, len(lines)-2)
	assert.Contains(lines[2], " 0 |")
	assert.Contains(lines[3], " 1 |@@@@@@@@")
	assert.Contains(lines[4], " 2 |@@@@@@@@@@@@@@@@@@@@@@@@")
	assert.Contains(lines[5], " 4 |@@@@@@@@")
	assert.Contains(lines[6], " 8 |")
}
