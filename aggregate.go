package tracescript

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// quantizeBuckets is the fixed bucket vector of quantize():
// index 64 holds value zero, indexes above it the positive
// powers of two and indexes below it the negative ones.
const quantizeBuckets = 129

// record is the running state of one aggregation bucket. Which
// fields are live depends on the aggregating function.
type record struct {
	n    uint64
	sum  int64
	min  int64
	max  int64
	seen bool
	hist []uint64
}

func (rec *record) apply(decl *aggDecl, value int64) {
	switch decl.fn {
	case aggCount:
		rec.n++
	case aggSum:
		rec.sum += value
	case aggAvg:
		rec.n++
		rec.sum += value
	case aggMin:
		if !rec.seen || value < rec.min {
			rec.min = value
		}
		rec.seen = true
	case aggMax:
		if !rec.seen || value > rec.max {
			rec.max = value
		}
		rec.seen = true
	case aggQuantize:
		if rec.hist == nil {
			rec.hist = make([]uint64, quantizeBuckets)
		}
		rec.hist[quantizeIndex(value)]++
	case aggLquantize:
		if rec.hist == nil {
			rec.hist = make([]uint64, lquantizeBucketCount(decl))
		}
		rec.hist[lquantizeIndex(decl, value)]++
	}
}

// quantizeIndex maps a value to its power-of-two bucket.
func quantizeIndex(v int64) int {
	if v == 0 {
		return 64
	}
	if v > 0 {
		return 65 + log2(uint64(v))
	}
	return 63 - log2(uint64(-v))
}

func log2(v uint64) int {
	n := 0
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

// quantizeLabel is the lower bound of the bucket at index i.
func quantizeLabel(i int) int64 {
	switch {
	case i == 64:
		return 0
	case i > 64:
		return int64(1) << uint(i-65)
	default:
		return -(int64(1) << uint(63-i))
	}
}

// lquantizeBucketCount is the linear bucket count including
// the underflow and overflow buckets.
func lquantizeBucketCount(decl *aggDecl) int {
	return int((decl.upper-decl.lower)/decl.step) + 2
}

func lquantizeIndex(decl *aggDecl, v int64) int {
	if v < decl.lower {
		return 0
	}
	if v >= decl.upper {
		return lquantizeBucketCount(decl) - 1
	}
	return int((v-decl.lower)/decl.step) + 1
}

func lquantizeLabel(decl *aggDecl, i int) int64 {
	if i == 0 {
		return decl.lower - decl.step
	}
	return decl.lower + int64(i-1)*decl.step
}

// bucket is one keyed record of an aggregation. Each bucket
// has its own lock so that updates under different keys never
// contend.
type bucket struct {
	mu   sync.Mutex
	keys []Value
	rec  record
}

// aggregation is the bucket map of one aggregation variable.
type aggregation struct {
	decl    *aggDecl
	mu      sync.RWMutex
	buckets map[string]*bucket
}

func (agg *aggregation) bucketFor(keys []Value) *bucket {
	encoded := encodeKeys(keys)
	agg.mu.RLock()
	b, ok := agg.buckets[encoded]
	agg.mu.RUnlock()
	if ok {
		return b
	}
	agg.mu.Lock()
	defer agg.mu.Unlock()
	if b, ok = agg.buckets[encoded]; ok {
		return b
	}
	b = &bucket{keys: keys}
	agg.buckets[encoded] = b
	return b
}

// encodeKeys flattens a key tuple to a map key. Kind tags and
// length prefixes keep distinct tuples from colliding.
func encodeKeys(keys []Value) string {
	var sb strings.Builder
	for _, key := range keys {
		switch key.Kind() {
		case KindString:
			fmt.Fprintf(&sb, "s%d:%s;", len(key.Str()), key.Str())
		case KindBool:
			fmt.Fprintf(&sb, "b%d;", key.Int())
		default:
			fmt.Fprintf(&sb, "i%d;", key.Int())
		}
	}
	return sb.String()
}

// Store holds the live state of every aggregation declared by
// a program. The aggregation map is fixed at construction, so
// concurrent updates only ever synchronize per aggregation
// and per bucket.
type Store struct {
	aggs  map[string]*aggregation
	order []string
}

func newStore(program *Program) *Store {
	s := &Store{
		aggs:  make(map[string]*aggregation),
		order: program.aggOrder,
	}
	for name, decl := range program.aggs {
		s.aggs[name] = &aggregation{
			decl:    decl,
			buckets: make(map[string]*bucket),
		}
	}
	return s
}

func (s *Store) update(decl *aggDecl, keys []Value, value int64) {
	agg := s.aggs[decl.name]
	b := agg.bucketFor(keys)
	b.mu.Lock()
	b.rec.apply(decl, value)
	b.mu.Unlock()
}

func (s *Store) clear(name string) {
	agg, ok := s.aggs[name]
	if !ok {
		return
	}
	agg.mu.Lock()
	agg.buckets = make(map[string]*bucket)
	agg.mu.Unlock()
}

// AggregationRow is one keyed entry of an aggregation
// snapshot.
type AggregationRow struct {
	Keys []Value

	// Value is the scalar result for count, sum, avg, min and
	// max aggregations.
	Value int64

	// Histogram holds (bucket lower bound, count) pairs for
	// quantize and lquantize aggregations, nil otherwise.
	Histogram []HistogramBucket
}

// HistogramBucket is one row of a histogram snapshot.
type HistogramBucket struct {
	LowerBound int64
	Count      uint64
}

// AggregationSnapshot is the consistent state of one
// aggregation at snapshot time.
type AggregationSnapshot struct {
	Name string
	Func string
	Rows []AggregationRow
}

// Snapshot captures every aggregation. Rows within one
// aggregation are ordered by key for deterministic output;
// aggregations appear in script declaration order.
func (s *Store) Snapshot() []AggregationSnapshot {
	var snapshots []AggregationSnapshot
	for _, name := range s.order {
		agg := s.aggs[name]
		snapshots = append(snapshots, snapshotAggregation(agg))
	}
	return snapshots
}

func snapshotAggregation(agg *aggregation) AggregationSnapshot {
	snapshot := AggregationSnapshot{
		Name: agg.decl.name,
		Func: agg.decl.fn.String(),
	}
	agg.mu.RLock()
	encoded := make([]string, 0, len(agg.buckets))
	for key := range agg.buckets {
		encoded = append(encoded, key)
	}
	sort.Strings(encoded)
	buckets := make([]*bucket, 0, len(encoded))
	for _, key := range encoded {
		buckets = append(buckets, agg.buckets[key])
	}
	agg.mu.RUnlock()

	for _, b := range buckets {
		b.mu.Lock()
		row := snapshotBucket(agg.decl, b)
		b.mu.Unlock()
		snapshot.Rows = append(snapshot.Rows, row)
	}
	return snapshot
}

func snapshotBucket(decl *aggDecl, b *bucket) AggregationRow {
	row := AggregationRow{Keys: b.keys}
	switch decl.fn {
	case aggCount:
		row.Value = int64(b.rec.n)
	case aggSum:
		row.Value = b.rec.sum
	case aggAvg:
		if b.rec.n > 0 {
			row.Value = b.rec.sum / int64(b.rec.n)
		}
	case aggMin:
		row.Value = b.rec.min
	case aggMax:
		row.Value = b.rec.max
	case aggQuantize:
		for i, count := range b.rec.hist {
			row.Histogram = append(row.Histogram, HistogramBucket{
				LowerBound: quantizeLabel(i),
				Count:      count,
			})
		}
	case aggLquantize:
		for i, count := range b.rec.hist {
			row.Histogram = append(row.Histogram, HistogramBucket{
				LowerBound: lquantizeLabel(decl, i),
				Count:      count,
			})
		}
	}
	return row
}

// histogramBarWidth is the width of the distribution bar in
// rendered histograms.
const histogramBarWidth = 40

// render formats every aggregation for the sink, one block
// per aggregation in declaration order.
func (s *Store) render() []string {
	var lines []string
	for _, snapshot := range s.Snapshot() {
		lines = append(lines, renderAggregation(snapshot)...)
	}
	return lines
}

func renderAggregation(snapshot AggregationSnapshot) []string {
	lines := []string{fmt.Sprintf("@%s:", snapshot.Name)}
	for _, row := range snapshot.Rows {
		label := formatKeys(row.Keys)
		if row.Histogram == nil {
			if label != "" {
				lines = append(lines, fmt.Sprintf("  [%s] %d", label, row.Value))
			} else {
				lines = append(lines, fmt.Sprintf("  %d", row.Value))
			}
			continue
		}
		if label != "" {
			lines = append(lines, fmt.Sprintf("  [%s]", label))
		}
		lines = append(lines, renderHistogram(row.Histogram)...)
	}
	return lines
}

func formatKeys(keys []Value) string {
	var parts []string
	for _, key := range keys {
		parts = append(parts, key.String())
	}
	return strings.Join(parts, ", ")
}

// renderHistogram prints the non-empty span of a histogram
// with one padding row on each side, a '@' bar scaled to the
// largest bucket.
func renderHistogram(buckets []HistogramBucket) []string {
	first, last := -1, -1
	var total uint64
	for i, b := range buckets {
		if b.Count == 0 {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
		total += b.Count
	}
	if first < 0 {
		return nil
	}
	if first > 0 {
		first--
	}
	if last < len(buckets)-1 {
		last++
	}
	lines := []string{fmt.Sprintf("%16s %-40s %s", "value",
		strings.Repeat("-", 13)+" Distribution "+strings.Repeat("-", 13), "count")}
	for i := first; i <= last; i++ {
		b := buckets[i]
		bar := int(b.Count * histogramBarWidth / total)
		lines = append(lines, fmt.Sprintf("%16d |%-40s %d",
			b.LowerBound, strings.Repeat("@", bar), b.Count))
	}
	return lines
}
