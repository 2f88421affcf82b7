package flash

import "sort"

const (
	// defaultRangeCapacity is the pre-allocated capacity for dirty ranges.
	defaultRangeCapacity = 64

	// hostPageSize is the flush granularity of the host mapping.
	hostPageSize = 4096
)

// Range is a dirty byte range of a file-backed medium.
type Range struct {
	Off int64
	Len int64
}

// Tracker accumulates dirty ranges between syncs.
//
// NOT thread-safe. File serializes access.
type Tracker struct {
	ranges   []Range
	pageSize int64
}

// NewTracker creates a tracker that aligns ranges to pageSize.
func NewTracker(pageSize int64) *Tracker {
	if pageSize <= 0 {
		pageSize = hostPageSize
	}
	return &Tracker{
		ranges:   make([]Range, 0, defaultRangeCapacity),
		pageSize: pageSize,
	}
}

// Add records a dirty range.
func (t *Tracker) Add(off, length int64) {
	if length <= 0 {
		return
	}
	t.ranges = append(t.ranges, Range{Off: off, Len: length})
}

// Len returns the number of raw ranges recorded.
func (t *Tracker) Len() int { return len(t.ranges) }

// Reset drops every recorded range.
func (t *Tracker) Reset() { t.ranges = t.ranges[:0] }

// Coalesced page-aligns all ranges, sorts them, and merges overlapping or
// adjacent ones. limit clips the last page to the medium size.
func (t *Tracker) Coalesced(limit int64) []Range {
	if len(t.ranges) == 0 {
		return nil
	}

	aligned := make([]Range, len(t.ranges))
	for i, r := range t.ranges {
		start := (r.Off / t.pageSize) * t.pageSize
		end := r.Off + r.Len
		if end%t.pageSize != 0 {
			end = ((end / t.pageSize) + 1) * t.pageSize
		}
		if end > limit {
			end = limit
		}
		aligned[i] = Range{Off: start, Len: end - start}
	}

	sort.Slice(aligned, func(i, j int) bool {
		return aligned[i].Off < aligned[j].Off
	})

	merged := make([]Range, 0, len(aligned))
	current := aligned[0]
	for _, next := range aligned[1:] {
		if next.Off <= current.Off+current.Len {
			end := max(current.Off+current.Len, next.Off+next.Len)
			current.Len = end - current.Off
			continue
		}
		merged = append(merged, current)
		current = next
	}
	return append(merged, current)
}
