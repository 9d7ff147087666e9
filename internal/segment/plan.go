// Package segment implements SegmentPlan (spec.md §4.3): pure arithmetic
// for partitioning a byte range across k connections, and recomputing
// that partition when k changes without re-downloading or skipping a
// byte. It is grounded on the teacher's chunk-size math
// (internal/engine/concurrent/downloader.go calculateChunkSize/createTasks)
// but reshaped from "many small queue tasks" into "exactly k segments",
// which is what spec.md's Segment/resegment contract calls for.
package segment

import (
	"sort"

	"github.com/ketch-dl/ketch/internal/ketchtypes"
)

// Plan partitions [0, totalBytes) into k contiguous segments of size
// floor(totalBytes/k), with the first totalBytes%k segments one byte
// larger, so sizes differ by at most one byte (spec.md §4.3, testable
// property 1). k < 1 is treated as 1; when totalBytes < k only
// totalBytes one-byte segments are returned.
//
// totalBytes == 0 is a boundary, not a one-byte download (spec.md §8): the
// task completes immediately with no network reads, so it gets a single
// already-complete, zero-length segment instead of being routed through
// the totalBytes < 0 (unknown size) path.
func Plan(totalBytes int64, k int) []ketchtypes.Segment {
	if k < 1 {
		k = 1
	}
	if totalBytes == 0 {
		return emptySegment()
	}
	if totalBytes < 0 {
		return SingleSegment(totalBytes)
	}

	base := totalBytes / int64(k)
	rem := totalBytes % int64(k) // first `rem` segments get one extra byte

	segments := make([]ketchtypes.Segment, 0, k)
	var offset int64
	for i := 0; i < k; i++ {
		size := base
		if int64(i) < rem {
			size++
		}
		if size == 0 {
			break // totalBytes < k: fewer segments than requested, not an error
		}
		segments = append(segments, ketchtypes.Segment{
			Index: i,
			Start: offset,
			End:   offset + size - 1,
		})
		offset += size
	}
	return segments
}

// SingleSegment returns the one-segment plan used when the server refused
// ranges or the total size is unknown (spec.md §4.3, §4.4). End is
// ketchtypes.UnknownEnd when totalBytes < 0.
func SingleSegment(totalBytes int64) []ketchtypes.Segment {
	if totalBytes == 0 {
		return emptySegment()
	}
	end := ketchtypes.UnknownEnd
	if totalBytes > 0 {
		end = totalBytes - 1
	}
	return []ketchtypes.Segment{{Index: 0, Start: 0, End: end}}
}

// emptySegment is the zero-length, already-complete segment set for
// totalBytes == 0 (spec.md §8). End == Start-1 gives TotalBytes() == 0, so
// IsComplete() is true at DownloadedBytes == 0 and the fetcher never issues
// a ranged GET for it.
func emptySegment() []ketchtypes.Segment {
	return []ketchtypes.Segment{{Index: 0, Start: 0, End: -1}}
}

// overallTotal infers the task's total byte count from a segment list's
// highest End. Returns -1 if any segment is open-ended (single-segment,
// unknown-size mode).
func overallTotal(segments []ketchtypes.Segment) int64 {
	var maxEnd int64 = -1
	for _, s := range segments {
		if s.End == ketchtypes.UnknownEnd {
			return -1
		}
		if s.End > maxEnd {
			maxEnd = s.End
		}
	}
	return maxEnd + 1
}

// byteRange is a half-open [start, end) interval of bytes already on disk.
type byteRange struct{ start, end int64 }

// coveredRanges builds the merged, sorted set of on-disk byte intervals
// from the current segments. Each live segment downloads forward from its
// own Start, so the covered set is a union of per-segment prefixes
// scattered across the file — not one contiguous run — and two segments
// can leave the covered set non-contiguous even between themselves.
func coveredRanges(current []ketchtypes.Segment) []byteRange {
	ranges := make([]byteRange, 0, len(current))
	for _, s := range current {
		if s.DownloadedBytes <= 0 {
			continue
		}
		ranges = append(ranges, byteRange{start: s.Start, end: s.Start + s.DownloadedBytes})
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })

	merged := ranges[:0]
	for _, r := range ranges {
		if n := len(merged); n > 0 && r.start <= merged[n-1].end {
			if r.end > merged[n-1].end {
				merged[n-1].end = r.end
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// coveredPrefixLen returns how many bytes starting at start are covered by
// a contiguous run in ranges, clipped to end (exclusive). ranges must be
// sorted and non-overlapping. A segment can only resume at its own
// CurrentOffset and read forward, so only a covered run that begins
// exactly at start counts — a covered run further inside the segment,
// with a gap before it, would otherwise be mistaken for already
// downloaded and never get fetched.
func coveredPrefixLen(ranges []byteRange, start, end int64) int64 {
	for _, r := range ranges {
		if r.start > start {
			break
		}
		if r.end > start {
			covered := r.end
			if covered > end {
				covered = end
			}
			return covered - start
		}
	}
	return 0
}

// Resegment recomputes the partition for newK connections without ever
// marking a byte as downloaded unless it is actually covered by an
// existing segment's on-disk prefix (spec.md §4.3, testable property 2;
// invariant 4 "no byte is ever skipped").
//
// The current segments' covered byte ranges are merged into a single
// interval set (coveredRanges), independent of which old segment produced
// them. Each fresh segment is then credited with only the contiguous
// prefix of its own range that the covered set backs starting at its own
// Start — never a scalar count re-credited front-to-back across the new
// layout, which would wrongly mark uncovered gaps as downloaded whenever
// a later old segment ran ahead of an earlier one. A real on-disk byte
// that ends up outside its new segment's credited prefix is simply
// refetched and rewritten identically, since writes are offset-addressed
// (spec.md §4.5) — that is the only byte "loss" this produces, and it is
// safe.
// Unknown-size tasks (single-segment mode) are left untouched: there is
// no well-defined partition of an open-ended range.
func Resegment(current []ketchtypes.Segment, newK int) []ketchtypes.Segment {
	if newK < 1 {
		newK = 1
	}
	if len(current) == 0 {
		return current
	}

	total := overallTotal(current)
	if total < 0 {
		return current
	}

	covered := coveredRanges(current)
	fresh := Plan(total, newK)
	for i := range fresh {
		end := fresh[i].End + 1 // exclusive
		fresh[i].DownloadedBytes = coveredPrefixLen(covered, fresh[i].Start, end)
	}
	return fresh
}
