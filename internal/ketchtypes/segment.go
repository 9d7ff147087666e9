package ketchtypes

// Segment is a byte range within one task's output file, assigned to one
// connection. start/end are inclusive; end may be the sentinel
// UnknownEnd when the total size is unknown (single-segment mode).
//
// Invariants (spec.md §3): Start <= End; DownloadedBytes <= total bytes
// in range; CurrentOffset = Start + DownloadedBytes; IsComplete iff
// DownloadedBytes >= total bytes in range.
type Segment struct {
	Index           int
	Start           int64
	End             int64 // inclusive
	DownloadedBytes int64
}

// UnknownEnd is the sentinel used for End when the server didn't report a
// Content-Length and the resource doesn't support ranges.
const UnknownEnd = int64(1<<63 - 1)

// TotalBytes returns the size of this segment's range, or -1 if the range
// is open-ended (End == UnknownEnd).
func (s Segment) TotalBytes() int64 {
	if s.End == UnknownEnd {
		return -1
	}
	return s.End - s.Start + 1
}

func (s Segment) CurrentOffset() int64 {
	return s.Start + s.DownloadedBytes
}

func (s Segment) IsComplete() bool {
	total := s.TotalBytes()
	if total < 0 {
		return false
	}
	return s.DownloadedBytes >= total
}

// Clone returns a value copy (Segment has no pointer fields, but this
// documents intent at call sites that snapshot live progress).
func (s Segment) Clone() Segment { return s }
