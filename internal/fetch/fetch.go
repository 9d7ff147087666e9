// Package fetch implements SegmentedFetcher (spec.md §4.5): drives one
// task's concurrent segment downloads against a Source, a FileWriter and
// both rate limiters, watching a live connections cell for dynamic
// re-segmentation. Grounded on the teacher's worker/downloadTask loop
// (internal/engine/concurrent/worker.go, downloader.go): a read buffer
// per fetch attempt, per-chunk rate-limit acquire then WriteAt, short-read-as-
// NETWORK-error, per-segment retry with exponential backoff.
package fetch

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/ketch-dl/ketch/internal/ketcherr"
	"github.com/ketch-dl/ketch/internal/ketchconfig"
	"github.com/ketch-dl/ketch/internal/ketchtypes"
	"github.com/ketch-dl/ketch/internal/ratelimit"
	"github.com/ketch-dl/ketch/internal/reactive"
	"github.com/ketch-dl/ketch/internal/segment"
	"github.com/ketch-dl/ketch/internal/source"
)

// segmentRetryLimit bounds how many times fetchSegment re-issues a
// ranged request in place before surfacing the error to Run, whose
// caller (the coordinator) owns the real backoff and retry-count budget
// (spec.md §4.6). Without a bound, a persistently short-reading segment
// (a server that always closes the connection early, or a zero-byte
// range) would spin fetchOnce in a tight loop forever, since ctx never
// cancels on its own.
const segmentRetryLimit = 5

// Writer is the subset of filewriter.Writer a fetcher needs.
type Writer interface {
	WriteAt(offset int64, b []byte) error
}

// Fetcher drives one task's segmented download to completion.
type Fetcher struct {
	Source      source.Source
	Writer      Writer
	URL         string
	Headers     map[string]string
	Limiter     ratelimit.Composite
	Config      *ketchconfig.EngineConfig
	OnProgress  func(segments []ketchtypes.Segment) // called after every byte range write
}

// Run fetches every segment in initial to completion, honoring live
// changes to connections (spec.md §4.5's dynamic re-segmentation): when
// connections publishes a new value, the in-flight batch is canceled,
// progress is snapshotted, SegmentPlan.Resegment recomputes the
// partition, and a fresh batch starts. Run returns when every segment's
// downloadedBytes == its capacity, or a terminal error occurs.
func Run(ctx context.Context, f *Fetcher, initial []ketchtypes.Segment, connections *reactive.Cell[int]) error {
	segments := cloneSegments(initial)
	currentK := len(segments)

	sub := connections.Subscribe()
	defer sub.Close()

	for {
		if allComplete(segments) {
			return nil
		}

		batchCtx, cancelBatch := context.WithCancel(ctx)
		resultCh := make(chan error, 1)
		go func() {
			resultCh <- f.runBatch(batchCtx, segments)
		}()

		resegmented := false
	waitBatch:
		for {
			select {
			case err := <-resultCh:
				cancelBatch()
				if err != nil {
					return err
				}
				break waitBatch
			case newK := <-sub.C():
				if newK <= 0 || newK == currentK {
					// No-op publish (including the initial
					// last-value-on-subscribe delivery) — keep the
					// batch running and keep waiting.
					continue waitBatch
				}
				cancelBatch()
				<-resultCh // let in-flight writes settle before resnapshotting
				segments = segment.Resegment(segments, newK)
				currentK = newK
				resegmented = true
				break waitBatch
			}
		}

		if resegmented {
			continue
		}
		if allComplete(segments) {
			return nil
		}
	}
}

// runBatch fetches every incomplete segment in segments concurrently,
// mutating each Segment's DownloadedBytes in place as bytes land, and
// returns the first terminal error (if any) once all segments have
// either completed or stopped.
func (f *Fetcher) runBatch(ctx context.Context, segments []ketchtypes.Segment) error {
	var wg sync.WaitGroup
	errs := make([]error, len(segments))

	for i := range segments {
		if segments[i].IsComplete() {
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.fetchSegment(ctx, &segments[i], segments)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil && ketcherr.KindOf(err) != ketcherr.Canceled {
			return err
		}
	}
	return nil
}

// fetchSegment retries seg, up to segmentRetryLimit times, until it
// completes, a non-retryable error occurs, ctx is canceled, or the
// in-batch retry budget is spent (spec.md §4.6 owns the actual
// cross-attempt retry-count policy at the coordinator level; this loop
// only retries short reads and connection drops within one batch, the
// way the teacher's worker loop retries a single task, and gives up
// bounded instead of spinning forever).
func (f *Fetcher) fetchSegment(ctx context.Context, seg *ketchtypes.Segment, all []ketchtypes.Segment) error {
	var lastErr error
	for attempt := 0; attempt < segmentRetryLimit; attempt++ {
		if seg.IsComplete() {
			return nil
		}
		if ctx.Err() != nil {
			return ketcherr.Canceled()
		}
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(attempt)) * ketchconfig.RetryBaseDelay):
			case <-ctx.Done():
				return ketcherr.Canceled()
			}
		}

		err := f.fetchOnce(ctx, seg, all)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ketcherr.Canceled()
		}
		if !ketcherr.Retryable(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// fetchOnce issues one ranged GET for [currentOffset, end] and streams
// it into the writer, acquiring rate-limit tokens per chunk. A short
// read (EOF before end is reached, for a known-length segment) is
// wrapped as NETWORK so the retry loop re-issues the request for the
// remaining range (spec.md §4.5).
func (f *Fetcher) fetchOnce(ctx context.Context, seg *ketchtypes.Segment, all []ketchtypes.Segment) error {
	end := seg.End
	openEnded := end == ketchtypes.UnknownEnd
	start := seg.CurrentOffset()

	reqEnd := end
	if openEnded {
		reqEnd = -1
	}
	resp, err := f.Source.Open(ctx, f.URL, f.Headers, start, reqEnd)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	bufSize := int(f.Config.GetWorkerBufferSize())
	if bufSize <= 0 {
		bufSize = ketchconfig.WorkerBuffer
	}
	buf := make([]byte, bufSize)

	offset := start
	for {
		if !openEnded && offset > end {
			return nil
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if tokenErr := f.Limiter.Acquire(ctx, n); tokenErr != nil {
				return tokenErr
			}
			if writeErr := f.Writer.WriteAt(offset, buf[:n]); writeErr != nil {
				return writeErr
			}
			offset += int64(n)
			seg.DownloadedBytes = offset - seg.Start
			if f.OnProgress != nil {
				f.OnProgress(all)
			}
		}
		if readErr == io.EOF {
			if !openEnded && offset <= end {
				return ketcherr.NetworkErr(io.ErrUnexpectedEOF)
			}
			if openEnded {
				seg.End = offset - 1
			}
			return nil
		}
		if readErr != nil {
			return ketcherr.NetworkErr(readErr)
		}
	}
}

func cloneSegments(in []ketchtypes.Segment) []ketchtypes.Segment {
	out := make([]ketchtypes.Segment, len(in))
	copy(out, in)
	return out
}

func allComplete(segments []ketchtypes.Segment) bool {
	for _, s := range segments {
		if !s.IsComplete() {
			return false
		}
	}
	return true
}
