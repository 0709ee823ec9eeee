// Package fetch downloads model artifacts, splitting large transfers into
// parallel byte-range segments when the remote supports partial content.
// No partial file is ever visible at the destination path: segments land in
// a staging directory and are assembled, size-checked, and renamed into
// place only after every segment succeeds.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/dsustudio/comfykit/internal/branding"
)

const (
	// DefaultThreshold is the large-object size above which a ranged
	// transfer is split.
	DefaultThreshold = int64(32 << 20)
	// DefaultSegments is the fixed fan-out for a split transfer.
	DefaultSegments = 4
	// maxAttempts is the per-segment retry ceiling.
	maxAttempts = 3
)

// ProgressFunc receives aggregate bytes received across all segments.
// Reported values are monotonically non-decreasing; total is -1 when the
// remote hides the length.
type ProgressFunc func(received, total int64)

// Engine is a reusable downloader. Each Download call runs one job with its
// own bounded worker set; jobs do not share workers.
type Engine struct {
	client    *http.Client
	token     string
	threshold int64
	segments  int
	progress  ProgressFunc
	interval  time.Duration

	// backoff curve between segment attempts
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithToken attaches an opaque bearer token to outbound requests.
func WithToken(token string) Option {
	return func(e *Engine) { e.token = token }
}

// WithThreshold overrides the large-object split threshold.
func WithThreshold(n int64) Option {
	return func(e *Engine) { e.threshold = n }
}

// WithSegments overrides the split fan-out.
func WithSegments(n int) Option {
	return func(e *Engine) { e.segments = n }
}

// WithProgress installs a progress callback reported at a coarse interval.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) { e.progress = fn }
}

// WithBackoff overrides the retry backoff curve (testing).
func WithBackoff(initial, max time.Duration) Option {
	return func(e *Engine) {
		e.initialBackoff = initial
		e.maxBackoff = max
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		client:         http.DefaultClient,
		threshold:      DefaultThreshold,
		segments:       DefaultSegments,
		interval:       500 * time.Millisecond,
		initialBackoff: 500 * time.Millisecond,
		maxBackoff:     8 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Download runs one job to completion. On any terminal failure the staging
// area is discarded and nothing exists at the destination path.
func (e *Engine) Download(ctx context.Context, job *Job) error {
	size, ranged, err := e.probe(ctx, job.URL)
	if err != nil {
		return fmt.Errorf("probing %s: %w", job.URL, err)
	}
	job.Size = size
	job.Ranged = ranged
	job.plan(e.threshold, e.segments)

	if err := os.MkdirAll(filepath.Dir(job.Dest), 0o755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}
	stage, err := os.MkdirTemp(filepath.Dir(job.Dest), ".ck-stage-*")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(stage)

	received := make([]atomic.Int64, len(job.Segments))

	done := make(chan struct{})
	if e.progress != nil {
		go e.reportProgress(job.Size, received, done)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range job.Segments {
		seg := &job.Segments[i]
		path := segmentPath(stage, seg.Index)
		g.Go(func() error {
			return e.fetchSegmentWithRetry(gctx, job, seg, path, &received[seg.Index])
		})
	}
	err = g.Wait()
	close(done)
	if err != nil {
		return err
	}

	if err := e.assemble(job, stage); err != nil {
		return err
	}
	if e.progress != nil {
		e.progress(job.Size, job.Size)
	}
	return nil
}

func segmentPath(stage string, index int) string {
	return filepath.Join(stage, fmt.Sprintf("segment-%d.ckpart", index))
}

// fetchSegmentWithRetry retries one segment up to the retry ceiling with
// exponential backoff and jitter. A retry restarts only this segment.
func (e *Engine) fetchSegmentWithRetry(ctx context.Context, job *Job, seg *Segment, path string, counter *atomic.Int64) error {
	attempt := func() (struct{}, error) {
		seg.Attempts++
		err := e.fetchSegment(ctx, job, seg, path, counter)
		if err == nil {
			seg.Done = true
			return struct{}{}, nil
		}
		if !isTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.initialBackoff
	b.MaxInterval = e.maxBackoff
	b.Multiplier = 2

	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(maxAttempts),
	)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		// Cancellation aborts the in-flight attempt without converting
		// it into an exhaustion failure.
		return ctx.Err()
	}
	return &ExhaustedError{
		Identifier: job.Identifier,
		Segment:    seg.Index,
		Attempts:   seg.Attempts,
		Last:       err,
	}
}

// statusError marks an unexpected HTTP status. Retryable per policy: the
// remote may be shedding load or mid-deploy.
type statusError struct {
	status int
	want   int
}

func (s *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d (want %d)", s.status, s.want)
}

func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		// Client errors other than timeout/rate-limit are permanent.
		if se.status >= 400 && se.status < 500 && se.status != http.StatusRequestTimeout && se.status != http.StatusTooManyRequests {
			return false
		}
		return true
	}
	// Connection resets, timeouts, truncated bodies.
	return true
}

// fetchSegment performs a single attempt: request the byte range, stream it
// to the segment's staging file (truncating any prior partial attempt), and
// verify the expected length arrived.
func (e *Engine) fetchSegment(ctx context.Context, job *Job, seg *Segment, path string, counter *atomic.Int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.URL, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	e.decorate(req)

	wantStatus := http.StatusOK
	if job.Ranged && len(job.Segments) > 1 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", seg.Offset, seg.Offset+seg.Length-1))
		wantStatus = http.StatusPartialContent
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return &statusError{status: resp.StatusCode, want: wantStatus}
	}

	f, err := os.Create(path)
	if err != nil {
		return backoff.Permanent(err)
	}
	defer f.Close()

	counter.Store(0) // restart resets this segment's contribution
	var copied int64
	buf := make([]byte, 128<<10)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				return backoff.Permanent(writeErr)
			}
			copied += int64(n)
			counter.Add(int64(n))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	if seg.Length >= 0 && copied != seg.Length {
		return fmt.Errorf("short segment: got %d bytes, want %d", copied, seg.Length)
	}
	if seg.Length < 0 {
		seg.Length = copied
	}
	return f.Sync()
}

// assemble concatenates the staged segments in byte-range order into a
// temporary file, verifies the declared total size, and renames it into
// place. The rename is the only point where the destination appears.
func (e *Engine) assemble(job *Job, stage string) error {
	tmp := job.Dest + ".cktmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating assembly file: %w", err)
	}

	var total int64
	for _, seg := range job.Segments {
		in, err := os.Open(segmentPath(stage, seg.Index))
		if err != nil {
			out.Close()
			os.Remove(tmp)
			return fmt.Errorf("opening segment %d: %w", seg.Index, err)
		}
		n, err := io.Copy(out, in)
		in.Close()
		if err != nil {
			out.Close()
			os.Remove(tmp)
			return fmt.Errorf("assembling segment %d: %w", seg.Index, err)
		}
		total += n
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing assembly file: %w", err)
	}

	if job.Size >= 0 && total != job.Size {
		os.Remove(tmp)
		return fmt.Errorf("assembled %d bytes, want %d", total, job.Size)
	}
	job.Size = total

	if err := os.Rename(tmp, job.Dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalizing %s: %w", job.Dest, err)
	}
	return nil
}

// probe discovers the artifact size and whether the remote honors byte
// ranges. HEAD first; servers that reject HEAD get a one-byte range GET.
func (e *Engine) probe(ctx context.Context, url string) (size int64, ranged bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false, err
	}
	e.decorate(req)

	resp, err := e.client.Do(req)
	if err == nil && resp.StatusCode == http.StatusOK {
		defer resp.Body.Close()
		ranged = strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")
		return resp.ContentLength, ranged, nil
	}
	if resp != nil {
		resp.Body.Close()
	}

	// Fall back to a one-byte ranged GET.
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, false, err
	}
	e.decorate(req)
	req.Header.Set("Range", "bytes=0-0")

	resp, err = e.client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 2))

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return totalFromContentRange(resp.Header.Get("Content-Range")), true, nil
	case http.StatusOK:
		return resp.ContentLength, false, nil
	default:
		return 0, false, &statusError{status: resp.StatusCode, want: http.StatusPartialContent}
	}
}

// totalFromContentRange parses the total out of "bytes 0-0/12345".
func totalFromContentRange(v string) int64 {
	_, after, ok := strings.Cut(v, "/")
	if !ok || after == "*" {
		return -1
	}
	n, err := strconv.ParseInt(after, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func (e *Engine) decorate(req *http.Request) {
	req.Header.Set("User-Agent", branding.UserAgent())
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
}

// reportProgress publishes the aggregate byte count at a coarse interval.
// The published value is clamped to its own high-water mark so a restarted
// segment never makes progress appear to move backwards.
func (e *Engine) reportProgress(total int64, received []atomic.Int64, done <-chan struct{}) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	var high int64
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			var sum int64
			for i := range received {
				sum += received[i].Load()
			}
			if sum > high {
				high = sum
			}
			e.progress(high, total)
		}
	}
}
