package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func testContent(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return buf
}

// rangedServer serves content with full byte-range support.
func rangedServer(content []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "artifact.bin", time.Unix(0, 0), bytes.NewReader(content))
	}))
}

// flakyServer fails the first failures requests per distinct byte range.
type flakyServer struct {
	mu       sync.Mutex
	failures int
	seen     map[string]int
}

func (f *flakyServer) handler(content []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Range")
		if r.Method == http.MethodGet {
			f.mu.Lock()
			f.seen[key]++
			n := f.seen[key]
			f.mu.Unlock()
			if n <= f.failures {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
		}
		http.ServeContent(w, r, "artifact.bin", time.Unix(0, 0), bytes.NewReader(content))
	}
}

func fastEngine(opts ...Option) *Engine {
	base := []Option{WithBackoff(time.Millisecond, 2*time.Millisecond), WithThreshold(1 << 10)}
	return New(append(base, opts...)...)
}

func TestDownload_SplitsLargeRangedTransfer(t *testing.T) {
	content := testContent(64 << 10)
	srv := rangedServer(content)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "models", "artifact.bin")
	job := NewJob("artifact.bin", srv.URL, dest)

	if err := fastEngine().Download(context.Background(), job); err != nil {
		t.Fatalf("Download: %v", err)
	}

	if len(job.Segments) != DefaultSegments {
		t.Errorf("segments = %d, want %d", len(job.Segments), DefaultSegments)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatal("assembled content differs from source")
	}
	if job.Size != int64(len(content)) {
		t.Errorf("job.Size = %d, want %d", job.Size, len(content))
	}
}

func TestDownload_SmallTransferIsSingleSegment(t *testing.T) {
	content := testContent(128)
	srv := rangedServer(content)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "small.bin")
	job := NewJob("small.bin", srv.URL, dest)
	if err := fastEngine().Download(context.Background(), job); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(job.Segments) != 1 {
		t.Errorf("segments = %d, want 1", len(job.Segments))
	}
}

func TestDownload_NoRangeSupportFallsBackToSingleStream(t *testing.T) {
	content := testContent(64 << 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprint(len(content)))
			return
		}
		// Ignores Range entirely.
		w.Write(content)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "artifact.bin")
	job := NewJob("artifact.bin", srv.URL, dest)
	if err := fastEngine().Download(context.Background(), job); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if job.Ranged {
		t.Error("job marked ranged without Accept-Ranges")
	}
	if len(job.Segments) != 1 {
		t.Errorf("segments = %d, want 1", len(job.Segments))
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, content) {
		t.Fatal("content differs")
	}
}

func TestDownload_SegmentSucceedsOnThirdAttempt(t *testing.T) {
	content := testContent(8 << 10)
	flaky := &flakyServer{failures: 2, seen: map[string]int{}}
	srv := httptest.NewServer(flaky.handler(content))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "artifact.bin")
	job := NewJob("artifact.bin", srv.URL, dest)
	if err := fastEngine().Download(context.Background(), job); err != nil {
		t.Fatalf("Download after retries: %v", err)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, content) {
		t.Fatal("content differs")
	}
}

func TestDownload_ExhaustedRetriesFailTheJob(t *testing.T) {
	content := testContent(8 << 10)
	flaky := &flakyServer{failures: 3, seen: map[string]int{}}
	srv := httptest.NewServer(flaky.handler(content))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "artifact.bin")
	job := NewJob("artifact.bin", srv.URL, dest)

	err := fastEngine().Download(context.Background(), job)
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", exhausted.Attempts)
	}
	if exhausted.Identifier != "artifact.bin" {
		t.Errorf("identifier = %q", exhausted.Identifier)
	}

	assertNoArtifacts(t, dir, dest)
}

func TestDownload_PermanentStatusDoesNotRetry(t *testing.T) {
	var gets int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			mu.Lock()
			gets++
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "missing.bin")
	job := NewJob("missing.bin", srv.URL, dest)
	err := fastEngine().Download(context.Background(), job)
	if err == nil {
		t.Fatal("expected error")
	}

	mu.Lock()
	defer mu.Unlock()
	if gets > 1 {
		t.Errorf("GET attempts = %d, want no retry on 404", gets)
	}
}

func TestDownload_CancelLeavesNoFile(t *testing.T) {
	content := testContent(64 << 10)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			<-release
		}
		http.ServeContent(w, r, "artifact.bin", time.Unix(0, 0), bytes.NewReader(content))
	}))
	defer srv.Close()
	defer close(release)

	dir := t.TempDir()
	dest := filepath.Join(dir, "artifact.bin")
	job := NewJob("artifact.bin", srv.URL, dest)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := fastEngine().Download(ctx, job)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		t.Errorf("cancellation reported as exhaustion: %v", err)
	}

	assertNoArtifacts(t, dir, dest)
}

func TestDownload_ReportsMonotonicProgress(t *testing.T) {
	content := testContent(64 << 10)
	srv := rangedServer(content)
	defer srv.Close()

	var mu sync.Mutex
	var values []int64
	e := New(
		WithThreshold(1<<10),
		WithBackoff(time.Millisecond, 2*time.Millisecond),
		WithProgress(func(received, total int64) {
			mu.Lock()
			values = append(values, received)
			mu.Unlock()
		}),
	)
	e.interval = time.Millisecond

	dest := filepath.Join(t.TempDir(), "artifact.bin")
	if err := e.Download(context.Background(), NewJob("artifact.bin", srv.URL, dest)); err != nil {
		t.Fatalf("Download: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(values) == 0 {
		t.Fatal("no progress reported")
	}
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			t.Fatalf("progress decreased: %v", values)
		}
	}
	if values[len(values)-1] != int64(len(content)) {
		t.Errorf("final progress = %d, want %d", values[len(values)-1], len(content))
	}
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		ranged   bool
		wantSegs int
	}{
		{"large ranged", 40 << 20, true, 4},
		{"large unranged", 40 << 20, false, 1},
		{"small ranged", 1 << 20, true, 1},
		{"unknown size", -1, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &Job{Size: tt.size, Ranged: tt.ranged}
			j.plan(DefaultThreshold, DefaultSegments)
			if len(j.Segments) != tt.wantSegs {
				t.Fatalf("segments = %d, want %d", len(j.Segments), tt.wantSegs)
			}

			if tt.wantSegs > 1 {
				var covered int64
				next := int64(0)
				for _, s := range j.Segments {
					if s.Offset != next {
						t.Fatalf("segment %d offset %d, want contiguous %d", s.Index, s.Offset, next)
					}
					next = s.Offset + s.Length
					covered += s.Length
				}
				if covered != tt.size {
					t.Errorf("coverage = %d, want %d", covered, tt.size)
				}
			}
		})
	}
}

// assertNoArtifacts verifies a failed or cancelled job leaves nothing at or
// near the final path.
func assertNoArtifacts(t *testing.T, dir, dest string) {
	t.Helper()
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("destination exists after failure")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".cktmp") {
			t.Errorf("leftover assembly file %s", e.Name())
		}
	}
}
