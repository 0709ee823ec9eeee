package fetch

import (
	"fmt"

	"github.com/google/uuid"
)

// Segment is one byte-range slice of a download, fetched independently.
// Offset/Length are fixed at planning time; Attempts grows as the worker
// retries.
type Segment struct {
	Index    int
	Offset   int64
	Length   int64
	Attempts int
	Done     bool
}

// Job tracks one artifact download from planning to assembly. Destroyed on
// completion or terminal failure; never reused.
type Job struct {
	ID         string
	Identifier string
	URL        string
	Dest       string
	Size       int64 // -1 until probed when the server hides the length
	Ranged     bool  // remote advertised partial-content support
	Segments   []Segment
}

// NewJob creates an unplanned job for one artifact.
func NewJob(identifier, url, dest string) *Job {
	return &Job{
		ID:         uuid.NewString(),
		Identifier: identifier,
		URL:        url,
		Dest:       dest,
		Size:       -1,
	}
}

// plan splits the job into count roughly equal byte ranges when the size is
// known, the remote supports ranges, and the size crosses the threshold.
// Otherwise the job is a single segment.
func (j *Job) plan(threshold int64, count int) {
	if !j.Ranged || j.Size < threshold || j.Size <= 0 || count <= 1 {
		j.Segments = []Segment{{Index: 0, Offset: 0, Length: j.Size}}
		return
	}

	per := j.Size / int64(count)
	j.Segments = make([]Segment, count)
	for i := 0; i < count; i++ {
		j.Segments[i] = Segment{Index: i, Offset: int64(i) * per, Length: per}
	}
	// Last segment absorbs the remainder.
	j.Segments[count-1].Length = j.Size - j.Segments[count-1].Offset
}

// ExhaustedError is the terminal job failure after a segment used up all
// its retry attempts. It carries enough detail to diagnose without
// re-running.
type ExhaustedError struct {
	Identifier string
	Segment    int
	Attempts   int
	Last       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("fetch %s: segment %d failed after %d attempts: %v",
		e.Identifier, e.Segment, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }
