package stats

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Statistics accumulates counters for a compression run. Counter fields
// are updated with atomics so concurrent workers never block each other.
type Statistics struct {
	FilesFound      int64
	FilesProcessed  int64
	FilesCompressed int64
	FilesNoGain     int64
	FilesSkipped    int64
	FilesWithErrors int64

	BytesIn  int64
	BytesOut int64

	StartTime time.Time
	EndTime   time.Time

	mutex  sync.RWMutex
	errors []FileError
}

// FileError records a per-file failure for the summary and status API.
type FileError struct {
	Path      string    `json:"path"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStatistics returns a new Statistics instance with the clock started.
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

// IncrementFilesFound increases the count of discovered files by 1.
func (s *Statistics) IncrementFilesFound() {
	atomic.AddInt64(&s.FilesFound, 1)
}

// IncrementFilesProcessed increases the count of processed files by 1.
func (s *Statistics) IncrementFilesProcessed() {
	atomic.AddInt64(&s.FilesProcessed, 1)
}

// IncrementFilesCompressed increases the count of compressed files by 1.
func (s *Statistics) IncrementFilesCompressed() {
	atomic.AddInt64(&s.FilesCompressed, 1)
}

// IncrementFilesNoGain counts outputs that were not smaller than the input.
func (s *Statistics) IncrementFilesNoGain() {
	atomic.AddInt64(&s.FilesNoGain, 1)
}

// IncrementFilesSkipped increases the count of skipped files by 1.
func (s *Statistics) IncrementFilesSkipped() {
	atomic.AddInt64(&s.FilesSkipped, 1)
}

// IncrementFilesWithErrors increases the count of failed files by 1.
func (s *Statistics) IncrementFilesWithErrors() {
	atomic.AddInt64(&s.FilesWithErrors, 1)
}

// AddBytes records the input and output sizes of one compression.
func (s *Statistics) AddBytes(in, out int64) {
	atomic.AddInt64(&s.BytesIn, in)
	atomic.AddInt64(&s.BytesOut, out)
}

// RecordError appends a per-file failure.
func (s *Statistics) RecordError(path, kind, message string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.errors = append(s.errors, FileError{
		Path:      path,
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// Errors returns a copy of the recorded per-file failures.
func (s *Statistics) Errors() []FileError {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]FileError, len(s.errors))
	copy(out, s.errors)
	return out
}

// Finish stops the clock.
func (s *Statistics) Finish() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.EndTime = time.Now()
}

// SavedBytes returns how many bytes the run saved overall.
func (s *Statistics) SavedBytes() int64 {
	return atomic.LoadInt64(&s.BytesIn) - atomic.LoadInt64(&s.BytesOut)
}

// GetSummary returns a human-readable summary of the run.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	end := s.EndTime
	s.mutex.RUnlock()
	if end.IsZero() {
		end = time.Now()
	}

	in := atomic.LoadInt64(&s.BytesIn)
	out := atomic.LoadInt64(&s.BytesOut)
	saved := in - out
	ratio := 0.0
	if in > 0 {
		ratio = float64(saved) * 100 / float64(in)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Files found:      %d\n", atomic.LoadInt64(&s.FilesFound))
	fmt.Fprintf(&b, "Files processed:  %d\n", atomic.LoadInt64(&s.FilesProcessed))
	fmt.Fprintf(&b, "Compressed:       %d\n", atomic.LoadInt64(&s.FilesCompressed))
	fmt.Fprintf(&b, "No improvement:   %d\n", atomic.LoadInt64(&s.FilesNoGain))
	fmt.Fprintf(&b, "Skipped:          %d\n", atomic.LoadInt64(&s.FilesSkipped))
	fmt.Fprintf(&b, "Errors:           %d\n", atomic.LoadInt64(&s.FilesWithErrors))
	fmt.Fprintf(&b, "Input size:       %s\n", humanize.Bytes(uint64(in)))
	fmt.Fprintf(&b, "Output size:      %s\n", humanize.Bytes(uint64(out)))
	fmt.Fprintf(&b, "Saved:            %s (%.1f%%)\n", humanize.Bytes(uint64(max64(saved, 0))), ratio)
	fmt.Fprintf(&b, "Duration:         %s", end.Sub(s.StartTime).Round(time.Millisecond))
	return b.String()
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
