package stats

import (
	"strings"
	"sync"
	"testing"
)

func TestCounters(t *testing.T) {
	s := NewStatistics()

	s.IncrementFilesFound()
	s.IncrementFilesFound()
	s.IncrementFilesProcessed()
	s.IncrementFilesCompressed()
	s.IncrementFilesNoGain()
	s.IncrementFilesSkipped()
	s.IncrementFilesWithErrors()
	s.AddBytes(1000, 400)
	s.Finish()

	if s.FilesFound != 2 || s.FilesProcessed != 1 {
		t.Errorf("found=%d processed=%d", s.FilesFound, s.FilesProcessed)
	}
	if s.SavedBytes() != 600 {
		t.Errorf("saved = %d, want 600", s.SavedBytes())
	}
	if s.EndTime.IsZero() {
		t.Error("Finish did not stop the clock")
	}
}

func TestRecordErrorKeepsCopy(t *testing.T) {
	s := NewStatistics()
	s.RecordError("/tmp/a.png", "BackendExecutionError", "pngquant exited 99")

	errs := s.Errors()
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	if errs[0].Path != "/tmp/a.png" || errs[0].Kind != "BackendExecutionError" {
		t.Errorf("unexpected record: %+v", errs[0])
	}

	// Mutating the returned slice must not reach the internal state.
	errs[0].Path = "mutated"
	if s.Errors()[0].Path != "/tmp/a.png" {
		t.Error("Errors returned internal slice")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	s := NewStatistics()
	const workers = 8
	const perWorker = 1000

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				s.IncrementFilesProcessed()
				s.AddBytes(10, 4)
			}
		}()
	}
	wg.Wait()

	if s.FilesProcessed != workers*perWorker {
		t.Errorf("processed = %d, want %d", s.FilesProcessed, workers*perWorker)
	}
	if s.BytesIn != workers*perWorker*10 || s.BytesOut != workers*perWorker*4 {
		t.Errorf("bytes = %d -> %d", s.BytesIn, s.BytesOut)
	}
}

func TestGetSummary(t *testing.T) {
	s := NewStatistics()
	s.IncrementFilesFound()
	s.IncrementFilesProcessed()
	s.IncrementFilesCompressed()
	s.AddBytes(2048, 1024)
	s.Finish()

	summary := s.GetSummary()
	for _, want := range []string{"Files found:", "Compressed:", "Saved:", "50.0%"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestGetSummaryEmptyRun(t *testing.T) {
	s := NewStatistics()
	// No division by zero when nothing was processed.
	if summary := s.GetSummary(); !strings.Contains(summary, "0.0%") {
		t.Errorf("empty run summary:\n%s", summary)
	}
}
