package backend

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Status describes one probed backend executable.
type Status struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Snapshot is an immutable view of backend availability. Concurrent
// readers share one snapshot; Reprobe swaps in a fresh one.
type Snapshot struct {
	statuses map[string]Status
}

// Lookup returns the status of a backend executable by name.
func (s *Snapshot) Lookup(name string) (Status, bool) {
	st, ok := s.statuses[name]
	return st, ok
}

// Statuses returns all probed statuses, for the status endpoint.
func (s *Snapshot) Statuses() []Status {
	out := make([]Status, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, st)
	}
	return out
}

// Availability records whether each external backend is present and
// executable. It is probed once at startup; a backend marked unavailable
// is never invoked again until an explicit Reprobe.
type Availability struct {
	binaries    []string
	searchPaths []string
	log         *logrus.Logger
	snapshot    atomic.Pointer[Snapshot]
}

// NewAvailability probes the given executables and returns the cache.
// searchPaths are consulted after $PATH; the directory of the running
// binary and its ext/ subdirectory are always searched last, so bundled
// codec executables shipped next to the tool are picked up.
func NewAvailability(log *logrus.Logger, binaries, searchPaths []string) *Availability {
	a := &Availability{
		binaries:    binaries,
		searchPaths: searchPaths,
		log:         log,
	}
	a.Reprobe()
	return a
}

// Current returns the active snapshot. The snapshot is immutable, so
// readers never observe a partially updated probe.
func (a *Availability) Current() *Snapshot {
	return a.snapshot.Load()
}

// Reprobe re-runs executable discovery and atomically swaps the snapshot.
func (a *Availability) Reprobe() {
	statuses := make(map[string]Status, len(a.binaries))
	for _, bin := range a.binaries {
		path, err := findExecutable(bin, a.searchPaths)
		if err != nil {
			statuses[bin] = Status{Name: bin, Available: false, Detail: err.Error()}
			a.log.WithFields(logrus.Fields{"backend": bin}).Warnf("Backend unavailable: %v", err)
			continue
		}
		statuses[bin] = Status{Name: bin, Available: true, Path: path}
		a.log.WithFields(logrus.Fields{"backend": bin, "path": path}).Debug("Backend probed")
	}
	a.snapshot.Store(&Snapshot{statuses: statuses})
}

// findExecutable locates bin on $PATH, then in the configured search
// paths, then next to the running binary and in its ext/ directory.
func findExecutable(bin string, searchPaths []string) (string, error) {
	if path, err := exec.LookPath(bin); err == nil {
		return path, nil
	}

	candidates := append([]string{}, searchPaths...)
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		candidates = append(candidates, exeDir, filepath.Join(exeDir, "ext"))
	}

	for _, dir := range candidates {
		candidate := filepath.Join(dir, bin)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Mode()&0111 == 0 {
			continue
		}
		return candidate, nil
	}
	return "", fmt.Errorf("%s not found on PATH or in search paths", bin)
}
