package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wyyt/AGPicCompress/internal/errs"
	"github.com/wyyt/AGPicCompress/internal/metadata"
	"github.com/wyyt/AGPicCompress/internal/stats"
)

// BatchRequest describes a directory (or multi-file) compression run.
type BatchRequest struct {
	InputPath string // file or directory
	TargetDir string // output directory; empty keeps outputs next to inputs
	Quality   int
	// Force writes over the input (or the same-named file in TargetDir)
	// instead of generating a unique output name.
	Force bool
}

// FileOutcome pairs one input file with its result or error.
type FileOutcome struct {
	Result Result
	Err    error
}

// ProgressFunc receives each file's outcome as it completes. Called from
// worker goroutines.
type ProgressFunc func(FileOutcome)

// RunBatch compresses every supported image under the request's input
// path using a worker pool. Each file is an independent Request; a
// failing file never aborts the batch.
func (p *Pipeline) RunBatch(ctx context.Context, req BatchRequest, st *stats.Statistics, progress ProgressFunc) ([]FileOutcome, error) {
	files, err := p.collectInputFiles(req.InputPath)
	if err != nil {
		return nil, err
	}
	if st != nil {
		for range files {
			st.IncrementFilesFound()
		}
	}

	if p.cfg.Processing.SkipMarked {
		files = p.filterMarked(files, st)
	}
	if len(files) == 0 {
		return nil, nil
	}

	if req.TargetDir != "" {
		if err := os.MkdirAll(req.TargetDir, 0755); err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "create target dir %s", req.TargetDir)
		}
	}

	numWorkers := p.cfg.Performance.WorkerThreads
	if numWorkers < 1 {
		numWorkers = 1
	}

	type job struct {
		index int
		path  string
	}
	jobs := make(chan job, len(files))
	outcomes := make([]FileOutcome, len(files))

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-ctx.Done():
					outcomes[j.index] = FileOutcome{Err: errs.Wrap(errs.KindTimeout, ctx.Err(), "batch aborted")}
					continue
				default:
				}

				out := p.runOne(ctx, j.path, req)
				outcomes[j.index] = out
				p.recordOutcome(st, j.path, out)
				if progress != nil {
					progress(out)
				}
			}
		}()
	}

	for i, path := range files {
		jobs <- job{index: i, path: path}
	}
	close(jobs)
	wg.Wait()

	if st != nil {
		st.Finish()
	}
	return outcomes, nil
}

func (p *Pipeline) runOne(ctx context.Context, path string, req BatchRequest) FileOutcome {
	dest := batchOutputPath(path, req.TargetDir, req.Force)
	res, err := p.Run(ctx, Request{
		SourcePath:      path,
		DestinationPath: dest,
		Quality:         req.Quality,
	})
	return FileOutcome{Result: res, Err: err}
}

func (p *Pipeline) recordOutcome(st *stats.Statistics, path string, out FileOutcome) {
	if st == nil {
		return
	}
	st.IncrementFilesProcessed()
	if out.Err != nil {
		st.IncrementFilesWithErrors()
		st.RecordError(path, errs.KindOf(out.Err).String(), out.Err.Error())
		return
	}
	st.AddBytes(out.Result.OriginalSize, out.Result.CompressedSize)
	if out.Result.NoImprovement {
		st.IncrementFilesNoGain()
	} else {
		st.IncrementFilesCompressed()
	}
}

// collectInputFiles expands the input path into the list of supported
// image files, recursing into directories.
func (p *Pipeline) collectInputFiles(input string) ([]string, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "stat %s", input)
	}

	if !info.IsDir() {
		return []string{input}, nil
	}

	var files []string
	walkErr := filepath.WalkDir(input, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if p.cfg.IsSupportedExtension(filepath.Ext(d.Name())) {
			files = append(files, path)
		}
		return nil
	})
	if walkErr != nil {
		return nil, errs.Wrap(errs.KindIO, walkErr, "walk %s", input)
	}
	return files, nil
}

// filterMarked drops JPEG files already stamped by a previous run.
func (p *Pipeline) filterMarked(files []string, st *stats.Statistics) []string {
	filtered := files[:0]
	for _, path := range files {
		ext := strings.ToLower(filepath.Ext(path))
		if (ext == ".jpg" || ext == ".jpeg") && metadata.HasCompressorMark(path) {
			p.log.WithField("file", path).Debug("Skipping already compressed file")
			if st != nil {
				st.IncrementFilesSkipped()
			}
			continue
		}
		filtered = append(filtered, path)
	}
	return filtered
}

// batchOutputPath decides where one batch file lands. Without force the
// output gets a unique name derived from the input, so an existing file
// is never clobbered.
func batchOutputPath(input, targetDir string, force bool) string {
	base := filepath.Base(input)
	if force {
		if targetDir == "" {
			return input
		}
		return filepath.Join(targetDir, base)
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	uid := uuid.NewMD5(uuid.NameSpaceDNS, []byte(fmt.Sprintf("AGPicCompress%d%s", time.Now().UnixNano(), base)))
	name := fmt.Sprintf("%s_%s_compressed%s", stem, uid.String()[:8], ext)

	dir := targetDir
	if dir == "" {
		dir = filepath.Dir(input)
	}
	return filepath.Join(dir, name)
}
