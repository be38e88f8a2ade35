package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wyyt/AGPicCompress/internal/backend"
	"github.com/wyyt/AGPicCompress/internal/config"
	"github.com/wyyt/AGPicCompress/internal/errs"
	"github.com/wyyt/AGPicCompress/internal/format"
	"github.com/wyyt/AGPicCompress/internal/logger"
	"github.com/wyyt/AGPicCompress/internal/metadata"
	"github.com/wyyt/AGPicCompress/internal/policy"
)

// Request describes one compression invocation. Requests are immutable
// and independent of each other; the only shared state between requests
// is the read-mostly backend availability cache.
type Request struct {
	SourcePath      string
	DestinationPath string
	Quality         int
	FormatHint      string
}

// Result describes a completed compression.
type Result struct {
	SourcePath      string        `json:"source_path,omitempty"`
	DestinationPath string        `json:"destination_path,omitempty"`
	Format          string        `json:"format"`
	Backend         string        `json:"backend"`
	OriginalSize    int64         `json:"original_size"`
	CompressedSize  int64         `json:"compressed_size"`
	NoImprovement   bool          `json:"no_improvement"`
	Duration        time.Duration `json:"duration"`
}

// Ratio returns the fraction of the original size that was saved.
func (r Result) Ratio() float64 {
	if r.OriginalSize == 0 {
		return 0
	}
	return float64(r.OriginalSize-r.CompressedSize) / float64(r.OriginalSize)
}

// Request lifecycle states, logged at debug level.
type state string

const (
	statePending         state = "pending"
	stateRouted          state = "routed"
	stateBackendResolved state = "backend_resolved"
	stateCompressing     state = "compressing"
	stateWriting         state = "writing"
	stateDone            state = "done"
	stateFailed          state = "failed"
)

// Pipeline orchestrates format routing, quality resolution, backend
// invocation and atomic output writing.
type Pipeline struct {
	cfg    *config.Config
	log    *logrus.Logger
	codecs map[format.Format]backend.Codec
	avail  *backend.Availability
}

// New builds a pipeline from the configuration. Backend executables are
// probed once here; use Availability().Reprobe() to refresh.
func New(cfg *config.Config, log *logrus.Logger) *Pipeline {
	avail := backend.NewAvailability(log, []string{"jpegtran", "pngquant"}, cfg.SearchPaths)

	codecs := map[format.Format]backend.Codec{
		format.JPEG: backend.NewMozJPEG(avail),
	}
	if cfg.PNGBackend == "native" {
		codecs[format.PNG] = backend.NewNativePNG()
	} else {
		codecs[format.PNG] = backend.NewPNGQuant(avail)
	}

	return &Pipeline{
		cfg:    cfg,
		log:    log,
		codecs: codecs,
		avail:  avail,
	}
}

// Availability exposes the backend availability cache.
func (p *Pipeline) Availability() *backend.Availability {
	return p.avail
}

// CodecFor returns the configured codec for a format.
func (p *Pipeline) CodecFor(f format.Format) (backend.Codec, bool) {
	c, ok := p.codecs[f]
	return c, ok
}

// Run executes one compression request end to end. The destination path
// is either left untouched (on any failure) or atomically replaced with
// the fully written output, never a partial write.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	log := logger.WithFile(p.log, req.SourcePath)
	log.WithField("state", statePending).Debug("Request accepted")

	f, err := format.Detect(req.SourcePath, req.FormatHint)
	if err != nil {
		return p.fail(log, err)
	}
	log.WithFields(logrus.Fields{"state": stateRouted, "format": f.String()}).Debug("Format routed")

	codec, params, err := p.resolveBackend(f, req.Quality)
	if err != nil {
		return p.fail(log, err)
	}
	log.WithFields(logrus.Fields{"state": stateBackendResolved, "backend": codec.Name()}).Debug("Backend resolved")

	input, err := os.ReadFile(req.SourcePath)
	if err != nil {
		return p.fail(log, errs.Wrap(errs.KindIO, err, "read %s", req.SourcePath))
	}

	log.WithField("state", stateCompressing).Debug("Invoking backend")
	output, err := codec.Compress(ctx, input, params)
	if err != nil {
		return p.fail(log, err)
	}

	log.WithField("state", stateWriting).Debug("Writing output")
	if err := writeAtomic(req.DestinationPath, output); err != nil {
		return p.fail(log, err)
	}

	if f == format.JPEG {
		p.applyMetadata(log, req.SourcePath, req.DestinationPath)
	}

	res := Result{
		SourcePath:      req.SourcePath,
		DestinationPath: req.DestinationPath,
		Format:          f.String(),
		Backend:         codec.Name(),
		OriginalSize:    int64(len(input)),
		CompressedSize:  int64(len(output)),
		NoImprovement:   len(output) >= len(input),
		Duration:        time.Since(start),
	}
	log.WithFields(logrus.Fields{
		"state":          stateDone,
		"original":       res.OriginalSize,
		"compressed":     res.CompressedSize,
		"no_improvement": res.NoImprovement,
	}).Info("Compression finished")
	return res, nil
}

// CompressBytes runs routing, policy and the backend over in-memory data.
// Used by the web upload endpoint; nothing is written to disk.
func (p *Pipeline) CompressBytes(ctx context.Context, data []byte, hint string, quality int) ([]byte, Result, error) {
	start := time.Now()

	f, err := format.DetectBytes(data, hint)
	if err != nil {
		return nil, Result{}, err
	}
	codec, params, err := p.resolveBackend(f, quality)
	if err != nil {
		return nil, Result{}, err
	}
	output, err := codec.Compress(ctx, data, params)
	if err != nil {
		return nil, Result{}, err
	}

	res := Result{
		Format:         f.String(),
		Backend:        codec.Name(),
		OriginalSize:   int64(len(data)),
		CompressedSize: int64(len(output)),
		NoImprovement:  len(output) >= len(data),
		Duration:       time.Since(start),
	}
	return output, res, nil
}

// resolveBackend applies the quality policy and fails fast when the
// format's backend is unavailable. There is no fallback to a different
// backend: lossy and lossless semantics differ per format, so a silent
// downgrade would change meaning.
func (p *Pipeline) resolveBackend(f format.Format, quality int) (backend.Codec, backend.Params, error) {
	params, err := policy.Resolve(f, quality)
	if err != nil {
		return nil, backend.Params{}, err
	}

	codec, ok := p.codecs[f]
	if !ok {
		return nil, backend.Params{}, errs.New(errs.KindUnsupportedFormat, "no backend registered for format %s", f)
	}

	if bin := requiredBinary(codec, params); bin != "" {
		status, ok := p.avail.Current().Lookup(bin)
		if !ok || !status.Available {
			detail := status.Detail
			if detail == "" {
				detail = "not probed"
			}
			return nil, backend.Params{}, errs.New(errs.KindBackendUnavailable,
				"backend %s requires %s which is not available: %s", codec.Name(), bin, detail)
		}
	}
	return codec, params, nil
}

// requiredBinary names the executable a codec invocation depends on, or
// "" when it runs fully in-process. pngquant is not consulted for
// NoPalette requests because those re-encode in-process.
func requiredBinary(codec backend.Codec, params backend.Params) string {
	if codec.Kind() != backend.KindProcess {
		return ""
	}
	switch codec.Name() {
	case "mozjpeg":
		return "jpegtran"
	case "pngquant":
		if params.NoPalette {
			return ""
		}
		return "pngquant"
	}
	return ""
}

// applyMetadata optionally copies EXIF tags and stamps the compressor
// mark onto a written JPEG. Failures are logged, never surfaced: the
// compressed output is already valid.
func (p *Pipeline) applyMetadata(log *logrus.Entry, src, dst string) {
	if p.cfg.Processing.PreserveMetadata {
		if err := metadata.CopyTags(src, dst); err != nil {
			log.Warnf("EXIF tags not copied: %v", err)
		}
	}
	if p.cfg.Processing.MarkCompressed {
		if err := metadata.MarkCompressed(dst); err != nil {
			log.Warnf("Compressor mark not set: %v", err)
		}
	}
}

func (p *Pipeline) fail(log *logrus.Entry, err error) (Result, error) {
	log.WithFields(logrus.Fields{
		"state": stateFailed,
		"kind":  errs.KindOf(err).String(),
	}).Errorf("Compression failed: %v", err)
	return Result{}, err
}

// writeAtomic writes data to a uniquely named temporary file in the
// destination's directory, then renames it over the destination. The
// unique suffix keeps concurrent requests into the same directory from
// colliding; the temp file is removed on every failure path.
func writeAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.Wrap(errs.KindIO, err, "create destination directory %s", dir)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(dest), uuid.NewString()[:8]))
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return errs.Wrap(errs.KindIO, err, "create temp file in %s", dir)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.KindIO, err, "write temp file %s", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.KindIO, err, "sync temp file %s", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.KindIO, err, "close temp file %s", tmp)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.KindIO, err, "rename %s to %s", tmp, dest)
	}
	return nil
}
