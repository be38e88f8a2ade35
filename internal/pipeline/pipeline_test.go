package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/wyyt/AGPicCompress/internal/backend"
	"github.com/wyyt/AGPicCompress/internal/config"
	"github.com/wyyt/AGPicCompress/internal/errs"
	"github.com/wyyt/AGPicCompress/internal/format"
)

// fakeCodec lets tests control what the backend produces.
type fakeCodec struct {
	f  format.Format
	fn func(input []byte) ([]byte, error)
}

func (c *fakeCodec) Name() string          { return "fake" }
func (c *fakeCodec) Format() format.Format { return c.f }
func (c *fakeCodec) Kind() backend.Kind    { return backend.KindNative }

func (c *fakeCodec) Compress(ctx context.Context, input []byte, p backend.Params) ([]byte, error) {
	return c.fn(input)
}

// halvingCodec deterministically keeps the first half of the input.
func halvingCodec(f format.Format) *fakeCodec {
	return &fakeCodec{f: f, fn: func(input []byte) ([]byte, error) {
		return input[:len(input)/2], nil
	}}
}

func newTestPipeline(codecs ...backend.Codec) *Pipeline {
	cfg := config.DefaultConfig()
	log := logrus.New()
	log.SetOutput(io.Discard)

	m := make(map[format.Format]backend.Codec)
	for _, c := range codecs {
		m[c.Format()] = c
	}
	return &Pipeline{cfg: cfg, log: log, codecs: m}
}

func writeInput(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := bytes.Repeat([]byte{0xab}, size)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunWritesDestination(t *testing.T) {
	dir := t.TempDir()
	src := writeInput(t, dir, "icon.png", 1000)
	dest := filepath.Join(dir, "out.png")

	p := newTestPipeline(halvingCodec(format.PNG))
	res, err := p.Run(context.Background(), Request{SourcePath: src, DestinationPath: dest, Quality: 50})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.OriginalSize != 1000 || res.CompressedSize != 500 {
		t.Errorf("sizes = %d -> %d, want 1000 -> 500", res.OriginalSize, res.CompressedSize)
	}
	if res.NoImprovement {
		t.Error("halved output flagged as no improvement")
	}
	if res.Backend != "fake" {
		t.Errorf("backend = %s", res.Backend)
	}

	out, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("destination not written: %v", err)
	}
	if len(out) != 500 {
		t.Errorf("destination has %d bytes, want 500", len(out))
	}
	assertNoTempFiles(t, dir)
}

func TestRunFlagsNoImprovement(t *testing.T) {
	dir := t.TempDir()
	src := writeInput(t, dir, "icon.png", 100)
	dest := filepath.Join(dir, "out.png")

	grow := &fakeCodec{f: format.PNG, fn: func(input []byte) ([]byte, error) {
		return append(append([]byte{}, input...), input...), nil
	}}
	p := newTestPipeline(grow)

	res, err := p.Run(context.Background(), Request{SourcePath: src, DestinationPath: dest, Quality: 95})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.NoImprovement {
		t.Error("larger output must be flagged, not hidden")
	}
	// The compressed result is still returned and written; callers decide.
	out, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 200 {
		t.Errorf("destination has %d bytes, want the flagged 200-byte output", len(out))
	}
}

func TestRunInvalidQuality(t *testing.T) {
	dir := t.TempDir()
	src := writeInput(t, dir, "icon.png", 100)
	p := newTestPipeline(halvingCodec(format.PNG))

	for _, q := range []int{101, -5, -1, 1000} {
		dest := filepath.Join(dir, fmt.Sprintf("out-%d.png", q))
		_, err := p.Run(context.Background(), Request{SourcePath: src, DestinationPath: dest, Quality: q})
		if !errs.IsKind(err, errs.KindInvalidQuality) {
			t.Errorf("quality %d: error kind = %v, want InvalidQuality", q, errs.KindOf(err))
		}
		assertAbsent(t, dest)
	}
}

func TestRunUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	src := writeInput(t, dir, "notes.txt", 100)
	dest := filepath.Join(dir, "out.txt")

	p := newTestPipeline(halvingCodec(format.PNG))
	_, err := p.Run(context.Background(), Request{SourcePath: src, DestinationPath: dest, Quality: 50})
	if !errs.IsKind(err, errs.KindUnsupportedFormat) {
		t.Errorf("error kind = %v, want UnsupportedFormat", errs.KindOf(err))
	}
	assertAbsent(t, dest)
}

func TestRunBackendFailureLeavesDestination(t *testing.T) {
	dir := t.TempDir()
	src := writeInput(t, dir, "icon.png", 100)
	dest := filepath.Join(dir, "out.png")

	// Pre-existing destination must survive a failed request untouched.
	original := []byte("previous contents")
	if err := os.WriteFile(dest, original, 0644); err != nil {
		t.Fatal(err)
	}

	failing := &fakeCodec{f: format.PNG, fn: func([]byte) ([]byte, error) {
		return nil, errs.New(errs.KindBackendExecution, "quantizer exploded")
	}}
	p := newTestPipeline(failing)

	_, err := p.Run(context.Background(), Request{SourcePath: src, DestinationPath: dest, Quality: 50})
	if !errs.IsKind(err, errs.KindBackendExecution) {
		t.Fatalf("error kind = %v, want BackendExecutionError", errs.KindOf(err))
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, original) {
		t.Error("failed request modified the destination")
	}
	assertNoTempFiles(t, dir)
}

func TestRunWriteFailureLeavesNoOutput(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions do not restrict root")
	}

	dir := t.TempDir()
	src := writeInput(t, dir, "icon.png", 100)

	roDir := filepath.Join(dir, "readonly")
	if err := os.Mkdir(roDir, 0555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(roDir, 0755) })
	dest := filepath.Join(roDir, "out.png")

	p := newTestPipeline(halvingCodec(format.PNG))
	_, err := p.Run(context.Background(), Request{SourcePath: src, DestinationPath: dest, Quality: 50})
	if !errs.IsKind(err, errs.KindIO) {
		t.Fatalf("error kind = %v, want IOError", errs.KindOf(err))
	}
	assertAbsent(t, dest)
	assertNoTempFiles(t, roDir)
}

func TestRunUnavailableBackendLeavesNoOutput(t *testing.T) {
	// With PATH emptied, neither jpegtran nor pngquant can be found.
	t.Setenv("PATH", t.TempDir())

	cfg := config.DefaultConfig()
	log := logrus.New()
	log.SetOutput(io.Discard)
	p := New(cfg, log)

	dir := t.TempDir()
	src := writeInput(t, dir, "icon.png", 100)
	dest := filepath.Join(dir, "out.png")

	_, err := p.Run(context.Background(), Request{SourcePath: src, DestinationPath: dest, Quality: 50})
	if !errs.IsKind(err, errs.KindBackendUnavailable) {
		t.Fatalf("error kind = %v, want BackendUnavailable", errs.KindOf(err))
	}
	assertAbsent(t, dest)
	assertNoTempFiles(t, dir)
}

func TestRunIdempotent(t *testing.T) {
	dir := t.TempDir()
	src := writeInput(t, dir, "icon.png", 1024)

	p := newTestPipeline(halvingCodec(format.PNG))
	dest1 := filepath.Join(dir, "a.png")
	dest2 := filepath.Join(dir, "b.png")

	if _, err := p.Run(context.Background(), Request{SourcePath: src, DestinationPath: dest1, Quality: 50}); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Run(context.Background(), Request{SourcePath: src, DestinationPath: dest2, Quality: 50}); err != nil {
		t.Fatal(err)
	}

	a, _ := os.ReadFile(dest1)
	b, _ := os.ReadFile(dest2)
	if !bytes.Equal(a, b) {
		t.Error("identical requests produced different output bytes")
	}
}

func TestRunConcurrentRequestsSameDirectory(t *testing.T) {
	dir := t.TempDir()
	src := writeInput(t, dir, "icon.png", 4096)
	p := newTestPipeline(halvingCodec(format.PNG))

	const n = 16
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			dest := filepath.Join(dir, fmt.Sprintf("out-%d.png", i))
			if _, err := p.Run(context.Background(), Request{SourcePath: src, DestinationPath: dest, Quality: 50}); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent request failed: %v", err)
	}

	for i := 0; i < n; i++ {
		out, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("out-%d.png", i)))
		if err != nil {
			t.Fatalf("output %d missing: %v", i, err)
		}
		if len(out) != 2048 {
			t.Errorf("output %d has %d bytes, want 2048", i, len(out))
		}
	}
	assertNoTempFiles(t, dir)
}

func TestCompressBytes(t *testing.T) {
	p := newTestPipeline(halvingCodec(format.PNG))
	input := bytes.Repeat([]byte{0x11}, 256)

	out, res, err := p.CompressBytes(context.Background(), input, "png", 50)
	if err != nil {
		t.Fatalf("CompressBytes failed: %v", err)
	}
	if len(out) != 128 {
		t.Errorf("output = %d bytes, want 128", len(out))
	}
	if res.Format != "png" || res.Backend != "fake" {
		t.Errorf("result = %+v", res)
	}
}

func assertAbsent(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("%s should not exist", path)
	}
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}
