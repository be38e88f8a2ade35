package format

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wyyt/AGPicCompress/internal/errs"
)

var jpegHeader = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F'}
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0x00, 0x00}

func TestFromHint(t *testing.T) {
	cases := []struct {
		hint string
		want Format
	}{
		{"jpeg", JPEG},
		{"jpg", JPEG},
		{"JPG", JPEG},
		{".jpeg", JPEG},
		{"png", PNG},
		{".PNG", PNG},
		{"", Unknown},
		{"webp", Unknown},
		{"gif", Unknown},
	}
	for _, c := range cases {
		if got := FromHint(c.hint); got != c.want {
			t.Errorf("FromHint(%q) = %v, want %v", c.hint, got, c.want)
		}
	}
}

func TestFromExtension(t *testing.T) {
	cases := []struct {
		path string
		want Format
	}{
		{"photo.jpg", JPEG},
		{"photo.JPEG", JPEG},
		{"icon.png", PNG},
		{"archive.tar.png", PNG},
		{"noext", Unknown},
		{"movie.mp4", Unknown},
	}
	for _, c := range cases {
		if got := FromExtension(c.path); got != c.want {
			t.Errorf("FromExtension(%q) = %v, want %v", c.path, got, c.want)
		}
	}
}

func TestSniff(t *testing.T) {
	if got := Sniff(jpegHeader); got != JPEG {
		t.Errorf("Sniff(jpeg header) = %v, want JPEG", got)
	}
	if got := Sniff(pngHeader); got != PNG {
		t.Errorf("Sniff(png header) = %v, want PNG", got)
	}
	if got := Sniff([]byte("plain text")); got != Unknown {
		t.Errorf("Sniff(text) = %v, want Unknown", got)
	}
	if got := Sniff(nil); got != Unknown {
		t.Errorf("Sniff(nil) = %v, want Unknown", got)
	}
}

func TestDetectHintWinsOverExtension(t *testing.T) {
	f, err := Detect("picture.png", "jpeg")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if f != JPEG {
		t.Errorf("Detect with hint = %v, want JPEG", f)
	}
}

func TestDetectFallsBackToSniffing(t *testing.T) {
	dir := t.TempDir()

	jpegPath := filepath.Join(dir, "extensionless-jpeg")
	if err := os.WriteFile(jpegPath, jpegHeader, 0644); err != nil {
		t.Fatal(err)
	}
	f, err := Detect(jpegPath, "")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if f != JPEG {
		t.Errorf("Detect(extensionless jpeg) = %v, want JPEG", f)
	}

	pngPath := filepath.Join(dir, "extensionless-png")
	if err := os.WriteFile(pngPath, pngHeader, 0644); err != nil {
		t.Fatal(err)
	}
	f, err = Detect(pngPath, "")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if f != PNG {
		t.Errorf("Detect(extensionless png) = %v, want PNG", f)
	}
}

func TestDetectUnsupported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes")
	if err := os.WriteFile(path, []byte("not an image at all"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Detect(path, "")
	if err == nil {
		t.Fatal("expected error for unsupported file")
	}
	if !errs.IsKind(err, errs.KindUnsupportedFormat) {
		t.Errorf("error kind = %v, want UnsupportedFormat", errs.KindOf(err))
	}
}

func TestDetectMissingFile(t *testing.T) {
	_, err := Detect(filepath.Join(t.TempDir(), "missing"), "")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errs.IsKind(err, errs.KindIO) {
		t.Errorf("error kind = %v, want IOError", errs.KindOf(err))
	}
}

func TestDetectBytes(t *testing.T) {
	f, err := DetectBytes(pngHeader, "")
	if err != nil {
		t.Fatalf("DetectBytes failed: %v", err)
	}
	if f != PNG {
		t.Errorf("DetectBytes(png) = %v, want PNG", f)
	}

	if _, err := DetectBytes([]byte("garbage"), ""); !errs.IsKind(err, errs.KindUnsupportedFormat) {
		t.Errorf("DetectBytes(garbage) kind = %v, want UnsupportedFormat", errs.KindOf(err))
	}
}
