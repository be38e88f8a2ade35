package metadata

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHasCompressorMarkMissingFile(t *testing.T) {
	if HasCompressorMark(filepath.Join(t.TempDir(), "nope.jpg")) {
		t.Error("missing file reported as marked")
	}
}

func TestHasCompressorMarkNonImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.jpg")
	if err := os.WriteFile(path, []byte("not a jpeg at all"), 0644); err != nil {
		t.Fatal(err)
	}
	if HasCompressorMark(path) {
		t.Error("unparseable file reported as marked")
	}
}

func TestHasCompressorMarkPlainJPEG(t *testing.T) {
	// Minimal JPEG without any EXIF block.
	data := []byte{0xff, 0xd8, 0xff, 0xdb, 0x00, 0x04, 0x00, 0x00, 0xff, 0xd9}
	path := filepath.Join(t.TempDir(), "bare.jpg")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if HasCompressorMark(path) {
		t.Error("JPEG without EXIF reported as marked")
	}
}
