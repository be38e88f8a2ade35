package metadata

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"
)

// softwareMark is stamped into the EXIF Software tag of compressed JPEGs
// so batch runs can skip files that were already processed.
const softwareMark = "AGPicCompress"

// CopyTags copies EXIF metadata from src onto dst using exiftool.
func CopyTags(src, dst string) error {
	cmd := exec.Command("exiftool", "-TagsFromFile", src, "-overwrite_original", dst)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("exiftool copy failed: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// MarkCompressed sets Software=AGPicCompress on dst using exiftool.
func MarkCompressed(dst string) error {
	cmd := exec.Command("exiftool", "-overwrite_original", "-Software="+softwareMark, dst)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("exiftool set Software failed: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// HasCompressorMark reports whether the JPEG at path carries the
// AGPicCompress Software tag. It reads the EXIF block in-process, which
// is cheap enough to run in the batch filter. Unreadable or tagless
// files report false.
func HasCompressorMark(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	x, err := exif.Decode(f)
	if err != nil {
		return false
	}
	tag, err := x.Get(exif.Software)
	if err != nil {
		return false
	}
	val, err := tag.StringVal()
	if err != nil {
		return false
	}
	return strings.Contains(val, softwareMark)
}

// HasCompressorMarkExiftool is the exiftool-backed variant of
// HasCompressorMark, used when the in-process reader cannot parse the
// file's EXIF block.
func HasCompressorMarkExiftool(path string) (bool, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return false, err
	}
	defer et.Close()
	files := et.ExtractMetadata(path)
	if len(files) == 0 {
		return false, nil
	}
	if files[0].Err != nil {
		return false, files[0].Err
	}
	if sw, ok := files[0].Fields["Software"].(string); ok && strings.Contains(sw, softwareMark) {
		return true, nil
	}
	return false, nil
}
