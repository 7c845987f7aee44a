package imageio

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/quantem-data/lattice.report/internal/fsutil"
)

func TestLoadCSV(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	csv := "0, 1, 2\n3, 4, 5\n"
	if err := fsys.WriteFile("frame.csv", []byte(csv), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	img, err := LoadCSV(fsys, "frame.csv")
	if err != nil {
		t.Fatalf("LoadCSV failed: %v", err)
	}
	rows, cols := img.Dims()
	if rows != 2 || cols != 3 {
		t.Errorf("dims = %dx%d, want 2x3", rows, cols)
	}
	if got := img.At(2, 1); got != 5 {
		t.Errorf("At(2,1) = %v, want 5", got)
	}
}

func TestLoadCSVRaggedRows(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	if err := fsys.WriteFile("bad.csv", []byte("0,1,2\n3,4\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := LoadCSV(fsys, "bad.csv"); err == nil {
		t.Error("expected error for ragged rows, got nil")
	}
}

func TestLoadCSVBadValue(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	if err := fsys.WriteFile("bad.csv", []byte("0,x\n1,2\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	_, err := LoadCSV(fsys, "bad.csv")
	if err == nil || !strings.Contains(err.Error(), "invalid intensity") {
		t.Errorf("err = %v, want invalid intensity", err)
	}
}

func TestLoadCSVMissing(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	if _, err := LoadCSV(fsys, "missing.csv"); err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoadPNG(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 4, 3))
	src.SetGray(2, 1, color.Gray{Y: 200})

	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("png encode failed: %v", err)
	}

	fsys := fsutil.NewMemoryFileSystem()
	if err := fsys.WriteFile("frame.png", buf.Bytes(), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	img, err := LoadPNG(fsys, "frame.png")
	if err != nil {
		t.Fatalf("LoadPNG failed: %v", err)
	}
	rows, cols := img.Dims()
	if rows != 3 || cols != 4 {
		t.Errorf("dims = %dx%d, want 3x4", rows, cols)
	}
	if img.At(2, 1) <= img.At(0, 0) {
		t.Error("bright pixel should exceed background")
	}
}

func TestLoadImageDispatch(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	if err := fsys.WriteFile("frame.csv", []byte("1,2\n3,4\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := LoadImage(fsys, "frame.csv"); err != nil {
		t.Errorf("LoadImage csv failed: %v", err)
	}
	if _, err := LoadImage(fsys, "frame.tiff"); err == nil {
		t.Error("expected unsupported format error for .tiff")
	}
}
