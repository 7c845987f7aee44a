// Package imageio loads intensity images from disk into the analysis image
// type. Supported formats are CSV grids of float values (one image row per
// line) and grayscale-converted PNGs.
package imageio

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/quantem-data/lattice.report/internal/fsutil"
	"github.com/quantem-data/lattice.report/internal/lattice"
)

// LoadImage reads an intensity image, dispatching on the file extension.
func LoadImage(fsys fsutil.FileSystem, path string) (*lattice.Image, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return LoadCSV(fsys, path)
	case ".png":
		return LoadPNG(fsys, path)
	default:
		return nil, fmt.Errorf("unsupported image format %q (supported: .csv, .png)", ext)
	}
}

// LoadCSV reads an image stored as a CSV grid of intensities. Every record
// must have the same number of fields.
func LoadCSV(fsys fsutil.FileSystem, path string) (*lattice.Image, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}

	r := csv.NewReader(bytes.NewReader(data))
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV image: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("image file %s is empty", path)
	}

	rows := len(records)
	cols := len(records[0])
	values := make([]float64, 0, rows*cols)
	for i, record := range records {
		if len(record) != cols {
			return nil, fmt.Errorf("row %d has %d fields, expected %d", i, len(record), cols)
		}
		for j, field := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid intensity at row %d col %d: %w", i, j, err)
			}
			values = append(values, v)
		}
	}
	return lattice.NewImageFromSlice(rows, cols, values)
}

// LoadPNG reads a PNG and converts it to a grayscale intensity image.
func LoadPNG(fsys fsutil.FileSystem, path string) (*lattice.Image, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode PNG: %w", err)
	}

	bounds := img.Bounds()
	rows := bounds.Dy()
	cols := bounds.Dx()
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("image file %s is empty", path)
	}

	values := make([]float64, 0, rows*cols)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
			values = append(values, float64(g.Y))
		}
	}
	return lattice.NewImageFromSlice(rows, cols, values)
}
