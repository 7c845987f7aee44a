// sweep runs a feature-density sweep over an image: peak finding across a
// range of separations, reporting how the detected peak count falls off as
// the separation grows. The knee of the resulting curve is the usual choice
// of peak separation for the initial sublattice.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/quantem-data/lattice.report/internal/fsutil"
	"github.com/quantem-data/lattice.report/internal/imageio"
	"github.com/quantem-data/lattice.report/internal/lattice"
)

func main() {
	imagePath := flag.String("image", "", "Input image (.csv grid or .png)")
	sepStart := flag.Int("sep-start", 2, "Start separation for the sweep (pixels)")
	sepEnd := flag.Int("sep-end", 30, "End separation for the sweep (pixels, exclusive)")
	sepStep := flag.Int("sep-step", 1, "Step between separations")
	threshold := flag.Float64("threshold", lattice.DefaultThresholdRel, "Relative intensity threshold for peak detection")
	output := flag.String("output", "", "Output CSV filename (defaults to sweep-<timestamp>.csv)")
	plotFile := flag.String("plot", "", "Optional PNG plot of the density curve")
	jsonOut := flag.Bool("json", false, "Also print the sweep points as JSON to stdout")

	flag.Parse()

	if *imagePath == "" {
		log.Fatal("-image is required")
	}

	img, err := imageio.LoadImage(fsutil.OSFileSystem{}, *imagePath)
	if err != nil {
		log.Fatalf("Failed to load image: %v", err)
	}
	rows, cols := img.Dims()
	log.Printf("Loaded %s (%dx%d)", *imagePath, cols, rows)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	points, err := lattice.FindFeatureDensity(ctx, img, *sepStart, *sepEnd, *sepStep, *threshold,
		func(done, total int) {
			log.Printf("separation %d/%d", done, total)
		})
	if err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}

	filename := *output
	if filename == "" {
		filename = fmt.Sprintf("sweep-%s.csv", time.Now().Format("20060102-150405"))
	}

	f, err := os.Create(filename)
	if err != nil {
		log.Fatalf("Could not create output file %s: %v", filename, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()

	w.Write([]string{"separation", "peak_count"})
	for _, p := range points {
		w.Write([]string{
			fmt.Sprintf("%d", p.Separation),
			fmt.Sprintf("%d", p.PeakCount),
		})
	}

	if *jsonOut {
		if err := json.NewEncoder(os.Stdout).Encode(points); err != nil {
			log.Fatalf("Failed to write JSON: %v", err)
		}
	}

	if *plotFile != "" {
		if err := savePlot(points, *plotFile); err != nil {
			log.Fatalf("Failed to save plot: %v", err)
		}
		log.Printf("Plot: %s", *plotFile)
	}

	log.Printf("Sweep complete!")
	log.Printf("Summary: %s", filename)
}

// savePlot renders the density curve: peak count against separation.
func savePlot(points []lattice.FeatureDensityPoint, filename string) error {
	p := plot.New()
	p.Title.Text = "Feature Density"
	p.X.Label.Text = "Separation (px)"
	p.Y.Label.Text = "Peak count"

	pts := make(plotter.XYs, 0, len(points))
	for _, fd := range points {
		pts = append(pts, plotter.XY{X: float64(fd.Separation), Y: float64(fd.PeakCount)})
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	p.Add(line)

	return p.Save(8*vg.Inch, 6*vg.Inch, filename)
}
