// analysis runs the full column-finding pipeline over one image: peak
// detection, zone axis construction, position refinement, and persistence
// of the resulting sublattice as an analysis run.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/quantem-data/lattice.report/internal/config"
	"github.com/quantem-data/lattice.report/internal/fsutil"
	"github.com/quantem-data/lattice.report/internal/imageio"
	"github.com/quantem-data/lattice.report/internal/lattice"
	"github.com/quantem-data/lattice.report/internal/latticedb"
)

func main() {
	imagePath := flag.String("image", "", "Input image (.csv grid or .png)")
	dbFile := flag.String("db", "lattice.db", "Path to the SQLite database")
	configFile := flag.String("config", "", "Path to a tuning config JSON file (defaults to the built-in defaults file)")
	sublatticeName := flag.String("sublattice", "A", "Name for the detected sublattice")
	blurRadius := flag.Int("subtract-background", 0, "Blur radius for background subtraction (0 disables)")

	flag.Parse()

	if *imagePath == "" {
		log.Fatal("-image is required")
	}

	var cfg *config.TuningConfig
	if *configFile != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
	} else {
		cfg = config.MustLoadDefaultConfig()
	}

	img, err := imageio.LoadImage(fsutil.OSFileSystem{}, *imagePath)
	if err != nil {
		log.Fatalf("Failed to load image: %v", err)
	}
	if *blurRadius > 0 {
		img = img.SubtractBlurredBackground(*blurRadius)
	}
	img = img.Normalized()
	rows, cols := img.Dims()
	log.Printf("Loaded %s (%dx%d)", *imagePath, cols, rows)

	db, err := latticedb.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	manager := latticedb.NewRunManager(db, *sublatticeName)
	latticedb.RegisterRunManager(*sublatticeName, manager)

	params := latticedb.RunParams{
		PeakSeparation:  cfg.GetPeakSeparation(),
		ThresholdRel:    cfg.GetThresholdRel(),
		PlaneTolerance:  cfg.GetPlaneTolerance(),
		RadiusFactor:    cfg.GetRadiusFactor(),
		MaskRadius:      cfg.GetMaskRadius(),
		PercentToNN:     cfg.GetPercentToNN(),
		RotationEnabled: cfg.GetRotationEnabled(),
		GaussianPasses:  cfg.GetGaussianPasses(),
		CoMPasses:       cfg.GetCoMPasses(),
	}
	runID, err := manager.StartRun(*imagePath, params)
	if err != nil {
		log.Fatalf("Failed to start analysis run: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := runPipeline(ctx, img, cfg, *sublatticeName)
	if err != nil {
		if failErr := manager.FailRun(err.Error()); failErr != nil {
			log.Printf("Failed to mark run as failed: %v", failErr)
		}
		log.Fatalf("Analysis failed: %v", err)
	}

	manager.RecordAtoms(len(s.Atoms))
	manager.RecordTopology(len(s.ZoneAxes), len(s.PlaneList))
	fallbacks := 0
	for _, a := range s.Atoms {
		if !a.GaussianFitted {
			fallbacks++
		}
	}
	manager.RecordFallbacks(fallbacks)

	if err := db.SaveSublattice(runID, s); err != nil {
		if failErr := manager.FailRun(err.Error()); failErr != nil {
			log.Printf("Failed to mark run as failed: %v", failErr)
		}
		log.Fatalf("Failed to save sublattice: %v", err)
	}
	if err := manager.CompleteRun(); err != nil {
		log.Fatalf("Failed to complete run: %v", err)
	}

	log.Printf("Run %s complete: %d atoms, %d zone axes, %d atom planes, %d fallback positions",
		runID, len(s.Atoms), len(s.ZoneAxes), len(s.PlaneList), fallbacks)
}

// runPipeline performs detection, topology discovery and refinement.
func runPipeline(ctx context.Context, img *lattice.Image, cfg *config.TuningConfig, name string) (*lattice.Sublattice, error) {
	positions, err := lattice.FindAtomPositions(img, nil, cfg.GetPeakSeparation(), cfg.GetThresholdRel())
	if err != nil && !lattice.IsConvergenceWarning(err) {
		return nil, err
	}
	log.Printf("Detected %d atomic columns", len(positions))

	s := lattice.NewSublattice(name, positions, img)
	if err := s.ConstructZoneAxes(lattice.ZoneAxesOptions{
		PlaneTolerance:   cfg.GetPlaneTolerance(),
		NearestNeighbors: cfg.GetZoneAxisNeighbors(),
		RadiusFactor:     cfg.GetRadiusFactor(),
		BadPlaneRatio:    cfg.GetBadPlaneRatio(),
	}); err != nil {
		return nil, err
	}

	radius, err := lattice.RadiusPolicyFrom(cfg.GetMaskRadius(), cfg.GetPercentToNN())
	if err != nil {
		return nil, err
	}
	steps := []lattice.RefinementStep{
		{Method: "center_of_mass", Passes: cfg.GetCoMPasses()},
		{Method: "gaussian", Passes: cfg.GetGaussianPasses()},
	}
	opts := lattice.RefineOptions{
		Radius:          radius,
		RotationEnabled: cfg.GetRotationEnabled(),
		Workers:         cfg.GetRefineWorkers(),
	}
	if err := s.RefinementSweep(ctx, steps, opts); err != nil {
		return nil, err
	}
	return s, nil
}
