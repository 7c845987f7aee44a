package latticedb

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantem-data/lattice.report/internal/timeutil"
)

// RunParams captures the analysis parameters of a run for reproducibility.
type RunParams struct {
	PeakSeparation  int     `json:"peak_separation"`
	ThresholdRel    float64 `json:"threshold_rel"`
	PlaneTolerance  float64 `json:"plane_tolerance"`
	RadiusFactor    float64 `json:"radius_factor"`
	MaskRadius      float64 `json:"mask_radius,omitempty"`
	PercentToNN     float64 `json:"percent_to_nn,omitempty"`
	RotationEnabled bool    `json:"rotation_enabled"`
	GaussianPasses  int     `json:"gaussian_passes"`
	CoMPasses       int     `json:"com_passes"`
}

// ToJSON serializes the parameters for storage.
func (p RunParams) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// RunManager coordinates analysis run lifecycle and result collection.
// It is safe for concurrent use.
type RunManager struct {
	mu         sync.RWMutex
	db         *DB
	clock      timeutil.Clock
	currentRun *AnalysisRun
	sublattice string
	startTime  time.Time

	// Stats collected during the run
	totalAtoms  int
	totalPlanes int
	zoneAxes    int
	fallbacks   int
}

// runManagers stores per-sublattice run managers.
var (
	rmMu       sync.RWMutex
	rmRegistry = make(map[string]*RunManager)
)

// NewRunManager creates a new manager for tracking analysis runs.
func NewRunManager(db *DB, sublattice string) *RunManager {
	return &RunManager{db: db, sublattice: sublattice, clock: timeutil.RealClock{}}
}

// NewRunManagerWithClock creates a manager with an injected clock so run
// durations are testable.
func NewRunManagerWithClock(db *DB, sublattice string, clock timeutil.Clock) *RunManager {
	return &RunManager{db: db, sublattice: sublattice, clock: clock}
}

// RegisterRunManager registers a manager for a sublattice name.
func RegisterRunManager(sublattice string, manager *RunManager) {
	rmMu.Lock()
	defer rmMu.Unlock()
	rmRegistry[sublattice] = manager
}

// GetRunManager retrieves the manager for a sublattice name.
func GetRunManager(sublattice string) *RunManager {
	rmMu.RLock()
	defer rmMu.RUnlock()
	return rmRegistry[sublattice]
}

// StartRun begins a new analysis run for an image file.
// It returns the run ID that results are stored under.
func (m *RunManager) StartRun(sourcePath string, params RunParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runID := uuid.New().String()

	paramsJSON, err := params.ToJSON()
	if err != nil {
		return "", err
	}

	m.currentRun = &AnalysisRun{
		RunID:      runID,
		CreatedAt:  m.clock.Now(),
		SourceType: "image",
		SourcePath: sourcePath,
		Sublattice: m.sublattice,
		ParamsJSON: paramsJSON,
		Status:     "running",
	}

	if err := m.db.InsertRun(m.currentRun); err != nil {
		m.currentRun = nil
		return "", err
	}

	m.startTime = m.clock.Now()
	m.totalAtoms = 0
	m.totalPlanes = 0
	m.zoneAxes = 0
	m.fallbacks = 0

	log.Printf("[RunManager] Started run %s for %s", runID, sourcePath)
	return runID, nil
}

// RecordAtoms sets the atom count for the current run.
func (m *RunManager) RecordAtoms(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalAtoms = count
}

// RecordTopology sets the zone axis and plane counts for the current run.
func (m *RunManager) RecordTopology(zoneAxes, planes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zoneAxes = zoneAxes
	m.totalPlanes = planes
}

// RecordFallbacks adds refinement fallbacks to the current run's count.
func (m *RunManager) RecordFallbacks(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks += count
}

// CompleteRun finalizes the current analysis run with statistics.
func (m *RunManager) CompleteRun() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentRun == nil {
		return nil
	}

	processingTime := m.clock.Since(m.startTime)
	stats := &RunStats{
		DurationSecs:     processingTime.Seconds(),
		TotalAtoms:       m.totalAtoms,
		TotalPlanes:      m.totalPlanes,
		ZoneAxisCount:    m.zoneAxes,
		FallbackCount:    m.fallbacks,
		ProcessingTimeMs: processingTime.Milliseconds(),
	}

	if err := m.db.CompleteRun(m.currentRun.RunID, stats); err != nil {
		return err
	}

	log.Printf("[RunManager] Completed run %s: %d atoms, %d zone axes, %d planes in %.2fs",
		m.currentRun.RunID, stats.TotalAtoms, stats.ZoneAxisCount, stats.TotalPlanes, stats.DurationSecs)

	m.currentRun = nil
	return nil
}

// FailRun marks the current run as failed with an error message.
func (m *RunManager) FailRun(errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentRun == nil {
		return nil
	}

	if err := m.db.UpdateRunStatus(m.currentRun.RunID, "failed", errMsg); err != nil {
		return err
	}

	log.Printf("[RunManager] Failed run %s: %s", m.currentRun.RunID, errMsg)
	m.currentRun = nil
	return nil
}

// IsRunActive returns true if there's an active analysis run.
func (m *RunManager) IsRunActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentRun != nil
}

// CurrentRunID returns the current run ID, or empty string if no run is active.
func (m *RunManager) CurrentRunID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.currentRun == nil {
		return ""
	}
	return m.currentRun.RunID
}

// GetCurrentRunParams retrieves the current run's parameters for display.
func (m *RunManager) GetCurrentRunParams() (RunParams, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.currentRun == nil {
		return RunParams{}, false
	}

	var params RunParams
	if err := json.Unmarshal(m.currentRun.ParamsJSON, &params); err != nil {
		return RunParams{}, false
	}
	return params, true
}
