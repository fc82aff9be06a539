package pipeline

import (
	"log/slog"

	cellpy "github.com/mbarzegary/cellpy-JOSS"
)

// Options configures one conversion run.
type Options struct {
	// InputPaths are the raw tester exports. More than one path means
	// the datasets are merged in the given order.
	InputPaths []string
	OutDir     string
	Format     string // parquet|csv

	Name            string
	Mass            float64 // grams
	NominalCapacity float64 // mAh/g
	CycleMode       cellpy.CycleMode

	// CellarPath, when set, also saves the finished dataset to the
	// SQLite cellar at that path.
	CellarPath string

	Config  cellpy.Config
	Summary cellpy.SummaryOptions

	Overwrite bool
	Logger    *slog.Logger
}

// Result returns the generated output paths and the finished dataset.
type Result struct {
	OutputDir     string `json:"output_dir"`
	ManifestPath  string `json:"manifest_path"`
	RawTablePath  string `json:"raw_table_path"`
	StepTablePath string `json:"step_table_path"`
	SummaryPath   string `json:"summary_path"`
	CellarPath    string `json:"cellar_path,omitempty"`

	Dataset *cellpy.Dataset `json:"-"`
}

// Manifest describes one run for downstream consumers.
type Manifest struct {
	Name            string           `json:"name"`
	MassG           float64          `json:"mass_g"`
	NominalCapacity float64          `json:"nominal_capacity_mahg,omitempty"`
	CycleMode       string           `json:"cycle_mode,omitempty"`
	StartTime       string           `json:"start_time,omitempty"`
	Merged          bool             `json:"merged"`
	Cycles          int              `json:"cycles"`
	Steps           int              `json:"steps"`
	RawRows         int              `json:"raw_rows"`
	Sources         []ManifestSource `json:"sources"`
	StepTypeCounts  map[string]int   `json:"step_type_counts"`
}

// ManifestSource is one input file entry of the manifest.
type ManifestSource struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Modified string `json:"modified,omitempty"`
	Rows     int    `json:"rows"`
}
