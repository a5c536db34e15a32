// Package inp reads the TOML configuration and the per-node-type input
// tables, and builds the validated graph.Registry and parameter store
// the rest of the simulation treats as immutable (spec.md §3 Lifecycle,
// §4.1, §6). It follows the teacher's inp.ReadSim shape: a struct decoded
// straight from the input file, SetDefault/PostProcess passes, then a
// construction-time validation pass that returns the first error it finds.
// Unlike the teacher's Sim/Mat/FuncData trio (material models and function
// tables for a FEM mesh), this package has no mesh or material database to
// read -- its input tables are the node-type parameter tables in tables.go.
package inp

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cpmech/gosl/chk"
)

// Config mirrors spec.md §6 "Configuration (TOML)" field-for-field.
type Config struct {
	StartTime      time.Time `toml:"starttime"`
	EndTime        time.Time `toml:"endtime"`
	CRS            string    `toml:"crs"`
	InputDir       string    `toml:"input_dir"`
	ResultsDir     string    `toml:"results_dir"`
	RibasimVersion string    `toml:"ribasim_version"`

	Interpolation InterpolationConfig `toml:"interpolation"`
	Allocation    AllocationConfig    `toml:"allocation"`
	Solver        SolverConfig        `toml:"solver"`
	Logging       LoggingConfig       `toml:"logging"`
	Results       ResultsConfig       `toml:"results"`
	Experimental  ExperimentalConfig  `toml:"experimental"`
}

type InterpolationConfig struct {
	FlowBoundary          string  `toml:"flow_boundary"`
	BlockTransitionPeriod float64 `toml:"block_transition_period"`
}

type SourcePriorityConfig struct {
	UserDemand      int `toml:"user_demand"`
	FlowBoundary    int `toml:"flow_boundary"`
	LevelBoundary   int `toml:"level_boundary"`
	Basin           int `toml:"basin"`
	SubnetworkInlet int `toml:"subnetwork_inlet"`
}

type AllocationConfig struct {
	Timestep       float64              `toml:"timestep"`
	SourcePriority SourcePriorityConfig `toml:"source_priority"`
}

type SolverConfig struct {
	Algorithm         string  `toml:"algorithm"`
	SaveAt            float64 `toml:"saveat"`
	Dt                float64 `toml:"dt"`
	DtMin             float64 `toml:"dtmin"`
	DtMax             float64 `toml:"dtmax"`
	ForceDtMin        bool    `toml:"force_dtmin"`
	AbsTol            float64 `toml:"abstol"`
	RelTol            float64 `toml:"reltol"`
	WaterBalanceAbsTol float64 `toml:"water_balance_abstol"`
	WaterBalanceRelTol float64 `toml:"water_balance_reltol"`
	MaxIters          int     `toml:"maxiters"`
	Sparse            bool    `toml:"sparse"`
	AutoDiff          bool    `toml:"autodiff"`
	EvaporateMass     bool    `toml:"evaporate_mass"`
}

type LoggingConfig struct {
	Verbosity string `toml:"verbosity"`
}

type ResultsConfig struct {
	Compression      string `toml:"compression"`
	CompressionLevel int    `toml:"compression_level"`
	Subgrid          bool   `toml:"subgrid"`
}

type ExperimentalConfig struct {
	Concentration bool `toml:"concentration"`
	Allocation    bool `toml:"allocation"`
}

// SetDefault mirrors SolverData.SetDefault in the teacher: populate every
// field a bare TOML file is allowed to omit before decoding overwrites them.
func (c *Config) SetDefault() {
	c.Interpolation = InterpolationConfig{FlowBoundary: "block", BlockTransitionPeriod: 0}
	c.Allocation = AllocationConfig{
		Timestep: 86400,
		SourcePriority: SourcePriorityConfig{
			UserDemand: 1000, FlowBoundary: 1, LevelBoundary: 1, Basin: 1, SubnetworkInlet: 1,
		},
	}
	c.Solver = SolverConfig{
		Algorithm: "QNDF", SaveAt: 86400, Dt: 0, DtMin: 1e-7, DtMax: 0,
		AbsTol: 1e-7, RelTol: 1e-5, WaterBalanceAbsTol: 1e-3, WaterBalanceRelTol: 1e-3,
		MaxIters: int(1e9), Sparse: true, AutoDiff: true,
	}
	// algorithm is resolved to the underlying solver implementation in
	// solver.goslAlgorithm; SetDefault keeps the config-facing vocabulary
	// unchanged.
	c.Logging = LoggingConfig{Verbosity: "info"}
	c.Results = ResultsConfig{Compression: "zstd", CompressionLevel: 3}
}

// PostProcess resolves paths relative to the config file and enforces
// cross-field defaults (spec.md §6, §7 IO errors).
func (c *Config) PostProcess(tomlDir string) error {
	if c.InputDir == "" {
		c.InputDir = "."
	}
	if c.ResultsDir == "" {
		c.ResultsDir = "results"
	}
	if !filepath.IsAbs(c.InputDir) {
		c.InputDir = filepath.Join(tomlDir, c.InputDir)
	}
	if !filepath.IsAbs(c.ResultsDir) {
		c.ResultsDir = filepath.Join(tomlDir, c.ResultsDir)
	}
	if c.EndTime.Before(c.StartTime) {
		return chk.Err("config: endtime %v is before starttime %v", c.EndTime, c.StartTime)
	}
	if c.Interpolation.FlowBoundary != "block" && c.Interpolation.FlowBoundary != "linear" {
		return chk.Err("config: interpolation.flow_boundary must be 'block' or 'linear', got %q", c.Interpolation.FlowBoundary)
	}
	return os.MkdirAll(c.ResultsDir, 0755)
}

// ReadConfig decodes a TOML file into a Config and returns a chk.Err error
// on malformed input; it does not panic. Unknown keys are rejected
// (spec.md §6 "Unknown keys are rejected").
func ReadConfig(path string) (*Config, error) {
	var c Config
	c.SetDefault()
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return nil, chk.Err("ReadConfig: cannot decode %q: %v", path, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return nil, chk.Err("ReadConfig: unknown key(s) in %q: %v", path, undec)
	}
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, chk.Err("ReadConfig: cannot resolve directory of %q: %v", path, err)
	}
	if err := c.PostProcess(dir); err != nil {
		return nil, err
	}
	return &c, nil
}
