package dataset

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	limiterrors "limitcli/internal/errors"
	"limitcli/internal/likelihood"
	"limitcli/internal/validation"
)

// Defaults applied to an analysis file before validation
const (
	DefaultPOIName  = "sigma"
	DefaultPOIStep  = 0.1
	DefaultPOIUpper = 1000.0
)

// Analysis is the parsed content of an analysis file
type Analysis struct {
	Name string `yaml:"name" validate:"required"`
	POI  POI    `yaml:"poi"`

	// Masses is the default scan grid
	Masses      []float64        `yaml:"masses"`
	Experiments []ExperimentSpec `yaml:"experiments" validate:"dive"`
	Counting    []CountingSpec   `yaml:"counting" validate:"dive"`

	// dir resolves relative table paths
	dir string
}

// POI defines the parameter of interest shared by every profile experiment
type POI struct {
	Name    string  `yaml:"name"`
	Initial float64 `yaml:"initial" validate:"gte=0"`
	Step    float64 `yaml:"step" validate:"gt=0"`
	Lower   float64 `yaml:"lower" validate:"gte=0"`
	Upper   float64 `yaml:"upper" validate:"gtfield=Lower"`
}

// ExperimentSpec describes one binned profile-likelihood experiment. Bins
// are given inline or read from BinTable; the mass dependent signal comes
// from MassSignal or SignalTable.
type ExperimentSpec struct {
	Name                  string           `yaml:"name" validate:"required"`
	Bins                  []likelihood.Bin `yaml:"bins" validate:"dive"`
	BinTable              string           `yaml:"bin_table"`
	BackgroundUncertainty float64          `yaml:"background_uncertainty" validate:"gte=0"`
	EfficiencyUncertainty float64          `yaml:"efficiency_uncertainty" validate:"gte=0"`
	CommonBackground      bool             `yaml:"common_background"`
	CommonEfficiency      bool             `yaml:"common_efficiency"`
	MassSignal            []MassPoint      `yaml:"mass_signal" validate:"dive"`
	SignalTable           string           `yaml:"signal_table"`
	MaxEvents             float64          `yaml:"max_events" validate:"gte=0"`
}

// MassPoint is one row of a signal grid
type MassPoint struct {
	Mass   float64   `yaml:"mass" validate:"gte=0"`
	Signal []float64 `yaml:"signal" validate:"required,dive,gte=0"`
}

// CountingSpec describes a single-bin counting experiment
type CountingSpec struct {
	Name       string  `yaml:"name" validate:"required"`
	Conversion float64 `yaml:"conversion" validate:"gt=0"`
	Background float64 `yaml:"background" validate:"gte=0"`
	Observed   int     `yaml:"observed" validate:"gte=0"`
	MaxEvents  float64 `yaml:"max_events" validate:"gte=0"`
}

// Loader reads analysis files and the bin tables they reference
type Loader struct {
	logger *slog.Logger
	files  *validation.FileValidator
}

// NewLoader creates a loader; a nil logger uses slog.Default()
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		logger: logger,
		files:  validation.NewFileValidator(logger),
	}
}

// Load parses and validates the analysis file at path. Referenced tables are
// resolved relative to the file's directory and merged into the experiments.
func (l *Loader) Load(path string) (*Analysis, error) {
	if err := l.files.ValidateFile(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, limiterrors.NewStorageError(fmt.Sprintf("failed to read analysis file %s", path), err)
	}

	a, err := Parse(data)
	if err != nil {
		return nil, err
	}
	a.dir = filepath.Dir(path)

	if err := l.resolveTables(a); err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}

	l.logger.Info("analysis loaded",
		"analysis", a.Name,
		"file", path,
		"experiments", len(a.Experiments),
		"counting", len(a.Counting),
		"masses", len(a.Masses),
	)
	return a, nil
}

// Parse decodes an analysis document and applies defaults. Tables are not
// read and the result is not validated.
func Parse(data []byte) (*Analysis, error) {
	var a Analysis
	if err := yaml.UnmarshalStrict(data, &a); err != nil {
		return nil, limiterrors.NewParsingError("failed to parse analysis file", err)
	}
	a.applyDefaults()
	return &a, nil
}

func (a *Analysis) applyDefaults() {
	if a.POI.Name == "" {
		a.POI.Name = DefaultPOIName
	}
	if a.POI.Step == 0 {
		a.POI.Step = DefaultPOIStep
	}
	if a.POI.Upper == 0 {
		a.POI.Upper = DefaultPOIUpper
	}
}

// Validate checks field constraints and cross-field consistency
func (a *Analysis) Validate() error {
	if err := validation.Struct(a); err != nil {
		return err
	}
	if len(a.Experiments) == 0 && len(a.Counting) == 0 {
		return limiterrors.NewValidationError("analysis defines no experiments", nil).WithContext("analysis", a.Name)
	}
	if a.POI.Initial < a.POI.Lower || a.POI.Initial > a.POI.Upper {
		return limiterrors.NewValidationError("poi.initial lies outside [poi.lower, poi.upper]", nil).WithContext("analysis", a.Name)
	}

	seen := make(map[string]bool)
	for _, name := range a.names() {
		if seen[name] {
			return limiterrors.NewValidationError(fmt.Sprintf("experiment %q is defined twice", name), nil).
				WithContext("analysis", a.Name)
		}
		seen[name] = true
	}

	for _, e := range a.Experiments {
		if len(e.Bins) == 0 {
			return limiterrors.NewValidationError(fmt.Sprintf("experiment %q has no bins", e.Name), nil)
		}
		for i, p := range e.MassSignal {
			if len(p.Signal) != len(e.Bins) {
				return limiterrors.NewValidationError(
					fmt.Sprintf("experiment %q: signal row %d has %d values for %d bins", e.Name, i, len(p.Signal), len(e.Bins)), nil)
			}
			if i > 0 && p.Mass <= e.MassSignal[i-1].Mass {
				return limiterrors.NewValidationError(fmt.Sprintf("experiment %q: mass grid must be strictly ascending", e.Name), nil)
			}
		}
	}
	return nil
}

func (a *Analysis) names() []string {
	names := make([]string, 0, len(a.Experiments)+len(a.Counting))
	for _, e := range a.Experiments {
		names = append(names, e.Name)
	}
	for _, c := range a.Counting {
		names = append(names, c.Name)
	}
	return names
}

// resolveTables reads every bin_table and signal_table into the inline
// fields. Giving both forms for the same data is an error.
func (l *Loader) resolveTables(a *Analysis) error {
	for i := range a.Experiments {
		e := &a.Experiments[i]

		if e.BinTable != "" {
			if len(e.Bins) > 0 {
				return limiterrors.NewValidationError(fmt.Sprintf("experiment %q sets both bins and bin_table", e.Name), nil)
			}
			rows, err := l.readTable(a.resolve(e.BinTable))
			if err != nil {
				return fmt.Errorf("experiment %s: %w", e.Name, err)
			}
			if e.Bins, err = parseBins(rows); err != nil {
				return fmt.Errorf("experiment %s: %w", e.Name, err)
			}
		}

		if e.SignalTable != "" {
			if len(e.MassSignal) > 0 {
				return limiterrors.NewValidationError(fmt.Sprintf("experiment %q sets both mass_signal and signal_table", e.Name), nil)
			}
			rows, err := l.readTable(a.resolve(e.SignalTable))
			if err != nil {
				return fmt.Errorf("experiment %s: %w", e.Name, err)
			}
			if e.MassSignal, err = parseMassSignal(rows); err != nil {
				return fmt.Errorf("experiment %s: %w", e.Name, err)
			}
		}
	}
	return nil
}

func (a *Analysis) resolve(path string) string {
	if filepath.IsAbs(path) || a.dir == "" {
		return path
	}
	return filepath.Join(a.dir, path)
}
