package likelihood

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	limiterrors "limitcli/internal/errors"
	"limitcli/internal/stats"
)

// ObjectiveSentinel is returned by objectives for inadmissible parameter
// combinations. It is finite so optimizers can back away from the region.
const ObjectiveSentinel = -1e30

// Objective is the scalar log-likelihood a concrete model supplies.
// It must be deterministic given the current parameter values and the data
// provider state, and return ObjectiveSentinel rather than NaN for
// inadmissible combinations.
type Objective interface {
	ComputeObjective() float64
}

// IDMode selects how Add assigns the parameter id
type IDMode int

const (
	// IDAuto assigns the next free id
	IDAuto IDMode = iota
	// IDSame reuses the parameter's own id
	IDSame
)

// StatisticPolicy selects the profile-likelihood test statistic convention
type StatisticPolicy string

const (
	// StatisticPlain always performs the conditional fit: q = 2(ln L̂ − ln L(σ))
	StatisticPlain StatisticPolicy = "plain"
	// StatisticQTilde returns q = 0 for σ ≤ σ̂ without fitting
	StatisticQTilde StatisticPolicy = "qtilde"
)

// FitRecorder receives one record per completed fit
type FitRecorder interface {
	RecordFit(model string, duration time.Duration, evaluations int, converged bool)
}

// Options configures a Likelihood
type Options struct {
	Minimizer Minimizer
	Policy    StatisticPolicy
	Logger    *slog.Logger
	Recorder  FitRecorder
}

// Likelihood owns a set of parameters and maximizes a model objective over
// the active, non-fixed subset.
type Likelihood struct {
	name      string
	objective Objective
	minimizer Minimizer
	policy    StatisticPolicy
	logger    *slog.Logger
	recorder  FitRecorder

	params map[int]*Parameter
	byName map[string]*Parameter
	active map[int]bool

	sigmaHat       float64
	logDenominator float64
	readyErr       error
}

// NewLikelihood creates an empty likelihood evaluating objective
func NewLikelihood(name string, objective Objective, opts Options) *Likelihood {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := opts.Policy
	if policy == "" {
		policy = StatisticPlain
	}
	return &Likelihood{
		name:           name,
		objective:      objective,
		minimizer:      opts.Minimizer,
		policy:         policy,
		logger:         logger,
		recorder:       opts.Recorder,
		params:         make(map[int]*Parameter),
		byName:         make(map[string]*Parameter),
		active:         make(map[int]bool),
		sigmaHat:       math.NaN(),
		logDenominator: math.NaN(),
		readyErr:       limiterrors.NewNotReadyError("likelihood has not been checked").WithContext("model", name),
	}
}

// Name returns the model name
func (l *Likelihood) Name() string {
	return l.name
}

// Logger returns the model's logger
func (l *Likelihood) Logger() *slog.Logger {
	return l.logger
}

// Policy returns the test statistic convention
func (l *Likelihood) Policy() StatisticPolicy {
	return l.policy
}

// options reconstructs the construction options, used when cloning models
func (l *Likelihood) options() Options {
	return Options{Minimizer: l.minimizer, Policy: l.policy, Logger: l.logger, Recorder: l.recorder}
}

// Add registers an active parameter and returns the id it is stored under.
// Registering an id twice is an error; use Replace to swap a parameter.
func (l *Likelihood) Add(p *Parameter, mode IDMode) (int, error) {
	if p == nil {
		return 0, limiterrors.NewValidationError("cannot add a nil parameter", nil)
	}
	var id int
	switch mode {
	case IDSame:
		if p.ID < 0 {
			return 0, limiterrors.NewValidationError("parameter has no id to reuse", nil).WithContext("parameter", p.Name)
		}
		id = p.ID
		if _, exists := l.params[id]; exists {
			return 0, limiterrors.NewValidationError("parameter id already registered", nil).
				WithContext("model", l.name).WithContext("id", id).WithContext("parameter", p.Name)
		}
	default:
		id = l.nextID()
		if p.ID < 0 {
			p.ID = id
		}
	}
	l.params[id] = p
	l.active[id] = true
	if _, exists := l.byName[p.Name]; !exists {
		l.byName[p.Name] = p
	}
	l.invalidate()
	return id, nil
}

// Replace stores p under an existing id, keeping that id's activation state
func (l *Likelihood) Replace(id int, p *Parameter) error {
	old, exists := l.params[id]
	if !exists {
		return limiterrors.NewValidationError("no parameter registered under id", nil).
			WithContext("model", l.name).WithContext("id", id)
	}
	if p == nil {
		return limiterrors.NewValidationError("cannot replace with a nil parameter", nil)
	}
	l.params[id] = p
	if l.byName[old.Name] == old {
		delete(l.byName, old.Name)
	}
	l.byName[p.Name] = p
	l.invalidate()
	return nil
}

// Activate adds (true) or removes (false) a parameter from the active set
// without destroying it.
func (l *Likelihood) Activate(id int, on bool) error {
	if _, exists := l.params[id]; !exists {
		return limiterrors.NewValidationError("no parameter registered under id", nil).
			WithContext("model", l.name).WithContext("id", id)
	}
	l.active[id] = on
	l.invalidate()
	return nil
}

// IsActive reports whether the parameter stored under id is active
func (l *Likelihood) IsActive(id int) bool {
	return l.active[id]
}

// Parameter returns the parameter stored under id
func (l *Likelihood) Parameter(id int) (*Parameter, bool) {
	p, ok := l.params[id]
	return p, ok
}

// ParameterByName returns a parameter by name
func (l *Likelihood) ParameterByName(name string) (*Parameter, bool) {
	p, ok := l.byName[name]
	return p, ok
}

// IDOf returns the id p is stored under
func (l *Likelihood) IDOf(p *Parameter) (int, bool) {
	for id, q := range l.params {
		if q == p {
			return id, true
		}
	}
	return 0, false
}

// IDs returns all registered ids in ascending order
func (l *Likelihood) IDs() []int {
	ids := make([]int, 0, len(l.params))
	for id := range l.params {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Parameters returns all parameters ordered by id
func (l *Likelihood) Parameters() []*Parameter {
	ids := l.IDs()
	out := make([]*Parameter, len(ids))
	for i, id := range ids {
		out[i] = l.params[id]
	}
	return out
}

// ActiveParameters returns the active parameters ordered by id
func (l *Likelihood) ActiveParameters() []*Parameter {
	var out []*Parameter
	for _, id := range l.IDs() {
		if l.active[id] {
			out = append(out, l.params[id])
		}
	}
	return out
}

// ParametersOfInterest returns the active parameters of interest (frozen or not)
func (l *Likelihood) ParametersOfInterest() []*Parameter {
	var out []*Parameter
	for _, p := range l.ActiveParameters() {
		if p.IsOfInterest() {
			out = append(out, p)
		}
	}
	return out
}

// NumberOfParametersOfInterest returns the asymptotic degrees of freedom
func (l *Likelihood) NumberOfParametersOfInterest() int {
	return len(l.ParametersOfInterest())
}

// ResetParameters restores every parameter to its initial value
func (l *Likelihood) ResetParameters() {
	for _, p := range l.params {
		p.Reset()
	}
}

// SetParameterValue sets the current value of the parameter stored under id
func (l *Likelihood) SetParameterValue(id int, v float64) error {
	p, ok := l.params[id]
	if !ok {
		return limiterrors.NewValidationError("no parameter registered under id", nil).
			WithContext("model", l.name).WithContext("id", id)
	}
	return p.SetValue(v)
}

// Value returns the current value of the named parameter (NaN if unknown)
func (l *Likelihood) Value(name string) float64 {
	if p, ok := l.byName[name]; ok {
		return p.Current
	}
	return math.NaN()
}

// ConstraintPenalty sums the Gaussian penalties of the active parameters
func (l *Likelihood) ConstraintPenalty() float64 {
	sum := 0.0
	for id, p := range l.params {
		if l.active[id] {
			sum += p.GaussianPenalty()
		}
	}
	return sum
}

// Evaluate computes the objective at the current parameter values. A
// non-finite parameter value or objective yields ObjectiveSentinel.
func (l *Likelihood) Evaluate() float64 {
	for _, p := range l.params {
		if math.IsNaN(p.Current) || math.IsInf(p.Current, 0) {
			l.logger.Debug("non-finite parameter value, rejecting point",
				"model", l.name,
				"parameter", p.Name,
				"value", p.Current,
			)
			return ObjectiveSentinel
		}
	}
	if l.objective == nil {
		return ObjectiveSentinel
	}
	v := l.objective.ComputeObjective()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		l.logger.Debug("non-finite objective, rejecting point", "model", l.name, "value", v)
		return ObjectiveSentinel
	}
	return v
}

// Maximize fits the active Nuisance, ParameterOfInterest (unless freezePOI)
// and Free parameters, writes the fitted values and uncertainties back and
// returns the maximized objective. Starting values are the parameters'
// current values, so callers reset or set them first. With freezePOI false
// the best-fit parameter of interest and the maximum are cached as SigmaHat
// and LogDenominator. Failures are logged and yield stats.Undefined.
func (l *Likelihood) Maximize(freezePOI bool) float64 {
	if freezePOI {
		for _, p := range l.params {
			p.Freeze(true)
		}
		defer func() {
			for _, p := range l.params {
				p.Freeze(false)
			}
		}()
	}

	var fitted []*Parameter
	for _, p := range l.ActiveParameters() {
		if p.IsFitted() {
			fitted = append(fitted, p)
		}
	}

	start := time.Now()
	var value float64
	if len(fitted) == 0 {
		value = l.Evaluate()
	} else {
		if l.minimizer == nil {
			err := limiterrors.NewOptimizerUnavailableError("cannot maximize", ErrNoMinimizer).WithContext("model", l.name)
			l.logger.Error("maximize failed", "error", err)
			return stats.Undefined
		}

		n := len(fitted)
		problem := Problem{
			Initial: make([]float64, n),
			Step:    make([]float64, n),
			Lower:   make([]float64, n),
			Upper:   make([]float64, n),
		}
		for i, p := range fitted {
			problem.Initial[i] = p.toOptimizer(p.Current)
			problem.Step[i] = p.toOptimizer(p.Step)
			problem.Lower[i] = p.toOptimizer(p.Lower)
			problem.Upper[i] = p.toOptimizer(p.Upper)
		}
		problem.Func = func(x []float64) float64 {
			for i, p := range fitted {
				p.Current = p.fromOptimizer(x[i])
			}
			return -l.Evaluate()
		}

		result, err := l.minimizer.Minimize(problem)
		if err != nil || result == nil {
			l.logger.Error("maximize failed",
				"model", l.name,
				"free_parameters", n,
				"error", err,
			)
			return stats.Undefined
		}
		for i, p := range fitted {
			p.Current = p.fromOptimizer(result.X[i])
			p.Uncertainty = p.fromOptimizer(result.Errors[i])
		}
		value = l.Evaluate()

		if !result.Converged {
			l.logger.Warn("fit did not converge, using best-effort result",
				"model", l.name,
				"status", result.Status,
				"evaluations", result.Evaluations,
			)
		}
		if l.recorder != nil {
			l.recorder.RecordFit(l.name, time.Since(start), result.Evaluations, result.Converged)
		}
		l.logger.Debug("fit completed",
			"model", l.name,
			"conditional", freezePOI,
			"free_parameters", n,
			"objective", value,
			"evaluations", result.Evaluations,
			"duration", time.Since(start),
		)
	}

	if !freezePOI {
		l.logDenominator = value
		if pois := l.ParametersOfInterest(); len(pois) > 0 {
			l.sigmaHat = pois[0].Current
		}
	}
	return value
}

// SigmaHat returns the best-fit parameter of interest from the last
// unconditional fit (NaN before any)
func (l *Likelihood) SigmaHat() float64 {
	return l.sigmaHat
}

// LogDenominator returns the maximum of the last unconditional fit
func (l *Likelihood) LogDenominator() float64 {
	return l.logDenominator
}

// PrintCurrentParameters writes a diagnostic table of all parameters
func (l *Likelihood) PrintCurrentParameters(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "# %s\n", l.name)
	fmt.Fprintln(tw, "ID\tNAME\tKIND\tACTIVE\tVALUE\tERROR\tLOWER\tUPPER\tEXPERIMENT")
	for _, id := range l.IDs() {
		p := l.params[id]
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\t%s\t%s\t%s\t%s\n",
			id, p.Name, p.Kind, l.active[id],
			formatValue(p.Current), formatValue(p.Uncertainty),
			formatValue(p.Lower), formatValue(p.Upper),
			p.Experiment,
		)
	}
	return tw.Flush()
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "undefined"
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func (l *Likelihood) nextID() int {
	next := 0
	for id := range l.params {
		if id >= next {
			next = id + 1
		}
	}
	return next
}

// invalidate marks cached fit results stale after a structural change
func (l *Likelihood) invalidate() {
	l.sigmaHat = math.NaN()
	l.logDenominator = math.NaN()
	l.readyErr = limiterrors.NewNotReadyError("likelihood changed since it was last checked").WithContext("model", l.name)
}

// setReady records the outcome of a model's readiness check
func (l *Likelihood) setReady(err error) {
	l.readyErr = err
}

// Ready returns nil once the model passed its readiness check
func (l *Likelihood) Ready() error {
	return l.readyErr
}

// clear drops every parameter, used when a model rebuilds its parameter map
func (l *Likelihood) clear() {
	l.params = make(map[int]*Parameter)
	l.byName = make(map[string]*Parameter)
	l.active = make(map[int]bool)
	l.invalidate()
}
