package cellpy

import "errors"

// Precondition failures. The engine wraps these with the dataset,
// cycle and step they apply to; data-quality findings (not_known
// steps, zero-valued lookups, empty summaries) are results, never
// errors.
var (
	// ErrEmptyStep is returned when a (cycle, step) window with no
	// rows reaches the aggregator or classifier.
	ErrEmptyStep = errors.New("empty step window")

	// ErrMissingMass is returned when gravimetric normalization is
	// requested without a positive active-material mass.
	ErrMissingMass = errors.New("active-material mass not set")

	// ErrMissingStartTime is returned when a merge input has no start
	// datetime, so no time offset can be computed.
	ErrMissingStartTime = errors.New("start datetime not set")

	// ErrNoRows is returned when a derivation needs raw rows and the
	// dataset has none.
	ErrNoRows = errors.New("dataset has no raw rows")

	// ErrStepTableNotBuilt is returned when a derivation needs the
	// step table and it was neither built nor allowed to be built.
	ErrStepTableNotBuilt = errors.New("step table not built")

	// ErrNoStatPoints is returned when instrument stat-row selection
	// is requested but the adapter recovered no stat points.
	ErrNoStatPoints = errors.New("no instrument stat points")

	// ErrUnknownStepType is returned for step-number queries with a
	// type outside the taxonomy.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrNoSuchCycle is returned for per-cycle lookups of a cycle the
	// raw table does not contain.
	ErrNoSuchCycle = errors.New("no such cycle")
)
