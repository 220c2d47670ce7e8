package models

import "errors"

// FailureKind classifies an entry in a run's failure report.
type FailureKind string

const (
	FailureNetworkRetryable FailureKind = "network_retryable"
	FailureNetworkPermanent FailureKind = "network_permanent"
	FailureChallenge        FailureKind = "challenge_page"
	FailureInvalidTarget    FailureKind = "invalid_target"
	FailureMalformedMarkup  FailureKind = "malformed_markup"
	FailureSchemaViolation  FailureKind = "schema_violation"
	FailureStorage          FailureKind = "storage"
)

// KindOf maps an error from the taxonomy to a report kind.
func KindOf(err error) FailureKind {
	var (
		nf *NetworkFailure
		cp *ChallengePage
		it *InvalidTarget
		mm *MalformedMarkup
		sv *SchemaViolation
	)
	switch {
	case errors.As(err, &cp):
		return FailureChallenge
	case errors.As(err, &it):
		return FailureInvalidTarget
	case errors.As(err, &nf):
		if nf.Retryable {
			return FailureNetworkRetryable
		}
		return FailureNetworkPermanent
	case errors.As(err, &mm):
		return FailureMalformedMarkup
	case errors.As(err, &sv):
		return FailureSchemaViolation
	default:
		return FailureStorage
	}
}

// Failure is one row of a per-run failure/skip report.
type Failure struct {
	Stage     string
	CityCode  string
	ListingID string
	Kind      FailureKind
	Attempts  int
	Detail    string
}

// FetchReport summarizes one fetch stage run.
type FetchReport struct {
	RunID         string
	Total         int
	Skipped       int
	Succeeded     int
	SoftFailed    int
	HardFailed    int
	Dispatched    int
	NotDispatched int
	Failures      []Failure

	// StateCounts is the fetch state index after the run, by status.
	StateCounts map[string]int
}

// ExtractReport summarizes one extraction stage run.
type ExtractReport struct {
	RunID       string
	Total       int
	Succeeded   int
	Failed      int
	Basic       int
	Pruned      int
	FieldIssues map[string]int
	Failures    []Failure
}

// MergeSummary summarizes one merge pass.
type MergeSummary struct {
	RunID      string
	Input      int
	Output     int
	Merged     int
	Secondary  int
	Excluded   int
	Exclusions []Failure
}

// CoverageReport holds field coverage and price statistics over the
// canonical dataset.
type CoverageReport struct {
	TotalListings  int
	FieldCoverage  map[string]int
	AveragePrice   float64
	MinPrice       int
	MaxPrice       int
	MostExpensive  *CanonicalRecord
	ListingsByCity map[string]int
}
