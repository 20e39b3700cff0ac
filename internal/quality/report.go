// Package quality validates and cleans the raw extracts: missing values,
// duplicate natural keys, invalid keys, revenue outliers, unparsable sale
// dates and sales business rules. Findings never abort a run; they are
// recorded in a Report and summarized as a 0..100 score.
package quality

// Report is the per-run data quality outcome.
type Report struct {
	// Missing counts missing cells per entity and column on the raw tables.
	// Columns without missing cells are omitted.
	Missing map[string]map[string]int `json:"missing"`

	// Duplicates counts rows removed per entity by natural-key deduplication.
	Duplicates map[string]int `json:"duplicates"`

	// InvalidKeys counts rows dropped per entity whose natural key is missing
	// or not an integer.
	InvalidKeys map[string]int `json:"invalid_keys"`

	// InvalidDates counts sales dropped because sale_date did not parse.
	InvalidDates int `json:"invalid_dates"`

	Outliers      OutlierStats  `json:"outliers"`
	BusinessRules RuleBreakdown `json:"business_rules"`

	Score    float64   `json:"score"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// OutlierStats describes interquartile outliers of one numeric column.
// Outliers are informational; rows are kept.
type OutlierStats struct {
	Column     string  `json:"column"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
	Lower      float64 `json:"lower_bound"`
	Upper      float64 `json:"upper_bound"`
}

// RuleBreakdown counts sales removed by each business rule. Each count is
// relative to the table entering that rule.
type RuleBreakdown struct {
	NonPositiveRevenue   int `json:"non_positive_revenue"`
	NonPositiveQuantity  int `json:"non_positive_quantity"`
	ProfitExceedsRevenue int `json:"profit_exceeds_revenue"`
}

// Total is the number of rows removed by all rules.
func (b RuleBreakdown) Total() int {
	return b.NonPositiveRevenue + b.NonPositiveQuantity + b.ProfitExceedsRevenue
}

// Warning is a non-fatal finding recorded in the report.
type Warning struct {
	Entity  string `json:"entity"`
	Check   string `json:"check"`
	Count   int    `json:"count"`
	Message string `json:"message"`
}

// Check names used in warnings.
const (
	CheckMissing       = "missing_values"
	CheckDuplicates    = "duplicates"
	CheckInvalidKeys   = "invalid_keys"
	CheckOutliers      = "outliers"
	CheckInvalidDates  = "invalid_dates"
	CheckBusinessRules = "business_rules"
)

// TotalMissing is the number of missing cells across all entities.
func (r Report) TotalMissing() int {
	n := 0
	for _, cols := range r.Missing {
		for _, c := range cols {
			n += c
		}
	}
	return n
}

// TotalDuplicates is the number of duplicate rows removed across entities.
func (r Report) TotalDuplicates() int {
	n := 0
	for _, c := range r.Duplicates {
		n += c
	}
	return n
}

// TotalInvalidKeys is the number of rows dropped for bad natural keys.
func (r Report) TotalInvalidKeys() int {
	n := 0
	for _, c := range r.InvalidKeys {
		n += c
	}
	return n
}

func newReport() Report {
	return Report{
		Missing:     map[string]map[string]int{},
		Duplicates:  map[string]int{},
		InvalidKeys: map[string]int{},
	}
}
