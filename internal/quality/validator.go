package quality

import (
	"fmt"
	"io"
	"log"
	"time"

	"salesetl/internal/config"
	"salesetl/internal/source"
	"salesetl/internal/table"
)

// Logger is the minimal logging interface used by the validator.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// NaturalKeys maps each entity to its integer natural key column.
var NaturalKeys = map[string]string{
	config.EntityStores:    "store_id",
	config.EntityProducts:  "product_id",
	config.EntityCustomers: "customer_id",
	config.EntitySales:     "sale_id",
}

// Validator runs the quality checks over a raw snapshot.
type Validator struct {
	// DateLayouts are tried before the built-in layouts for sale_date.
	DateLayouts []string
	Logger      Logger
}

// Validate cleans a snapshot and reports what it found. It never fails;
// empty tables flow through. The input snapshot is not modified.
//
// Order:
//  1. missing values on the raw tables (counted, not fixed)
//  2. natural-key deduplication of all four entities
//  3. natural-key type check
//  4. revenue outliers on sales (informational)
//  5. sale_date coercion
//  6. sales business rules
func (v *Validator) Validate(raw source.Snapshot) (source.Snapshot, Report) {
	logf := v.logger()
	start := time.Now()
	rep := newReport()

	cleaned := map[string]*table.Table{}
	for _, entity := range config.Entities {
		t := raw.Table(entity)
		if t == nil {
			t = table.New(entity, source.RequiredColumns[entity])
		}
		t = t.Clone()

		if m := CheckMissingValues(t); len(m) > 0 {
			rep.Missing[entity] = m
			n := 0
			for _, c := range m {
				n += c
			}
			rep.warn(entity, CheckMissing, n, fmt.Sprintf("%d missing cells in %d columns", n, len(m)))
		}
		cleaned[entity] = t
	}

	for _, entity := range config.Entities {
		key := NaturalKeys[entity]
		t, dups := Deduplicate(cleaned[entity], key)
		rep.Duplicates[entity] = dups
		if dups > 0 {
			rep.warn(entity, CheckDuplicates, dups, fmt.Sprintf("removed %d rows with duplicate %s", dups, key))
		}
		cleaned[entity] = t
	}

	for _, entity := range config.Entities {
		key := NaturalKeys[entity]
		t, invalid := CheckKeys(cleaned[entity], key)
		rep.InvalidKeys[entity] = invalid
		if invalid > 0 {
			rep.warn(entity, CheckInvalidKeys, invalid, fmt.Sprintf("dropped %d rows with missing or non-integer %s", invalid, key))
		}
		cleaned[entity] = t
	}

	sales := cleaned[config.EntitySales]

	rep.Outliers = DetectOutliers(sales, "revenue")
	if rep.Outliers.Count > 0 {
		rep.warn(config.EntitySales, CheckOutliers, rep.Outliers.Count,
			fmt.Sprintf("%d revenue outliers (%.2f%%) outside [%.2f, %.2f]",
				rep.Outliers.Count, rep.Outliers.Percentage, rep.Outliers.Lower, rep.Outliers.Upper))
	}

	sales, rep.InvalidDates = CoerceDates(sales, "sale_date", v.DateLayouts)
	if rep.InvalidDates > 0 {
		rep.warn(config.EntitySales, CheckInvalidDates, rep.InvalidDates,
			fmt.Sprintf("dropped %d sales with unparsable sale_date", rep.InvalidDates))
	}

	sales, rep.BusinessRules = EnforceBusinessRules(sales)
	if n := rep.BusinessRules.Total(); n > 0 {
		rep.warn(config.EntitySales, CheckBusinessRules, n,
			fmt.Sprintf("removed revenue<=0:%d quantity<=0:%d profit>revenue:%d",
				rep.BusinessRules.NonPositiveRevenue, rep.BusinessRules.NonPositiveQuantity, rep.BusinessRules.ProfitExceedsRevenue))
	}
	cleaned[config.EntitySales] = sales

	rep.Score = Score(rep)

	for _, w := range rep.Warnings {
		logf("stage=validate entity=%s check=%s count=%d msg=%q", w.Entity, w.Check, w.Count, w.Message)
	}
	logf("stage=validate ok score=%.2f duration=%s", rep.Score, time.Since(start).Truncate(time.Millisecond))

	return source.Snapshot{
		Stores:    cleaned[config.EntityStores],
		Products:  cleaned[config.EntityProducts],
		Customers: cleaned[config.EntityCustomers],
		Sales:     cleaned[config.EntitySales],
	}, rep
}

func (r *Report) warn(entity, check string, n int, msg string) {
	r.Warnings = append(r.Warnings, Warning{Entity: entity, Check: check, Count: n, Message: msg})
}

func (v *Validator) logger() func(format string, v ...any) {
	if v.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return v.Logger.Printf
}
