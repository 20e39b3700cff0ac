package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"salesetl/internal/config"
	"salesetl/internal/pipeline"
	"salesetl/internal/transformer"
)

var loadedTables = []string{
	transformer.TableDimDate,
	transformer.TableDimStore,
	transformer.TableDimProduct,
	transformer.TableDimCustomer,
	transformer.TableFactSales,
}

// printSummary writes the run outcome as key=value lines.
func printSummary(w io.Writer, s pipeline.Summary) {
	fmt.Fprintf(w, "run_id=%s job=%s status=%s duration=%s\n",
		s.RunID, s.Job, s.Status, time.Duration(s.DurationMS)*time.Millisecond)
	if !s.OK() {
		fmt.Fprintf(w, "failed_stage=%s", s.FailedStage)
		if s.FailedSource != "" {
			fmt.Fprintf(w, " failed_source=%s", s.FailedSource)
		}
		fmt.Fprintf(w, " error=%q\n", s.Error)
	}
	if len(s.Extracted) > 0 {
		fmt.Fprintf(w, "extracted %s\n", entityCounts(s.Extracted))
	}
	if len(s.Validated) > 0 {
		fmt.Fprintf(w, "validated %s\n", entityCounts(s.Validated))
	}
	if q := s.Quality; q != nil {
		fmt.Fprintf(w, "quality score=%.2f duplicates=%d invalid_keys=%d invalid_dates=%d rule_violations=%d outliers=%.2f%%\n",
			q.Score, q.TotalDuplicates(), q.TotalInvalidKeys(), q.InvalidDates, q.BusinessRules.Total(), q.Outliers.Percentage)
	}
	if len(s.Loaded) > 0 {
		parts := make([]string, 0, len(loadedTables))
		for _, t := range loadedTables {
			if n, ok := s.Loaded[t]; ok {
				parts = append(parts, fmt.Sprintf("%s=%d", t, n))
			}
		}
		fmt.Fprintf(w, "loaded %s chunks=%d\n", strings.Join(parts, " "), s.Chunks)
	}
	if s.UnresolvedDrops > 0 {
		keys := make([]string, 0, len(s.DropsByKey))
		for k := range s.DropsByKey {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%d", k, s.DropsByKey[k]))
		}
		fmt.Fprintf(w, "unresolved_drops=%d %s\n", s.UnresolvedDrops, strings.Join(parts, " "))
	}
}

func entityCounts(m map[string]int) string {
	parts := make([]string, 0, len(config.Entities))
	for _, e := range config.Entities {
		parts = append(parts, fmt.Sprintf("%s=%d", e, m[e]))
	}
	return strings.Join(parts, " ")
}
