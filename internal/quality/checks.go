package quality

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"salesetl/internal/table"
)

// CheckMissingValues counts missing cells per column. Columns with no
// missing cells are omitted. The table is not modified.
func CheckMissingValues(t *table.Table) map[string]int {
	out := map[string]int{}
	if t == nil {
		return out
	}
	for _, r := range t.Rows {
		for i, c := range t.Columns {
			if table.IsMissing(r[i]) {
				out[c]++
			}
		}
	}
	return out
}

// Deduplicate keeps the first row per natural key in original order and
// returns the number removed. Rows with a missing key share the empty key,
// so only the first of them survives. Applying it twice removes nothing more.
func Deduplicate(t *table.Table, key string) (*table.Table, int) {
	ki := t.Index(key)
	if ki < 0 {
		return t, 0
	}
	seen := make(map[string]struct{}, len(t.Rows))
	return t.Filter(func(r table.Row) bool {
		k := table.NormalizeKey(r[ki])
		if _, dup := seen[k]; dup {
			return false
		}
		seen[k] = struct{}{}
		return true
	})
}

// CheckKeys drops rows whose natural key is missing or not an integer and
// rewrites surviving keys as int64 in place.
func CheckKeys(t *table.Table, key string) (*table.Table, int) {
	ki := t.Index(key)
	if ki < 0 {
		return t, 0
	}
	out, invalid := t.Filter(func(r table.Row) bool {
		n, ok := table.Int(r[ki])
		if !ok {
			return false
		}
		r[ki] = n
		return true
	})
	return out, invalid
}

// DetectOutliers applies the interquartile rule to a numeric column:
// lower = Q1 - 1.5*IQR, upper = Q3 + 1.5*IQR with linearly interpolated
// quartiles. Values strictly outside the bounds are outliers. Non-numeric
// cells are ignored for the quartiles. The percentage is relative to all
// rows and is 0 for an empty table. Rows are never removed.
func DetectOutliers(t *table.Table, column string) OutlierStats {
	st := OutlierStats{Column: column}
	ci := t.Index(column)
	if ci < 0 || t.Len() == 0 {
		return st
	}

	vals := make([]float64, 0, len(t.Rows))
	for _, r := range t.Rows {
		if f, ok := table.Float(r[ci]); ok {
			vals = append(vals, f)
		}
	}
	if len(vals) == 0 {
		return st
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)

	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	st.Lower = q1 - 1.5*iqr
	st.Upper = q3 + 1.5*iqr

	for _, v := range vals {
		if v < st.Lower || v > st.Upper {
			st.Count++
		}
	}
	st.Percentage = float64(st.Count) / float64(t.Len()) * 100
	return st
}

// quantile returns the q-th quantile of sorted data with linear interpolation
// between closest ranks.
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// CoerceDates parses column as a timestamp, replacing the cell with the
// parsed time.Time in place. Rows that do not parse are dropped and counted. extra
// layouts are tried before the built-in ones.
func CoerceDates(t *table.Table, column string, extra []string) (*table.Table, int) {
	ci := t.Index(column)
	if ci < 0 {
		return t, 0
	}
	return t.Filter(func(r table.Row) bool {
		ts, ok := table.ParseTime(r[ci], extra)
		if !ok {
			return false
		}
		r[ci] = ts
		return true
	})
}

// EnforceBusinessRules removes sales violating, in order:
//
//  1. revenue <= 0
//  2. quantity <= 0
//  3. profit > revenue
//
// Measures are normalized first so the rules judge the values that are
// loaded: revenue, cost and profit are rounded to cents and a whole quantity
// becomes int64. A fractional quantity fails rule 2.
//
// Each rule runs on the output of the previous one. A missing or non-numeric
// value fails the first rule that inspects it.
func EnforceBusinessRules(t *table.Table) (*table.Table, RuleBreakdown) {
	var b RuleBreakdown
	t = normalizeMeasures(t)
	ri, qi, pi := t.Index("revenue"), t.Index("quantity"), t.Index("profit")

	t, b.NonPositiveRevenue = t.Filter(func(r table.Row) bool {
		if ri < 0 {
			return false
		}
		d, ok := r[ri].(decimal.Decimal)
		return ok && d.Sign() > 0
	})
	t, b.NonPositiveQuantity = t.Filter(func(r table.Row) bool {
		if qi < 0 {
			return false
		}
		n, ok := r[qi].(int64)
		return ok && n > 0
	})
	t, b.ProfitExceedsRevenue = t.Filter(func(r table.Row) bool {
		if pi < 0 {
			return false
		}
		profit, ok := r[pi].(decimal.Decimal)
		if !ok {
			return false
		}
		return profit.LessThanOrEqual(r[ri].(decimal.Decimal))
	})
	return t, b
}

// normalizeMeasures returns a copy with money cells as decimals rounded to
// cents and whole quantities as int64. Unparseable cells are left as they are.
func normalizeMeasures(t *table.Table) *table.Table {
	out := t.Clone()
	money := []int{out.Index("revenue"), out.Index("cost"), out.Index("profit")}
	qi := out.Index("quantity")
	for _, r := range out.Rows {
		for _, i := range money {
			if i < 0 {
				continue
			}
			if d, ok := table.Decimal(r[i]); ok {
				r[i] = d.Round(2)
			}
		}
		if qi >= 0 {
			if n, ok := table.Int(r[qi]); ok {
				r[qi] = n
			}
		}
	}
	return out
}
