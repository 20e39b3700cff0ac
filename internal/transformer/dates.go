package transformer

import (
	"fmt"
	"sort"
	"time"

	"salesetl/internal/table"
)

// CivilDate is a calendar date with the time of day discarded.
type CivilDate struct {
	Year  int
	Month time.Month
	Day   int
}

func civilOf(t time.Time) CivilDate {
	y, m, d := t.Date()
	return CivilDate{Year: y, Month: m, Day: d}
}

func (c CivilDate) Before(o CivilDate) bool {
	if c.Year != o.Year {
		return c.Year < o.Year
	}
	if c.Month != o.Month {
		return c.Month < o.Month
	}
	return c.Day < o.Day
}

// Time returns midnight UTC of the date. Warehouses store it as DATE.
func (c CivilDate) Time() time.Time {
	return time.Date(c.Year, c.Month, c.Day, 0, 0, 0, 0, time.UTC)
}

// BuildDateDimension builds dim_date from the distinct calendar dates of
// column (cells must already be time.Time). Dates are taken in each
// timestamp's own location. date_id runs from 1 in ascending date order, so
// the same set of dates always yields the same ids.
//
// The returned map resolves a date to its date_id.
func BuildDateDimension(sales *table.Table, column string) (*table.Table, map[CivilDate]int64) {
	ci := sales.Index(column)
	seen := map[CivilDate]struct{}{}
	if ci >= 0 {
		for _, r := range sales.Rows {
			if ts, ok := r[ci].(time.Time); ok {
				seen[civilOf(ts)] = struct{}{}
			}
		}
	}

	dates := make([]CivilDate, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	out := table.New(TableDimDate, DimDateColumns)
	out.Rows = make([]table.Row, 0, len(dates))
	ids := make(map[CivilDate]int64, len(dates))
	for i, d := range dates {
		id := int64(i + 1)
		ids[d] = id
		out.Rows = append(out.Rows, dateRow(id, d))
	}
	return out, ids
}

func dateRow(id int64, d CivilDate) table.Row {
	ts := d.Time()
	quarter := (int(d.Month)-1)/3 + 1
	wd := ts.Weekday()
	return table.Row{
		id,
		ts,
		int64(d.Day),
		int64(d.Month),
		int64(quarter),
		int64(d.Year),
		d.Month.String(),
		fmt.Sprintf("Q%d", quarter),
		wd.String(),
		wd == time.Saturday || wd == time.Sunday,
		false,
	}
}
