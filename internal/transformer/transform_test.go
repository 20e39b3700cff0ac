package transformer

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"salesetl/internal/quality"
	"salesetl/internal/source"
	"salesetl/internal/table"
)

func day(y int, m time.Month, d, hour int) time.Time {
	return time.Date(y, m, d, hour, 15, 0, 0, time.UTC)
}

// fixture builds a validated snapshot: stores 1..nStores, products 1..nProducts,
// customers 1..nCustomers and nSales sales cycling through them.
func fixture(nStores, nProducts, nCustomers, nSales int) source.Snapshot {
	stores := table.New("stores", source.RequiredColumns["stores"])
	for i := 1; i <= nStores; i++ {
		stores.Append(table.Row{int64(i), fmt.Sprintf("Store %d", i), "Haifa", "North", "Mall", "2020-01-01"})
	}
	products := table.New("products", source.RequiredColumns["products"])
	for i := 1; i <= nProducts; i++ {
		products.Append(table.Row{int64(i), fmt.Sprintf("Product %d", i), "Dairy", "Tnuva", "10.5", "7.25"})
	}
	customers := table.New("customers", source.RequiredColumns["customers"])
	for i := 1; i <= nCustomers; i++ {
		customers.Append(table.Row{int64(i), fmt.Sprintf("Customer %d", i), "F", "34", "25-34", "Haifa", "c@example.com"})
	}
	sales := table.New("sales", source.RequiredColumns["sales"])
	for i := 1; i <= nSales; i++ {
		sales.Append(table.Row{
			int64(i),
			day(2023, time.January, 1+i%28, i%24),
			fmt.Sprint(1 + i%nStores),
			fmt.Sprint(1 + i%nProducts),
			fmt.Sprint(1 + i%nCustomers),
			"2", "21.00", "14.50", "6.50",
		})
	}
	return source.Snapshot{Stores: stores, Products: products, Customers: customers, Sales: sales}
}

func TestBuildDateDimension_AscendingIDsAndAttributes(t *testing.T) {
	t.Parallel()

	sales := table.New("sales", []string{"sale_id", "sale_date"})
	sales.Append(table.Row{int64(1), day(2023, time.March, 18, 23)})
	sales.Append(table.Row{int64(2), day(2022, time.December, 31, 1)})
	sales.Append(table.Row{int64(3), day(2023, time.March, 18, 2)})
	sales.Append(table.Row{int64(4), "not coerced"})

	dim, ids := BuildDateDimension(sales, "sale_date")
	if dim.Len() != 2 {
		t.Fatalf("expected 2 distinct dates, got %d", dim.Len())
	}
	if got := ids[CivilDate{2022, time.December, 31}]; got != 1 {
		t.Fatalf("expected 2022-12-31 -> 1, got %d", got)
	}
	if got := ids[CivilDate{2023, time.March, 18}]; got != 2 {
		t.Fatalf("expected 2023-03-18 -> 2, got %d", got)
	}

	want := table.Row{
		int64(2),
		time.Date(2023, time.March, 18, 0, 0, 0, 0, time.UTC),
		int64(18), int64(3), int64(1), int64(2023),
		"March", "Q1", "Saturday", true, false,
	}
	if !reflect.DeepEqual(dim.Rows[1], want) {
		t.Fatalf("dim_date row mismatch:\n got=%#v\nwant=%#v", dim.Rows[1], want)
	}
	if dim.Rows[0][8] != "Saturday" || dim.Rows[0][6] != "December" || dim.Rows[0][7] != "Q4" {
		t.Fatalf("unexpected 2022-12-31 attributes: %#v", dim.Rows[0])
	}
}

func TestBuildDateDimension_DeterministicUnderRowOrder(t *testing.T) {
	t.Parallel()

	snap := fixture(3, 5, 10, 100)
	first, _ := BuildDateDimension(snap.Sales, "sale_date")

	shuffled := snap.Sales.Clone()
	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(shuffled.Rows), func(i, j int) {
		shuffled.Rows[i], shuffled.Rows[j] = shuffled.Rows[j], shuffled.Rows[i]
	})
	second, _ := BuildDateDimension(shuffled, "sale_date")

	if !reflect.DeepEqual(first.Rows, second.Rows) {
		t.Fatalf("date dimension depends on row order")
	}
}

func TestTransform_DropsUnknownProducts(t *testing.T) {
	t.Parallel()

	snap := fixture(3, 5, 10, 100)
	pi := snap.Sales.Index("product_id")
	for i := 0; i < 10; i++ {
		snap.Sales.Rows[i*10][pi] = "999"
	}

	res := (&Transformer{}).Transform(snap)

	if got := res.Star.FactSales.Len(); got != 90 {
		t.Fatalf("expected 90 facts, got %d", got)
	}
	if res.UnresolvedDrops != 10 {
		t.Fatalf("expected 10 unresolved drops, got %d", res.UnresolvedDrops)
	}
	if res.DropsByKey[KeyProduct] != 10 || res.DropsByKey[KeyStore] != 0 || res.DropsByKey[KeyDate] != 0 {
		t.Fatalf("unexpected per-key drops: %#v", res.DropsByKey)
	}
	if got := snap.Sales.Len() - res.UnresolvedDrops; got != res.Star.FactSales.Len() {
		t.Fatalf("fact count %d != validated sales - drops %d", res.Star.FactSales.Len(), got)
	}

	counts := res.Star.Counts()
	want := map[string]int{"dim_store": 3, "dim_product": 5, "dim_customer": 10, "fact_sales": 90, "dim_date": res.Star.DimDate.Len()}
	if !reflect.DeepEqual(counts, want) {
		t.Fatalf("counts=%v want=%v", counts, want)
	}
}

func TestTransform_FactRowsAreTyped(t *testing.T) {
	t.Parallel()

	res := (&Transformer{}).Transform(fixture(1, 1, 1, 1))
	if res.Star.FactSales.Len() != 1 {
		t.Fatalf("expected 1 fact, got %d", res.Star.FactSales.Len())
	}
	got := res.Star.FactSales.Rows[0]
	want := table.Row{int64(1), int64(1), int64(1), int64(1), int64(1), int64(2), 21.0, 14.5, 6.5}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("fact row:\n got=%#v\nwant=%#v", got, want)
	}
}

func TestTransform_CustomerProjectionDropsEmail(t *testing.T) {
	t.Parallel()

	res := (&Transformer{}).Transform(fixture(1, 1, 2, 0))
	if !reflect.DeepEqual(res.Star.DimCustomer.Columns, DimCustomerColumns) {
		t.Fatalf("customer columns=%v", res.Star.DimCustomer.Columns)
	}
	if res.Star.DimCustomer.Has("email") {
		t.Fatalf("email must not be projected")
	}
	if got := res.Star.DimCustomer.Rows[0][3]; got != int64(34) {
		t.Fatalf("age=%#v, want int64(34)", got)
	}
	if got := res.Star.DimProduct.Rows[0][4]; got != 10.5 {
		t.Fatalf("price=%#v, want 10.5", got)
	}
	wantOpen := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := res.Star.DimStore.Rows[0][5]; got != wantOpen {
		t.Fatalf("opening_date=%#v, want %v", got, wantOpen)
	}
}

func TestTransform_UnparsedDateCountsAsUnresolved(t *testing.T) {
	t.Parallel()

	snap := fixture(1, 1, 1, 2)
	snap.Sales.Rows[1][1] = "2023-01-05"

	res := (&Transformer{}).Transform(snap)
	if res.UnresolvedDrops != 1 || res.DropsByKey[KeyDate] != 1 {
		t.Fatalf("expected one date drop, got total=%d byKey=%v", res.UnresolvedDrops, res.DropsByKey)
	}
}

func TestTransform_LoadsMeasuresTheRulesJudged(t *testing.T) {
	t.Parallel()

	snap := fixture(1, 1, 1, 0)
	for _, r := range []table.Row{
		{"1", "2023-01-05", "1", "1", "1", "0.5", "10", "5", "5"},
		{"2", "2023-01-05", "1", "1", "1", "1", "0.004", "0.003", "0.001"},
		{"3", "2023-01-06", "1", "1", "1", "3.0", "10.006", "6", "4.004"},
	} {
		snap.Sales.Append(r)
	}

	cleaned, rep := (&quality.Validator{}).Validate(snap)
	want := quality.RuleBreakdown{NonPositiveRevenue: 1, NonPositiveQuantity: 1}
	if rep.BusinessRules != want {
		t.Fatalf("rules=%+v, want %+v", rep.BusinessRules, want)
	}

	res := (&Transformer{}).Transform(cleaned)
	if res.Star.FactSales.Len() != 1 {
		t.Fatalf("expected 1 fact, got %d", res.Star.FactSales.Len())
	}
	got := res.Star.FactSales.Rows[0]
	wantRow := table.Row{int64(3), int64(1), int64(1), int64(1), int64(1), int64(3), 10.01, 6.0, 4.0}
	if !reflect.DeepEqual(got, wantRow) {
		t.Fatalf("fact row:\n got=%#v\nwant=%#v", got, wantRow)
	}
}

func TestTransform_EmptySnapshot(t *testing.T) {
	t.Parallel()

	res := (&Transformer{}).Transform(source.Snapshot{})
	for name, n := range res.Star.Counts() {
		if n != 0 {
			t.Fatalf("%s: expected 0 rows, got %d", name, n)
		}
	}
}

func TestFingerprint_IgnoresRowOrder(t *testing.T) {
	t.Parallel()

	cols := []string{"a", "b"}
	rows := [][]any{{int64(1), "x"}, {int64(2), nil}, {int64(3), 1.5}}
	reversed := [][]any{rows[2], rows[1], rows[0]}

	if Fingerprint(cols, rows) != Fingerprint(cols, reversed) {
		t.Fatalf("fingerprint depends on row order")
	}
	if Fingerprint(cols, rows) == Fingerprint(cols, rows[:2]) {
		t.Fatalf("fingerprint ignores missing row")
	}
	if Fingerprint(cols, rows) == Fingerprint([]string{"a", "c"}, rows) {
		t.Fatalf("fingerprint ignores column names")
	}
}
