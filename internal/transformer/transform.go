package transformer

import (
	"io"
	"log"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"

	"salesetl/internal/source"
	"salesetl/internal/table"
)

// Logger is the minimal logging interface used by the transformer.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Transformer builds the star schema from a validated snapshot.
type Transformer struct {
	Logger Logger
}

// Transform builds dimensions and facts. It never fails: sales whose
// foreign keys do not resolve are dropped and counted.
//
// Edge cases:
//   - sale_date cells must be time.Time (the validator coerces them); any
//     other value leaves the sale without a date_id and it is dropped.
//   - A nil table in the snapshot is treated as empty.
func (tr *Transformer) Transform(snap source.Snapshot) Result {
	logf := tr.logger()
	start := time.Now()

	sales := orEmpty(snap.Sales, "sales")
	dimDate, dateIDs := BuildDateDimension(sales, "sale_date")

	star := Star{
		DimDate:     dimDate,
		DimStore:    projectStores(orEmpty(snap.Stores, "stores")),
		DimProduct:  projectProducts(orEmpty(snap.Products, "products")),
		DimCustomer: projectCustomers(orEmpty(snap.Customers, "customers")),
	}

	keys := map[string]*roaring64.Bitmap{
		KeyStore:    keySet(star.DimStore, "store_id"),
		KeyProduct:  keySet(star.DimProduct, "product_id"),
		KeyCustomer: keySet(star.DimCustomer, "customer_id"),
	}

	res := Result{DropsByKey: map[string]int{KeyDate: 0, KeyStore: 0, KeyProduct: 0, KeyCustomer: 0}}
	star.FactSales, res.UnresolvedDrops = buildFacts(sales, dateIDs, keys, res.DropsByKey)
	res.Star = star

	logf("stage=transform ok dim_date=%d dim_store=%d dim_product=%d dim_customer=%d fact_sales=%d unresolved=%d duration=%s",
		star.DimDate.Len(), star.DimStore.Len(), star.DimProduct.Len(), star.DimCustomer.Len(),
		star.FactSales.Len(), res.UnresolvedDrops, time.Since(start).Truncate(time.Millisecond))
	return res
}

func buildFacts(
	sales *table.Table,
	dateIDs map[CivilDate]int64,
	keys map[string]*roaring64.Bitmap,
	drops map[string]int,
) (*table.Table, int) {
	ix := func(c string) int { return sales.Index(c) }
	saleI, dateI := ix("sale_id"), ix("sale_date")
	storeI, productI, customerI := ix("store_id"), ix("product_id"), ix("customer_id")
	qtyI, revI, costI, profitI := ix("quantity"), ix("revenue"), ix("cost"), ix("profit")

	out := table.New(TableFactSales, FactSalesColumns)
	out.Rows = make([]table.Row, 0, len(sales.Rows))
	unresolved := 0

	for _, r := range sales.Rows {
		ok := true

		dateID, found := int64(0), false
		if ts, isTime := cell(r, dateI).(time.Time); isTime {
			dateID, found = dateIDs[civilOf(ts)]
		}
		if !found {
			drops[KeyDate]++
			ok = false
		}

		fk := func(i int, key string) int64 {
			n, valid := table.Int(cell(r, i))
			if !valid || !keys[key].Contains(uint64(n)) {
				drops[key]++
				ok = false
			}
			return n
		}
		storeID := fk(storeI, KeyStore)
		productID := fk(productI, KeyProduct)
		customerID := fk(customerI, KeyCustomer)

		if !ok {
			unresolved++
			continue
		}

		saleID, _ := table.Int(cell(r, saleI))
		out.Rows = append(out.Rows, table.Row{
			saleID,
			dateID,
			storeID,
			productID,
			customerID,
			quantity(cell(r, qtyI)),
			money(cell(r, revI)),
			money(cell(r, costI)),
			money(cell(r, profitI)),
		})
	}
	return out, unresolved
}

func projectStores(t *table.Table) *table.Table {
	out := t.Project(TableDimStore, DimStoreColumns)
	for _, r := range out.Rows {
		r[0] = intOrNil(r[0])
		for i := 1; i <= 4; i++ {
			r[i] = textOrNil(r[i])
		}
		if ts, ok := table.ParseTime(r[5], nil); ok {
			r[5] = civilOf(ts).Time()
		} else {
			r[5] = nil
		}
	}
	return out
}

func projectProducts(t *table.Table) *table.Table {
	out := t.Project(TableDimProduct, DimProductColumns)
	for _, r := range out.Rows {
		r[0] = intOrNil(r[0])
		for i := 1; i <= 3; i++ {
			r[i] = textOrNil(r[i])
		}
		r[4] = money(r[4])
		r[5] = money(r[5])
	}
	return out
}

func projectCustomers(t *table.Table) *table.Table {
	out := t.Project(TableDimCustomer, DimCustomerColumns)
	for _, r := range out.Rows {
		r[0] = intOrNil(r[0])
		r[1] = textOrNil(r[1])
		r[2] = textOrNil(r[2])
		r[3] = intOrNil(r[3])
		r[4] = textOrNil(r[4])
		r[5] = textOrNil(r[5])
	}
	return out
}

func keySet(t *table.Table, column string) *roaring64.Bitmap {
	bm := roaring64.New()
	ci := t.Index(column)
	for _, r := range t.Rows {
		if n, ok := table.Int(cell(r, ci)); ok {
			bm.Add(uint64(n))
		}
	}
	return bm
}

func cell(r table.Row, i int) any {
	if i < 0 || i >= len(r) {
		return nil
	}
	return r[i]
}

func intOrNil(v any) any {
	if n, ok := table.Int(v); ok {
		return n
	}
	return nil
}

func textOrNil(v any) any {
	if table.IsMissing(v) {
		return nil
	}
	return table.String(v)
}

// money rounds to cents. Missing or non-numeric values become nil.
func money(v any) any {
	d, ok := table.Decimal(v)
	if !ok {
		return nil
	}
	return d.Round(2).InexactFloat64()
}

// quantity keeps whole quantities. Fractional or non-numeric values become
// nil; the validator already drops such sales.
func quantity(v any) any {
	if n, ok := table.Int(v); ok {
		return n
	}
	return nil
}

func orEmpty(t *table.Table, entity string) *table.Table {
	if t == nil {
		return table.New(entity, source.RequiredColumns[entity])
	}
	return t
}

func (tr *Transformer) logger() func(format string, v ...any) {
	if tr.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return tr.Logger.Printf
}
