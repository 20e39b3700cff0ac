// Package transformer reshapes validated extracts into the star schema:
// dim_date, dim_store, dim_product, dim_customer and fact_sales.
package transformer

import "salesetl/internal/table"

// Star schema table names.
const (
	TableDimDate     = "dim_date"
	TableDimStore    = "dim_store"
	TableDimProduct  = "dim_product"
	TableDimCustomer = "dim_customer"
	TableFactSales   = "fact_sales"
)

// Output column orders. Loaders write columns in exactly this order.
var (
	DimDateColumns = []string{
		"date_id", "date", "day", "month", "quarter", "year",
		"month_name", "quarter_name", "day_of_week", "is_weekend", "is_holiday",
	}
	DimStoreColumns    = []string{"store_id", "store_name", "city", "region", "store_type", "opening_date"}
	DimProductColumns  = []string{"product_id", "product_name", "category", "brand", "price", "cost"}
	DimCustomerColumns = []string{"customer_id", "customer_name", "gender", "age", "age_group", "city"}
	FactSalesColumns   = []string{
		"sale_id", "date_id", "store_id", "product_id", "customer_id",
		"quantity", "revenue", "cost", "profit",
	}
)

// Foreign key names used in drop accounting.
const (
	KeyDate     = "date_id"
	KeyStore    = "store_id"
	KeyProduct  = "product_id"
	KeyCustomer = "customer_id"
)

// Star is one run's star schema content.
type Star struct {
	DimDate     *table.Table
	DimStore    *table.Table
	DimProduct  *table.Table
	DimCustomer *table.Table
	FactSales   *table.Table
}

// Dimensions returns the dimension tables in load order.
func (s Star) Dimensions() []*table.Table {
	return []*table.Table{s.DimDate, s.DimStore, s.DimProduct, s.DimCustomer}
}

// Counts returns row counts keyed by table name.
func (s Star) Counts() map[string]int {
	out := map[string]int{}
	for _, t := range append(s.Dimensions(), s.FactSales) {
		if t != nil {
			out[t.Name] = t.Len()
		}
	}
	return out
}

// Result is the transformer output plus integrity accounting.
type Result struct {
	Star Star

	// UnresolvedDrops is the number of sales dropped because at least one
	// foreign key did not resolve.
	UnresolvedDrops int

	// DropsByKey counts failures per foreign key. A sale failing two keys is
	// counted under both, so the values may sum to more than UnresolvedDrops.
	DropsByKey map[string]int
}
