package warehouse

import (
	"salesetl/internal/storage"
	tf "salesetl/internal/transformer"
)

// ClearOrder lists the star schema tables in the order they are emptied.
// The fact table goes first so no fact ever outlives its dimensions.
var ClearOrder = []string{
	tf.TableFactSales,
	tf.TableDimDate,
	tf.TableDimStore,
	tf.TableDimProduct,
	tf.TableDimCustomer,
}

func notNull() *bool { v := false; return &v }

// StarSchema returns the warehouse DDL specs, dimensions before the fact
// table that references them. autoCreate is copied onto every spec.
func StarSchema(autoCreate bool) []storage.TableSpec {
	text := func(name string) storage.ColumnSpec { return storage.ColumnSpec{Name: name, Type: storage.TypeText} }
	integer := func(name string) storage.ColumnSpec { return storage.ColumnSpec{Name: name, Type: storage.TypeInteger} }
	money := func(name string) storage.ColumnSpec { return storage.ColumnSpec{Name: name, Type: storage.TypeDecimal} }
	fk := func(name, ref string) storage.ColumnSpec {
		return storage.ColumnSpec{Name: name, Type: storage.TypeInteger, References: ref, Nullable: notNull()}
	}

	specs := []storage.TableSpec{
		{
			Name: tf.TableDimDate,
			Columns: []storage.ColumnSpec{
				integer("date_id"),
				{Name: "date", Type: storage.TypeDate, Nullable: notNull()},
				integer("day"), integer("month"), integer("quarter"), integer("year"),
				text("month_name"), text("quarter_name"), text("day_of_week"),
				{Name: "is_weekend", Type: storage.TypeBoolean},
				{Name: "is_holiday", Type: storage.TypeBoolean},
			},
			PrimaryKey: []string{"date_id"},
		},
		{
			Name: tf.TableDimStore,
			Columns: []storage.ColumnSpec{
				integer("store_id"), text("store_name"), text("city"), text("region"), text("store_type"),
				{Name: "opening_date", Type: storage.TypeDate},
			},
			PrimaryKey: []string{"store_id"},
		},
		{
			Name: tf.TableDimProduct,
			Columns: []storage.ColumnSpec{
				integer("product_id"), text("product_name"), text("category"), text("brand"),
				money("price"), money("cost"),
			},
			PrimaryKey: []string{"product_id"},
		},
		{
			Name: tf.TableDimCustomer,
			Columns: []storage.ColumnSpec{
				integer("customer_id"), text("customer_name"), text("gender"),
				integer("age"), text("age_group"), text("city"),
			},
			PrimaryKey: []string{"customer_id"},
		},
		{
			Name: tf.TableFactSales,
			Columns: []storage.ColumnSpec{
				{Name: "sale_id", Type: storage.TypeBigint},
				fk("date_id", "dim_date(date_id)"),
				fk("store_id", "dim_store(store_id)"),
				fk("product_id", "dim_product(product_id)"),
				fk("customer_id", "dim_customer(customer_id)"),
				integer("quantity"), money("revenue"), money("cost"), money("profit"),
			},
			PrimaryKey: []string{"sale_id"},
		},
	}
	for i := range specs {
		specs[i].AutoCreateTable = autoCreate
	}
	return specs
}
