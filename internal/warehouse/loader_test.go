package warehouse

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salesetl/internal/source"
	"salesetl/internal/storage"
	"salesetl/internal/table"
	"salesetl/internal/transformer"
)

// fakeRepo records every call in order.
type fakeRepo struct {
	mu      sync.Mutex
	calls   []string
	inserts map[string]int
	failOn  string
	block   bool
	clearFn func([]string) error
}

func (f *fakeRepo) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
}

func (f *fakeRepo) Close() {}

func (f *fakeRepo) EnsureTables(_ context.Context, specs []storage.TableSpec) error {
	for _, s := range specs {
		f.record("ensure:" + s.Name)
	}
	return nil
}

func (f *fakeRepo) ClearTables(_ context.Context, tables []string) error {
	f.record(fmt.Sprintf("clear:%v", tables))
	if f.clearFn != nil {
		return f.clearFn(tables)
	}
	return nil
}

func (f *fakeRepo) InsertRows(ctx context.Context, name string, _ []string, rows [][]any) (int64, error) {
	if f.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if name == f.failOn {
		return 0, errors.New("constraint violation")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "insert:"+name)
	if f.inserts == nil {
		f.inserts = map[string]int{}
	}
	f.inserts[name] += len(rows)
	return int64(len(rows)), nil
}

func (f *fakeRepo) CountRows(context.Context, string) (int64, error) { return 0, nil }

func day(d, hour int) time.Time {
	return time.Date(2023, time.March, d, hour, 0, 0, 0, time.UTC)
}

// star builds a transformed star with nSales facts over 3 stores, 4 products
// and 5 customers.
func star(t *testing.T, nSales int) transformer.Star {
	t.Helper()
	stores := table.New("stores", source.RequiredColumns["stores"])
	for i := 1; i <= 3; i++ {
		stores.Append(table.Row{int64(i), fmt.Sprintf("Store %d", i), "Eilat", "South", "Outlet", "2019-05-01"})
	}
	products := table.New("products", source.RequiredColumns["products"])
	for i := 1; i <= 4; i++ {
		products.Append(table.Row{int64(i), fmt.Sprintf("Product %d", i), "Bakery", "Angel", "8.90", "4.10"})
	}
	customers := table.New("customers", source.RequiredColumns["customers"])
	for i := 1; i <= 5; i++ {
		customers.Append(table.Row{int64(i), fmt.Sprintf("Customer %d", i), "M", "41", "35-44", "Eilat", "x@example.com"})
	}
	sales := table.New("sales", source.RequiredColumns["sales"])
	for i := 1; i <= nSales; i++ {
		sales.Append(table.Row{
			int64(i), day(1+i%20, i%24),
			fmt.Sprint(1 + i%3), fmt.Sprint(1 + i%4), fmt.Sprint(1 + i%5),
			"3", "26.70", "12.30", "14.40",
		})
	}
	res := (&transformer.Transformer{}).Transform(source.Snapshot{
		Stores: stores, Products: products, Customers: customers, Sales: sales,
	})
	require.Equal(t, 0, res.UnresolvedDrops)
	return res.Star
}

func TestStarSchema_DimensionsPrecedeFacts(t *testing.T) {
	specs := StarSchema(true)
	require.Len(t, specs, 5)
	for _, s := range specs {
		require.NoError(t, s.Validate(), s.Name)
		assert.True(t, s.AutoCreateTable)
	}
	fact := specs[4]
	assert.Equal(t, transformer.TableFactSales, fact.Name)
	assert.Equal(t, transformer.FactSalesColumns, fact.ColumnNames())
	assert.Equal(t, transformer.DimDateColumns, specs[0].ColumnNames())
	assert.Equal(t, transformer.DimCustomerColumns, specs[3].ColumnNames())

	refs := 0
	for _, c := range fact.Columns {
		if c.References != "" {
			refs++
			assert.False(t, c.IsNullable(), c.Name)
		}
	}
	assert.Equal(t, 4, refs)
	assert.False(t, StarSchema(false)[0].AutoCreateTable)
}

func TestLoader_Load_OrderAndChunking(t *testing.T) {
	repo := &fakeRepo{}
	l := &Loader{Repo: repo, ChunkSize: 10}

	s := star(t, 25)
	stats, err := l.Load(context.Background(), s)
	require.NoError(t, err)

	want := []string{
		fmt.Sprintf("clear:%v", ClearOrder),
		"insert:dim_date", "insert:dim_store", "insert:dim_product", "insert:dim_customer",
		"insert:fact_sales", "insert:fact_sales", "insert:fact_sales",
	}
	assert.Equal(t, want, repo.calls)
	assert.Equal(t, 3, stats.Chunks)
	assert.Equal(t, int64(25), stats.Rows[transformer.TableFactSales])
	assert.Equal(t, int64(3), stats.Rows[transformer.TableDimStore])
	assert.Equal(t, int64(s.DimDate.Len()), stats.Rows[transformer.TableDimDate])
}

func TestLoader_ParallelFactsStartAfterDimensions(t *testing.T) {
	repo := &fakeRepo{}
	l := &Loader{Repo: repo, ChunkSize: 3, Workers: 4}

	stats, err := l.Load(context.Background(), star(t, 40))
	require.NoError(t, err)
	assert.Equal(t, 14, stats.Chunks)
	assert.Equal(t, 40, repo.inserts[transformer.TableFactSales])

	lastDim := slices.Index(repo.calls, "insert:dim_customer")
	firstFact := slices.Index(repo.calls, "insert:fact_sales")
	assert.Less(t, lastDim, firstFact)
}

func TestLoader_ClearFailureWritesNothing(t *testing.T) {
	repo := &fakeRepo{clearFn: func([]string) error { return errors.New("locked") }}
	l := &Loader{Repo: repo}

	_, err := l.Load(context.Background(), star(t, 5))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, PhaseClear, le.Phase)
	assert.Len(t, repo.calls, 1)
}

func TestLoader_FactFailureIsLoadError(t *testing.T) {
	repo := &fakeRepo{failOn: transformer.TableFactSales}
	l := &Loader{Repo: repo, ChunkSize: 2, Workers: 2}

	_, err := l.Load(context.Background(), star(t, 9))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, PhaseFacts, le.Phase)
	assert.Equal(t, transformer.TableFactSales, le.Table)
	assert.False(t, le.Timeout())
	assert.Contains(t, err.Error(), "load facts fact_sales: constraint violation")
}

func TestLoader_TimeoutIsFatal(t *testing.T) {
	repo := &fakeRepo{block: true}
	l := &Loader{Repo: repo, Timeout: 20 * time.Millisecond}

	stats := Stats{}
	err := l.LoadDimensions(context.Background(), star(t, 3), &stats)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, PhaseDimensions, le.Phase)
	assert.Equal(t, transformer.TableDimDate, le.Table)
	assert.True(t, le.Timeout())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoader_EnsureSchema(t *testing.T) {
	repo := &fakeRepo{}
	l := &Loader{Repo: repo}

	require.NoError(t, l.EnsureSchema(context.Background(), false))
	assert.Empty(t, repo.calls)

	require.NoError(t, l.EnsureSchema(context.Background(), true))
	assert.Equal(t, []string{
		"ensure:dim_date", "ensure:dim_store", "ensure:dim_product", "ensure:dim_customer", "ensure:fact_sales",
	}, repo.calls)
}

func TestLoader_EmptyFacts(t *testing.T) {
	repo := &fakeRepo{}
	l := &Loader{Repo: repo}
	stats := Stats{}
	require.NoError(t, l.LoadFacts(context.Background(), nil, &stats))
	assert.Equal(t, int64(0), stats.Rows[transformer.TableFactSales])
	assert.Empty(t, repo.calls)
}

func TestChunk(t *testing.T) {
	rows := make([][]any, 7)
	got := chunk(rows, 3)
	require.Len(t, got, 3)
	assert.Len(t, got[2], 1)
	assert.Empty(t, chunk(nil, 3))
}
