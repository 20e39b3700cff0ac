package storage

import (
	"context"
	"strings"
	"testing"
)

type fakeRepo struct{ closeCalls int }

func (f *fakeRepo) Close()                                          { f.closeCalls++ }
func (f *fakeRepo) EnsureTables(context.Context, []TableSpec) error { return nil }
func (f *fakeRepo) ClearTables(context.Context, []string) error     { return nil }
func (f *fakeRepo) InsertRows(_ context.Context, _ string, _ []string, rows [][]any) (int64, error) {
	return int64(len(rows)), nil
}
func (f *fakeRepo) CountRows(context.Context, string) (int64, error) { return 0, nil }

func boolPtr(v bool) *bool { return &v }

func TestRegisterAndNew(t *testing.T) {
	var gotDSN string
	Register("fake-registry-test", func(ctx context.Context, cfg Config) (Repository, error) {
		gotDSN = cfg.DSN
		return &fakeRepo{}, nil
	})

	repo, err := New(context.Background(), Config{Kind: "fake-registry-test", DSN: "mem://x"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer repo.Close()
	if gotDSN != "mem://x" {
		t.Fatalf("factory got DSN %q", gotDSN)
	}

	found := false
	for _, k := range Kinds() {
		if k == "fake-registry-test" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Kinds()=%v does not list the registered backend", Kinds())
	}
}

func TestRegister_DuplicatePanics(t *testing.T) {
	f := func(context.Context, Config) (Repository, error) { return &fakeRepo{}, nil }
	Register("fake-dup-test", f)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	Register("fake-dup-test", f)
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	_, err := New(context.Background(), Config{Kind: "oracle"})
	if err == nil || !strings.Contains(err.Error(), "unsupported storage.kind=oracle") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTableSpec_Validate(t *testing.T) {
	t.Parallel()

	good := TableSpec{
		Name:       "dim_store",
		Columns:    []ColumnSpec{{Name: "store_id", Type: TypeInteger, Nullable: boolPtr(false)}, {Name: "store_name", Type: TypeText}},
		PrimaryKey: []string{"store_id"},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := good.ColumnNames(); len(got) != 2 || got[1] != "store_name" {
		t.Fatalf("ColumnNames=%v", got)
	}
	if good.Columns[0].IsNullable() || !good.Columns[1].IsNullable() {
		t.Fatalf("nullability mismatch")
	}

	bad := []TableSpec{
		{Name: "", Columns: good.Columns},
		{Name: "x"},
		{Name: "x", Columns: []ColumnSpec{{Name: "a", Type: "blob"}}},
		{Name: "x", Columns: []ColumnSpec{{Name: "a", Type: TypeText}, {Name: "a", Type: TypeText}}},
		{Name: "x", Columns: []ColumnSpec{{Name: "a", Type: TypeText}}, PrimaryKey: []string{"b"}},
	}
	for i, spec := range bad {
		if err := spec.Validate(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestSplitReference(t *testing.T) {
	t.Parallel()

	tbl, col, err := SplitReference(" dim_date(date_id) ")
	if err != nil || tbl != "dim_date" || col != "date_id" {
		t.Fatalf("got %q %q %v", tbl, col, err)
	}
	if _, _, err := SplitReference("dim_date"); err == nil {
		t.Fatalf("expected error for missing column")
	}
}
