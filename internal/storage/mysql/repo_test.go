package mysql

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salesetl/internal/storage"
)

func TestBuildCreateSQL_ForeignKeysAsConstraints(t *testing.T) {
	notNull := false
	spec := storage.TableSpec{
		Name: "fact_sales",
		Columns: []storage.ColumnSpec{
			{Name: "sale_id", Type: storage.TypeBigint},
			{Name: "store_id", Type: storage.TypeInteger, References: "dim_store(store_id)", Nullable: &notNull},
			{Name: "is_holiday", Type: storage.TypeBoolean},
			{Name: "revenue", Type: storage.TypeDecimal},
		},
		PrimaryKey: []string{"sale_id"},
	}

	ddl, err := buildCreateSQL(spec)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(ddl, "CREATE TABLE IF NOT EXISTS `fact_sales` ("))
	assert.Contains(t, ddl, "`sale_id` BIGINT NOT NULL")
	assert.Contains(t, ddl, "`store_id` INT NOT NULL,")
	assert.Contains(t, ddl, "`revenue` DECIMAL(14,2)")
	assert.Contains(t, ddl, "PRIMARY KEY (`sale_id`), FOREIGN KEY (`store_id`) REFERENCES `dim_store` (`store_id`)")
}

func TestBuildInsertSQL_PadsShortRows(t *testing.T) {
	q, args := buildInsertSQL("wh.dim_store", []string{"store_id", "name"}, [][]any{{1, "a"}, {2}})
	assert.Equal(t, "INSERT INTO `wh`.`dim_store` (`store_id`, `name`) VALUES (?,?), (?,?)", q)
	assert.Equal(t, []any{1, "a", 2, nil}, args)
}

func TestMysqlIdent_Escapes(t *testing.T) {
	assert.Equal(t, "`we``ird`", mysqlIdent("we`ird"))
}

func TestNew_RejectsMalformedDSN(t *testing.T) {
	_, err := New(context.Background(), storage.Config{Kind: "mysql", DSN: "not a dsn"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse dsn")
}
