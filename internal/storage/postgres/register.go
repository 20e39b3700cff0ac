package postgres

import "salesetl/internal/storage"

func init() {
	storage.Register("postgres", New)
}
