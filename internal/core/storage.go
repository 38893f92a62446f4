package core

import (
	"fmt"
	"os"

	"wastageops/internal/infra/warehouse/memory"
	"wastageops/internal/infra/warehouse/postgres"
	"wastageops/internal/infra/warehouse/sqlite"
	"wastageops/pkg/domain"
)

// WarehouseDriver identifies a concrete warehouse gateway implementation.
type WarehouseDriver string

const (
	WarehouseMemory   WarehouseDriver = "memory"   // in-memory only (tests / ephemeral)
	WarehouseSQLite   WarehouseDriver = "sqlite"   // embedded sqlite file
	WarehousePostgres WarehouseDriver = "postgres" // PostgreSQL server
)

// OpenWarehouse selects a gateway using environment variables. Defaults to
// sqlite when unset.
//
//	WASTAGEOPS_WAREHOUSE_DRIVER: memory|sqlite|postgres (default sqlite)
//	WASTAGEOPS_SQLITE_PATH: path to sqlite file (default ./wastageops.db)
//	WASTAGEOPS_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenWarehouse() (domain.Gateway, error) {
	driver := os.Getenv("WASTAGEOPS_WAREHOUSE_DRIVER")
	if driver == "" {
		driver = string(WarehouseSQLite)
	}
	switch WarehouseDriver(driver) {
	case WarehouseMemory:
		return memory.NewGateway(), nil
	case WarehouseSQLite:
		return sqlite.Open(os.Getenv("WASTAGEOPS_SQLITE_PATH"))
	case WarehousePostgres:
		return postgres.Open(os.Getenv("WASTAGEOPS_POSTGRES_DSN"))
	default:
		return nil, fmt.Errorf("unknown warehouse driver %s", driver)
	}
}
