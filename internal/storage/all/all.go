// Package all registers every storage backend with the storage factory.
// Blank-import it from binaries that select the backend via config.
package all

import (
	// SQL Server driver registration; the mssql backend package itself does
	// not import a driver.
	_ "github.com/microsoft/go-mssqldb"

	_ "cohortetl/internal/storage/mssql"
	_ "cohortetl/internal/storage/postgres"
	_ "cohortetl/internal/storage/sqlite"
)
