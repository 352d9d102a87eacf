// Package all registers every storage backend. Import it for side effects.
package all

import (
	_ "sheetetl/internal/storage/memory"
	_ "sheetetl/internal/storage/mssql"
	_ "sheetetl/internal/storage/postgres"
	_ "sheetetl/internal/storage/sqlite"
)
