package pg

import (
	"database/sql"
	"embed"
	"fmt"
)

// RequiredSchemaVersion is the migration version this binary expects.
// Bump it together with a new pair of files under migrations/.
const RequiredSchemaVersion uint = 1

//go:embed migrations/*.sql
var MigrationsFS embed.FS

// SchemaStatus is the result of comparing the live schema against the
// version this binary was built for.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

// CheckSchema reads the schema_migrations table. A missing table or
// empty result means a fresh database that needs `agentd migrate up`.
func CheckSchema(db *sql.DB) (*SchemaStatus, error) {
	var version uint
	var dirty bool

	// Both "no rows" and "relation does not exist" mean fresh.
	err := db.QueryRow("SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		return &SchemaStatus{
			RequiredVersion: RequiredSchemaVersion,
			NeedsMigration:  true,
		}, nil
	}

	s := &SchemaStatus{
		CurrentVersion:  version,
		RequiredVersion: RequiredSchemaVersion,
		Dirty:           dirty,
	}
	if dirty {
		return s, nil
	}
	switch {
	case version == RequiredSchemaVersion:
		s.Compatible = true
	case version < RequiredSchemaVersion:
		s.NeedsMigration = true
	}
	return s, nil
}

// Describe renders a one-line human summary with the fix command when
// the schema is not usable as-is.
func (s *SchemaStatus) Describe() string {
	switch {
	case s.Dirty:
		return fmt.Sprintf("v%d DIRTY (a migration failed partway; run: agentd migrate force %d)", s.CurrentVersion, s.CurrentVersion-1)
	case s.Compatible:
		return fmt.Sprintf("v%d (up to date)", s.CurrentVersion)
	case s.CurrentVersion > s.RequiredVersion:
		return fmt.Sprintf("v%d (newer than this binary, requires v%d; upgrade agentd)", s.CurrentVersion, s.RequiredVersion)
	default:
		return fmt.Sprintf("v%d (outdated, requires v%d; run: agentd migrate up)", s.CurrentVersion, s.RequiredVersion)
	}
}
