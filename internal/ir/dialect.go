package ir

// Dialect identifies the SQL dialect of the backing store. The value is the
// database/sql driver name the store is opened with.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "pgx"
)

// ValidDialects defines supported dialects.
var ValidDialects = map[Dialect]bool{
	DialectSQLite:   true,
	DialectPostgres: true,
}
