package config

// Default configuration values.
const (
	DefaultDialect = "duck_db"

	sectionEngine = "engine"
	sectionSetup  = "setup"

	keyDialect     = "dialect"
	keyParallelism = "parallelism"
	keySQL         = "sql"
	keyTrilogy     = "trilogy"
)
